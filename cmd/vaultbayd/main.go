package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"vaultbay/auth"
	"vaultbay/config"
	"vaultbay/delivery"
	"vaultbay/escrow"
	"vaultbay/middleware"
	"vaultbay/models"
	"vaultbay/notify"
	"vaultbay/observability/logging"
	"vaultbay/observability/metrics"
	"vaultbay/server"
	"vaultbay/trust"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "vaultbay.toml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger := logging.Setup("vaultbayd", "")
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.SetupRotating("vaultbayd", cfg.Environment, cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	if cfg.SeedFile != "" {
		seed, err := config.LoadSeed(cfg.SeedFile)
		if err != nil {
			logger.Error("failed to load seed file", "error", err, "path", cfg.SeedFile)
			os.Exit(1)
		}
		if err := seed.Apply(db); err != nil {
			logger.Error("failed to apply seed data", "error", err)
			os.Exit(1)
		}
		logger.Info("seed data applied", "products", len(seed.Products), "wallets", len(seed.Wallets))
	}

	tokenTTL, _ := cfg.TokenTTLDuration()
	authManager, err := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, tokenTTL)
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		os.Exit(1)
	}

	queue := notify.NewQueue()
	trustEngine := trust.NewEngine(db)
	engine := escrow.New(escrow.Config{DB: db, Trust: trustEngine, Queue: queue})
	deliverySvc := delivery.NewService(db, engine, nil)

	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"login":  {RequestsPerMinute: cfg.LoginRatePerMinute, Burst: cfg.LoginBurst},
		"signup": {RequestsPerMinute: cfg.LoginRatePerMinute, Burst: cfg.LoginBurst},
	}, logger)

	srv := server.New(server.Config{
		DB:          db,
		Auth:        authManager,
		Engine:      engine,
		Trust:       trustEngine,
		Delivery:    deliverySvc,
		Metrics:     metrics.NewHTTP("vaultbay"),
		RateLimiter: limiter,
		Logger:      logger,
	})

	// Drain notify events into the log until an outbound channel exists.
	drainCtx, stopDrain := context.WithCancel(context.Background())
	go func() {
		for {
			event, ok := queue.Dequeue(drainCtx)
			if !ok {
				return
			}
			logger.Info("notify event",
				"type", event.Type,
				"transaction", event.TransactionID,
				"buyer", event.BuyerID,
			)
		}
	}()

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("vaultbayd listening", "addr", cfg.ListenAddress, "env", cfg.Environment)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("http server failed", "error", err)
	}

	stopDrain()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
