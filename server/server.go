package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"vaultbay/auth"
	"vaultbay/delivery"
	"vaultbay/escrow"
	"vaultbay/middleware"
	"vaultbay/observability/metrics"
	"vaultbay/trust"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	DB          *gorm.DB
	Auth        *auth.Manager
	Engine      *escrow.Engine
	Trust       *trust.Engine
	Delivery    *delivery.Service
	Metrics     *metrics.HTTP
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
	Now         func() time.Time
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	db       *gorm.DB
	auth     *auth.Manager
	engine   *escrow.Engine
	trust    *trust.Engine
	delivery *delivery.Service
	metrics  *metrics.HTTP
	limiter  *middleware.RateLimiter
	logger   *slog.Logger
	now      func() time.Time

	router http.Handler
}

// New constructs a configured HTTP router with authentication, idempotency
// and observability support.
func New(cfg Config) *Server {
	if cfg.DB == nil {
		panic("server: database required")
	}
	if cfg.Auth == nil {
		panic("server: auth manager required")
	}
	if cfg.Engine == nil {
		panic("server: escrow engine required")
	}
	if cfg.Trust == nil {
		panic("server: trust engine required")
	}
	if cfg.Delivery == nil {
		panic("server: delivery service required")
	}
	srv := &Server{
		db:       cfg.DB,
		auth:     cfg.Auth,
		engine:   cfg.Engine,
		trust:    cfg.Trust,
		delivery: cfg.Delivery,
		metrics:  cfg.Metrics,
		limiter:  cfg.RateLimiter,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if srv.metrics == nil {
		srv.metrics = metrics.NewHTTP("vaultbay")
	}
	if srv.limiter == nil {
		srv.limiter = middleware.NewRateLimiter(nil, cfg.Logger)
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.now == nil {
		srv.now = time.Now
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(s.metrics.Middleware("accounts"))
			public.With(s.limiter.Middleware("signup")).Post("/signup", s.Signup)
			public.With(s.limiter.Middleware("login")).Post("/login", s.Login)
		})

		api.Group(func(catalog chi.Router) {
			catalog.Use(s.metrics.Middleware("catalog"))
			catalog.Get("/products", s.ListProducts)
			catalog.Get("/products/{id}", s.GetProduct)
		})

		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Authenticate)
			protected.Use(func(next http.Handler) http.Handler { return middleware.WithIdempotency(s.db, next) })

			protected.Group(func(admin chi.Router) {
				admin.Use(s.metrics.Middleware("admin"))
				admin.Use(auth.RequireRole(auth.RoleOperator))
				admin.Post("/products", s.CreateProduct)
				admin.Put("/products/{id}", s.UpdateProduct)
				admin.Delete("/products/{id}", s.DeleteProduct)
				admin.Put("/wallets/{asset}", s.PutWallet)
				admin.Post("/transactions/{id}/confirm-deposit", s.ConfirmDeposit)
				admin.Post("/transactions/{id}/deliver", s.DeliverItem)
			})

			protected.Group(func(orders chi.Router) {
				orders.Use(s.metrics.Middleware("transactions"))
				orders.With(auth.RequireRole(auth.RoleBuyer)).Post("/transactions", s.CreateTransaction)
				orders.With(auth.RequireRole(auth.RoleBuyer)).Post("/transactions/{id}/cancel", s.CancelTransaction)
				orders.With(auth.RequireRole(auth.RoleBuyer)).Post("/transactions/{id}/authorize-release", s.AuthorizeRelease)
				orders.With(auth.RequireRole(auth.RoleBuyer, auth.RoleOperator)).Post("/transactions/{id}/complete", s.CompleteTransaction)
				orders.With(auth.RequireRole(auth.RoleBuyer, auth.RoleOperator)).Get("/transactions/{id}", s.GetTransaction)
				orders.With(auth.RequireRole(auth.RoleBuyer)).Get("/transactions", s.ListTransactions)
			})

			protected.Group(func(inbox chi.Router) {
				inbox.Use(s.metrics.Middleware("inbox"))
				inbox.With(auth.RequireRole(auth.RoleBuyer)).Get("/inbox", s.Inbox)
				inbox.With(auth.RequireRole(auth.RoleBuyer)).Post("/inbox/{id}/read", s.MarkRead)
				inbox.With(auth.RequireRole(auth.RoleBuyer)).Get("/me/financials", s.Financials)
			})
		})
	})

	return r
}

// caller resolves the escrow-level caller identity from the request claims.
func (s *Server) caller(r *http.Request) (escrow.Caller, error) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		return escrow.Caller{}, err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return escrow.Caller{}, errors.New("invalid subject")
	}
	return escrow.Caller{ID: id, Operator: claims.Operator()}, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// handleCoreError maps the escrow error taxonomy onto HTTP statuses so the
// handler layer stays deterministic for callers.
func (s *Server) handleCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, escrow.ErrUnauthorized):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, escrow.ErrInvalidState):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, escrow.ErrInvalidQuantity), errors.Is(err, escrow.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, escrow.ErrWalletNotConfigured):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, escrow.ErrStoreUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
	default:
		s.logger.Error("unhandled core error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
