package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config captures runtime configuration for the marketplace service.
type Config struct {
	ListenAddress      string  `toml:"ListenAddress"`
	DatabaseURL        string  `toml:"DatabaseURL"`
	Environment        string  `toml:"Environment"`
	JWTSecret          string  `toml:"JWTSecret"`
	JWTIssuer          string  `toml:"JWTIssuer"`
	TokenTTL           string  `toml:"TokenTTL"`
	SeedFile           string  `toml:"SeedFile"`
	LogFile            string  `toml:"LogFile"`
	LogMaxSizeMB       int     `toml:"LogMaxSizeMB"`
	LogMaxBackups      int     `toml:"LogMaxBackups"`
	LoginRatePerMinute float64 `toml:"LoginRatePerMinute"`
	LoginBurst         int     `toml:"LoginBurst"`
	StoreTimeout       string  `toml:"StoreTimeout"`
}

// Load reads the configuration file when present, then applies environment
// overrides and validates the result. A missing path yields defaults plus
// environment values.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:      ":8080",
		Environment:        "development",
		JWTIssuer:          "vaultbay",
		TokenTTL:           "24h",
		LogMaxSizeMB:       100,
		LogMaxBackups:      3,
		LoginRatePerMinute: 10,
		LoginBurst:         5,
		StoreTimeout:       "5s",
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnv(cfg)

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("DatabaseURL is required (or set VAULTBAY_DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("JWTSecret is required (or set VAULTBAY_JWT_SECRET)")
	}
	if _, err := cfg.TokenTTLDuration(); err != nil {
		return nil, fmt.Errorf("parse TokenTTL: %w", err)
	}
	if _, err := cfg.StoreTimeoutDuration(); err != nil {
		return nil, fmt.Errorf("parse StoreTimeout: %w", err)
	}
	if cfg.LoginRatePerMinute <= 0 {
		return nil, errors.New("LoginRatePerMinute must be positive")
	}
	if cfg.LoginBurst <= 0 {
		return nil, errors.New("LoginBurst must be positive")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := getenv("VAULTBAY_LISTEN"); v != "" {
		cfg.ListenAddress = v
	}
	if v := getenv("VAULTBAY_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := getenv("VAULTBAY_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := getenv("VAULTBAY_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := getenv("VAULTBAY_JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := getenv("VAULTBAY_TOKEN_TTL"); v != "" {
		cfg.TokenTTL = v
	}
	if v := getenv("VAULTBAY_SEED_FILE"); v != "" {
		cfg.SeedFile = v
	}
	if v := getenv("VAULTBAY_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// TokenTTLDuration parses the configured token lifetime.
func (c *Config) TokenTTLDuration() (time.Duration, error) {
	return parsePositiveDuration(c.TokenTTL, 24*time.Hour)
}

// StoreTimeoutDuration parses the bound applied to ledger store calls.
func (c *Config) StoreTimeoutDuration() (time.Duration, error) {
	return parsePositiveDuration(c.StoreTimeout, 5*time.Second)
}

func parsePositiveDuration(raw string, fallback time.Duration) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	dur, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, err
	}
	if dur <= 0 {
		return 0, errors.New("duration must be positive")
	}
	return dur, nil
}
