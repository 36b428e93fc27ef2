package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaultbay.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
DatabaseURL = "postgres://localhost/vaultbay"
JWTSecret = "super-secret"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddress != ":8080" {
		t.Fatalf("ListenAddress = %q, want :8080", cfg.ListenAddress)
	}
	if cfg.JWTIssuer != "vaultbay" {
		t.Fatalf("JWTIssuer = %q, want vaultbay", cfg.JWTIssuer)
	}
	ttl, err := cfg.TokenTTLDuration()
	if err != nil {
		t.Fatalf("TokenTTLDuration: %v", err)
	}
	if ttl != 24*time.Hour {
		t.Fatalf("ttl = %v, want 24h", ttl)
	}
	timeout, err := cfg.StoreTimeoutDuration()
	if err != nil {
		t.Fatalf("StoreTimeoutDuration: %v", err)
	}
	if timeout != 5*time.Second {
		t.Fatalf("timeout = %v, want 5s", timeout)
	}
}

func TestLoadFileValues(t *testing.T) {
	path := writeConfig(t, `
ListenAddress = ":9090"
DatabaseURL = "postgres://localhost/vaultbay"
Environment = "production"
JWTSecret = "super-secret"
TokenTTL = "1h"
LoginRatePerMinute = 30.0
LoginBurst = 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddress != ":9090" {
		t.Fatalf("ListenAddress = %q", cfg.ListenAddress)
	}
	if cfg.Environment != "production" {
		t.Fatalf("Environment = %q", cfg.Environment)
	}
	ttl, _ := cfg.TokenTTLDuration()
	if ttl != time.Hour {
		t.Fatalf("ttl = %v, want 1h", ttl)
	}
	if cfg.LoginRatePerMinute != 30 || cfg.LoginBurst != 10 {
		t.Fatalf("login limits = %v/%v", cfg.LoginRatePerMinute, cfg.LoginBurst)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
ListenAddress = ":9090"
DatabaseURL = "postgres://localhost/vaultbay"
JWTSecret = "file-secret"
`)
	t.Setenv("VAULTBAY_LISTEN", ":7070")
	t.Setenv("VAULTBAY_JWT_SECRET", "env-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddress != ":7070" {
		t.Fatalf("ListenAddress = %q, want env override", cfg.ListenAddress)
	}
	if cfg.JWTSecret != "env-secret" {
		t.Fatalf("JWTSecret = %q, want env override", cfg.JWTSecret)
	}
}

func TestLoadValidation(t *testing.T) {
	if _, err := Load(writeConfig(t, `JWTSecret = "s"`)); err == nil {
		t.Fatal("expected missing DatabaseURL to fail")
	}
	if _, err := Load(writeConfig(t, `DatabaseURL = "postgres://x"`)); err == nil {
		t.Fatal("expected missing JWTSecret to fail")
	}
	if _, err := Load(writeConfig(t, `
DatabaseURL = "postgres://x"
JWTSecret = "s"
TokenTTL = "not-a-duration"
`)); err == nil {
		t.Fatal("expected invalid TokenTTL to fail")
	}
	if _, err := Load(writeConfig(t, `
DatabaseURL = "postgres://x"
JWTSecret = "s"
LoginBurst = -1
`)); err == nil {
		t.Fatal("expected negative LoginBurst to fail")
	}
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("VAULTBAY_DATABASE_URL", "postgres://localhost/vaultbay")
	t.Setenv("VAULTBAY_JWT_SECRET", "env-secret")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/vaultbay" {
		t.Fatalf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}
