package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ALLOW_CASH_CHANGE", "")
	t.Setenv("REQUIRE_PAYMENT_REFERENCE", "")
	t.Setenv("SALE_CACHE_TTL_SECONDS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Address())
	}
	if !cfg.AllowCashChange || cfg.RequirePaymentReference {
		t.Fatalf("unexpected payment policy defaults %+v", cfg)
	}
	if cfg.SaleCacheTTL() != 5*time.Minute {
		t.Fatalf("expected 5m sale cache ttl, got %s", cfg.SaleCacheTTL())
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOW_CASH_CHANGE", "false")
	t.Setenv("REQUIRE_PAYMENT_REFERENCE", "true")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "15")
	t.Setenv("LOG_LEVEL", " DEBUG ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || cfg.AllowCashChange || !cfg.RequirePaymentReference {
		t.Fatalf("environment not applied: %+v", cfg)
	}
	if cfg.AccessTokenTTL() != 15*time.Minute || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected ttl or level: %s %q", cfg.AccessTokenTTL(), cfg.LogLevel)
	}
}
