package config

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

const testSecret = "abcdefghijklmnopqrstuvwxyz123456"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "sqlite://file::memory:")
	t.Setenv("JWT_SECRET", testSecret)
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.JWTIssuer != "crm-auth" || cfg.JWTAudience != "crm-api" {
		t.Fatalf("unexpected issuer/audience %q %q", cfg.JWTIssuer, cfg.JWTAudience)
	}
	if cfg.JWTAccessTTL != 15*time.Minute || cfg.JWTRefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected token ttls %s %s", cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	}
	if cfg.SessionCacheTTL != 7*24*time.Hour {
		t.Fatalf("SessionCacheTTL = %s", cfg.SessionCacheTTL)
	}
	if cfg.BcryptCost != 12 || cfg.LockoutThreshold != 5 || cfg.LockoutDuration != 15*time.Minute {
		t.Fatalf("unexpected lockout defaults: cost=%d threshold=%d duration=%s", cfg.BcryptCost, cfg.LockoutThreshold, cfg.LockoutDuration)
	}
	if cfg.TenantFallbackEnabled {
		t.Fatal("tenant fallback must default to disabled")
	}
	if cfg.SessionCachePrefix != "session" {
		t.Fatalf("SessionCachePrefix = %q", cfg.SessionCachePrefix)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOCKOUT_THRESHOLD", "3")
	t.Setenv("LOCKOUT_DURATION", "30m")
	t.Setenv("BCRYPT_COST", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LockoutThreshold != 3 || cfg.LockoutDuration != 30*time.Minute || cfg.BcryptCost != 10 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsShortSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "validate config:") || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := errorClasses(err); !slices.Equal(got, []string{"jwt"}) {
		t.Fatalf("expected jwt class, got %v", got)
	}
}

func TestLoadTenantFallback(t *testing.T) {
	t.Run("enabled without expiry is rejected", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("TENANT_FALLBACK_ENABLED", "true")
		t.Setenv("TENANT_FALLBACK_ID", "acme-ops")
		if _, err := Load(); err == nil || !strings.Contains(err.Error(), "TENANT_FALLBACK_EXPIRES_AT") {
			t.Fatalf("expected expiry validation error, got %v", err)
		}
	})

	t.Run("bad timestamp is a parse error", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("TENANT_FALLBACK_EXPIRES_AT", "tomorrow")
		_, err := Load()
		if err == nil {
			t.Fatal("expected parse error")
		}
		if got := errorClasses(err); !slices.Equal(got, []string{"parse"}) {
			t.Fatalf("expected parse class, got %v (%v)", got, err)
		}
	})

	t.Run("enabled with expiry loads", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("TENANT_FALLBACK_ENABLED", "true")
		t.Setenv("TENANT_FALLBACK_ID", "  acme-ops  ")
		t.Setenv("TENANT_FALLBACK_EXPIRES_AT", "2030-01-02T15:04:05Z")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.TenantFallbackID != "acme-ops" {
			t.Fatalf("expected trimmed fallback id, got %q", cfg.TenantFallbackID)
		}
		want := time.Date(2030, 1, 2, 15, 4, 5, 0, time.UTC)
		if !cfg.TenantFallbackExpiresAt.Equal(want) {
			t.Fatalf("expires at = %s", cfg.TenantFallbackExpiresAt)
		}
	})
}

func TestValidateCollectsAllViolations(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors for empty config")
	}
	for _, want := range []string{"HTTP_ADDR", "DATABASE_URL", "JWT_SECRET", "BCRYPT_COST", "LOCKOUT_THRESHOLD"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) < 5 {
		t.Fatalf("expected joined violations, got %T", err)
	}
}
