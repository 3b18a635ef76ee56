package config

import (
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"
)

func TestErrorClasses(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want []string
	}{
		{name: "none", err: nil, want: []string{"none"}},
		{name: "unclassified", err: errors.New("disk on fire"), want: []string{"load"}},
		{name: "parse", err: &checkError{class: classParse, msg: "parse config", cause: errors.New("bad duration")}, want: []string{"parse"}},
		{
			name: "wrapped join keeps order and dedupes",
			err: fmt.Errorf("validate config: %w", errors.Join(
				invalid(classJWT, "JWT_SECRET must be at least 32 characters"),
				invalid(classTenantFallback, "TENANT_FALLBACK_ID is required when TENANT_FALLBACK_ENABLED=true"),
				invalid(classJWT, "JWT_ACCESS_TTL must be positive"),
			)),
			want: []string{"jwt", "tenant_fallback"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := errorClasses(tc.err); !slices.Equal(got, tc.want) {
				t.Fatalf("errorClasses()=%v want %v", got, tc.want)
			}
		})
	}
}

func TestValidateTagsEachCheck(t *testing.T) {
	cfg := &Config{
		HTTPAddr:                  ":8080",
		DatabaseURL:               "sqlite://crm.db",
		JWTSecret:                 "abcdefghijklmnopqrstuvwxyz123456",
		JWTAccessTTL:              15 * time.Minute,
		JWTRefreshTTL:             time.Minute,
		SessionCacheTTL:           time.Hour,
		SessionCachePrefix:        "session",
		SessionCleanupInterval:    time.Hour,
		BcryptCost:                12,
		LockoutThreshold:          5,
		LockoutDuration:           15 * time.Minute,
		AuthRateLimitRPM:          60,
		TenantFallbackEnabled:     true,
		OTELMetricsExportInterval: 15 * time.Second,
		OTELTraceSamplingRatio:    1,
		ShutdownTimeout:           15 * time.Second,
	}
	got := errorClasses(cfg.Validate())
	if want := []string{"jwt", "tenant_fallback"}; !slices.Equal(got, want) {
		t.Fatalf("classes=%v want %v", got, want)
	}

	cfg.JWTRefreshTTL = 24 * time.Hour
	cfg.TenantFallbackEnabled = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestNormalizeConfigProfile(t *testing.T) {
	for raw, want := range map[string]string{"  Production ": "production", "": "unknown", "\t": "unknown", "dev": "dev"} {
		if got := normalizeConfigProfile(raw); got != want {
			t.Fatalf("normalizeConfigProfile(%q)=%q want %q", raw, got, want)
		}
	}
}
