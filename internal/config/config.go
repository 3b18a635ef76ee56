// Package config loads and validates process configuration from the environment
// and an optional .env file using Viper.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env      string `mapstructure:"APP_ENV"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	JWTSecret     string        `mapstructure:"JWT_SECRET"`
	JWTIssuer     string        `mapstructure:"JWT_ISSUER"`
	JWTAudience   string        `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL  time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL time.Duration `mapstructure:"JWT_REFRESH_TTL"`

	SessionCacheTTL        time.Duration `mapstructure:"SESSION_CACHE_TTL"`
	SessionCachePrefix     string        `mapstructure:"SESSION_CACHE_PREFIX"`
	SessionCleanupInterval time.Duration `mapstructure:"SESSION_CLEANUP_INTERVAL"`

	BcryptCost       int           `mapstructure:"BCRYPT_COST"`
	LockoutThreshold int           `mapstructure:"LOCKOUT_THRESHOLD"`
	LockoutDuration  time.Duration `mapstructure:"LOCKOUT_DURATION"`
	AuthRateLimitRPM int           `mapstructure:"AUTH_RATE_LIMIT_RPM"`

	// Break-glass tenant. Inert unless enabled and TenantFallbackExpiresAt is in the future.
	TenantFallbackEnabled   bool      `mapstructure:"TENANT_FALLBACK_ENABLED"`
	TenantFallbackID        string    `mapstructure:"TENANT_FALLBACK_ID"`
	TenantFallbackExpiresAt time.Time `mapstructure:"-"`

	OTELMetricsEnabled        bool          `mapstructure:"OTEL_METRICS_ENABLED"`
	OTELTracingEnabled        bool          `mapstructure:"OTEL_TRACING_ENABLED"`
	OTELLogsEnabled           bool          `mapstructure:"OTEL_LOGS_ENABLED"`
	OTELExporterOTLPEndpoint  string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELExporterOTLPInsecure  bool          `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName           string        `mapstructure:"OTEL_SERVICE_NAME"`
	OTELEnvironment           string        `mapstructure:"OTEL_ENVIRONMENT"`
	OTELMetricsExportInterval time.Duration `mapstructure:"OTEL_METRICS_EXPORT_INTERVAL"`
	OTELTraceSamplingRatio    float64       `mapstructure:"OTEL_TRACE_SAMPLING_RATIO"`

	LogLevel string `mapstructure:"LOG_LEVEL"`

	ShutdownTimeout              time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	ShutdownHTTPDrainTimeout     time.Duration `mapstructure:"SHUTDOWN_HTTP_DRAIN_TIMEOUT"`
	ShutdownObservabilityTimeout time.Duration `mapstructure:"SHUTDOWN_OBSERVABILITY_TIMEOUT"`
}

// Load reads .env (if present), then the environment. Env vars override .env.
func Load() (*Config, error) {
	cfg, err := load()
	profile := "unknown"
	if cfg != nil {
		profile = cfg.Env
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	for _, class := range errorClasses(err) {
		recordConfigValidationEvent(context.Background(), profile, outcome, class)
	}
	return cfg, err
}

func load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &checkError{class: classParse, msg: "parse config", cause: err}
	}

	if raw := strings.TrimSpace(v.GetString("TENANT_FALLBACK_EXPIRES_AT")); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, &checkError{class: classParse, msg: "parse TENANT_FALLBACK_EXPIRES_AT", cause: err}
		}
		cfg.TenantFallbackExpiresAt = at
	}
	cfg.TenantFallbackID = strings.TrimSpace(cfg.TenantFallbackID)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "crm-auth")
	v.SetDefault("JWT_AUDIENCE", "crm-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h")
	v.SetDefault("SESSION_CACHE_TTL", "168h")
	v.SetDefault("SESSION_CACHE_PREFIX", "session")
	v.SetDefault("SESSION_CLEANUP_INTERVAL", "1h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_DURATION", "15m")
	v.SetDefault("AUTH_RATE_LIMIT_RPM", 60)
	v.SetDefault("TENANT_FALLBACK_ENABLED", false)
	v.SetDefault("TENANT_FALLBACK_ID", "")
	v.SetDefault("TENANT_FALLBACK_EXPIRES_AT", "")
	v.SetDefault("OTEL_METRICS_ENABLED", false)
	v.SetDefault("OTEL_TRACING_ENABLED", false)
	v.SetDefault("OTEL_LOGS_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("OTEL_SERVICE_NAME", "crm-auth")
	v.SetDefault("OTEL_ENVIRONMENT", "development")
	v.SetDefault("OTEL_METRICS_EXPORT_INTERVAL", "15s")
	v.SetDefault("OTEL_TRACE_SAMPLING_RATIO", 1.0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("SHUTDOWN_HTTP_DRAIN_TIMEOUT", "10s")
	v.SetDefault("SHUTDOWN_OBSERVABILITY_TIMEOUT", "5s")
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, invalid(classServer, "HTTP_ADDR is required"))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, invalid(classDatabase, "DATABASE_URL is required"))
	}
	if len(c.JWTSecret) < 32 {
		errs = append(errs, invalid(classJWT, "JWT_SECRET must be at least 32 characters"))
	}
	if c.JWTAccessTTL <= 0 {
		errs = append(errs, invalid(classJWT, "JWT_ACCESS_TTL must be positive"))
	}
	if c.JWTRefreshTTL <= c.JWTAccessTTL {
		errs = append(errs, invalid(classJWT, "JWT_REFRESH_TTL must be longer than JWT_ACCESS_TTL"))
	}
	if c.SessionCacheTTL <= 0 {
		errs = append(errs, invalid(classSession, "SESSION_CACHE_TTL must be positive"))
	}
	if strings.TrimSpace(c.SessionCachePrefix) == "" {
		errs = append(errs, invalid(classSession, "SESSION_CACHE_PREFIX is required"))
	}
	if c.SessionCleanupInterval <= 0 {
		errs = append(errs, invalid(classSession, "SESSION_CLEANUP_INTERVAL must be positive"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, invalid(classPassword, "BCRYPT_COST must be between 4 and 31"))
	}
	if c.LockoutThreshold < 1 {
		errs = append(errs, invalid(classLockout, "LOCKOUT_THRESHOLD must be at least 1"))
	}
	if c.LockoutDuration <= 0 {
		errs = append(errs, invalid(classLockout, "LOCKOUT_DURATION must be positive"))
	}
	if c.AuthRateLimitRPM < 1 {
		errs = append(errs, invalid(classRateLimit, "AUTH_RATE_LIMIT_RPM must be at least 1"))
	}
	if c.TenantFallbackEnabled {
		if c.TenantFallbackID == "" {
			errs = append(errs, invalid(classTenantFallback, "TENANT_FALLBACK_ID is required when TENANT_FALLBACK_ENABLED=true"))
		}
		if c.TenantFallbackExpiresAt.IsZero() {
			errs = append(errs, invalid(classTenantFallback, "TENANT_FALLBACK_EXPIRES_AT is required when TENANT_FALLBACK_ENABLED=true"))
		}
	}
	if c.OTELMetricsExportInterval <= 0 {
		errs = append(errs, invalid(classObservability, "OTEL_METRICS_EXPORT_INTERVAL must be positive"))
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, invalid(classObservability, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, invalid(classShutdown, "SHUTDOWN_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}
