package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"

	"github.com/sandeepkv93/crm-auth-core/internal/config"
	"github.com/sandeepkv93/crm-auth-core/internal/database"
	"github.com/sandeepkv93/crm-auth-core/internal/health"
	"github.com/sandeepkv93/crm-auth-core/internal/http/handler"
	"github.com/sandeepkv93/crm-auth-core/internal/http/middleware"
	"github.com/sandeepkv93/crm-auth-core/internal/http/router"
	"github.com/sandeepkv93/crm-auth-core/internal/observability"
	"github.com/sandeepkv93/crm-auth-core/internal/repository"
	"github.com/sandeepkv93/crm-auth-core/internal/security"
	"github.com/sandeepkv93/crm-auth-core/internal/service"
	"github.com/sandeepkv93/crm-auth-core/internal/tenant"
)

var storeSet = wire.NewSet(
	provideDB,
	provideRedis,
	repository.NewCredentialRepository,
	repository.NewSessionRepository,
)

var serviceSet = wire.NewSet(
	provideTokenService,
	providePasswordService,
	provideSessionCache,
	provideSessionLedger,
	provideAuditLogger,
	provideAuthService,
	wire.Bind(new(service.AuthServiceInterface), new(*service.AuthService)),
)

var httpSet = wire.NewSet(
	handler.NewAuthHandler,
	provideTenantGuard,
	provideAuthRateLimiter,
	provideReadiness,
	provideRouter,
	provideHTTPServer,
)

func provideDB(cfg *config.Config, logger *slog.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := database.Close(db); err != nil {
			logger.Warn("database close failed", "error", err)
		}
	}
	return db, cleanup, nil
}

func provideRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	client, err := database.OpenRedis(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close failed", "error", err)
		}
	}
	return client, cleanup, nil
}

func provideRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, logger, lp)
}

func provideTokenService(cfg *config.Config) *security.TokenService {
	return security.NewTokenService(security.TokenServiceConfig{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.JWTRefreshTTL,
	})
}

func providePasswordService(cfg *config.Config) *security.PasswordService {
	return security.NewPasswordService(cfg.BcryptCost)
}

func provideSessionCache(client redis.UniversalClient, cfg *config.Config) service.SessionCache {
	return service.NewRedisSessionCache(client, cfg.SessionCachePrefix)
}

func provideSessionLedger(cache service.SessionCache, repo repository.SessionRepository, cfg *config.Config, logger *slog.Logger) *service.SessionLedger {
	return service.NewSessionLedger(cache, repo, service.SessionLedgerConfig{
		SessionTTL: cfg.JWTRefreshTTL,
		CacheTTL:   cfg.SessionCacheTTL,
	}, logger)
}

func provideAuditLogger(logger *slog.Logger) service.AuditLogger {
	return observability.NewSlogAuditLogger(logger)
}

func provideAuthService(
	credentials repository.CredentialRepository,
	passwords *security.PasswordService,
	tokens *security.TokenService,
	ledger *service.SessionLedger,
	audit service.AuditLogger,
	cfg *config.Config,
	logger *slog.Logger,
) *service.AuthService {
	return service.NewAuthService(credentials, passwords, tokens, ledger, audit, service.AuthConfig{
		LockoutThreshold: cfg.LockoutThreshold,
		LockoutDuration:  cfg.LockoutDuration,
	}, logger)
}

func provideTenantGuard(cfg *config.Config, logger *slog.Logger) (*tenant.Guard, error) {
	guard, err := tenant.NewGuard(tenant.FallbackConfig{
		Enabled:   cfg.TenantFallbackEnabled,
		TenantID:  cfg.TenantFallbackID,
		ExpiresAt: cfg.TenantFallbackExpiresAt,
	}, nil)
	if err != nil {
		return nil, err
	}
	if guard.FallbackActive() {
		logger.Error("tenant fallback is enabled",
			"tenant_id", cfg.TenantFallbackID,
			"expires_at", cfg.TenantFallbackExpiresAt,
		)
	}
	return guard, nil
}

func provideAuthRateLimiter(client redis.UniversalClient, cfg *config.Config, logger *slog.Logger) router.AuthRateLimiterFunc {
	limiter := middleware.NewRateLimiter(
		middleware.NewRedisFixedWindowLimiter(client, "ratelimit"),
		middleware.RateLimitPolicy{Limit: cfg.AuthRateLimitRPM, Window: time.Minute},
		middleware.FailClosed,
		"auth",
		logger,
	)
	return limiter.Middleware()
}

func provideReadiness(db *gorm.DB, client redis.UniversalClient) *health.ProbeRunner {
	return health.NewProbeRunner(2*time.Second, time.Second,
		health.DBChecker{DB: db},
		health.RedisChecker{Client: client},
	)
}

func provideRouter(
	cfg *config.Config,
	logger *slog.Logger,
	authHandler *handler.AuthHandler,
	tokens *security.TokenService,
	guard *tenant.Guard,
	limiter router.AuthRateLimiterFunc,
	readiness *health.ProbeRunner,
) http.Handler {
	return router.NewRouter(router.Dependencies{
		AuthHandler:      authHandler,
		Tokens:           tokens,
		TenantGuard:      guard,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		AuthRateLimiter:  limiter,
		Readiness:        readiness,
		Logger:           logger,
		EnableOTelHTTP:   cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	})
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
