package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sandeepkv93/crm-auth-core/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationName = "github.com/sandeepkv93/crm-auth-core"

type AppMetrics struct {
	authLoginCounter         metric.Int64Counter
	authRefreshCounter       metric.Int64Counter
	authLogoutCounter        metric.Int64Counter
	authLockoutCounter       metric.Int64Counter
	ledgerOpCounter          metric.Int64Counter
	sessionCacheCounter      metric.Int64Counter
	repositoryOpCounter      metric.Int64Counter
	tenantDecisionCounter    metric.Int64Counter
	tenantFallbackCounter    metric.Int64Counter
	rateLimitDecisionCounter metric.Int64Counter
	accessTokenCounter       metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		if err := RegisterMetrics(mp); err != nil {
			return nil, err
		}
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)
	if err := RegisterMetrics(mp); err != nil {
		return nil, err
	}

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

// RegisterMetrics creates the application instruments on mp and makes them
// the target of the Record* helpers.
func RegisterMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)
	var m AppMetrics
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&m.authLoginCounter, "auth.login.attempts"},
		{&m.authRefreshCounter, "auth.refresh.attempts"},
		{&m.authLogoutCounter, "auth.logout.attempts"},
		{&m.authLockoutCounter, "auth.lockouts"},
		{&m.ledgerOpCounter, "session.ledger.operations"},
		{&m.sessionCacheCounter, "session.cache.lookups"},
		{&m.repositoryOpCounter, "repository.operations"},
		{&m.tenantDecisionCounter, "tenant.guard.decisions"},
		{&m.tenantFallbackCounter, "tenant.fallback.uses"},
		{&m.rateLimitDecisionCounter, "auth.rate_limit.decisions"},
		{&m.accessTokenCounter, "auth.access_token.validations"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return fmt.Errorf("create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}

	metricsMu.Lock()
	appMetrics = &m
	metricsMu.Unlock()
	return nil
}

func currentMetrics() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(ctx context.Context, status string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.authLoginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthRefresh(ctx context.Context, status string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.authRefreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLogout(ctx context.Context, status string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.authLogoutCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordLockout(ctx context.Context) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.authLockoutCounter.Add(ctx, 1)
}

func RecordLedgerOperation(ctx context.Context, op, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.ledgerOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

// RecordSessionCacheLookup result is one of hit, miss, error.
func RecordSessionCacheLookup(ctx context.Context, result string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.sessionCacheCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func RecordRepositoryOperation(ctx context.Context, repository, operation, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.repositoryOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repository),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordTenantDecision(ctx context.Context, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.tenantDecisionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordTenantFallbackUse(ctx context.Context) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.tenantFallbackCounter.Add(ctx, 1)
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.rateLimitDecisionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
	))
}

func RecordAccessTokenValidation(ctx context.Context, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.accessTokenCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
