//go:build wireinject

package app

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/sandeepkv93/crm-auth-core/internal/config"
	"github.com/sandeepkv93/crm-auth-core/internal/service"
)

func Initialize(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*App, func(), error) {
	wire.Build(
		storeSet,
		serviceSet,
		httpSet,
		provideRuntime,
		New,
	)
	return nil, nil, nil
}

// InitializeLedger builds only what the maintenance commands need.
func InitializeLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*service.SessionLedger, func(), error) {
	wire.Build(
		storeSet,
		provideSessionCache,
		provideSessionLedger,
	)
	return nil, nil, nil
}
