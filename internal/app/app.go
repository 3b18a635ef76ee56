package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sandeepkv93/crm-auth-core/internal/config"
	"github.com/sandeepkv93/crm-auth-core/internal/health"
	"github.com/sandeepkv93/crm-auth-core/internal/observability"
	"github.com/sandeepkv93/crm-auth-core/internal/service"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	Ledger        *service.SessionLedger
	Readiness     *health.ProbeRunner

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	mu             sync.Mutex
	stopBackground context.CancelFunc
	background     sync.WaitGroup
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	ledger *service.SessionLedger,
	readiness *health.ProbeRunner,
) *App {
	return &App{
		Config:                       cfg,
		Logger:                       logger,
		Server:                       server,
		Observability:                runtime,
		Ledger:                       ledger,
		Readiness:                    readiness,
		ShutdownTimeout:              cfg.ShutdownTimeout,
		ShutdownHTTPDrainTimeout:     cfg.ShutdownHTTPDrainTimeout,
		ShutdownObservabilityTimeout: cfg.ShutdownObservabilityTimeout,
	}
}

// Run serves HTTP and the session cleanup loop until ctx is cancelled or the
// listener fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.StartBackgroundTasks(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}
	return errors.Join(serveErr, a.Shutdown(context.WithoutCancel(ctx)))
}

// StartBackgroundTasks launches the periodic expired-session sweep. It is a
// no-op without a ledger or with a non-positive interval.
func (a *App) StartBackgroundTasks(ctx context.Context) {
	if a.Ledger == nil || a.Config.SessionCleanupInterval <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopBackground != nil {
		return
	}
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopBackground = cancel
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		a.runSessionCleanup(bgCtx, a.Config.SessionCleanupInterval)
	}()
}

func (a *App) StopBackgroundTasks() {
	a.mu.Lock()
	cancel := a.stopBackground
	a.stopBackground = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.background.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	if a.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.ShutdownTimeout)
		defer cancel()
	}
	a.StopBackgroundTasks()

	var errs []error
	drainCtx, cancelDrain := withOptionalTimeout(ctx, a.ShutdownHTTPDrainTimeout)
	if err := a.Server.Shutdown(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	cancelDrain()

	obsCtx, cancelObs := withOptionalTimeout(ctx, a.ShutdownObservabilityTimeout)
	if err := a.Observability.Shutdown(obsCtx); err != nil {
		errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
	}
	cancelObs()

	if len(errs) == 0 {
		a.Logger.Info("shutdown complete")
	}
	return errors.Join(errs...)
}

func (a *App) runSessionCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Ledger.CleanupExpiredSessions(ctx); n > 0 {
				a.Logger.InfoContext(ctx, "expired sessions removed", "count", n)
			}
		}
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
