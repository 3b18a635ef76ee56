package observability

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Audit records an HTTP-level audit event.
func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}

// SlogAuditLogger writes authentication audit events as structured "audit"
// records.
type SlogAuditLogger struct {
	logger *slog.Logger
}

func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger}
}

func (a *SlogAuditLogger) LogSuccessfulLogin(ctx context.Context, userID, tenantID, ip, userAgent string) error {
	a.logger.InfoContext(ctx, "audit",
		"event", "auth.login.success",
		"user_id", userID,
		"tenant_id", tenantID,
		"ip", ip,
		"user_agent", userAgent,
	)
	return nil
}

// LogFailedLogin never records the attempted password.
func (a *SlogAuditLogger) LogFailedLogin(ctx context.Context, email, tenantID, reason string, attemptCount int, ip, userAgent string) error {
	a.logger.WarnContext(ctx, "audit",
		"event", "auth.login.failure",
		"email", email,
		"tenant_id", tenantID,
		"reason", reason,
		"attempt_count", attemptCount,
		"ip", ip,
		"user_agent", userAgent,
	)
	return nil
}

func (a *SlogAuditLogger) LogAccountLocked(ctx context.Context, userID, tenantID string, lockedUntil time.Time, ip string) error {
	a.logger.WarnContext(ctx, "audit",
		"event", "auth.account.locked",
		"user_id", userID,
		"tenant_id", tenantID,
		"locked_until", lockedUntil.UTC().Format(time.RFC3339),
		"ip", ip,
	)
	return nil
}

func (a *SlogAuditLogger) LogLogout(ctx context.Context, userID string, allSessions bool) error {
	a.logger.InfoContext(ctx, "audit",
		"event", "auth.logout",
		"user_id", userID,
		"all_sessions", allSessions,
	)
	return nil
}

func (a *SlogAuditLogger) LogPasswordChanged(ctx context.Context, userID, tenantID string) error {
	a.logger.InfoContext(ctx, "audit",
		"event", "auth.password.changed",
		"user_id", userID,
		"tenant_id", tenantID,
	)
	return nil
}
