package service

import (
	"context"
	"time"
)

type AuthServiceInterface interface {
	Login(ctx context.Context, in LoginInput) (*AuthResult, error)
	Register(ctx context.Context, in RegisterInput) (*AuthResult, error)
	RefreshAccessToken(ctx context.Context, tenantID, refreshToken string) (*RefreshResult, error)
	Logout(ctx context.Context, userID, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) (int64, error)
	ChangePassword(ctx context.Context, in ChangePasswordInput) error
	ListSessions(ctx context.Context, userID, currentRefreshToken string) ([]SessionView, error)
}

// AuditLogger receives authentication events. A returned error is logged by
// the caller and never changes the authentication outcome.
type AuditLogger interface {
	LogSuccessfulLogin(ctx context.Context, userID, tenantID, ip, userAgent string) error
	LogFailedLogin(ctx context.Context, email, tenantID, reason string, attemptCount int, ip, userAgent string) error
	LogAccountLocked(ctx context.Context, userID, tenantID string, lockedUntil time.Time, ip string) error
	LogLogout(ctx context.Context, userID string, allSessions bool) error
	LogPasswordChanged(ctx context.Context, userID, tenantID string) error
}

type NoopAuditLogger struct{}

func (NoopAuditLogger) LogSuccessfulLogin(context.Context, string, string, string, string) error {
	return nil
}

func (NoopAuditLogger) LogFailedLogin(context.Context, string, string, string, int, string, string) error {
	return nil
}

func (NoopAuditLogger) LogAccountLocked(context.Context, string, string, time.Time, string) error {
	return nil
}

func (NoopAuditLogger) LogLogout(context.Context, string, bool) error { return nil }

func (NoopAuditLogger) LogPasswordChanged(context.Context, string, string) error { return nil }
