package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sandeepkv93/crm-auth-core/internal/domain"
	"github.com/sandeepkv93/crm-auth-core/internal/observability"
	"github.com/sandeepkv93/crm-auth-core/internal/repository"
	"github.com/sandeepkv93/crm-auth-core/internal/security"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSessionTTL      = 7 * 24 * time.Hour
	cacheDeleteConcurrency = 8
)

type SessionView struct {
	ID         uint      `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	UserAgent  string    `json:"user_agent"`
	IP         string    `json:"ip"`
	DeviceType string    `json:"device_type"`
	IsCurrent  bool      `json:"is_current"`
}

type SessionLedgerConfig struct {
	// SessionTTL sets the durable row's expiresAt; defaults to 7 days.
	SessionTTL time.Duration
	// CacheTTL bounds the cache entry lifetime; defaults to SessionTTL.
	CacheTTL time.Duration
	Now      func() time.Time
}

// SessionLedger keeps refresh-token sessions in an ephemeral cache and a
// durable repository. The repository is authoritative; the cache is a
// TTL-bound projection of it.
type SessionLedger struct {
	cache      SessionCache
	repo       repository.SessionRepository
	sessionTTL time.Duration
	cacheTTL   time.Duration
	now        func() time.Time
	logger     *slog.Logger
	lookups    singleflight.Group
}

func NewSessionLedger(cache SessionCache, repo repository.SessionRepository, cfg SessionLedgerConfig, logger *slog.Logger) *SessionLedger {
	if cache == nil {
		cache = NewNoopSessionCache()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cfg.SessionTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionLedger{
		cache:      cache,
		repo:       repo,
		sessionTTL: cfg.SessionTTL,
		cacheTTL:   cfg.CacheTTL,
		now:        cfg.Now,
		logger:     logger,
	}
}

// CreateSession writes the cache entry first and the durable row second. A
// cache failure aborts before the durable write. A durable failure is
// returned after a best-effort removal of the cache entry.
func (l *SessionLedger) CreateSession(ctx context.Context, userID, tenantID, refreshToken string, meta domain.SessionMetadata) (*domain.Session, error) {
	ctx, span := observability.StartSpan(ctx, "session_ledger.create", attribute.String("user.id", userID))
	defer span.End()

	now := l.now().UTC()
	hash := security.HashRefreshToken(refreshToken)
	deviceType := meta.DeviceType
	if deviceType == "" {
		deviceType = security.DetectDeviceType(meta.UserAgent)
	}
	session := &domain.Session{
		UserID:           userID,
		TenantID:         tenantID,
		RefreshTokenHash: hash,
		UserAgent:        meta.UserAgent,
		IPAddress:        meta.IPAddress,
		DeviceType:       deviceType,
		ExpiresAt:        now.Add(l.sessionTTL),
		CreatedAt:        now,
	}

	if err := l.cache.Set(ctx, cacheEntryFor(session), l.cacheTTL); err != nil {
		l.fail(ctx, span, "create", err)
		return nil, fmt.Errorf("cache session: %w", err)
	}
	if err := l.repo.Create(ctx, session); err != nil {
		if delErr := l.cache.Delete(ctx, userID, hash); delErr != nil {
			l.logger.WarnContext(ctx, "session cache compensation failed",
				"user_id", userID,
				"error", delErr,
			)
		}
		l.fail(ctx, span, "create", err)
		return nil, fmt.Errorf("persist session: %w", err)
	}
	observability.RecordLedgerOperation(ctx, "create", "success")
	return session, nil
}

// SessionExists consults the cache, then the durable store. Cache errors count
// as misses. A durable hit refills the cache.
func (l *SessionLedger) SessionExists(ctx context.Context, userID, refreshToken string) (bool, error) {
	ctx, span := observability.StartSpan(ctx, "session_ledger.exists", attribute.String("user.id", userID))
	defer span.End()

	hash := security.HashRefreshToken(refreshToken)
	entry, ok, err := l.cache.Get(ctx, userID, hash)
	switch {
	case err != nil:
		observability.RecordSessionCacheLookup(ctx, "error")
		l.logger.WarnContext(ctx, "session cache lookup failed", "user_id", userID, "error", err)
	case ok && entry.ExpiresAt.After(l.now()):
		observability.RecordSessionCacheLookup(ctx, "hit")
		span.SetAttributes(attribute.String("session.source", "cache"))
		observability.RecordLedgerOperation(ctx, "exists", "hit")
		return true, nil
	default:
		observability.RecordSessionCacheLookup(ctx, "miss")
	}

	// The lookup is shared by concurrent callers, so one caller's cancellation
	// must not fail the others.
	shared := context.WithoutCancel(ctx)
	v, err, _ := l.lookups.Do(userID+":"+hash, func() (any, error) {
		return l.repo.FindActive(shared, userID, hash, l.now().UTC())
	})
	if errors.Is(err, repository.ErrSessionNotFound) {
		observability.RecordLedgerOperation(ctx, "exists", "miss")
		return false, nil
	}
	if err != nil {
		l.fail(ctx, span, "exists", err)
		return false, err
	}
	session := v.(*domain.Session)
	span.SetAttributes(attribute.String("session.source", "durable"))

	ttl := l.cacheTTL
	if remaining := session.ExpiresAt.Sub(l.now()); remaining < ttl {
		ttl = remaining
	}
	if err := l.cache.Set(ctx, cacheEntryFor(session), ttl); err != nil {
		l.logger.WarnContext(ctx, "session cache refill failed", "user_id", userID, "error", err)
	}
	observability.RecordLedgerOperation(ctx, "exists", "refill")
	return true, nil
}

// DeleteSession removes the cache entry, then the durable row. A cache
// failure aborts before the durable delete. Deleting an unknown session is
// not an error.
func (l *SessionLedger) DeleteSession(ctx context.Context, userID, refreshToken string) error {
	ctx, span := observability.StartSpan(ctx, "session_ledger.delete", attribute.String("user.id", userID))
	defer span.End()

	hash := security.HashRefreshToken(refreshToken)
	if err := l.cache.Delete(ctx, userID, hash); err != nil {
		l.fail(ctx, span, "delete", err)
		return fmt.Errorf("evict cached session: %w", err)
	}
	n, err := l.repo.DeleteByUserAndHash(ctx, userID, hash)
	if err != nil {
		l.fail(ctx, span, "delete", err)
		return fmt.Errorf("delete session: %w", err)
	}
	span.SetAttributes(attribute.Int64("session.deleted", n))
	observability.RecordLedgerOperation(ctx, "delete", "success")
	return nil
}

// DeleteAllUserSessions removes every live session of the user from the
// durable store and then evicts each one from the cache. Any failure fails
// the whole call.
func (l *SessionLedger) DeleteAllUserSessions(ctx context.Context, userID string) (int64, error) {
	ctx, span := observability.StartSpan(ctx, "session_ledger.delete_all", attribute.String("user.id", userID))
	defer span.End()

	sessions, err := l.repo.ListActiveByUserID(ctx, userID, l.now().UTC())
	if err != nil {
		l.fail(ctx, span, "delete_all", err)
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		observability.RecordLedgerOperation(ctx, "delete_all", "success")
		return 0, nil
	}
	ids := make([]uint, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	deleted, err := l.repo.DeleteByIDs(ctx, userID, ids)
	if err != nil {
		l.fail(ctx, span, "delete_all", err)
		return 0, fmt.Errorf("delete sessions: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cacheDeleteConcurrency)
	for _, s := range sessions {
		hash := s.RefreshTokenHash
		g.Go(func() error {
			return l.cache.Delete(gctx, userID, hash)
		})
	}
	if err := g.Wait(); err != nil {
		l.fail(ctx, span, "delete_all", err)
		return deleted, fmt.Errorf("evict cached sessions: %w", err)
	}
	span.SetAttributes(attribute.Int64("session.deleted", deleted))
	observability.RecordLedgerOperation(ctx, "delete_all", "success")
	return deleted, nil
}

// GetActiveSessionCount is advisory; store errors are logged and read as 0.
func (l *SessionLedger) GetActiveSessionCount(ctx context.Context, userID string) int64 {
	n, err := l.repo.CountActiveByUserID(ctx, userID, l.now().UTC())
	if err != nil {
		l.logger.WarnContext(ctx, "count active sessions failed", "user_id", userID, "error", err)
		observability.RecordLedgerOperation(ctx, "count", "error")
		return 0
	}
	observability.RecordLedgerOperation(ctx, "count", "success")
	return n
}

// CleanupExpiredSessions sweeps the durable store only; cache entries expire
// on their own TTL. Errors are logged and read as 0.
func (l *SessionLedger) CleanupExpiredSessions(ctx context.Context) int64 {
	ctx, span := observability.StartSpan(ctx, "session_ledger.cleanup")
	defer span.End()

	n, err := l.repo.CleanupExpired(ctx, l.now().UTC())
	if err != nil {
		l.fail(ctx, span, "cleanup", err)
		l.logger.ErrorContext(ctx, "expired session cleanup failed", "error", err)
		return 0
	}
	span.SetAttributes(attribute.Int64("session.deleted", n))
	observability.RecordLedgerOperation(ctx, "cleanup", "success")
	return n
}

// ListActiveSessions marks the session matching currentRefreshToken, if any.
func (l *SessionLedger) ListActiveSessions(ctx context.Context, userID, currentRefreshToken string) ([]SessionView, error) {
	sessions, err := l.repo.ListActiveByUserID(ctx, userID, l.now().UTC())
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, SessionView{
			ID:         s.ID,
			CreatedAt:  s.CreatedAt,
			ExpiresAt:  s.ExpiresAt,
			UserAgent:  s.UserAgent,
			IP:         s.IPAddress,
			DeviceType: s.DeviceType,
			IsCurrent:  currentRefreshToken != "" && security.RefreshTokenHashEqual(currentRefreshToken, s.RefreshTokenHash),
		})
	}
	return views, nil
}

func (l *SessionLedger) fail(ctx context.Context, span trace.Span, op string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	observability.RecordLedgerOperation(ctx, op, "error")
}

func cacheEntryFor(s *domain.Session) SessionCacheEntry {
	return SessionCacheEntry{
		UserID:           s.UserID,
		TenantID:         s.TenantID,
		RefreshTokenHash: s.RefreshTokenHash,
		UserAgent:        s.UserAgent,
		IPAddress:        s.IPAddress,
		DeviceType:       s.DeviceType,
		ExpiresAt:        s.ExpiresAt,
		CreatedAt:        s.CreatedAt,
	}
}
