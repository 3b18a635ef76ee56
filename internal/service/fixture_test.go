package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/crm-auth-core/internal/domain"
	"github.com/sandeepkv93/crm-auth-core/internal/repository"
	"github.com/sandeepkv93/crm-auth-core/internal/security"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testJWTSecret = "abcdefghijklmnopqrstuvwxyz123456"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Credential{}, &domain.Session{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyCache wraps a SessionCache and fails the selected operations.
type flakyCache struct {
	SessionCache
	setErr error
	getErr error
	delErr error

	mu      sync.Mutex
	deletes int
}

func (c *flakyCache) Set(ctx context.Context, e SessionCacheEntry, ttl time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	return c.SessionCache.Set(ctx, e, ttl)
}

func (c *flakyCache) Get(ctx context.Context, userID, hash string) (*SessionCacheEntry, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	return c.SessionCache.Get(ctx, userID, hash)
}

func (c *flakyCache) Delete(ctx context.Context, userID, hash string) error {
	c.mu.Lock()
	c.deletes++
	c.mu.Unlock()
	if c.delErr != nil {
		return c.delErr
	}
	return c.SessionCache.Delete(ctx, userID, hash)
}

// flakySessionRepo wraps a SessionRepository and fails the selected operations.
type flakySessionRepo struct {
	repository.SessionRepository
	createErr error
	findErr   error
	countErr  error
	findCalls int
}

func (r *flakySessionRepo) Create(ctx context.Context, s *domain.Session) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.SessionRepository.Create(ctx, s)
}

func (r *flakySessionRepo) FindActive(ctx context.Context, userID, hash string, now time.Time) (*domain.Session, error) {
	r.findCalls++
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.SessionRepository.FindActive(ctx, userID, hash, now)
}

func (r *flakySessionRepo) CountActiveByUserID(ctx context.Context, userID string, now time.Time) (int64, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	return r.SessionRepository.CountActiveByUserID(ctx, userID, now)
}

type authFixture struct {
	clock       *fakeClock
	db          *gorm.DB
	credentials repository.CredentialRepository
	sessionRepo *flakySessionRepo
	cache       *flakyCache
	memCache    *InMemorySessionCache
	passwords   *security.PasswordService
	tokens      *security.TokenService
	ledger      *SessionLedger
	audit       *recordingAudit
	auth        *AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{clock: newFakeClock(), db: newTestDB(t), audit: &recordingAudit{}}
	f.credentials = repository.NewCredentialRepository(f.db)
	f.sessionRepo = &flakySessionRepo{SessionRepository: repository.NewSessionRepository(f.db)}
	f.memCache = NewInMemorySessionCache("session", f.clock.Now)
	f.cache = &flakyCache{SessionCache: f.memCache}
	f.passwords = security.NewPasswordService(bcrypt.MinCost)
	f.tokens = security.NewTokenService(security.TokenServiceConfig{
		Secret:   testJWTSecret,
		Issuer:   "crm-auth",
		Audience: "crm-api",
		Now:      f.clock.Now,
	})
	f.ledger = NewSessionLedger(f.cache, f.sessionRepo, SessionLedgerConfig{Now: f.clock.Now}, discardLogger())
	f.auth = NewAuthService(f.credentials, f.passwords, f.tokens, f.ledger, f.audit, AuthConfig{Now: f.clock.Now}, discardLogger())
	return f
}

// seedVerified inserts an active, verified credential with the given password.
func (f *authFixture) seedVerified(t *testing.T, id, tenantID, email, password string) *domain.Credential {
	t.Helper()
	hash, err := f.passwords.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	c := &domain.Credential{
		ID:           id,
		TenantID:     tenantID,
		RoleID:       "sales",
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   true,
	}
	if err := f.credentials.Create(context.Background(), c); err != nil {
		t.Fatalf("create credential: %v", err)
	}
	return c
}

func (f *authFixture) reload(t *testing.T, id, tenantID string) *domain.Credential {
	t.Helper()
	c, err := f.credentials.FindByIDAndTenant(context.Background(), id, tenantID)
	if err != nil {
		t.Fatalf("reload credential: %v", err)
	}
	return c
}

type auditEvent struct {
	name     string
	reason   string
	attempts int
}

type recordingAudit struct {
	mu     sync.Mutex
	events []auditEvent
	err    error
}

func (a *recordingAudit) add(e auditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return a.err
}

func (a *recordingAudit) LogSuccessfulLogin(context.Context, string, string, string, string) error {
	return a.add(auditEvent{name: "login_success"})
}

func (a *recordingAudit) LogFailedLogin(_ context.Context, _, _, reason string, attempts int, _, _ string) error {
	return a.add(auditEvent{name: "login_failure", reason: reason, attempts: attempts})
}

func (a *recordingAudit) LogAccountLocked(context.Context, string, string, time.Time, string) error {
	return a.add(auditEvent{name: "account_locked"})
}

func (a *recordingAudit) LogLogout(context.Context, string, bool) error {
	return a.add(auditEvent{name: "logout"})
}

func (a *recordingAudit) LogPasswordChanged(context.Context, string, string) error {
	return a.add(auditEvent{name: "password_changed"})
}

func (a *recordingAudit) count(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e.name == name {
			n++
		}
	}
	return n
}

func (a *recordingAudit) last() auditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) == 0 {
		return auditEvent{}
	}
	return a.events[len(a.events)-1]
}
