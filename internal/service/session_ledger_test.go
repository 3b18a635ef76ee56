package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sandeepkv93/crm-auth-core/internal/domain"
	"github.com/sandeepkv93/crm-auth-core/internal/repository"
	"github.com/sandeepkv93/crm-auth-core/internal/security"
)

var errStoreDown = errors.New("store unavailable")

func TestSessionLedgerCreateThenExistsThenDelete(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	s, err := f.ledger.CreateSession(ctx, "u1", "t1", "refresh-1", domain.SessionMetadata{UserAgent: "Mozilla/5.0 (Macintosh)", IPAddress: "10.0.0.1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.RefreshTokenHash != security.HashRefreshToken("refresh-1") {
		t.Fatal("durable row must store the token hash")
	}
	if s.DeviceType != security.DeviceDesktop {
		t.Fatalf("expected desktop device, got %q", s.DeviceType)
	}
	if !s.ExpiresAt.Equal(f.clock.Now().Add(DefaultSessionTTL)) {
		t.Fatalf("unexpected expiry %s", s.ExpiresAt)
	}

	ok, err := f.ledger.SessionExists(ctx, "u1", "refresh-1")
	if err != nil || !ok {
		t.Fatalf("expected session to exist, ok=%v err=%v", ok, err)
	}
	if f.sessionRepo.findCalls != 0 {
		t.Fatalf("cache hit should not reach the durable store, calls=%d", f.sessionRepo.findCalls)
	}
	if ok, _ := f.ledger.SessionExists(ctx, "u2", "refresh-1"); ok {
		t.Fatal("session must be scoped to its user")
	}

	if err := f.ledger.DeleteSession(ctx, "u1", "refresh-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err = f.ledger.SessionExists(ctx, "u1", "refresh-1")
	if err != nil || ok {
		t.Fatalf("expected session gone, ok=%v err=%v", ok, err)
	}
	if err := f.ledger.DeleteSession(ctx, "u1", "refresh-1"); err != nil {
		t.Fatalf("deleting an unknown session must succeed: %v", err)
	}
}

func TestSessionLedgerRefillsEvictedCacheEntry(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if _, err := f.ledger.CreateSession(ctx, "u1", "t1", "refresh-1", domain.SessionMetadata{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	hash := security.HashRefreshToken("refresh-1")
	if err := f.memCache.Delete(ctx, "u1", hash); err != nil {
		t.Fatalf("evict: %v", err)
	}

	ok, err := f.ledger.SessionExists(ctx, "u1", "refresh-1")
	if err != nil || !ok {
		t.Fatalf("durable row should keep the session alive, ok=%v err=%v", ok, err)
	}
	if f.sessionRepo.findCalls != 1 {
		t.Fatalf("expected one durable lookup, got %d", f.sessionRepo.findCalls)
	}
	if _, hit, _ := f.memCache.Get(ctx, "u1", hash); !hit {
		t.Fatal("expected cache-aside refill")
	}
	if ok, _ := f.ledger.SessionExists(ctx, "u1", "refresh-1"); !ok || f.sessionRepo.findCalls != 1 {
		t.Fatalf("second lookup should be served by the cache, calls=%d", f.sessionRepo.findCalls)
	}
}

func TestSessionLedgerDurableLookupIgnoresCallerCancellation(t *testing.T) {
	f := newAuthFixture(t)
	if _, err := f.ledger.CreateSession(context.Background(), "u1", "t1", "refresh-1", domain.SessionMetadata{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = f.memCache.Delete(context.Background(), "u1", security.HashRefreshToken("refresh-1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := f.ledger.SessionExists(ctx, "u1", "refresh-1")
	if err != nil || !ok {
		t.Fatalf("shared durable lookup must not inherit cancellation, ok=%v err=%v", ok, err)
	}
	if f.sessionRepo.findCalls != 1 {
		t.Fatalf("expected one durable lookup, got %d", f.sessionRepo.findCalls)
	}
}

func TestSessionLedgerRefillTTLNeverOutlivesRow(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if _, err := f.ledger.CreateSession(ctx, "u1", "t1", "refresh-1", domain.SessionMetadata{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	hash := security.HashRefreshToken("refresh-1")
	_ = f.memCache.Delete(ctx, "u1", hash)

	f.clock.Advance(DefaultSessionTTL - time.Hour)
	if ok, err := f.ledger.SessionExists(ctx, "u1", "refresh-1"); err != nil || !ok {
		t.Fatalf("expected live session, ok=%v err=%v", ok, err)
	}
	f.clock.Advance(time.Hour)
	if _, hit, _ := f.memCache.Get(ctx, "u1", hash); hit {
		t.Fatal("refilled entry must expire with the durable row")
	}
	if ok, _ := f.ledger.SessionExists(ctx, "u1", "refresh-1"); ok {
		t.Fatal("expired session must not exist")
	}
}

func TestSessionLedgerCacheErrorsDegradeToDurableLookup(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.CreateSession(ctx, "u1", "t1", "refresh-1", domain.SessionMetadata{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	f.cache.getErr = errStoreDown
	ok, err := f.ledger.SessionExists(ctx, "u1", "refresh-1")
	if err != nil || !ok {
		t.Fatalf("cache error should fall back to durable store, ok=%v err=%v", ok, err)
	}

	f.sessionRepo.findErr = errStoreDown
	if _, err := f.ledger.SessionExists(ctx, "u1", "refresh-1"); !errors.Is(err, errStoreDown) {
		t.Fatalf("durable errors must propagate, got %v", err)
	}
}

func TestSessionLedgerCreateOrdering(t *testing.T) {
	t.Run("cache failure skips durable write", func(t *testing.T) {
		f := newAuthFixture(t)
		f.cache.setErr = errStoreDown
		_, err := f.ledger.CreateSession(context.Background(), "u1", "t1", "refresh-1", domain.SessionMetadata{})
		if !errors.Is(err, errStoreDown) {
			t.Fatalf("expected cache error, got %v", err)
		}
		var count int64
		f.db.Model(&domain.Session{}).Count(&count)
		if count != 0 {
			t.Fatalf("durable row must not be written, count=%d", count)
		}
	})

	t.Run("durable failure removes cache entry", func(t *testing.T) {
		f := newAuthFixture(t)
		f.sessionRepo.createErr = errStoreDown
		_, err := f.ledger.CreateSession(context.Background(), "u1", "t1", "refresh-1", domain.SessionMetadata{})
		if !errors.Is(err, errStoreDown) {
			t.Fatalf("expected durable error, got %v", err)
		}
		if f.memCache.Len() != 0 {
			t.Fatal("cache entry should be compensated away")
		}
	})
}

func TestSessionLedgerDeleteAbortsOnCacheFailure(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.CreateSession(ctx, "u1", "t1", "refresh-1", domain.SessionMetadata{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	f.cache.delErr = errStoreDown
	if err := f.ledger.DeleteSession(ctx, "u1", "refresh-1"); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected cache error, got %v", err)
	}
	if _, err := f.sessionRepo.FindActive(ctx, "u1", security.HashRefreshToken("refresh-1"), f.clock.Now()); err != nil {
		t.Fatalf("durable row must survive an aborted delete: %v", err)
	}
}

func TestSessionLedgerDeleteAllUserSessions(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	for _, tok := range []string{"a", "b", "c"} {
		if _, err := f.ledger.CreateSession(ctx, "u1", "t1", tok, domain.SessionMetadata{}); err != nil {
			t.Fatalf("create %s: %v", tok, err)
		}
	}
	if _, err := f.ledger.CreateSession(ctx, "u2", "t1", "other", domain.SessionMetadata{}); err != nil {
		t.Fatalf("create other: %v", err)
	}

	n, err := f.ledger.DeleteAllUserSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	if f.cache.deletes != 3 {
		t.Fatalf("expected one cache delete per row, got %d", f.cache.deletes)
	}
	for _, tok := range []string{"a", "b", "c"} {
		if ok, _ := f.ledger.SessionExists(ctx, "u1", tok); ok {
			t.Fatalf("session %s should be revoked", tok)
		}
	}
	if ok, _ := f.ledger.SessionExists(ctx, "u2", "other"); !ok {
		t.Fatal("other user's session must survive")
	}
	if got := f.ledger.GetActiveSessionCount(ctx, "u1"); got != 0 {
		t.Fatalf("expected 0 active sessions, got %d", got)
	}
}

func TestSessionLedgerDeleteAllFailsOnCacheError(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.CreateSession(ctx, "u1", "t1", "a", domain.SessionMetadata{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.cache.delErr = errStoreDown
	if _, err := f.ledger.DeleteAllUserSessions(ctx, "u1"); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected failure, got %v", err)
	}
}

func TestSessionLedgerCountAndCleanup(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	short := NewSessionLedger(f.cache, f.sessionRepo, SessionLedgerConfig{SessionTTL: time.Hour, Now: f.clock.Now}, discardLogger())

	if _, err := short.CreateSession(ctx, "u1", "t1", "short", domain.SessionMetadata{}); err != nil {
		t.Fatalf("create short: %v", err)
	}
	if _, err := f.ledger.CreateSession(ctx, "u1", "t1", "long", domain.SessionMetadata{}); err != nil {
		t.Fatalf("create long: %v", err)
	}
	if got := f.ledger.GetActiveSessionCount(ctx, "u1"); got != 2 {
		t.Fatalf("expected 2 active, got %d", got)
	}

	f.clock.Advance(2 * time.Hour)
	if got := f.ledger.GetActiveSessionCount(ctx, "u1"); got != 1 {
		t.Fatalf("expected 1 active after expiry, got %d", got)
	}
	if removed := f.ledger.CleanupExpiredSessions(ctx); removed != 1 {
		t.Fatalf("expected 1 row cleaned, got %d", removed)
	}

	f.sessionRepo.countErr = errStoreDown
	if got := f.ledger.GetActiveSessionCount(ctx, "u1"); got != 0 {
		t.Fatalf("count must read 0 on error, got %d", got)
	}
}

func TestSessionLedgerListMarksCurrent(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	for _, tok := range []string{"a", "b"} {
		if _, err := f.ledger.CreateSession(ctx, "u1", "t1", tok, domain.SessionMetadata{UserAgent: "curl/8.0"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	views, err := f.ledger.ListActiveSessions(ctx, "u1", "b")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}
	current := 0
	for _, v := range views {
		if v.IsCurrent {
			current++
		}
		if v.DeviceType != security.DeviceBot {
			t.Fatalf("expected bot device for curl, got %q", v.DeviceType)
		}
	}
	if current != 1 {
		t.Fatalf("expected exactly one current session, got %d", current)
	}
}

func TestSessionLedgerWithRedisCache(t *testing.T) {
	server, client := newRedisClientForTest(t)
	clock := newFakeClock()
	repo := repository.NewSessionRepository(newTestDB(t))
	ledger := NewSessionLedger(NewRedisSessionCache(client, "session"), repo, SessionLedgerConfig{Now: clock.Now}, discardLogger())
	ctx := context.Background()

	if _, err := ledger.CreateSession(ctx, "u1", "t1", "refresh-1", domain.SessionMetadata{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	key := "session:u1:" + security.HashRefreshToken("refresh-1")
	if ttl := server.TTL(key); ttl != DefaultSessionTTL {
		t.Fatalf("expected 7d ttl, got %s", ttl)
	}

	server.Del(key)
	if ok, err := ledger.SessionExists(ctx, "u1", "refresh-1"); err != nil || !ok {
		t.Fatalf("expected durable fallback, ok=%v err=%v", ok, err)
	}
	if !server.Exists(key) {
		t.Fatal("expected redis refill")
	}

	server.Close()
	if ok, err := ledger.SessionExists(ctx, "u1", "refresh-1"); err != nil || !ok {
		t.Fatalf("redis outage must degrade to durable lookup, ok=%v err=%v", ok, err)
	}
}
