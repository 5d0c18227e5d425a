package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"sgid/api/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rs, err := NewRedisStore(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	return rs, s
}

func TestNewRedisStore(t *testing.T) {
	rs, _ := setupTestRedis(t)
	if err := rs.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	if _, err := NewRedisStore(context.Background(), "not a url"); err == nil {
		t.Error("expected error for invalid url")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-1", "user-123", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	user, err := rs.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "user-123" {
		t.Errorf("expected user-123, got %s", user.ID)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "expiring", "user-456", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, err := rs.LookupRefreshSession(ctx, "expiring"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired token, got %v", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "to-revoke", "user-789", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := rs.RevokeRefreshSession(ctx, "to-revoke"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, "to-revoke"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected revoked token to be gone, got %v", err)
	}
	if err := rs.RevokeRefreshSession(ctx, "to-revoke"); err != nil {
		t.Errorf("second revoke should be a no-op, got %v", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	for _, hash := range []string{"a", "b"} {
		if err := rs.SaveRefreshSession(ctx, hash, "user-1", expiresAt); err != nil {
			t.Fatalf("SaveRefreshSession(%s) failed: %v", hash, err)
		}
	}
	if err := rs.SaveRefreshSession(ctx, "c", "user-2", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession(c) failed: %v", err)
	}

	removed, err := rs.RevokeAllForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("RevokeAllForUser failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if _, err := rs.LookupRefreshSession(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("session a survived: %v", err)
	}
	if user, err := rs.LookupRefreshSession(ctx, "c"); err != nil || user.ID != "user-2" {
		t.Errorf("other user's session affected: %+v, %v", user, err)
	}
}

func TestAccessTokenDenylist(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.RevokeAccessToken(ctx, "jti-1", time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}
	revoked, err := rs.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("IsAccessTokenRevoked = %v, %v; want true", revoked, err)
	}
	if revoked, _ := rs.IsAccessTokenRevoked(ctx, "jti-2"); revoked {
		t.Fatal("unknown jti reported revoked")
	}

	s.FastForward(11 * time.Minute)
	if revoked, _ := rs.IsAccessTokenRevoked(ctx, "jti-1"); revoked {
		t.Fatal("denylist entry outlived the token")
	}

	if err := rs.RevokeAccessToken(ctx, "jti-old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken(expired) failed: %v", err)
	}
	if revoked, _ := rs.IsAccessTokenRevoked(ctx, "jti-old"); revoked {
		t.Fatal("already-expired token should not be stored")
	}
}
