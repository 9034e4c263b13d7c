package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"sentinel/api/internal/scope"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestSaveAndLookup(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	actor := scope.Actor{UserID: 42, IsAdmin: true}
	if err := store.Save(ctx, "hash-1", actor); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Lookup(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != actor {
		t.Errorf("Lookup = %+v, want %+v", got, actor)
	}
}

func TestLookupUnknownToken(t *testing.T) {
	store, _ := setupTestRedis(t)

	if _, err := store.Lookup(context.Background(), "no-such-token"); err != ErrNotFound {
		t.Errorf("Lookup error = %v, want ErrNotFound", err)
	}
}

func TestExpiredSession(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-ttl", scope.Actor{UserID: 7}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	mr.FastForward(2 * time.Hour)

	if _, err := store.Lookup(ctx, "hash-ttl"); err != ErrNotFound {
		t.Errorf("Lookup after expiry = %v, want ErrNotFound", err)
	}
}

func TestRevoke(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-revoke", scope.Actor{UserID: 7}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Revoke(ctx, "hash-revoke"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := store.Lookup(ctx, "hash-revoke"); err != ErrNotFound {
		t.Errorf("Lookup after revoke = %v, want ErrNotFound", err)
	}

	// Revoking again is fine.
	if err := store.Revoke(ctx, "hash-revoke"); err != nil {
		t.Errorf("second Revoke failed: %v", err)
	}
}
