package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a test Redis client.
// Integration tests in tests/integration use testcontainers-go instead.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedisStore_NilClient(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for nil redis client")
		}
	}()
	NewRedisStore(nil, time.Minute)
}

func TestRedisStore_Key(t *testing.T) {
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: "localhost:6379"}), time.Minute)

	if got := store.Key("SBODEMO"); got != "sl:session:SBODEMO" {
		t.Errorf("Key() = %q, want %q", got, "sl:session:SBODEMO")
	}
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, 10*time.Minute)
	ctx := context.Background()

	if _, err := store.Get(ctx, "SBODEMO"); !errors.Is(err, ErrNoToken) {
		t.Fatalf("Get() on empty store error = %v, want ErrNoToken", err)
	}

	token := Token{Value: "abc", IssuedAt: time.Now().Truncate(time.Second)}
	if err := store.Set(ctx, "SBODEMO", token); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, "SBODEMO")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Value != token.Value || !got.IssuedAt.Equal(token.IssuedAt) {
		t.Errorf("Get() = %+v, want %+v", got, token)
	}

	ttl := client.TTL(ctx, store.Key("SBODEMO")).Val()
	if ttl <= 0 || ttl > 10*time.Minute {
		t.Errorf("Redis TTL = %v, want (0, 10m]", ttl)
	}

	if err := store.Delete(ctx, "SBODEMO"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "SBODEMO"); !errors.Is(err, ErrNoToken) {
		t.Errorf("Get() after Delete error = %v, want ErrNoToken", err)
	}
}

func TestRedisStore_SkipsExpiredToken(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, time.Minute)
	ctx := context.Background()

	stale := Token{Value: "old", IssuedAt: time.Now().Add(-2 * time.Minute)}
	if err := store.Set(ctx, "SBODEMO", stale); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := store.Get(ctx, "SBODEMO"); !errors.Is(err, ErrNoToken) {
		t.Errorf("Expired token should not be stored, Get() error = %v", err)
	}
}

func TestRedisStore_InvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, time.Minute)
	ctx := context.Background()

	client.Set(ctx, store.Key("SBODEMO"), "not json", time.Minute)

	if _, err := store.Get(ctx, "SBODEMO"); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Get() error = %v, want ErrInvalidEntry", err)
	}
}
