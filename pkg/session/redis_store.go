package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidEntry indicates a stored token could not be decoded.
var ErrInvalidEntry = errors.New("invalid token entry")

// DefaultKeyPrefix namespaces token keys in Redis.
const DefaultKeyPrefix = "sl:session"

// RedisStore shares tokens between processes through Redis.
// Entries expire in Redis after the configured TTL, so a stale
// token is never handed to a second process.
type RedisStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed token store.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: DefaultKeyPrefix,
		ttl:    ttl,
	}
}

// Key returns the Redis key for tenant.
// Format: sl:session:<tenant>
func (s *RedisStore) Key(tenant string) string {
	return s.prefix + ":" + tenant
}

// Get retrieves the token for tenant.
// Returns ErrNoToken if the key doesn't exist.
func (s *RedisStore) Get(ctx context.Context, tenant string) (Token, error) {
	data, err := s.redis.Get(ctx, s.Key(tenant)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Token{}, ErrNoToken
		}
		StoreErrors.WithLabelValues("get").Inc()
		return Token{}, fmt.Errorf("redis get: %w", err)
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		StoreErrors.WithLabelValues("get").Inc()
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	return token, nil
}

// Set stores the token with an expiry derived from IssuedAt and the TTL.
func (s *RedisStore) Set(ctx context.Context, tenant string, token Token) error {
	ttl := token.Remaining(time.Now(), s.ttl)
	if ttl <= 0 {
		// Already expired, don't store
		return nil
	}

	data, err := json.Marshal(token)
	if err != nil {
		StoreErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal token: %w", err)
	}

	if err := s.redis.Set(ctx, s.Key(tenant), data, ttl).Err(); err != nil {
		StoreErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes the token for tenant.
func (s *RedisStore) Delete(ctx context.Context, tenant string) error {
	if err := s.redis.Del(ctx, s.Key(tenant)).Err(); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
