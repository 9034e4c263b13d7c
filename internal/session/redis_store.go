// Package session persists login sessions: an opaque token maps to the
// acting-user context the scope resolver consumes.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sentinel/api/internal/scope"
)

// ErrNotFound is returned for unknown or expired tokens.
var ErrNotFound = errors.New("session not found or expired")

type sessionData struct {
	UserID    int64     `json:"user_id"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore holds sessions in Redis, keyed by token hash, expiring
// after the configured TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: "session:", ttl: ttl}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// Save stores a session under the token hash.
func (s *RedisStore) Save(ctx context.Context, tokenHash string, a scope.Actor) error {
	data, err := json.Marshal(sessionData{
		UserID:    a.UserID,
		IsAdmin:   a.IsAdmin,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(tokenHash), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Lookup resolves a token hash to its acting-user context and slides
// the expiry forward.
func (s *RedisStore) Lookup(ctx context.Context, tokenHash string) (scope.Actor, error) {
	raw, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return scope.Actor{}, ErrNotFound
	}
	if err != nil {
		return scope.Actor{}, fmt.Errorf("lookup session: %w", err)
	}

	var data sessionData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return scope.Actor{}, fmt.Errorf("unmarshal session: %w", err)
	}
	_ = s.client.Expire(ctx, s.key(tokenHash), s.ttl).Err()
	return scope.Actor{UserID: data.UserID, IsAdmin: data.IsAdmin}, nil
}

// Revoke removes a session; revoking an unknown token is a no-op.
func (s *RedisStore) Revoke(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
