package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "session:"

// RedisStore keeps contexts as JSON values with a Redis expiry
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store on an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient parses a redis:// URL into a client
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Get loads and decodes the context stored for token
func (s *RedisStore) Get(ctx context.Context, token string) (*Context, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sc Context
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sc, nil
}

// Save encodes sc and writes it with ttl, zero ttl means no expiry
func (s *RedisStore) Save(ctx context.Context, sc *Context, ttl time.Duration) error {
	if sc == nil || sc.Token == "" {
		return errors.New("session context has no token")
	}

	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, redisKeyPrefix+sc.Token, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Refresh rewrites the value with SET XX so a deleted key stays deleted
func (s *RedisStore) Refresh(ctx context.Context, sc *Context, ttl time.Duration) error {
	if sc == nil || sc.Token == "" {
		return errors.New("session context has no token")
	}

	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	ok, err := s.client.SetXX(ctx, redisKeyPrefix+sc.Token, raw, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Delete removes the key for token
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
