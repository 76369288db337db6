package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultSessionTTL = 24 * time.Hour

// RedisSessionStore shares per-session provider history across router replicas.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(session string) string {
	return "session:" + session + ":last_provider"
}

func (s *RedisSessionStore) LastProvider(ctx context.Context, session string) (string, error) {
	val, err := s.client.Get(ctx, sessionKey(session)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (s *RedisSessionStore) SetLastProvider(ctx context.Context, session, provider string) error {
	return s.client.Set(ctx, sessionKey(session), provider, s.ttl).Err()
}
