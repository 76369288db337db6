package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const usageWindow = 24 * time.Hour

// RedisLimiter enforces a rolling daily token quota per user.
type RedisLimiter struct {
	client *redis.Client
	limit  int // Max tokens allowed per window; 0 disables the check
}

func NewRedisLimiter(client *redis.Client, limit int) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
	}
}

func usageKey(userID string) string {
	return "usage:" + userID
}

func (r *RedisLimiter) CheckLimit(ctx context.Context, userID string) (bool, error) {
	if r.limit <= 0 || userID == "" {
		return true, nil
	}
	val, err := r.client.Get(ctx, usageKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil // No usage yet
	}
	if err != nil {
		return false, fmt.Errorf("failed to read usage for %s: %w", userID, err)
	}
	usage, err := strconv.Atoi(val)
	if err != nil {
		return false, fmt.Errorf("corrupt usage counter for %s: %w", userID, err)
	}
	return usage < r.limit, nil
}

// Increment adds tokens to the user's counter; the window starts at the first increment.
func (r *RedisLimiter) Increment(ctx context.Context, userID string, tokens int) error {
	if userID == "" || tokens <= 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.IncrBy(ctx, usageKey(userID), int64(tokens))
	pipe.ExpireNX(ctx, usageKey(userID), usageWindow)
	_, err := pipe.Exec(ctx)
	return err
}
