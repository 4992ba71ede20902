package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired-and-reacquired lock is never released by the old holder.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisManager is a Redis-backed Manager for multi-instance deployments.
type RedisManager struct {
	client *redis.Client
	prefix string
}

// NewRedisManager creates a manager over an existing client.
func NewRedisManager(client *redis.Client, prefix string) *RedisManager {
	if prefix == "" {
		prefix = "settlement:lock:"
	}
	return &RedisManager{client: client, prefix: prefix}
}

// Acquire implements Manager using SET NX with a per-acquisition token.
func (m *RedisManager) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	token := uuid.NewString()
	full := m.prefix + key

	ok, err := m.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func(ctx context.Context) error {
		if err := m.client.Eval(ctx, releaseScript, []string{full}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		return nil
	}, nil
}
