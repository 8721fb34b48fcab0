package offense

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for offense counters.
	KeyPrefix = "offenses:"

	// CounterTTL bounds how long an offense counter lives without new
	// activity. The window does not slide: the TTL is set on first
	// increment only.
	CounterTTL = 24 * time.Hour
)

// Redis is the Counter shared across processes in multi-node
// deployments.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed counter using the provided client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Increment atomically adds one offense for the user.
func (r *Redis) Increment(ctx context.Context, userID string) error {
	key := KeyPrefix + userID

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("offense: incr: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, key, CounterTTL).Err(); err != nil {
			return fmt.Errorf("offense: expire: %w", err)
		}
	}
	return nil
}

// Count returns the user's offense count, zero if the key does not
// exist (no offenses recorded or counter expired).
func (r *Redis) Count(ctx context.Context, userID string) (int, error) {
	val, err := r.client.Get(ctx, KeyPrefix+userID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("offense: get: %w", err)
	}
	return val, nil
}
