// Package ban provides user ban management backed by Redis. Ban records
// are stored as simple key-value pairs with TTL-based expiry:
//
//	Key:   ban:<user_id>
//	Value: <reason>
//	TTL:   ban duration (no TTL = permanent)
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for ban records.
	KeyPrefix = "ban:"

	// Escalating temporary-ban durations by prior-offense count.
	Ban15Min  = 15 * time.Minute // 1st offense
	Ban1Hour  = 1 * time.Hour    // 2nd offense
	Ban24Hour = 24 * time.Hour   // 3rd+ offense
)

// Store manages ban records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new ban store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsBanned checks if a user is currently banned.
// Returns (isBanned, remaining, reason, error). A zero remaining
// duration on a banned user means the ban is permanent. Redis errors
// are returned so callers can decide how to handle them (the
// recommended policy is fail-open).
func (s *Store) IsBanned(ctx context.Context, userID string) (bool, time.Duration, string, error) {
	key := KeyPrefix + userID

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The ban exists but the TTL is unreadable. Report banned with 0
		// remaining rather than swallowing the ban.
		return true, 0, reason, nil
	}

	var remaining time.Duration
	if ttl > 0 {
		remaining = ttl
	}

	return true, remaining, reason, nil
}

// TemporaryBan bans a user for a duration that escalates with their
// offense count:
//
//	1st offense  -> 15 minutes
//	2nd offense  -> 1 hour
//	3rd+ offense -> 24 hours
//
// Returns the applied duration.
func (s *Store) TemporaryBan(ctx context.Context, userID string, offenseCount int, reason string) (time.Duration, error) {
	duration := EscalationDuration(offenseCount)
	if err := s.client.Set(ctx, KeyPrefix+userID, reason, duration).Err(); err != nil {
		return 0, fmt.Errorf("ban: temporary ban: %w", err)
	}
	return duration, nil
}

// PermanentBan bans a user with no expiry.
func (s *Store) PermanentBan(ctx context.Context, userID, reason string) error {
	if err := s.client.Set(ctx, KeyPrefix+userID, reason, 0).Err(); err != nil {
		return fmt.Errorf("ban: permanent ban: %w", err)
	}
	return nil
}

// Unban removes a ban from a user immediately.
func (s *Store) Unban(ctx context.Context, userID string) error {
	return s.client.Del(ctx, KeyPrefix+userID).Err()
}

// EscalationDuration returns the temporary-ban duration for a given
// offense count.
func EscalationDuration(offenseCount int) time.Duration {
	switch {
	case offenseCount <= 1:
		return Ban15Min
	case offenseCount == 2:
		return Ban1Hour
	default:
		return Ban24Hour
	}
}
