// Package offense tracks confirmed violations per user. The counter is
// incremented exactly once per completed, non-canceled report at the
// moment the report enters the moderation queue, and read (never
// written) by moderation sessions for prior-offense context.
package offense

import (
	"context"
	"sync"
)

// Counter is the offense-counting port.
type Counter interface {
	Increment(ctx context.Context, userID string) error
	Count(ctx context.Context, userID string) (int, error)
}

// Memory is the in-process Counter used in tests and single-node
// deployments.
type Memory struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemory creates an empty in-memory counter.
func NewMemory() *Memory {
	return &Memory{counts: make(map[string]int)}
}

// Increment adds one offense for the user.
func (m *Memory) Increment(ctx context.Context, userID string) error {
	m.mu.Lock()
	m.counts[userID]++
	m.mu.Unlock()
	return nil
}

// Count returns the user's offense count, zero if never reported.
func (m *Memory) Count(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[userID], nil
}
