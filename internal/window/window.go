// Package window keeps the recent-message context the automated
// detector reasons over: a fixed-size ring buffer of the last messages
// seen in each group channel.
package window

import (
	"fmt"
	"strings"
	"sync"

	"github.com/vigil/modbot/internal/protocol"
)

// DefaultCapacity is the number of recent messages retained per channel.
const DefaultCapacity = 30

// Window stores the last N messages per channel in memory.
// It is goroutine-safe and uses a ring buffer internally.
type Window struct {
	mu       sync.RWMutex
	capacity int
	buffers  map[string]*ringBuffer // channelID -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of message refs.
type ringBuffer struct {
	items []protocol.MessageRef
	pos   int
	count int
}

// New creates an empty Window. A capacity of zero or less falls back to
// DefaultCapacity.
func New(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity: capacity,
		buffers:  make(map[string]*ringBuffer),
	}
}

// Add appends a message to the channel's ring buffer. If the buffer is
// full, the oldest message is overwritten.
func (w *Window) Add(channelID string, msg protocol.MessageRef) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rb, ok := w.buffers[channelID]
	if !ok {
		rb = &ringBuffer{
			items: make([]protocol.MessageRef, w.capacity),
		}
		w.buffers[channelID] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % w.capacity
	if rb.count < w.capacity {
		rb.count++
	}
}

// Messages returns the buffered messages for a channel in chronological
// order (oldest first). Returns an empty slice if the channel has no
// buffer.
func (w *Window) Messages(channelID string) []protocol.MessageRef {
	w.mu.RLock()
	defer w.mu.RUnlock()

	rb, ok := w.buffers[channelID]
	if !ok {
		return []protocol.MessageRef{}
	}

	result := make([]protocol.MessageRef, rb.count)
	// The oldest message is at position (pos - count) mod capacity.
	start := (rb.pos - rb.count + w.capacity) % w.capacity
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%w.capacity]
	}
	return result
}

// Newest returns the most recently added message for a channel. The
// second return is false if the channel has no messages.
func (w *Window) Newest(channelID string) (protocol.MessageRef, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	rb, ok := w.buffers[channelID]
	if !ok || rb.count == 0 {
		return protocol.MessageRef{}, false
	}
	last := (rb.pos - 1 + w.capacity) % w.capacity
	return rb.items[last], true
}

// Transcript flattens a channel's buffered messages into one block of
// "User #<id>: <text>" lines for the classifier prompt, oldest first.
func (w *Window) Transcript(channelID string) string {
	msgs := w.Messages(channelID)
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "User #%s: %s\n", m.Author.ID, m.Content)
	}
	return b.String()
}

// Remove drops one message from a channel's buffer, compacting the
// remaining entries. Called when moderation deletes a message, so the
// detector never classifies removed content.
func (w *Window) Remove(channelID, messageID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rb, ok := w.buffers[channelID]
	if !ok {
		return
	}

	kept := make([]protocol.MessageRef, 0, rb.count)
	start := (rb.pos - rb.count + w.capacity) % w.capacity
	for i := 0; i < rb.count; i++ {
		m := rb.items[(start+i)%w.capacity]
		if m.MessageID == messageID {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) == rb.count {
		return
	}

	rb.items = make([]protocol.MessageRef, w.capacity)
	copy(rb.items, kept)
	rb.pos = len(kept) % w.capacity
	rb.count = len(kept)
}
