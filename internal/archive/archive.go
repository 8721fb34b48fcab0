// Package archive keeps a short-lived Redis copy of recent group-chat
// messages so that message links pasted into a report can be resolved
// after the message scrolled out of the in-memory window.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vigil/modbot/internal/protocol"
	"github.com/vigil/modbot/internal/report"
)

const (
	// KeyPrefix namespaces archived messages in Redis.
	KeyPrefix = "msg:"

	// MessageTTL bounds how far back a message link can reach.
	MessageTTL = 24 * time.Hour
)

// Store manages the recent-message archive in Redis. It implements
// report.MessageResolver for the reporting flow.
type Store struct {
	rdb *redis.Client
}

// NewStore creates an archive backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func key(guildID, channelID, messageID string) string {
	return KeyPrefix + guildID + ":" + channelID + ":" + messageID
}

// Save records one message under its link triple with the archive TTL.
func (s *Store) Save(ctx context.Context, ref protocol.MessageRef) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("archive: marshal message: %w", err)
	}

	err = s.rdb.Set(ctx, key(ref.GuildID, ref.ChannelID, ref.MessageID), data, MessageTTL).Err()
	if err != nil {
		return fmt.Errorf("archive: save message %s: %w", ref.MessageID, err)
	}
	return nil
}

// Resolve looks up an archived message by its link triple. A missing
// entry yields report.ErrMessageNotFound so the reporting flow can
// reprompt instead of failing.
func (s *Store) Resolve(ctx context.Context, guildID, channelID, messageID string) (protocol.MessageRef, error) {
	data, err := s.rdb.Get(ctx, key(guildID, channelID, messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return protocol.MessageRef{}, report.ErrMessageNotFound
	}
	if err != nil {
		return protocol.MessageRef{}, fmt.Errorf("archive: resolve message %s: %w", messageID, err)
	}

	var ref protocol.MessageRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return protocol.MessageRef{}, fmt.Errorf("archive: unmarshal message %s: %w", messageID, err)
	}
	return ref, nil
}

// Remove deletes an archived message, used when moderation removes the
// content from the platform.
func (s *Store) Remove(ctx context.Context, ref protocol.MessageRef) error {
	return s.rdb.Del(ctx, key(ref.GuildID, ref.ChannelID, ref.MessageID)).Err()
}
