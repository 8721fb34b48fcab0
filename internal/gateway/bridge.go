package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigil/modbot/internal/messaging"
	"github.com/vigil/modbot/internal/moderate"
	"github.com/vigil/modbot/internal/protocol"
	"github.com/vigil/modbot/internal/ratelimit"
	"github.com/vigil/modbot/internal/report"
	"github.com/vigil/modbot/internal/session"
)

// DefaultGuildID is used for channel traffic when the client does not
// supply a guild. Message links require all three segments, so a guild
// ID is always present on archived messages.
const DefaultGuildID = "1"

// idEpoch is 2024-01-01T00:00:00Z in milliseconds. Message IDs are
// milliseconds since this epoch shifted left 10 bits, plus a rolling
// sequence number, so they are numeric, time-ordered, and fit in a
// message link's final segment.
const idEpoch = 1704067200000

var idSeq uint32

func newMessageID() string {
	ms := uint64(time.Now().UnixMilli() - idEpoch)
	seq := uint64(atomic.AddUint32(&idSeq, 1) & 0x3FF)
	return strconv.FormatUint(ms<<10|seq, 10)
}

// Bridge connects the WebSocket edge to the NATS event bus. Inbound
// client messages become protocol.Event payloads on events.inbound;
// deliveries and direct messages addressed to a session are rendered
// back as prompt frames.
type Bridge struct {
	server   *Server
	nats     *messaging.NATSClient
	limiter  *ratelimit.Limiter
	sessions *session.Store

	mu     sync.Mutex
	joined map[string]map[string]bool // session ID -> channel names followed
}

// NewBridge creates a bridge. The limiter may be nil, in which case
// inbound messages are not throttled.
func NewBridge(nats *messaging.NATSClient, limiter *ratelimit.Limiter, sessions *session.Store) *Bridge {
	return &Bridge{
		nats:     nats,
		limiter:  limiter,
		sessions: sessions,
		joined:   make(map[string]map[string]bool),
	}
}

// Attach binds the bridge to a server and its dispatcher: message
// handlers are registered and connection lifecycle hooks installed.
func (b *Bridge) Attach(server *Server, dispatcher *MessageDispatcher) {
	b.server = server
	dispatcher.Register(protocol.TypeText, b.handleText)
	dispatcher.Register(protocol.TypeSelect, b.handleSelect)
	server.SetOnConnect(b.onConnect)
	server.SetOnDisconnect(b.onDisconnect)
	server.SetConnGate(b.allowConnect)
}

// allowConnect applies the per-IP connection rate limit before a
// WebSocket upgrade is accepted.
func (b *Bridge) allowConnect(ip string) bool {
	if b.limiter == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	allowed, _ := b.limiter.Allow(ctx, ip, ratelimit.RuleConnect)
	return allowed
}

// onConnect subscribes the new session to its delivery and
// direct-message subjects so replies from the moderation core reach the
// client.
func (b *Bridge) onConnect(conn *Connection) {
	sessionID := conn.ID

	err := b.nats.SubscribeDeliveries(sessionID, func(data []byte) {
		b.renderDelivery(sessionID, data)
	})
	if err != nil {
		log.Printf("[gateway] subscribe deliveries for %s: %v", sessionID, err)
	}

	// Gateway-originated users are identified by their session ID, so
	// DMs from moderation actions target the same subject space.
	err = b.nats.SubscribeDM(sessionID, func(data []byte) {
		b.renderDM(sessionID, data)
	})
	if err != nil {
		log.Printf("[gateway] subscribe dm for %s: %v", sessionID, err)
	}
}

// onDisconnect tears down the session's NATS subscriptions.
func (b *Bridge) onDisconnect(connID string) {
	if err := b.nats.UnsubscribeDeliveries(connID); err != nil {
		log.Printf("[gateway] unsubscribe deliveries for %s: %v", connID, err)
	}
	if err := b.nats.UnsubscribeDM(connID); err != nil {
		log.Printf("[gateway] unsubscribe dm for %s: %v", connID, err)
	}

	b.mu.Lock()
	channels := b.joined[connID]
	delete(b.joined, connID)
	b.mu.Unlock()

	for ch := range channels {
		if err := b.nats.UnsubscribeChannel(ch, connID); err != nil {
			log.Printf("[gateway] unsubscribe channel %s for %s: %v", ch, connID, err)
		}
	}
}

// joinChannel subscribes a session to a channel's posts the first time
// it speaks there. Sessions follow channels by speaking in them.
func (b *Bridge) joinChannel(sessionID, channelName string) {
	b.mu.Lock()
	if b.joined[sessionID] == nil {
		b.joined[sessionID] = make(map[string]bool)
	}
	if b.joined[sessionID][channelName] {
		b.mu.Unlock()
		return
	}
	b.joined[sessionID][channelName] = true
	b.mu.Unlock()

	err := b.nats.SubscribeChannel(channelName, sessionID, func(data []byte) {
		b.renderChannelPost(sessionID, data)
	})
	if err != nil {
		log.Printf("[gateway] subscribe channel %s for %s: %v", channelName, sessionID, err)
	}
}

// handleText forwards a chat line to the moderation core after rate
// limiting and validation.
func (b *Bridge) handleText(conn *Connection, msg interface{}) {
	textMsg, ok := msg.(protocol.TextMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if !b.allow(ctx, conn) {
		return
	}

	if err := ValidateText(textMsg.Text); err != nil {
		b.sendError(conn, "invalid_message", err.Error())
		return
	}

	name := b.displayName(ctx, conn.ID, textMsg.DisplayName)
	b.trackFlow(ctx, conn.ID, textMsg.ChannelName, textMsg.Text)

	// One ID for both the relayed post and the routed event, so the link
	// rendered to followers resolves against the archived copy.
	messageID := newMessageID()
	guildID := textMsg.GuildID
	if guildID == "" {
		guildID = DefaultGuildID
	}

	if textMsg.ChannelName != "" {
		b.joinChannel(conn.ID, textMsg.ChannelName)

		// Relay the line to everyone else following the channel.
		post, err := json.Marshal(protocol.ChannelPost{
			From:        conn.ID,
			AuthorName:  name,
			ChannelName: textMsg.ChannelName,
			GuildID:     guildID,
			MessageID:   messageID,
			Text:        textMsg.Text,
		})
		if err == nil {
			if err := b.nats.PublishChannel(textMsg.ChannelName, post); err != nil {
				log.Printf("[gateway] publish channel post session=%s: %v", conn.ID, err)
			}
		}
	}

	ev := protocol.Event{
		SessionID:   conn.ID,
		Author:      protocol.User{ID: conn.ID, Name: name},
		Text:        textMsg.Text,
		DM:          textMsg.ChannelName == "",
		GuildID:     guildID,
		ChannelName: textMsg.ChannelName,
		ChannelID:   textMsg.ChannelName,
		MessageID:   messageID,
	}
	b.publish(conn, ev)
}

// flowTransition maps conversation keywords to the session flow stored
// in Redis. Best-effort presence info: flow completion happens in the
// moderation core and is not visible here, so a session returns to idle
// on the cancel keyword or via TTL expiry.
func flowTransition(channelName, text string) (string, bool) {
	dm := channelName == ""
	switch {
	case dm && text == report.StartKeyword:
		return session.FlowReporting, true
	case dm && text == report.CancelKeyword:
		return session.FlowIdle, true
	case strings.HasSuffix(channelName, "-mod") && text == moderate.StartKeyword:
		return session.FlowModerating, true
	}
	return "", false
}

// trackFlow records flow transitions in the session store; every other
// message just extends the session TTL.
func (b *Bridge) trackFlow(ctx context.Context, sessionID, channelName, text string) {
	if flow, ok := flowTransition(channelName, text); ok {
		if err := b.sessions.UpdateFlow(ctx, sessionID, flow); err != nil {
			log.Printf("[gateway] update flow for %s: %v", sessionID, err)
		}
		return
	}
	if err := b.sessions.RefreshTTL(ctx, sessionID); err != nil {
		log.Printf("[gateway] refresh session ttl for %s: %v", sessionID, err)
	}
}

// handleSelect forwards a menu answer to the moderation core.
func (b *Bridge) handleSelect(conn *Connection, msg interface{}) {
	selectMsg, ok := msg.(protocol.SelectMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if !b.allow(ctx, conn) {
		return
	}

	if err := b.sessions.RefreshTTL(ctx, conn.ID); err != nil {
		log.Printf("[gateway] refresh session ttl for %s: %v", conn.ID, err)
	}

	guildID := selectMsg.GuildID
	if guildID == "" && selectMsg.ChannelName != "" {
		guildID = DefaultGuildID
	}

	ev := protocol.Event{
		SessionID:   conn.ID,
		Author:      protocol.User{ID: conn.ID, Name: b.displayName(ctx, conn.ID, "")},
		DM:          selectMsg.ChannelName == "",
		GuildID:     guildID,
		ChannelName: selectMsg.ChannelName,
		ChannelID:   selectMsg.ChannelName,
		MessageID:   newMessageID(),
		Menu: &protocol.MenuSelection{
			MenuID: selectMsg.MenuID,
			Values: selectMsg.Values,
		},
	}
	b.publish(conn, ev)
}

// allow applies the per-session message rate limit. A limiter error
// fails open inside the limiter itself.
func (b *Bridge) allow(ctx context.Context, conn *Connection) bool {
	if b.limiter == nil {
		return true
	}
	allowed, _ := b.limiter.Allow(ctx, conn.ID, ratelimit.RuleMessage)
	if !allowed {
		b.sendError(conn, "rate_limited", "too many messages, slow down")
	}
	return allowed
}

// displayName resolves the name shown for this session. A non-empty
// name supplied by the client is persisted; otherwise the stored one is
// used, falling back to the session ID prefix.
func (b *Bridge) displayName(ctx context.Context, sessionID, supplied string) string {
	if supplied != "" {
		if err := b.sessions.SetDisplayName(ctx, sessionID, supplied); err != nil {
			log.Printf("[gateway] set display name for %s: %v", sessionID, err)
		}
		return supplied
	}

	sess, err := b.sessions.Get(ctx, sessionID)
	if err != nil || sess == nil || sess.DisplayName == "" {
		if len(sessionID) >= 8 {
			return "anon-" + sessionID[:8]
		}
		return "anon-" + sessionID
	}
	return sess.DisplayName
}

// publish marshals an event onto events.inbound.
func (b *Bridge) publish(conn *Connection, ev protocol.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[gateway] marshal event session=%s: %v", conn.ID, err)
		return
	}
	if err := b.nats.PublishEvent(data); err != nil {
		log.Printf("[gateway] publish event session=%s: %v", conn.ID, err)
		b.sendError(conn, "internal_error", "failed to deliver message")
	}
}

// renderDelivery unpacks a protocol.Delivery and writes each outbound
// message as a prompt frame.
func (b *Bridge) renderDelivery(sessionID string, data []byte) {
	var delivery protocol.Delivery
	if err := json.Unmarshal(data, &delivery); err != nil {
		log.Printf("[gateway] unmarshal delivery for %s: %v", sessionID, err)
		return
	}

	for _, out := range delivery.Messages {
		frame, err := protocol.NewServerMessage(protocol.TypePrompt, protocol.PromptMsg{
			Text: out.Text,
			Menu: out.Menu,
		})
		if err != nil {
			log.Printf("[gateway] build prompt for %s: %v", sessionID, err)
			continue
		}
		if err := b.server.SendMessage(sessionID, frame); err != nil {
			log.Printf("[gateway] send prompt to %s: %v", sessionID, err)
			return
		}
	}
}

// channelPostText renders a channel post for display. User messages
// carry their message link so a reader can copy it straight into the
// reporting flow; bot posts have no link triple and render bare.
func channelPostText(post protocol.ChannelPost) string {
	author := post.AuthorName
	if author == "" {
		author = "AutoModerator"
	}
	line := fmt.Sprintf("[%s] %s: %s", post.ChannelName, author, post.Text)
	if post.MessageID != "" {
		line += fmt.Sprintf("\nlink: /channels/%s/%s/%s", post.GuildID, post.ChannelName, post.MessageID)
	}
	return line
}

// renderChannelPost writes a channel post as a prompt frame, skipping
// the sender's own lines.
func (b *Bridge) renderChannelPost(sessionID string, data []byte) {
	var post protocol.ChannelPost
	if err := json.Unmarshal(data, &post); err != nil {
		log.Printf("[gateway] unmarshal channel post for %s: %v", sessionID, err)
		return
	}
	if post.From == sessionID {
		return // don't echo to sender
	}

	frame, err := protocol.NewServerMessage(protocol.TypePrompt, protocol.PromptMsg{
		Text: channelPostText(post),
	})
	if err != nil {
		log.Printf("[gateway] build channel prompt for %s: %v", sessionID, err)
		return
	}
	if err := b.server.SendMessage(sessionID, frame); err != nil {
		log.Printf("[gateway] send channel post to %s: %v", sessionID, err)
	}
}

// renderDM writes a direct-message notification as a prompt frame. DM
// payloads are plain text.
func (b *Bridge) renderDM(sessionID string, data []byte) {
	frame, err := protocol.NewServerMessage(protocol.TypePrompt, protocol.PromptMsg{
		Text: string(data),
	})
	if err != nil {
		log.Printf("[gateway] build dm prompt for %s: %v", sessionID, err)
		return
	}
	if err := b.server.SendMessage(sessionID, frame); err != nil {
		log.Printf("[gateway] send dm to %s: %v", sessionID, err)
	}
}

// sendError writes a structured error frame to the client.
func (b *Bridge) sendError(conn *Connection, code, message string) {
	frame, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("[gateway] build error frame session=%s: %v", conn.ID, err)
		return
	}
	if err := conn.WriteMessage(frame); err != nil {
		log.Printf("[gateway] send error frame session=%s: %v", conn.ID, err)
	}
}
