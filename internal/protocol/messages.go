// Package protocol defines the message types exchanged between chat
// clients, the gateway, and the moderation core. Client frames are JSON
// with a type discriminator; cross-service events ride NATS subjects as
// JSON payloads of the Event and Delivery types.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> Server message types.
const (
	TypeText   = "text"
	TypeSelect = "select"
	TypePing   = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated = "session_created"
	TypePrompt         = "prompt"
	TypeError          = "error"
	TypePong           = "pong"
)

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// TextMsg is a plain chat line from the client. A message sent without a
// channel is a direct message to the moderation bot (the reporting flow);
// a message with a channel name is group-channel traffic.
type TextMsg struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	ChannelName string `json:"channel_name,omitempty"`
	GuildID     string `json:"guild_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// SelectMsg is the client's answer to an interactive select menu. The
// menu ID echoes the Menu.ID of the prompt being answered. Like TextMsg,
// an empty channel name means the menu was answered in the direct
// conversation with the bot.
type SelectMsg struct {
	Type        string   `json:"type"`
	MenuID      string   `json:"menu_id"`
	Values      []string `json:"values"`
	ChannelName string   `json:"channel_name,omitempty"`
	GuildID     string   `json:"guild_id,omitempty"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the gateway when a new session is
// established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// PromptMsg carries one outbound render instruction: a text block and an
// optional select menu the client must render interactively.
type PromptMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Menu *Menu  `json:"menu,omitempty"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Cross-service types
// ---------------------------------------------------------------------------

// User identifies a chat platform account.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessageRef references one message on the platform, with enough context
// for a moderator to review it.
type MessageRef struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Author    User   `json:"author"`
	Content   string `json:"content"`
}

// MenuSelection is the selection-callback variant of an inbound event:
// the user answered an interactive menu rather than typing free text.
type MenuSelection struct {
	MenuID string   `json:"menu_id"`
	Values []string `json:"values"`
}

// Event is one inbound message event delivered to the session router.
// Exactly one of Text or Menu carries the user's input. SessionID names
// the gateway session the event arrived on, so replies can be routed
// back.
type Event struct {
	SessionID   string         `json:"session_id"`
	Author      User           `json:"author"`
	Text        string         `json:"text"`
	DM          bool           `json:"dm"`
	GuildID     string         `json:"guild_id,omitempty"`
	ChannelName string         `json:"channel_name,omitempty"`
	ChannelID   string         `json:"channel_id,omitempty"`
	MessageID   string         `json:"message_id,omitempty"`
	Menu        *MenuSelection `json:"menu,omitempty"`
}

// MenuOption is one selectable entry in a menu.
type MenuOption struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// Menu describes a single- or multi-select menu the transport renders as
// interactive UI. The answer comes back as a SelectMsg / MenuSelection
// carrying the same ID.
type Menu struct {
	ID          string       `json:"id"`
	Placeholder string       `json:"placeholder"`
	MinValues   int          `json:"min_values"`
	MaxValues   int          `json:"max_values"`
	Options     []MenuOption `json:"options"`
}

// Outbound is one render instruction produced by a session: a text block
// with an optional menu.
type Outbound struct {
	Text string `json:"text"`
	Menu *Menu  `json:"menu,omitempty"`
}

// Delivery addresses a batch of render instructions to one gateway
// session, published on events.outbound.<session_id>.
type Delivery struct {
	SessionID string     `json:"session_id"`
	Messages  []Outbound `json:"messages"`
}

// ChannelPost is relayed on channel.<channel_name> to every session
// following that channel. From is empty when the moderation bot posted.
// GuildID and MessageID carry the link triple for user messages so
// clients can copy a reportable message link; both are empty on bot
// posts.
type ChannelPost struct {
	From        string `json:"from"` // sender's gateway session ID
	AuthorName  string `json:"author_name"`
	ChannelName string `json:"channel_name"`
	GuildID     string `json:"guild_id,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	Text        string `json:"text"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client
// message. It returns the message type string, the decoded struct, and
// any error encountered during parsing. An error is returned for unknown
// or server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeText:
		var m TextMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSelect:
		var m SelectMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server
// message. The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
