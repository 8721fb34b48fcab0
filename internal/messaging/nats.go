// Package messaging provides a NATS client wrapper for pub/sub
// messaging between the gateway and the moderation core. It handles
// connection lifecycle, subject-based subscriptions, and convenience
// methods for the event and delivery channels.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used between the gateway and the moderation
// core.
const (
	SubjectEventsInbound  = "events.inbound"
	SubjectEventsOutbound = "events.outbound" // + .<session_id>
	SubjectDM             = "dm"              // + .<user_id>
	SubjectChannel        = "channel"         // + .<channel_name>
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "vigil",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishEvent publishes an inbound chat event from the gateway to the
// moderation core.
func (c *NATSClient) PublishEvent(data []byte) error {
	return c.Publish(SubjectEventsInbound, data)
}

// SubscribeEvents subscribes to inbound chat events from all gateways.
func (c *NATSClient) SubscribeEvents(handler func(data []byte)) error {
	return c.Subscribe(SubjectEventsInbound, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishDelivery publishes render instructions addressed to one
// gateway session.
func (c *NATSClient) PublishDelivery(sessionID string, data []byte) error {
	return c.Publish(SubjectEventsOutbound+"."+sessionID, data)
}

// SubscribeDeliveries subscribes to render instructions for a session.
func (c *NATSClient) SubscribeDeliveries(sessionID string, handler func(data []byte)) error {
	subject := SubjectEventsOutbound + "." + sessionID
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeDeliveries removes a session's delivery subscription.
func (c *NATSClient) UnsubscribeDeliveries(sessionID string) error {
	return c.unsubscribe(SubjectEventsOutbound + "." + sessionID)
}

// PublishDM publishes a direct-message notification for a user. Every
// gateway holding a connection for that user relays it.
func (c *NATSClient) PublishDM(userID string, data []byte) error {
	return c.Publish(SubjectDM+"."+userID, data)
}

// SubscribeDM subscribes to direct-message notifications for a user.
func (c *NATSClient) SubscribeDM(userID string, handler func(data []byte)) error {
	subject := SubjectDM + "." + userID
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeDM removes a user's direct-message subscription.
func (c *NATSClient) UnsubscribeDM(userID string) error {
	return c.unsubscribe(SubjectDM + "." + userID)
}

// PublishChannel publishes a post to everyone following a channel.
func (c *NATSClient) PublishChannel(channelName string, data []byte) error {
	return c.Publish(SubjectChannel+"."+channelName, data)
}

// SubscribeChannel subscribes one gateway session to a channel's posts.
// The subscription is keyed by both subject and session so multiple
// local sessions can follow the same channel independently.
func (c *NATSClient) SubscribeChannel(channelName, sessionID string, handler func(data []byte)) error {
	subject := SubjectChannel + "." + channelName
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject+"|"+sessionID] = sub
	c.mu.Unlock()

	return nil
}

// UnsubscribeChannel removes one session's channel subscription.
func (c *NATSClient) UnsubscribeChannel(channelName, sessionID string) error {
	return c.unsubscribe(SubjectChannel + "." + channelName + "|" + sessionID)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
