// Package events publishes pairing lifecycle events to NATS for external
// consumers (analytics, operational tooling). Publishing is fire-and-forget
// and strictly off the critical path: a nil *Publisher is valid and every
// method on it is a no-op, so the core never depends on NATS availability.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects.
const (
	SubjectMatchFound = "pairing.match.found"
	SubjectRoomClosed = "pairing.room.closed"
	SubjectPresence   = "pairing.presence.count"
)

// MatchFoundEvent is published when two users are paired into a room.
type MatchFoundEvent struct {
	RoomID   string `json:"room_id"`
	ChatType string `json:"chat_type"`
	Shared   bool   `json:"shared_interests"`
	Ts       int64  `json:"ts"`
}

// RoomClosedEvent is published when a room is destroyed.
type RoomClosedEvent struct {
	RoomID   string `json:"room_id"`
	ChatType string `json:"chat_type"`
	Reason   string `json:"reason"` // "leave" or "disconnect"
	Ts       int64  `json:"ts"`
}

// PresenceEvent is published on every presence count change.
type PresenceEvent struct {
	Count int64 `json:"count"`
	Ts    int64 `json:"ts"`
}

// Config holds NATS connection settings.
type Config struct {
	URL           string // nats://localhost:4222
	Name          string // client name for identification
	ReconnectWait time.Duration
	MaxReconnects int // -1 for infinite
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "driftpair",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Publisher wraps a NATS connection for lifecycle event publishing.
type Publisher struct {
	conn *nats.Conn
}

// Connect establishes a NATS connection and returns a Publisher.
func Connect(config Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("events: nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("events: nats reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}
	log.Printf("events: nats connected to %s", nc.ConnectedUrl())
	return &Publisher{conn: nc}, nil
}

// MatchFound publishes a match event.
func (p *Publisher) MatchFound(roomID, chatType string, shared bool) {
	p.publish(SubjectMatchFound, MatchFoundEvent{
		RoomID:   roomID,
		ChatType: chatType,
		Shared:   shared,
		Ts:       time.Now().UnixMilli(),
	})
}

// RoomClosed publishes a room teardown event.
func (p *Publisher) RoomClosed(roomID, chatType, reason string) {
	p.publish(SubjectRoomClosed, RoomClosedEvent{
		RoomID:   roomID,
		ChatType: chatType,
		Reason:   reason,
		Ts:       time.Now().UnixMilli(),
	})
}

// Presence publishes the new presence count.
func (p *Publisher) Presence(count int64) {
	p.publish(SubjectPresence, PresenceEvent{Count: count, Ts: time.Now().UnixMilli()})
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}

func (p *Publisher) publish(subject string, payload interface{}) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("events: marshal %s: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("events: publish %s: %v", subject, err)
	}
}
