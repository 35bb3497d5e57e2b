// Package relay validates and forwards chat messages, typing signals, and
// WebRTC signaling payloads between the two members of a room.
//
// All three message kinds share one referential contract: the payload must
// name a syntactically valid room id and the room must exist with the sender
// as a member. Events failing that contract are dropped with a local log
// line and no client-visible error — they indicate stale client state, not
// a recoverable user action.
package relay

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"unicode/utf8"

	"github.com/driftpair/chat-server/internal/metrics"
	"github.com/driftpair/chat-server/internal/protocol"
	"github.com/driftpair/chat-server/internal/room"
)

// Message bounds.
const (
	MaxMessageChars  = 2000
	MaxUsernameChars = 30
	MaxRoomIDChars   = 100
)

// AnonymousName is the display label used when no name can be resolved for
// a sender.
const AnonymousName = "Stranger"

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9#_-]+$`)

// Validation errors. These are reported to the sender via an error event;
// the partner sees nothing.
var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = fmt.Errorf("message exceeds %d character limit", MaxMessageChars)
	ErrInvalidUTF8    = errors.New("message contains invalid UTF-8")
	ErrUsernameLength = fmt.Errorf("username exceeds %d character limit", MaxUsernameChars)
)

// Sender delivers an encoded server message to a single connection.
type Sender interface {
	Send(connID string, data []byte) error
}

// Relay forwards room traffic between members.
type Relay struct {
	rooms   *room.Manager
	send    Sender
	nameFor func(connID string) string // resolved display name, "" if unknown
}

// New creates a Relay. nameFor resolves a connection's display name from
// enriched profile data; it may be nil.
func New(rooms *room.Manager, send Sender, nameFor func(connID string) string) *Relay {
	return &Relay{rooms: rooms, send: send, nameFor: nameFor}
}

// ValidRoomID reports whether id is syntactically a room id.
func ValidRoomID(id string) bool {
	return id != "" && len(id) <= MaxRoomIDChars && roomIDPattern.MatchString(id)
}

// ValidateMessage checks chat message content bounds: 1..2000 characters of
// valid UTF-8.
func ValidateMessage(text string) error {
	if len(text) == 0 {
		return ErrEmptyMessage
	}
	if !utf8.ValidString(text) {
		return ErrInvalidUTF8
	}
	if utf8.RuneCountInString(text) > MaxMessageChars {
		return ErrMessageTooLong
	}
	return nil
}

// RelayMessage validates and forwards a chat message to the sender's room
// partner. A non-nil return is a validation error to surface to the sender.
// Referential failures (bad or foreign room) return nil after a local log.
func (r *Relay) RelayMessage(senderID string, msg protocol.SendMessageMsg) error {
	if err := ValidateMessage(msg.Message); err != nil {
		return err
	}
	if utf8.RuneCountInString(msg.Username) > MaxUsernameChars {
		return ErrUsernameLength
	}

	target := r.roomMember(senderID, msg.RoomID, "message")
	if target == nil {
		return nil
	}

	name := msg.Username
	if name == "" && r.nameFor != nil {
		name = r.nameFor(senderID)
	}
	if name == "" {
		name = AnonymousName
	}

	data, err := protocol.NewServerMessage(protocol.TypeReceiveMessage, protocol.ReceiveMessageMsg{
		SenderID:       senderID,
		Message:        msg.Message,
		SenderUsername: name,
	})
	if err != nil {
		log.Printf("relay: build receiveMessage for %s: %v", senderID, err)
		return nil
	}
	r.deliver(target.Partner(senderID), data)
	metrics.RelayedTotal.WithLabelValues("message").Inc()
	return nil
}

// RelayTyping forwards a typing notification to the partner. No payload is
// carried and no debouncing is performed; pacing is the client's job.
func (r *Relay) RelayTyping(senderID, roomID string, start bool) {
	target := r.roomMember(senderID, roomID, "typing")
	if target == nil {
		return
	}

	msgType := protocol.TypePartnerTypingStop
	if start {
		msgType = protocol.TypePartnerTypingStart
	}
	data, err := protocol.NewServerMessage(msgType, protocol.PartnerTypingMsg{})
	if err != nil {
		log.Printf("relay: build %s for %s: %v", msgType, senderID, err)
		return
	}
	r.deliver(target.Partner(senderID), data)
	metrics.RelayedTotal.WithLabelValues("typing").Inc()
}

// RelaySignal forwards an opaque WebRTC signaling payload byte-for-byte to
// the partner. The relay validates membership and addressing only, never
// the signaling content.
func (r *Relay) RelaySignal(senderID string, msg protocol.WebRTCSignalMsg) {
	target := r.roomMember(senderID, msg.RoomID, "signal")
	if target == nil {
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeWebRTCSignal, protocol.ServerWebRTCSignalMsg{
		SignalData: msg.SignalData,
	})
	if err != nil {
		log.Printf("relay: build webrtcSignal for %s: %v", senderID, err)
		return
	}
	r.deliver(target.Partner(senderID), data)
	metrics.RelayedTotal.WithLabelValues("signal").Inc()
}

// roomMember resolves the referential contract: syntactically valid room id,
// existing room, sender is a member. Failures log locally and return nil.
func (r *Relay) roomMember(senderID, roomID, kind string) *room.Room {
	if !ValidRoomID(roomID) {
		log.Printf("relay: drop %s from %s: malformed room id %q", kind, senderID, roomID)
		return nil
	}
	rm := r.rooms.Get(roomID)
	if rm == nil {
		log.Printf("relay: drop %s from %s: room %s does not exist", kind, senderID, roomID)
		return nil
	}
	if !rm.HasMember(senderID) {
		log.Printf("relay: drop %s from %s: not a member of room %s", kind, senderID, roomID)
		return nil
	}
	return rm
}

func (r *Relay) deliver(connID string, data []byte) {
	if err := r.send.Send(connID, data); err != nil {
		log.Printf("relay: send to %s: %v", connID, err)
	}
}
