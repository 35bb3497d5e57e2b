// Package protocol defines the WebSocket message types and structures used
// for communication between the client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeFindPartner        = "findPartner"
	TypeSendMessage        = "sendMessage"
	TypeWebRTCSignal       = "webrtcSignal"
	TypeTypingStart        = "typing_start"
	TypeTypingStop         = "typing_stop"
	TypeLeaveChat          = "leaveChat"
	TypeGetOnlineUserCount = "getOnlineUserCount"
	TypePing               = "ping"
)

// Server -> Client message types.
const (
	TypeOnlineUserCountUpdate = "onlineUserCountUpdate"
	TypeOnlineUserCount       = "onlineUserCount"
	TypeWaitingForPartner     = "waitingForPartner"
	TypeFindPartnerCooldown   = "findPartnerCooldown"
	TypePartnerFound          = "partnerFound"
	TypeReceiveMessage        = "receiveMessage"
	TypePartnerTypingStart    = "partner_typing_start"
	TypePartnerTypingStop     = "partner_typing_stop"
	TypePartnerLeft           = "partnerLeft"
	TypeError                 = "error"
	TypePong                  = "pong"
)

// Chat types partition the matching pools.
const (
	ChatTypeText  = "text"
	ChatTypeVideo = "video"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
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

// FindPartnerMsg is sent by the client to request a chat partner, with an
// optional external identity and interest tags that bias matching.
type FindPartnerMsg struct {
	Type      string   `json:"type"`
	ChatType  string   `json:"chatType"`
	Interests []string `json:"interests"`
	AuthID    string   `json:"authId,omitempty"`
}

// SendMessageMsg is a chat message sent by the client within a room.
type SendMessageMsg struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
	Username string `json:"username,omitempty"`
}

// WebRTCSignalMsg carries an opaque WebRTC signaling payload (offer, answer,
// or ICE candidate) to be relayed to the room partner without interpretation.
type WebRTCSignalMsg struct {
	Type       string          `json:"type"`
	RoomID     string          `json:"roomId"`
	SignalData json.RawMessage `json:"signalData"`
}

// TypingMsg is shared by typing_start and typing_stop; both carry only the
// room id.
type TypingMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// LeaveChatMsg is sent by the client to leave its current room.
type LeaveChatMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// GetOnlineUserCountMsg requests the current presence count.
type GetOnlineUserCountMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// OnlineUserCountMsg carries the presence count, either as a broadcast
// (onlineUserCountUpdate) or a direct reply (onlineUserCount).
type OnlineUserCountMsg struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// WaitingForPartnerMsg tells the client it has been queued and should wait.
type WaitingForPartnerMsg struct {
	Type string `json:"type"`
}

// FindPartnerCooldownMsg tells the client its match request was rejected by
// the cooldown window.
type FindPartnerCooldownMsg struct {
	Type string `json:"type"`
}

// PartnerFoundMsg announces a successful pairing to one side of the room.
type PartnerFoundMsg struct {
	Type               string   `json:"type"`
	PartnerID          string   `json:"partnerId"`
	RoomID             string   `json:"roomId"`
	Interests          []string `json:"interests"`
	PartnerUsername    string   `json:"partnerUsername,omitempty"`
	PartnerDisplayName string   `json:"partnerDisplayName,omitempty"`
	PartnerAvatarURL   string   `json:"partnerAvatarUrl,omitempty"`
}

// ReceiveMessageMsg relays a chat message from the room partner.
type ReceiveMessageMsg struct {
	Type           string `json:"type"`
	SenderID       string `json:"senderId"`
	Message        string `json:"message"`
	SenderUsername string `json:"senderUsername"`
}

// ServerWebRTCSignalMsg relays an opaque signaling payload from the partner.
type ServerWebRTCSignalMsg struct {
	Type       string          `json:"type"`
	SignalData json.RawMessage `json:"signalData"`
}

// PartnerTypingMsg is shared by partner_typing_start and partner_typing_stop.
type PartnerTypingMsg struct {
	Type string `json:"type"`
}

// PartnerLeftMsg is sent when the chat partner has disconnected or left.
type PartnerLeftMsg struct {
	Type string `json:"type"`
}

// ErrorMsg is sent by the server to communicate a validation error.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
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
	case TypeFindPartner:
		var m FindPartnerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWebRTCSignal:
		var m WebRTCSignalMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStart, TypeTypingStop:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChat:
		var m LeaveChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetOnlineUserCount:
		var m GetOnlineUserCountMsg
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

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key.
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
