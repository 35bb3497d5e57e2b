// Package room manages the ephemeral two-party session rooms created by a
// successful match. A room always has exactly two distinct members; a
// connection belongs to at most one room at a time.
package room

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Creation errors.
var (
	ErrMissingMember   = errors.New("room: member id is empty")
	ErrDuplicateMember = errors.New("room: members must be distinct")
	ErrAlreadyInRoom   = errors.New("room: member already belongs to a room")
)

// Room is one live two-party session.
type Room struct {
	ID        string
	MemberA   string
	MemberB   string
	ChatType  string
	CreatedAt time.Time
}

// Partner returns the other member's connection id, or "" if connID is not a
// member of the room.
func (r *Room) Partner(connID string) string {
	switch connID {
	case r.MemberA:
		return r.MemberB
	case r.MemberB:
		return r.MemberA
	}
	return ""
}

// HasMember reports whether connID belongs to the room.
func (r *Room) HasMember(connID string) bool {
	return connID == r.MemberA || connID == r.MemberB
}

// Manager tracks all live rooms and the connection -> room index.
type Manager struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	byConn map[string]string // connID -> roomID
}

// NewManager creates an empty room manager.
func NewManager() *Manager {
	return &Manager{
		rooms:  make(map[string]*Room),
		byConn: make(map[string]string),
	}
}

// Create registers a new room for the two members and returns its id. The
// id combines the initiator's connection id with the current unix-milli
// timestamp, which is unique without a central counter. Create fails if a
// member id is missing or duplicated, or if either member already belongs
// to a room.
func (m *Manager) Create(initiator, partner, chatType string) (string, error) {
	if initiator == "" || partner == "" {
		return "", ErrMissingMember
	}
	if initiator == partner {
		return "", ErrDuplicateMember
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byConn[initiator]; ok {
		return "", fmt.Errorf("%w: %s in %s", ErrAlreadyInRoom, initiator, id)
	}
	if id, ok := m.byConn[partner]; ok {
		return "", fmt.Errorf("%w: %s in %s", ErrAlreadyInRoom, partner, id)
	}

	r := &Room{
		ID:        initiator + "#" + strconv.FormatInt(time.Now().UnixMilli(), 10),
		MemberA:   initiator,
		MemberB:   partner,
		ChatType:  chatType,
		CreatedAt: time.Now(),
	}

	m.rooms[r.ID] = r
	m.byConn[initiator] = r.ID
	m.byConn[partner] = r.ID
	return r.ID, nil
}

// Destroy removes the room and both membership entries. It is idempotent:
// destroying an unknown (or already destroyed) room returns (nil, false)
// and has no effect. On success it returns the destroyed room so the caller
// can notify the remaining member.
func (m *Manager) Destroy(roomID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, false
	}

	delete(m.rooms, roomID)
	delete(m.byConn, r.MemberA)
	delete(m.byConn, r.MemberB)
	return r, true
}

// Get returns the room with the given id, or nil if it does not exist.
func (m *Manager) Get(roomID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[roomID]
}

// RoomFor returns the room the connection belongs to, or nil.
func (m *Manager) RoomFor(connID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byConn[connID]
	if !ok {
		return nil
	}
	return m.rooms[id]
}

// Count returns the number of live rooms.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
