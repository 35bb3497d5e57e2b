package room

import (
	"errors"
	"regexp"
	"testing"
)

var roomIDFormat = regexp.MustCompile(`^[A-Za-z0-9#_-]+$`)

func TestCreate_RegistersBothMembers(t *testing.T) {
	m := NewManager()

	id, err := m.Create("a", "b", "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !roomIDFormat.MatchString(id) {
		t.Errorf("room id %q has characters outside the allowed set", id)
	}
	if len(id) > 100 {
		t.Errorf("room id %q exceeds 100 characters", id)
	}

	r := m.Get(id)
	if r == nil {
		t.Fatal("created room not found")
	}
	if r.ChatType != "text" {
		t.Errorf("expected chat type text, got %q", r.ChatType)
	}
	if m.RoomFor("a") != r || m.RoomFor("b") != r {
		t.Error("both members should resolve to the room")
	}
	if m.Count() != 1 {
		t.Errorf("expected 1 live room, got %d", m.Count())
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name               string
		initiator, partner string
		wantErr            error
	}{
		{"empty initiator", "", "b", ErrMissingMember},
		{"empty partner", "a", "", ErrMissingMember},
		{"same member twice", "a", "a", ErrDuplicateMember},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			if _, err := m.Create(tt.initiator, tt.partner, "text"); !errors.Is(err, tt.wantErr) {
				t.Errorf("Create(%q, %q) error = %v, want %v", tt.initiator, tt.partner, err, tt.wantErr)
			}
		})
	}
}

func TestCreate_RejectsMemberAlreadyInRoom(t *testing.T) {
	m := NewManager()
	if _, err := m.Create("a", "b", "text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := m.Create("a", "c", "text"); !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("expected ErrAlreadyInRoom for initiator, got %v", err)
	}
	if _, err := m.Create("c", "b", "text"); !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("expected ErrAlreadyInRoom for partner, got %v", err)
	}
}

func TestDestroy_Idempotent(t *testing.T) {
	m := NewManager()
	id, err := m.Create("a", "b", "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r, ok := m.Destroy(id)
	if !ok || r == nil {
		t.Fatal("first destroy should return the room")
	}
	if r, ok := m.Destroy(id); ok || r != nil {
		t.Error("second destroy should be a no-op")
	}
	if m.RoomFor("a") != nil || m.RoomFor("b") != nil {
		t.Error("membership entries should be gone after destroy")
	}
	if m.Count() != 0 {
		t.Errorf("expected 0 live rooms, got %d", m.Count())
	}
}

func TestDestroy_FreesMembersForNewRooms(t *testing.T) {
	m := NewManager()
	id, _ := m.Create("a", "b", "text")
	m.Destroy(id)

	if _, err := m.Create("a", "c", "video"); err != nil {
		t.Errorf("member should be free after destroy, got %v", err)
	}
}

func TestPartner(t *testing.T) {
	r := &Room{ID: "r", MemberA: "a", MemberB: "b"}

	if got := r.Partner("a"); got != "b" {
		t.Errorf("Partner(a) = %q, want b", got)
	}
	if got := r.Partner("b"); got != "a" {
		t.Errorf("Partner(b) = %q, want a", got)
	}
	if got := r.Partner("c"); got != "" {
		t.Errorf("Partner(c) = %q, want empty", got)
	}
}

func TestHasMember(t *testing.T) {
	r := &Room{ID: "r", MemberA: "a", MemberB: "b"}

	if !r.HasMember("a") || !r.HasMember("b") {
		t.Error("members should be reported as such")
	}
	if r.HasMember("c") {
		t.Error("non-member reported as member")
	}
}
