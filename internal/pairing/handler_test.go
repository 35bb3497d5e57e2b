package pairing

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/driftpair/chat-server/internal/profile"
	"github.com/driftpair/chat-server/internal/protocol"
)

// fakeEmitter records every frame per connection, decoded, so tests can
// assert on delivered event sequences. Connections are online unless marked
// otherwise.
type fakeEmitter struct {
	mu         sync.Mutex
	sent       map[string][]map[string]interface{}
	broadcasts []map[string]interface{}
	offline    map[string]bool
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{
		sent:    make(map[string][]map[string]interface{}),
		offline: make(map[string]bool),
	}
}

func (f *fakeEmitter) Send(connID string, data []byte) error {
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent[connID] = append(f.sent[connID], decoded)
	f.mu.Unlock()
	return nil
}

func (f *fakeEmitter) Broadcast(data []byte) {
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return
	}
	f.mu.Lock()
	f.broadcasts = append(f.broadcasts, decoded)
	f.mu.Unlock()
}

func (f *fakeEmitter) IsConnected(connID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.offline[connID]
}

func (f *fakeEmitter) setOffline(connID string) {
	f.mu.Lock()
	f.offline[connID] = true
	f.mu.Unlock()
}

// ofType returns the frames of the given type delivered to connID.
func (f *fakeEmitter) ofType(connID, msgType string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []map[string]interface{}
	for _, m := range f.sent[connID] {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeEmitter) lastOfType(t *testing.T, connID, msgType string) map[string]interface{} {
	t.Helper()
	frames := f.ofType(connID, msgType)
	if len(frames) == 0 {
		t.Fatalf("no %s delivered to %s", msgType, connID)
	}
	return frames[len(frames)-1]
}

// waitForType polls until a frame of the given type reaches connID; used
// when enrichment runs asynchronously.
func (f *fakeEmitter) waitForType(t *testing.T, connID, msgType string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frames := f.ofType(connID, msgType); len(frames) > 0 {
			return frames[len(frames)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to %s", msgType, connID)
	return nil
}

// newTestHandler builds a handler with a negligible cooldown so tests can
// issue repeated partner requests.
func newTestHandler(enricher profile.Enricher) (*Handler, *fakeEmitter) {
	emit := newFakeEmitter()
	h := New(emit, enricher, nil, Config{Cooldown: time.Nanosecond})
	return h, emit
}

func findPartner(h *Handler, connID, chatType string, interests ...string) {
	h.HandleFindPartner(connID, protocol.FindPartnerMsg{
		ChatType:  chatType,
		Interests: interests,
	})
}

// pairUp connects and matches two users in a text room and returns its id.
func pairUp(t *testing.T, h *Handler, emit *fakeEmitter, a, b string) string {
	t.Helper()
	h.HandleConnect(a)
	h.HandleConnect(b)
	findPartner(h, a, "text")
	findPartner(h, b, "text")

	pfA := emit.lastOfType(t, a, protocol.TypePartnerFound)
	pfB := emit.lastOfType(t, b, protocol.TypePartnerFound)
	roomID, _ := pfA["roomId"].(string)
	if roomID == "" || pfB["roomId"] != roomID {
		t.Fatalf("room ids disagree: %v vs %v", pfA["roomId"], pfB["roomId"])
	}
	return roomID
}

func TestFindPartner_FirstRequesterWaits(t *testing.T) {
	h, emit := newTestHandler(nil)

	findPartner(h, "a", "text")

	if len(emit.ofType("a", protocol.TypeWaitingForPartner)) != 1 {
		t.Error("expected a waitingForPartner reply")
	}
	if got := h.QueueSizes()["text"]; got != 1 {
		t.Errorf("text queue size = %d, want 1", got)
	}
}

func TestFindPartner_SecondRequesterMatches(t *testing.T) {
	h, emit := newTestHandler(nil)

	findPartner(h, "a", "text")
	findPartner(h, "b", "text")

	pfA := emit.lastOfType(t, "a", protocol.TypePartnerFound)
	pfB := emit.lastOfType(t, "b", protocol.TypePartnerFound)

	if pfA["partnerId"] != "b" || pfB["partnerId"] != "a" {
		t.Errorf("partner ids wrong: a sees %v, b sees %v", pfA["partnerId"], pfB["partnerId"])
	}
	if pfA["roomId"] == "" || pfA["roomId"] != pfB["roomId"] {
		t.Errorf("room ids disagree: %v vs %v", pfA["roomId"], pfB["roomId"])
	}
	if got := h.QueueSizes()["text"]; got != 0 {
		t.Errorf("text queue size = %d, want 0", got)
	}
	if got := h.RoomCount(); got != 1 {
		t.Errorf("room count = %d, want 1", got)
	}
}

func TestFindPartner_InterestPriorityOverArrivalOrder(t *testing.T) {
	h, emit := newTestHandler(nil)

	findPartner(h, "b", "text", "cooking")
	findPartner(h, "c", "text", "music")
	findPartner(h, "a", "text", "music")

	pfA := emit.lastOfType(t, "a", protocol.TypePartnerFound)
	if pfA["partnerId"] != "c" {
		t.Errorf("a matched %v, want interest-sharing c", pfA["partnerId"])
	}
	if len(emit.ofType("b", protocol.TypePartnerFound)) != 0 {
		t.Error("b should still be waiting")
	}
	if got := h.QueueSizes()["text"]; got != 1 {
		t.Errorf("text queue size = %d, want 1 (just b)", got)
	}
}

func TestFindPartner_PartnerInterestsEchoedInPayload(t *testing.T) {
	h, emit := newTestHandler(nil)

	findPartner(h, "a", "text", "music", "go")
	findPartner(h, "b", "text", "music")

	pfB := emit.lastOfType(t, "b", protocol.TypePartnerFound)
	interests, _ := pfB["interests"].([]interface{})
	if len(interests) != 2 || interests[0] != "music" || interests[1] != "go" {
		t.Errorf("b sees partner interests %v, want [music go]", pfB["interests"])
	}
}

func TestFindPartner_ChatTypesNeverMix(t *testing.T) {
	h, emit := newTestHandler(nil)

	findPartner(h, "a", "text")
	findPartner(h, "b", "video")

	if len(emit.ofType("a", protocol.TypePartnerFound)) != 0 ||
		len(emit.ofType("b", protocol.TypePartnerFound)) != 0 {
		t.Error("text and video requesters must not match each other")
	}
	sizes := h.QueueSizes()
	if sizes["text"] != 1 || sizes["video"] != 1 {
		t.Errorf("queue sizes = %v, want text:1 video:1", sizes)
	}
}

func TestFindPartner_ChatTypeSwitchDropsOldEntry(t *testing.T) {
	h, _ := newTestHandler(nil)

	findPartner(h, "a", "text")
	findPartner(h, "a", "video")

	sizes := h.QueueSizes()
	if sizes["text"] != 0 || sizes["video"] != 1 {
		t.Errorf("queue sizes = %v, want text:0 video:1", sizes)
	}
}

func TestFindPartner_CooldownRejection(t *testing.T) {
	emit := newFakeEmitter()
	h := New(emit, nil, nil, Config{Cooldown: 2 * time.Second})

	findPartner(h, "a", "text")
	findPartner(h, "a", "text")

	if len(emit.ofType("a", protocol.TypeFindPartnerCooldown)) != 1 {
		t.Error("expected a findPartnerCooldown reply for the second request")
	}
	if got := h.QueueSizes()["text"]; got != 1 {
		t.Errorf("text queue size = %d, want 1: rejected request must not change state", got)
	}
}

func TestFindPartner_ValidationErrors(t *testing.T) {
	tooMany := make([]string, MaxInterests+1)
	for i := range tooMany {
		tooMany[i] = "tag"
	}

	tests := []struct {
		name string
		msg  protocol.FindPartnerMsg
	}{
		{"bad chat type", protocol.FindPartnerMsg{ChatType: "voice"}},
		{"missing chat type", protocol.FindPartnerMsg{}},
		{"too many interests", protocol.FindPartnerMsg{ChatType: "text", Interests: tooMany}},
		{"empty interest", protocol.FindPartnerMsg{ChatType: "text", Interests: []string{""}}},
		{"oversize interest", protocol.FindPartnerMsg{ChatType: "text", Interests: []string{strings.Repeat("x", MaxInterestLen+1)}}},
		{"malformed auth id", protocol.FindPartnerMsg{ChatType: "text", AuthID: "not-a-uuid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, emit := newTestHandler(nil)
			h.HandleFindPartner("a", tt.msg)

			if len(emit.ofType("a", protocol.TypeError)) != 1 {
				t.Error("expected an error reply")
			}
			sizes := h.QueueSizes()
			if sizes["text"] != 0 || sizes["video"] != 0 {
				t.Errorf("invalid request must not enqueue, sizes = %v", sizes)
			}
		})
	}
}

func TestFindPartner_VanishedCandidateSkipped(t *testing.T) {
	h, emit := newTestHandler(nil)

	findPartner(h, "b", "text")
	emit.setOffline("b") // b's socket died while queued, cleanup not yet run

	findPartner(h, "a", "text")

	if len(emit.ofType("a", protocol.TypePartnerFound)) != 0 {
		t.Error("a must not be paired with a dead connection")
	}
	if len(emit.ofType("a", protocol.TypeWaitingForPartner)) != 1 {
		t.Error("a should fall back to waiting")
	}
	if got := h.QueueSizes()["text"]; got != 1 {
		t.Errorf("text queue size = %d, want 1: dead candidate must be consumed", got)
	}
	if got := h.RoomCount(); got != 0 {
		t.Errorf("room count = %d, want 0", got)
	}
}

func TestFindPartner_RerequestWhileMatchedEndsSession(t *testing.T) {
	h, emit := newTestHandler(nil)
	pairUp(t, h, emit, "a", "b")

	findPartner(h, "a", "text")

	if len(emit.ofType("b", protocol.TypePartnerLeft)) != 1 {
		t.Error("partner must be told the session ended")
	}
	if got := h.RoomCount(); got != 0 {
		t.Errorf("room count = %d, want 0", got)
	}
	if len(emit.ofType("a", protocol.TypeWaitingForPartner)) != 1 {
		t.Error("requester should be waiting again")
	}
}

func TestLeaveChat_NotifiesPartnerAndFreesRoom(t *testing.T) {
	h, emit := newTestHandler(nil)
	roomID := pairUp(t, h, emit, "a", "b")

	h.HandleLeaveChat("a", roomID)

	if len(emit.ofType("b", protocol.TypePartnerLeft)) != 1 {
		t.Error("partner must receive exactly one partnerLeft")
	}
	if len(emit.ofType("a", protocol.TypePartnerLeft)) != 0 {
		t.Error("the leaver itself gets no partnerLeft")
	}
	if got := h.RoomCount(); got != 0 {
		t.Errorf("room count = %d, want 0", got)
	}

	// Both parties can search again. The millisecond pause keeps the fresh
	// room's timestamp-based id distinct from the destroyed one's.
	time.Sleep(2 * time.Millisecond)
	findPartner(h, "a", "text")
	findPartner(h, "b", "text")
	pf := emit.ofType("a", protocol.TypePartnerFound)
	if len(pf) != 2 {
		t.Fatalf("a has %d partnerFound frames, want 2", len(pf))
	}
	if pf[1]["roomId"] == roomID {
		t.Error("re-match must mint a fresh room id")
	}
}

func TestLeaveChat_StaleReferencesDroppedSilently(t *testing.T) {
	h, emit := newTestHandler(nil)
	roomID := pairUp(t, h, emit, "a", "b")

	h.HandleLeaveChat("c", roomID)      // not a member
	h.HandleLeaveChat("a", "ghost#123") // unknown room
	h.HandleLeaveChat("a", "bad id!")   // malformed id

	if got := h.RoomCount(); got != 1 {
		t.Errorf("room count = %d, want 1: stale leaves must not destroy the room", got)
	}
	if len(emit.ofType("a", protocol.TypePartnerLeft))+len(emit.ofType("b", protocol.TypePartnerLeft)) != 0 {
		t.Error("no partnerLeft may be sent for a stale leave")
	}
	if len(emit.ofType("c", protocol.TypeError)) != 0 {
		t.Error("stale leaves produce no client-visible error")
	}
}

func TestLeaveChat_SecondLeaveIsNoop(t *testing.T) {
	h, emit := newTestHandler(nil)
	roomID := pairUp(t, h, emit, "a", "b")

	h.HandleLeaveChat("a", roomID)
	h.HandleLeaveChat("b", roomID)

	if len(emit.ofType("b", protocol.TypePartnerLeft)) != 1 {
		t.Error("partner must not be notified twice")
	}
	if len(emit.ofType("a", protocol.TypePartnerLeft)) != 0 {
		t.Error("late leave of a destroyed room must be dropped")
	}
}

func TestDisconnect_CleansUpEverything(t *testing.T) {
	h, emit := newTestHandler(nil)
	pairUp(t, h, emit, "a", "b")

	h.HandleDisconnect("a")

	if len(emit.ofType("b", protocol.TypePartnerLeft)) != 1 {
		t.Error("surviving partner must receive exactly one partnerLeft")
	}
	if got := h.RoomCount(); got != 0 {
		t.Errorf("room count = %d, want 0", got)
	}
	if got := h.OnlineCount(); got != 1 {
		t.Errorf("online count = %d, want 1", got)
	}

	// The survivor is free to search again.
	findPartner(h, "b", "text")
	if len(emit.ofType("b", protocol.TypeWaitingForPartner)) != 1 {
		t.Error("survivor should be able to queue again")
	}
}

func TestDisconnect_WhileQueuedRemovesEntry(t *testing.T) {
	h, emit := newTestHandler(nil)
	h.HandleConnect("a")
	findPartner(h, "a", "text")

	h.HandleDisconnect("a")

	if got := h.QueueSizes()["text"]; got != 0 {
		t.Errorf("text queue size = %d, want 0", got)
	}
	// A later requester must not match the departed connection.
	findPartner(h, "b", "text")
	if len(emit.ofType("b", protocol.TypePartnerFound)) != 0 {
		t.Error("nobody should match a disconnected connection")
	}
}

func TestPresence_CountsAndBroadcasts(t *testing.T) {
	h, emit := newTestHandler(nil)

	h.HandleConnect("a")
	h.HandleConnect("b")
	h.HandleConnect("c")
	h.HandleDisconnect("c")

	if got := h.OnlineCount(); got != 2 {
		t.Errorf("online count = %d, want 2", got)
	}

	emit.mu.Lock()
	broadcasts := len(emit.broadcasts)
	last := emit.broadcasts[broadcasts-1]
	emit.mu.Unlock()

	if broadcasts != 4 {
		t.Errorf("broadcast count = %d, want 4 (one per connect/disconnect)", broadcasts)
	}
	if last["type"] != protocol.TypeOnlineUserCountUpdate {
		t.Errorf("broadcast type = %v, want %s", last["type"], protocol.TypeOnlineUserCountUpdate)
	}
	if last["count"] != float64(2) {
		t.Errorf("broadcast count value = %v, want 2", last["count"])
	}
}

func TestGetOnlineUserCount_DirectReply(t *testing.T) {
	h, emit := newTestHandler(nil)
	h.HandleConnect("a")
	h.HandleConnect("b")

	h.HandleGetOnlineUserCount("a")

	reply := emit.lastOfType(t, "a", protocol.TypeOnlineUserCount)
	if reply["count"] != float64(2) {
		t.Errorf("count = %v, want 2", reply["count"])
	}
}

func TestSendMessage_OversizeRejectedToSenderOnly(t *testing.T) {
	h, emit := newTestHandler(nil)
	roomID := pairUp(t, h, emit, "a", "b")

	h.HandleSendMessage("a", protocol.SendMessageMsg{
		RoomID:  roomID,
		Message: strings.Repeat("x", 2001),
	})

	if len(emit.ofType("a", protocol.TypeError)) != 1 {
		t.Error("sender must receive an error event")
	}
	if len(emit.ofType("b", protocol.TypeReceiveMessage)) != 0 {
		t.Error("partner must see nothing")
	}
	if got := h.RoomCount(); got != 1 {
		t.Errorf("room count = %d, want 1: the room stays intact", got)
	}
}

func TestSendMessage_DeliveredToPartner(t *testing.T) {
	h, emit := newTestHandler(nil)
	roomID := pairUp(t, h, emit, "a", "b")

	h.HandleSendMessage("a", protocol.SendMessageMsg{
		RoomID:   roomID,
		Message:  "hello there",
		Username: "alice",
	})

	got := emit.lastOfType(t, "b", protocol.TypeReceiveMessage)
	if got["message"] != "hello there" || got["senderUsername"] != "alice" {
		t.Errorf("unexpected relay payload: %v", got)
	}
}

func TestTyping_RelayedToPartner(t *testing.T) {
	h, emit := newTestHandler(nil)
	roomID := pairUp(t, h, emit, "a", "b")

	h.HandleTyping("a", roomID, true)
	h.HandleTyping("a", roomID, false)

	if len(emit.ofType("b", protocol.TypePartnerTypingStart)) != 1 {
		t.Error("partner should see typing start")
	}
	if len(emit.ofType("b", protocol.TypePartnerTypingStop)) != 1 {
		t.Error("partner should see typing stop")
	}
}

func TestWebRTCSignal_RelayedToPartner(t *testing.T) {
	h, emit := newTestHandler(nil)
	roomID := pairUp(t, h, emit, "a", "b")

	h.HandleWebRTCSignal("a", protocol.WebRTCSignalMsg{
		RoomID:     roomID,
		SignalData: json.RawMessage(`{"sdp":"v=0"}`),
	})

	got := emit.lastOfType(t, "b", protocol.TypeWebRTCSignal)
	signal, _ := got["signalData"].(map[string]interface{})
	if signal["sdp"] != "v=0" {
		t.Errorf("signalData = %v", got["signalData"])
	}
}

// staticEnricher resolves one identity to a fixed profile.
type staticEnricher struct {
	identityID string
	profile    profile.Profile
}

func (s *staticEnricher) Lookup(ctx context.Context, identityID string) (*profile.Profile, error) {
	if identityID == s.identityID {
		p := s.profile
		return &p, nil
	}
	return nil, profile.ErrNotFound
}

func TestFindPartner_EnrichmentFillsPartnerMetadata(t *testing.T) {
	const authID = "5f4c7f0a-2f63-4f0e-9c1c-2f63db1a9e10"
	enricher := &staticEnricher{
		identityID: authID,
		profile:    profile.Profile{Username: "alice", DisplayName: "Alice", AvatarURL: "https://cdn/a.png"},
	}
	h, emit := newTestHandler(enricher)

	h.HandleFindPartner("a", protocol.FindPartnerMsg{ChatType: "text", AuthID: authID})
	findPartner(h, "b", "text")

	pfB := emit.waitForType(t, "b", protocol.TypePartnerFound)
	if pfB["partnerUsername"] != "alice" || pfB["partnerDisplayName"] != "Alice" {
		t.Errorf("b sees partner metadata %v, want alice/Alice", pfB)
	}
	if pfB["partnerAvatarUrl"] != "https://cdn/a.png" {
		t.Errorf("avatar url = %v", pfB["partnerAvatarUrl"])
	}

	// The anonymous side carries no metadata fields.
	pfA := emit.waitForType(t, "a", protocol.TypePartnerFound)
	if _, ok := pfA["partnerUsername"]; ok {
		t.Errorf("a's partner is anonymous, got %v", pfA["partnerUsername"])
	}
}

// gateEnricher blocks every lookup until released, so tests can interleave
// other events with an in-flight enrichment.
type gateEnricher struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newGateEnricher() *gateEnricher {
	return &gateEnricher{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gateEnricher) Lookup(ctx context.Context, identityID string) (*profile.Profile, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return nil, profile.ErrNotFound
}

func TestFindPartner_LateEnrichmentNeverAnnouncesDestroyedRoom(t *testing.T) {
	const authID = "5f4c7f0a-2f63-4f0e-9c1c-2f63db1a9e10"
	enricher := newGateEnricher()
	emit := newFakeEmitter()
	h := New(emit, enricher, nil, Config{Cooldown: time.Nanosecond, EnrichTimeout: 5 * time.Second})

	h.HandleFindPartner("a", protocol.FindPartnerMsg{ChatType: "text", AuthID: authID})
	findPartner(h, "b", "text")

	select {
	case <-enricher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("enrichment never started")
	}

	// While the lookup is still in flight, a asks for a new partner. That
	// destroys the freshly created room and tells b the session is over.
	findPartner(h, "a", "text")

	if len(emit.ofType("b", protocol.TypePartnerLeft)) != 1 {
		t.Fatal("b should have been told the session ended")
	}
	if got := h.RoomCount(); got != 0 {
		t.Fatalf("room count = %d, want 0", got)
	}

	close(enricher.release)

	// The released enrichment must notice the room is gone and stay silent;
	// a partnerFound for the destroyed room would strand b in a dead session.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(emit.ofType("b", protocol.TypePartnerFound)) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if frames := emit.ofType("b", protocol.TypePartnerFound); len(frames) != 0 {
		t.Errorf("b received partnerFound for destroyed room: %v", frames)
	}
	if frames := emit.ofType("a", protocol.TypePartnerFound); len(frames) != 0 {
		t.Errorf("a received partnerFound for destroyed room: %v", frames)
	}
}

func TestFindPartner_EnrichmentFailureDegradesToAnonymous(t *testing.T) {
	const authID = "5f4c7f0a-2f63-4f0e-9c1c-2f63db1a9e10"
	enricher := &staticEnricher{identityID: "some-other-id"}
	h, emit := newTestHandler(enricher)

	h.HandleFindPartner("a", protocol.FindPartnerMsg{ChatType: "text", AuthID: authID})
	findPartner(h, "b", "text")

	pfB := emit.waitForType(t, "b", protocol.TypePartnerFound)
	if pfB["roomId"] == "" {
		t.Error("match must succeed despite enrichment failure")
	}
	if _, ok := pfB["partnerUsername"]; ok {
		t.Errorf("failed enrichment must leave the partner anonymous, got %v", pfB["partnerUsername"])
	}
}
