// Package pairing is the event-driven front door of the service. It owns
// the per-connection user table and state machine (Idle -> Searching ->
// Matched -> Idle) and wires the waiting queues, match engine, room
// manager, relay, registry, rate limiter, and presence counter to inbound
// client events.
//
// Every queue/room/registry/limiter mutation happens synchronously inside
// one coordinator mutex, so no state transition ever spans a suspension
// point. Profile enrichment — the only asynchronous I/O in the core — runs
// strictly after the room has been created and only patches the outgoing
// partnerFound payload.
package pairing

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftpair/chat-server/internal/events"
	"github.com/driftpair/chat-server/internal/match"
	"github.com/driftpair/chat-server/internal/metrics"
	"github.com/driftpair/chat-server/internal/presence"
	"github.com/driftpair/chat-server/internal/profile"
	"github.com/driftpair/chat-server/internal/protocol"
	"github.com/driftpair/chat-server/internal/ratelimit"
	"github.com/driftpair/chat-server/internal/registry"
	"github.com/driftpair/chat-server/internal/relay"
	"github.com/driftpair/chat-server/internal/room"
)

// Validation bounds for partner requests.
const (
	MaxInterests   = 10
	MaxInterestLen = 100
)

// Emitter delivers encoded server messages. ws.Server satisfies it; tests
// use an in-memory fake, keeping the pairing logic independent of any
// transport.
type Emitter interface {
	Send(connID string, data []byte) error
	Broadcast(data []byte)
	IsConnected(connID string) bool
}

// Config holds pairing tunables.
type Config struct {
	Cooldown      time.Duration // min interval between partner requests per connection
	EnrichTimeout time.Duration // bound on a single profile lookup
}

// DefaultConfig returns the reference values.
func DefaultConfig() Config {
	return Config{
		Cooldown:      ratelimit.DefaultCooldown,
		EnrichTimeout: profile.DefaultLookupTimeout,
	}
}

// Handler coordinates all pairing state for one server process.
type Handler struct {
	mu sync.Mutex // coordinator lock: serializes every state transition

	users    map[string]*match.User
	queue    *match.Queue
	engine   *match.Engine
	rooms    *room.Manager
	registry *registry.Registry
	limiter  *ratelimit.Cooldown
	online   *presence.Counter
	relay    *relay.Relay

	emit      Emitter
	enricher  profile.Enricher // nil: all sessions anonymous
	publisher *events.Publisher
	config    Config
}

// New creates a Handler. enricher and publisher may be nil.
func New(emit Emitter, enricher profile.Enricher, publisher *events.Publisher, config Config) *Handler {
	if config.Cooldown <= 0 {
		config.Cooldown = ratelimit.DefaultCooldown
	}
	if config.EnrichTimeout <= 0 {
		config.EnrichTimeout = profile.DefaultLookupTimeout
	}

	queue := match.NewQueue()
	rooms := room.NewManager()

	h := &Handler{
		users:     make(map[string]*match.User),
		queue:     queue,
		engine:    match.NewEngine(queue),
		rooms:     rooms,
		registry:  registry.New(),
		limiter:   ratelimit.NewCooldown(config.Cooldown),
		online:    presence.NewCounter(),
		emit:      emit,
		enricher:  enricher,
		publisher: publisher,
		config:    config,
	}
	h.relay = relay.New(rooms, emit, h.displayNameFor)
	return h
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

// HandleConnect records a newly established connection: presence goes up by
// exactly one and the new count is broadcast to everyone.
func (h *Handler) HandleConnect(connID string) {
	count := h.online.Inc()
	metrics.ConnectionsTotal.Set(float64(count))
	h.broadcastCount(count)
	h.publisher.Presence(count)
}

// HandleDisconnect tears down everything the connection touched: queue
// entries, its room (partner notified exactly once), its identity binding,
// its cooldown state, and its user entry. Presence goes down by exactly one.
func (h *Handler) HandleDisconnect(connID string) {
	h.mu.Lock()
	h.queue.Remove(connID)
	h.limiter.Forget(connID)
	h.registry.Unbind(connID)
	delete(h.users, connID)

	var destroyed *room.Room
	if r := h.rooms.RoomFor(connID); r != nil {
		destroyed, _ = h.rooms.Destroy(r.ID)
	}
	h.updateGauges()
	h.mu.Unlock()

	if destroyed != nil {
		h.notifyPartnerLeft(destroyed.Partner(connID))
		h.publisher.RoomClosed(destroyed.ID, destroyed.ChatType, "disconnect")
	}

	count := h.online.Dec()
	metrics.ConnectionsTotal.Set(float64(count))
	h.broadcastCount(count)
	h.publisher.Presence(count)
}

// ---------------------------------------------------------------------------
// findPartner
// ---------------------------------------------------------------------------

// HandleFindPartner processes a partner request: validate, rate-limit, then
// match or enqueue — all state mutations synchronous under the coordinator
// lock. On a match the room exists before this method returns; the
// partnerFound payloads are completed by profile enrichment afterwards.
func (h *Handler) HandleFindPartner(connID string, msg protocol.FindPartnerMsg) {
	if err := validateFindPartner(msg); err != nil {
		h.sendError(connID, err.Error())
		return
	}

	if !h.limiter.TryAcquire(connID, time.Now()) {
		metrics.CooldownRejections.Inc()
		h.send(connID, protocol.TypeFindPartnerCooldown, protocol.FindPartnerCooldownMsg{})
		return
	}

	h.mu.Lock()

	u := h.users[connID]
	if u == nil {
		u = &match.User{ConnID: connID}
		h.users[connID] = u
	}
	u.ChatType = msg.ChatType
	u.Interests = msg.Interests
	if msg.AuthID != "" {
		u.AuthID = msg.AuthID
		h.registry.Bind(connID, msg.AuthID)
	}

	// A re-request while matched implicitly ends the current session, the
	// same way a disconnect would for the partner.
	var closed *room.Room
	if r := h.rooms.RoomFor(connID); r != nil {
		closed, _ = h.rooms.Destroy(r.ID)
	}

	// The requester never waits in a queue while actively matching; a stale
	// entry from a previous request (possibly under another chat type) is
	// dropped here.
	h.queue.Remove(connID)

	// Select a partner, skipping candidates whose connection died while
	// queued. FindMatch re-validates and claims each candidate atomically,
	// so a dead candidate is consumed, not returned to the pool.
	partner := h.engine.FindMatch(u)
	for partner != nil && !h.emit.IsConnected(partner.ConnID) {
		log.Printf("pairing: partner %s vanished at handoff, retrying for %s", partner.ConnID, connID)
		partner = h.engine.FindMatch(u)
	}

	if partner == nil {
		h.queue.Enqueue(u)
		h.updateGauges()
		h.mu.Unlock()

		if closed != nil {
			h.notifyPartnerLeft(closed.Partner(connID))
			h.publisher.RoomClosed(closed.ID, closed.ChatType, "leave")
		}
		h.send(connID, protocol.TypeWaitingForPartner, protocol.WaitingForPartnerMsg{})
		return
	}

	roomID, err := h.rooms.Create(connID, partner.ConnID, u.ChatType)
	if err != nil {
		// Cannot happen while invariants hold (a queued candidate is never
		// in a room); recover by re-queuing both parties.
		log.Printf("pairing: room create for %s/%s failed: %v", connID, partner.ConnID, err)
		h.queue.Enqueue(partner)
		h.queue.Enqueue(u)
		h.updateGauges()
		h.mu.Unlock()
		h.send(connID, protocol.TypeWaitingForPartner, protocol.WaitingForPartnerMsg{})
		return
	}

	shared := u.SharesInterest(partner)
	h.updateGauges()
	h.mu.Unlock()

	if closed != nil {
		h.notifyPartnerLeft(closed.Partner(connID))
		h.publisher.RoomClosed(closed.ID, closed.ChatType, "leave")
	}

	selection := "random"
	if shared {
		selection = "interest"
	}
	metrics.MatchesTotal.WithLabelValues(selection).Inc()
	h.publisher.MatchFound(roomID, u.ChatType, shared)

	// Reserve-before-suspend: the room already exists; enrichment only
	// patches the outgoing payloads and may not fail the match.
	if h.enricher == nil {
		h.finishMatch(roomID, connID, partner.ConnID)
	} else {
		go h.finishMatch(roomID, connID, partner.ConnID)
	}
}

// finishMatch enriches both parties' display metadata and delivers the
// partnerFound payloads. Lookup failures and timeouts degrade to anonymous
// display.
func (h *Handler) finishMatch(roomID, aID, bID string) {
	h.enrich(aID)
	h.enrich(bID)

	h.mu.Lock()
	a, b := h.users[aID], h.users[bID]
	r := h.rooms.Get(roomID)
	live := a != nil && b != nil && r != nil && r.HasMember(aID) && r.HasMember(bID)
	var toA, toB protocol.PartnerFoundMsg
	if live {
		toA = partnerFoundPayload(roomID, b)
		toB = partnerFoundPayload(roomID, a)
	}
	h.mu.Unlock()

	// The room may be gone by the time enrichment finishes: a disconnect or
	// a fresh partner request destroys it and notifies the other side.
	// Announcing the stale room would strand the partner in a session that
	// no longer exists, so a dead room means nothing to deliver.
	if !live {
		return
	}

	h.send(aID, protocol.TypePartnerFound, toA)
	h.send(bID, protocol.TypePartnerFound, toB)
}

// enrich resolves a connection's bound identity to display metadata and
// patches the user record. Anonymous connections are left untouched.
func (h *Handler) enrich(connID string) {
	h.mu.Lock()
	u := h.users[connID]
	var authID string
	if u != nil {
		authID = u.AuthID
	}
	h.mu.Unlock()

	if authID == "" {
		return
	}

	start := time.Now()
	p, ok := profile.LookupWithTimeout(h.enricher, authID, h.config.EnrichTimeout)
	metrics.EnrichLatency.Observe(time.Since(start).Seconds())
	if !ok {
		return
	}

	h.mu.Lock()
	if u := h.users[connID]; u != nil {
		u.Username = p.Username
		u.DisplayName = p.DisplayName
		u.AvatarURL = p.AvatarURL
	}
	h.mu.Unlock()
}

func partnerFoundPayload(roomID string, partner *match.User) protocol.PartnerFoundMsg {
	return protocol.PartnerFoundMsg{
		PartnerID:          partner.ConnID,
		RoomID:             roomID,
		Interests:          partner.Interests,
		PartnerUsername:    partner.Username,
		PartnerDisplayName: partner.DisplayName,
		PartnerAvatarURL:   partner.AvatarURL,
	}
}

func validateFindPartner(msg protocol.FindPartnerMsg) error {
	if msg.ChatType != protocol.ChatTypeText && msg.ChatType != protocol.ChatTypeVideo {
		return fmt.Errorf("invalid chat type %q", msg.ChatType)
	}
	if len(msg.Interests) > MaxInterests {
		return fmt.Errorf("at most %d interests allowed", MaxInterests)
	}
	for _, tag := range msg.Interests {
		if tag == "" {
			return fmt.Errorf("interest must not be empty")
		}
		if len(tag) > MaxInterestLen {
			return fmt.Errorf("interest exceeds %d character limit", MaxInterestLen)
		}
	}
	if msg.AuthID != "" {
		if _, err := uuid.Parse(msg.AuthID); err != nil {
			return fmt.Errorf("invalid auth id")
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Room traffic and teardown
// ---------------------------------------------------------------------------

// HandleSendMessage relays a chat message. Validation failures are reported
// to the sender; referential failures are dropped silently by the relay.
func (h *Handler) HandleSendMessage(connID string, msg protocol.SendMessageMsg) {
	if err := h.relay.RelayMessage(connID, msg); err != nil {
		h.sendError(connID, err.Error())
	}
}

// HandleTyping relays a typing start/stop notification.
func (h *Handler) HandleTyping(connID, roomID string, start bool) {
	h.relay.RelayTyping(connID, roomID, start)
}

// HandleWebRTCSignal relays an opaque signaling payload.
func (h *Handler) HandleWebRTCSignal(connID string, msg protocol.WebRTCSignalMsg) {
	h.relay.RelaySignal(connID, msg)
}

// HandleLeaveChat destroys the named room and notifies the partner. A room
// that does not exist or does not contain the sender is a stale reference
// and is dropped with only a local diagnostic.
func (h *Handler) HandleLeaveChat(connID, roomID string) {
	if !relay.ValidRoomID(roomID) {
		log.Printf("pairing: drop leave from %s: malformed room id %q", connID, roomID)
		return
	}

	h.mu.Lock()
	r := h.rooms.Get(roomID)
	if r == nil || !r.HasMember(connID) {
		h.mu.Unlock()
		log.Printf("pairing: drop leave from %s: no membership in room %q", connID, roomID)
		return
	}
	destroyed, _ := h.rooms.Destroy(roomID)
	h.updateGauges()
	h.mu.Unlock()

	if destroyed != nil {
		h.notifyPartnerLeft(destroyed.Partner(connID))
		h.publisher.RoomClosed(destroyed.ID, destroyed.ChatType, "leave")
	}
}

// HandleGetOnlineUserCount replies directly with the current presence count.
func (h *Handler) HandleGetOnlineUserCount(connID string) {
	h.send(connID, protocol.TypeOnlineUserCount, protocol.OnlineUserCountMsg{
		Count: h.online.Current(),
	})
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// OnlineCount returns the current presence count.
func (h *Handler) OnlineCount() int64 {
	return h.online.Current()
}

// QueueSizes returns the current waiting-queue lengths per chat type.
func (h *Handler) QueueSizes() map[string]int {
	return h.queue.Sizes()
}

// RoomCount returns the number of live rooms.
func (h *Handler) RoomCount() int {
	return h.rooms.Count()
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// displayNameFor resolves the enriched display name for a connection; used
// by the relay when the sender supplied no username.
func (h *Handler) displayNameFor(connID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	u := h.users[connID]
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

func (h *Handler) notifyPartnerLeft(connID string) {
	if connID == "" {
		return
	}
	h.send(connID, protocol.TypePartnerLeft, protocol.PartnerLeftMsg{})
}

func (h *Handler) broadcastCount(count int64) {
	data, err := protocol.NewServerMessage(protocol.TypeOnlineUserCountUpdate, protocol.OnlineUserCountMsg{
		Count: count,
	})
	if err != nil {
		log.Printf("pairing: build count update: %v", err)
		return
	}
	h.emit.Broadcast(data)
}

func (h *Handler) send(connID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("pairing: build %s for %s: %v", msgType, connID, err)
		return
	}
	if err := h.emit.Send(connID, data); err != nil {
		log.Printf("pairing: send %s to %s: %v", msgType, connID, err)
	}
}

func (h *Handler) sendError(connID, message string) {
	h.send(connID, protocol.TypeError, protocol.ErrorMsg{Message: message})
}

// updateGauges refreshes the queue and room gauges. Callers hold the
// coordinator lock.
func (h *Handler) updateGauges() {
	for chatType, n := range h.queue.Sizes() {
		metrics.QueueSize.WithLabelValues(chatType).Set(float64(n))
	}
	metrics.ActiveRooms.Set(float64(h.rooms.Count()))
}
