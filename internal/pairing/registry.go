// Package pairing owns the room registry: the authoritative record of which
// two peers are paired, the per-room call record, and the teardown protocol.
// Commit and teardown run under the registry mutex and take the two session
// locks through the manager, so a peer can never belong to two rooms.
package pairing

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftchat/pairserver/internal/matching"
	"github.com/driftchat/pairserver/internal/profile"
	"github.com/driftchat/pairserver/internal/protocol"
	"github.com/driftchat/pairserver/internal/session"
)

// Teardown reasons, relayed verbatim in partnerDisconnected.
const (
	ReasonNext       = "next_requested"
	ReasonManual     = "manual_disconnect"
	ReasonNewSearch  = "new_search"
	ReasonInactive   = "inactive"
	ReasonDisconnect = "disconnected"
)

// Call record statuses.
const (
	CallPending  = "pending"  // created at video match, no offer yet
	CallIncoming = "incoming" // manual video-call-request awaiting the offer
	CallOffered  = "offered"
	CallAnswered = "answered"
	CallRejected = "rejected"
	CallEnded    = "ended"
)

// CallRequestTTL bounds how long a manual video-call-request may wait for an
// offer before the sweep expires it.
const CallRequestTTL = 30 * time.Second

// Room is a committed pair.
type Room struct {
	ID              string
	PeerA           string
	PeerB           string
	Mode            string
	Compatibility   float64
	SharedInterests []string
	CreatedAt       time.Time
}

// Partner returns the other peer of the room.
func (r *Room) Partner(peerID string) string {
	if r.PeerA == peerID {
		return r.PeerB
	}
	return r.PeerA
}

// CallRecord tracks the single WebRTC call of a room.
type CallRecord struct {
	CallID    string
	RoomID    string
	Caller    string // peer expected to create the offer
	Callee    string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time // zero unless status is incoming
}

// Sender delivers a server message to one connected peer. The hub implements
// it over the WebSocket connections.
type Sender interface {
	Send(peerID, msgType string, payload interface{}) error
}

// Registry maps peers to rooms and rooms to call records.
type Registry struct {
	sessions *session.Manager
	engine   *matching.Engine
	sender   Sender

	mu     sync.Mutex
	rooms  map[string]*Room
	byPeer map[string]string // peer id -> room id
	calls  map[string]*CallRecord
}

// NewRegistry creates an empty registry.
func NewRegistry(sessions *session.Manager, engine *matching.Engine, sender Sender) *Registry {
	r := &Registry{
		sessions: sessions,
		engine:   engine,
		sender:   sender,
		rooms:    make(map[string]*Room),
		byPeer:   make(map[string]string),
		calls:    make(map[string]*CallRecord),
	}
	return r
}

func (r *Registry) lock()   { r.mu.Lock() }
func (r *Registry) unlock() { r.mu.Unlock() }

// Commit turns a selected candidate into a committed room. It re-verifies —
// under both session locks — that both peers are still searching, removes
// them from the waiting pool, creates the room and notifies both sides. A
// false return means the candidate went stale and the caller should retry
// selection.
func (r *Registry) Commit(cand matching.Candidate, now time.Time) (*Room, bool) {
	a, okA := r.sessions.Get(cand.PeerID)
	b, okB := r.sessions.Get(cand.PartnerID)
	if !okA || !okB {
		return nil, false
	}

	roomID := newRoomID(now)

	r.lock()
	committed := r.sessions.Pair(a, b, roomID, now, func() bool {
		return r.engine.CommitRemove(a.ID, b.ID)
	})
	if !committed {
		r.unlock()
		return nil, false
	}

	room := &Room{
		ID:              roomID,
		PeerA:           a.ID,
		PeerB:           b.ID,
		Mode:            cand.Mode,
		Compatibility:   cand.Score,
		SharedInterests: cand.SharedInterests,
		CreatedAt:       now,
	}
	r.rooms[roomID] = room
	r.byPeer[a.ID] = roomID
	r.byPeer[b.ID] = roomID

	var call *CallRecord
	if cand.Mode == profile.ModeVideo {
		call = &CallRecord{
			CallID:    newCallID(),
			RoomID:    roomID,
			Caller:    a.ID,
			Callee:    b.ID,
			Status:    CallPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.calls[roomID] = call
	}
	r.unlock()

	profA, profB := a.Profile(), b.Profile()
	r.notifyMatched(a.ID, profB, room, now)
	r.notifyMatched(b.ID, profA, room, now)

	if call != nil {
		ready := protocol.VideoMatchReadyMsg{RoomID: roomID, CallID: call.CallID, Initiator: call.Caller}
		r.sender.Send(a.ID, protocol.TypeVideoMatchReady, ready)
		r.sender.Send(b.ID, protocol.TypeVideoMatchReady, ready)

		if profA.AutoConnect && profB.AutoConnect {
			auto := protocol.VideoCallAutoStartMsg{RoomID: roomID, CallID: call.CallID}
			r.sender.Send(a.ID, protocol.TypeVideoCallAutoStart, auto)
			r.sender.Send(b.ID, protocol.TypeVideoCallAutoStart, auto)
		}
	}
	return room, true
}

func (r *Registry) notifyMatched(peerID string, partner *profile.Profile, room *Room, now time.Time) {
	pub := partner.Public()
	r.sender.Send(peerID, protocol.TypeMatched, protocol.MatchedMsg{
		RoomID:          room.ID,
		Partner:         pub,
		Compatibility:   room.Compatibility,
		SharedInterests: room.SharedInterests,
		MatchMode:       room.Mode,
		Ts:              now.UnixMilli(),
	})
}

// Teardown dissolves the peer's room. The initiating peer gets no message;
// the partner receives partnerDisconnected with the reason. Tearing down a
// peer with no room reports false, so concurrent teardowns of the same room
// resolve to exactly one notification.
func (r *Registry) Teardown(peerID, reason string, now time.Time) (partnerID string, ok bool) {
	r.lock()
	roomID, inRoom := r.byPeer[peerID]
	if !inRoom {
		r.unlock()
		return "", false
	}
	room := r.rooms[roomID]
	partnerID = room.Partner(peerID)

	delete(r.rooms, roomID)
	delete(r.byPeer, room.PeerA)
	delete(r.byPeer, room.PeerB)
	if call, okC := r.calls[roomID]; okC {
		call.Status = CallEnded
		call.UpdatedAt = now
		delete(r.calls, roomID)
	}

	a, _ := r.sessions.Get(peerID)
	partner, _ := r.sessions.Get(partnerID)
	if a != nil {
		r.sessions.Unpair(a, partner)
	} else if partner != nil {
		r.sessions.Unpair(partner, nil)
	}
	r.unlock()

	if partner != nil {
		r.sender.Send(partnerID, protocol.TypePartnerDisconnected,
			protocol.PartnerDisconnectedMsg{Reason: reason})
	}
	return partnerID, true
}

// RoomOf returns the peer's committed room, if any.
func (r *Registry) RoomOf(peerID string) (*Room, bool) {
	r.lock()
	defer r.unlock()
	roomID, ok := r.byPeer[peerID]
	if !ok {
		return nil, false
	}
	return r.rooms[roomID], true
}

// Call returns the room's call record, if any.
func (r *Registry) Call(roomID string) (CallRecord, bool) {
	r.lock()
	defer r.unlock()
	call, ok := r.calls[roomID]
	if !ok {
		return CallRecord{}, false
	}
	return *call, true
}

// RequestCall registers a manual video-call-request from one peer of a text
// room. The record waits in the incoming state for up to CallRequestTTL; a
// fresh request from the same peer resets the clock.
func (r *Registry) RequestCall(peerID string, now time.Time) (CallRecord, bool) {
	r.lock()
	defer r.unlock()

	roomID, ok := r.byPeer[peerID]
	if !ok {
		return CallRecord{}, false
	}
	room := r.rooms[roomID]

	call, exists := r.calls[roomID]
	if exists && call.Status != CallEnded && call.Status != CallRejected &&
		call.Status != CallIncoming && call.Status != CallPending {
		// A live call is already in flight.
		return *call, false
	}
	call = &CallRecord{
		CallID:    newCallID(),
		RoomID:    roomID,
		Caller:    peerID,
		Callee:    room.Partner(peerID),
		Status:    CallIncoming,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(CallRequestTTL),
	}
	r.calls[roomID] = call
	return *call, true
}

// MarkCall moves the room's call record to the given status. A record is
// synthesized when a WebRTC signal arrives for a room without one, so an
// offer sent without a prior video-call-request still gets tracked. False
// means the peer has no room.
func (r *Registry) MarkCall(peerID, status string, now time.Time) (CallRecord, bool) {
	r.lock()
	defer r.unlock()

	roomID, ok := r.byPeer[peerID]
	if !ok {
		return CallRecord{}, false
	}
	call, exists := r.calls[roomID]
	if !exists {
		room := r.rooms[roomID]
		call = &CallRecord{
			CallID:    newCallID(),
			RoomID:    roomID,
			Caller:    peerID,
			Callee:    room.Partner(peerID),
			CreatedAt: now,
		}
		r.calls[roomID] = call
	}
	call.Status = status
	call.UpdatedAt = now
	call.ExpiresAt = time.Time{}
	if status == CallEnded || status == CallRejected {
		delete(r.calls, roomID)
	}
	return *call, true
}

// ExpireCallRequests ends incoming call requests older than their TTL and
// returns the expired records so the hub can notify both sides.
func (r *Registry) ExpireCallRequests(now time.Time) []CallRecord {
	r.lock()
	defer r.unlock()

	var expired []CallRecord
	for roomID, call := range r.calls {
		if call.Status == CallIncoming && !call.ExpiresAt.IsZero() && now.After(call.ExpiresAt) {
			call.Status = CallEnded
			call.UpdatedAt = now
			expired = append(expired, *call)
			delete(r.calls, roomID)
		}
	}
	return expired
}

// Stats counters for the live snapshot.
func (r *Registry) Stats() (activePairs, activeCalls, waitingRequests int) {
	r.lock()
	defer r.unlock()

	activePairs = len(r.rooms)
	for _, call := range r.calls {
		switch call.Status {
		case CallOffered, CallAnswered:
			activeCalls++
		case CallIncoming, CallPending:
			waitingRequests++
		}
	}
	return activePairs, activeCalls, waitingRequests
}

func newRoomID(now time.Time) string {
	return "room-" + uuid.NewString() + "-" + now.UTC().Format("20060102150405")
}

func newCallID() string {
	return "call-" + uuid.NewString()
}
