// Package session manages per-connection peer state. Sessions live in process
// memory for the lifetime of the WebSocket connection; each carries its own
// mutex so all handling for one peer is serialized, and two-peer critical
// sections take both locks in sorted id order to stay deadlock-free.
package session

import (
	"sync"
	"time"

	"github.com/driftchat/pairserver/internal/profile"
)

// Status constants for the session state machine.
const (
	StatusReady     = "ready"     // registered, not searching, not paired
	StatusSearching = "searching" // in the waiting pool
	StatusChatting  = "chatting"  // paired in a room
)

// Session is the live state of one connected peer. All fields below the mutex
// are guarded by it; callers either use the accessor methods or hold the lock
// across a multi-step transition via Lock/Unlock or Manager.Lock2.
type Session struct {
	ID string

	mu          sync.Mutex
	profile     *profile.Profile
	fingerprint string
	status      string
	roomID      string
	partnerID   string
	connectedAt time.Time
	lastActive  time.Time
	searchStart time.Time
	attempts    int // consecutive searches without a committed match
}

// Lock acquires the session's mutex. Use Manager.Lock2 when two sessions are
// involved.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session's mutex.
func (s *Session) Unlock() { s.mu.Unlock() }

// Snapshot is a copy of the session's mutable state at one instant.
type Snapshot struct {
	ID          string
	Profile     *profile.Profile
	Fingerprint string
	Status      string
	RoomID      string
	PartnerID   string
	ConnectedAt time.Time
	LastActive  time.Time
	SearchStart time.Time
	Attempts    int
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:          s.ID,
		Profile:     s.profile,
		Fingerprint: s.fingerprint,
		Status:      s.status,
		RoomID:      s.roomID,
		PartnerID:   s.partnerID,
		ConnectedAt: s.connectedAt,
		LastActive:  s.lastActive,
		SearchStart: s.searchStart,
		Attempts:    s.attempts,
	}
}

// Status returns the current state machine status.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Profile returns the registered profile, or nil before registration.
func (s *Session) Profile() *profile.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// SetProfile installs a (re-)registered profile. Registration is only legal
// outside a room; re-registering while chatting reports false and changes
// nothing.
func (s *Session) SetProfile(p *profile.Profile, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusChatting {
		return false
	}
	s.profile = p
	s.lastActive = now
	return true
}

// SetFingerprint records the client's browser fingerprint hash.
func (s *Session) SetFingerprint(fp string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprint = fp
	s.lastActive = now
}

// Fingerprint returns the recorded fingerprint hash, or "".
func (s *Session) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprint
}

// Touch refreshes the activity timestamp. Called on every inbound event.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

// LastActive returns the most recent activity timestamp.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// StartSearch moves the session into the searching state. It reports false
// when the peer has no profile or is currently chatting; a repeated search
// while already searching restarts the clock and counts an attempt.
func (s *Session) StartSearch(now time.Time) (attempts int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil || s.status == StatusChatting {
		return 0, false
	}
	if s.status == StatusSearching {
		s.attempts++
	}
	s.status = StatusSearching
	s.searchStart = now
	s.lastActive = now
	return s.attempts, true
}

// BumpAttempts increments the retry counter during automatic rematch cycles.
func (s *Session) BumpAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return s.attempts
}

// CancelSearch returns the session to ready. Reports false when the session
// was not searching.
func (s *Session) CancelSearch(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusSearching {
		return false
	}
	s.status = StatusReady
	s.lastActive = now
	return true
}

// enterRoomLocked transitions searching -> chatting. Caller holds the lock.
func (s *Session) enterRoomLocked(roomID, partnerID string, now time.Time) bool {
	if s.status != StatusSearching {
		return false
	}
	s.status = StatusChatting
	s.roomID = roomID
	s.partnerID = partnerID
	s.attempts = 0
	s.lastActive = now
	return true
}

// leaveRoomLocked transitions chatting -> ready, returning the vacated room
// id. Caller holds the lock. Leaving while not chatting is a no-op.
func (s *Session) leaveRoomLocked() (roomID string, ok bool) {
	if s.status != StatusChatting {
		return "", false
	}
	roomID = s.roomID
	s.status = StatusReady
	s.roomID = ""
	s.partnerID = ""
	return roomID, true
}

// Room returns the current room and partner ids, valid only while chatting.
func (s *Session) Room() (roomID, partnerID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusChatting {
		return "", "", false
	}
	return s.roomID, s.partnerID, true
}
