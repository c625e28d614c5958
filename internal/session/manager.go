package session

import (
	"sort"
	"sync"
	"time"
)

// Manager owns the id -> session table. Creation and destruction lock the
// manager; per-session state is guarded by each session's own mutex.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session table.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create registers a new session in the ready state. An existing session with
// the same id is replaced.
func (m *Manager) Create(id string, now time.Time) *Session {
	s := &Session{
		ID:          id,
		status:      StatusReady,
		connectedAt: now,
		lastActive:  now,
	}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s
}

// Get looks up a session by peer id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	return s, ok
}

// Destroy removes the session from the table. The caller is responsible for
// tearing down any room the peer was in first.
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CountChatting returns how many sessions are currently paired.
func (m *Manager) CountChatting() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.Status() == StatusChatting {
			n++
		}
	}
	return n
}

// IdleSince returns the ids of sessions whose last activity is older than the
// threshold, sorted for deterministic sweep order.
func (m *Manager) IdleSince(cutoff time.Time) []string {
	m.mu.RLock()
	var ids []string
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Lock2 acquires both session locks in sorted id order and returns the
// unlock. Both pointers may refer to the same session.
func (m *Manager) Lock2(a, b *Session) func() {
	if a == b {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if second.ID < first.ID {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// Pair atomically moves two searching sessions into a shared room. With both
// locks held it verifies both peers are still searching, runs commit (the
// matching pool removal), and applies the transition. Any failed step leaves
// both sessions untouched.
func (m *Manager) Pair(a, b *Session, roomID string, now time.Time, commit func() bool) bool {
	unlock := m.Lock2(a, b)
	defer unlock()

	if a.status != StatusSearching || b.status != StatusSearching {
		return false
	}
	if commit != nil && !commit() {
		return false
	}
	a.enterRoomLocked(roomID, b.ID, now)
	b.enterRoomLocked(roomID, a.ID, now)
	return true
}

// Unpair moves both peers of a room back to ready and returns the vacated
// room id. b may be nil when the partner's session is already gone. Reports
// false when a was not chatting; the transition is idempotent per pair.
func (m *Manager) Unpair(a, b *Session) (roomID string, ok bool) {
	if b == nil {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.leaveRoomLocked()
	}

	unlock := m.Lock2(a, b)
	defer unlock()

	roomID, ok = a.leaveRoomLocked()
	if r, bOK := b.leaveRoomLocked(); !ok && bOK {
		roomID, ok = r, true
	}
	return roomID, ok
}
