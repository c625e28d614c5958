// Package matching owns the waiting pool and pairs searching peers. Scores
// between all waiting candidates are precomputed on entry, kept in a
// two-directional index, and consulted by FindMatch with strict chat-mode
// equality. The engine never commits a pair itself: the pair registry calls
// back into CommitRemove inside its own critical section.
package matching

import (
	"sort"
	"sync"
	"time"

	"github.com/driftchat/pairserver/internal/profile"
	"github.com/driftchat/pairserver/internal/scoring"
)

// Entry is a waiting peer: a profile snapshot plus search bookkeeping.
// It exists only while the peer is searching.
type Entry struct {
	Profile  *profile.Profile
	JoinedAt time.Time
	Attempts int
}

// Candidate is a selected partner for one peer, produced by FindMatch.
type Candidate struct {
	PeerID          string
	PartnerID       string
	Score           float64
	SharedInterests []string
	Mode            string
}

// Stats summarizes the engine state for introspection.
type Stats struct {
	Waiting      int
	WaitingText  int
	WaitingVideo int
	AvgWaitMs    int64
	AvgScore     float64 // mean of all indexed candidate scores
}

// pairKey is an unordered peer-id pair. Ids are stored sorted so both
// orderings map to the same key.
type pairKey struct {
	a, b string
}

func keyFor(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// multiplier caps applied on top of the cached score during selection.
const (
	maxWaitMultiplier     = 0.15
	maxPriorityMultiplier = 0.15
	priorityStep          = 0.1 // per priority point above baseline
)

// Engine is the matching engine. All state is process-local and guarded by
// one mutex; every operation is O(pool size) or better.
type Engine struct {
	mu      sync.Mutex
	scorer  *scoring.Scorer
	maxWait time.Duration

	pool    map[string]*Entry
	scores  map[string]map[string]float64 // peer -> partner -> cached score
	blocks  map[string]map[string]bool    // symmetric
	history map[pairKey]int
}

// NewEngine creates an empty engine using the given scorer. maxWait bounds
// the search and also normalizes the wait-time selection multiplier.
func NewEngine(scorer *scoring.Scorer, maxWait time.Duration) *Engine {
	return &Engine{
		scorer:  scorer,
		maxWait: maxWait,
		pool:    make(map[string]*Entry),
		scores:  make(map[string]map[string]float64),
		blocks:  make(map[string]map[string]bool),
		history: make(map[pairKey]int),
	}
}

// Add inserts a peer into the waiting pool and precomputes its score against
// every basic-compatible candidate, updating both directions of the index.
// Re-adding an already waiting peer replaces its entry.
func (e *Engine) Add(p *profile.Profile, attempts int, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.evictLocked(p.ID)

	entry := &Entry{Profile: p, JoinedAt: now, Attempts: attempts}
	e.pool[p.ID] = entry
	e.scores[p.ID] = make(map[string]float64)

	for id, other := range e.pool {
		if id == p.ID {
			continue
		}
		if !e.basicCompatibleLocked(p, other.Profile) {
			continue
		}

		score := e.scorer.Score(
			scoring.Candidate{Profile: p, JoinedAt: entry.JoinedAt, Attempts: entry.Attempts},
			scoring.Candidate{Profile: other.Profile, JoinedAt: other.JoinedAt, Attempts: other.Attempts},
			e.history[keyFor(p.ID, id)],
			now,
		)

		e.scores[p.ID][id] = score
		if _, ok := e.scores[id]; !ok {
			e.scores[id] = make(map[string]float64)
		}
		e.scores[id][p.ID] = score
	}
}

// Remove deletes a peer from the pool and evicts every index entry that
// mentions it. Removing an absent peer is a no-op.
func (e *Engine) Remove(peerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evictLocked(peerID)
}

// CommitRemove removes both peers of a committing pair from the pool and
// records the pairing in the match history. It reports whether both peers
// were still waiting; the caller must abort the commit when it returns false.
func (e *Engine) CommitRemove(a, b string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.pool[a]; !ok {
		return false
	}
	if _, ok := e.pool[b]; !ok {
		return false
	}

	e.evictLocked(a)
	e.evictLocked(b)
	e.history[keyFor(a, b)]++
	return true
}

// FindMatch selects the best candidate for peerID, or ok=false when none
// qualifies. Chat-mode equality is strict: a video seeker is never offered a
// text peer, even when no video peer exists. Calling FindMatch for a peer
// that already left the pool is a no-op.
func (e *Engine) FindMatch(peerID string, now time.Time) (Candidate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.pool[peerID]
	if !ok {
		return Candidate{}, false
	}
	threshold := e.scorer.Threshold(entry.Profile.ChatMode)

	type ranked struct {
		id        string
		score     float64
		effective float64
		priority  float64
		joinedAt  time.Time
	}
	var best *ranked

	for id, score := range e.scores[peerID] {
		other, ok := e.pool[id]
		if !ok {
			continue // left the pool since scoring
		}
		if other.Profile.ChatMode != entry.Profile.ChatMode {
			continue
		}
		if e.blockedLocked(peerID, id) {
			continue
		}
		if score < threshold {
			continue
		}

		cand := ranked{
			id:        id,
			score:     score,
			effective: score * (1 + e.waitMultiplier(other, now) + priorityMultiplier(other.Profile.Priority)),
			priority:  other.Profile.Priority,
			joinedAt:  other.JoinedAt,
		}
		if best == nil || better(cand.effective, cand.priority, cand.joinedAt, cand.id,
			best.effective, best.priority, best.joinedAt, best.id) {
			c := cand
			best = &c
		}
	}

	if best == nil {
		return Candidate{}, false
	}

	partner := e.pool[best.id]
	return Candidate{
		PeerID:          peerID,
		PartnerID:       best.id,
		Score:           best.score,
		SharedInterests: scoring.SharedInterests(entry.Profile, partner.Profile),
		Mode:            entry.Profile.ChatMode,
	}, true
}

// Block inserts a symmetric block between two peers and evicts their score
// index entries in both directions.
func (e *Engine) Block(peerID, otherID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.blocks[peerID] == nil {
		e.blocks[peerID] = make(map[string]bool)
	}
	e.blocks[peerID][otherID] = true
	if e.blocks[otherID] == nil {
		e.blocks[otherID] = make(map[string]bool)
	}
	e.blocks[otherID][peerID] = true

	delete(e.scores[peerID], otherID)
	delete(e.scores[otherID], peerID)
}

// Forget drops per-peer residue (blocks) when the session is destroyed.
// Match history is kept: it is keyed by id pairs and ids are never reused
// within a process lifetime.
func (e *Engine) Forget(peerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.evictLocked(peerID)
	for other := range e.blocks[peerID] {
		delete(e.blocks[other], peerID)
	}
	delete(e.blocks, peerID)
}

// UpdateAttempts refreshes a waiting entry's attempt counter so Entry
// readers see the live value. Scores cached at Add are not recomputed.
func (e *Engine) UpdateAttempts(peerID string, attempts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.pool[peerID]; ok {
		entry.Attempts = attempts
	}
}

// IsWaiting reports whether the peer is currently in the pool.
func (e *Engine) IsWaiting(peerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pool[peerID]
	return ok
}

// Entry returns a copy of the peer's waiting entry.
func (e *Engine) Entry(peerID string) (Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.pool[peerID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// WaitingIDs returns a sorted snapshot of the pool's peer ids. The sweep
// loop iterates this snapshot and re-checks membership per peer.
func (e *Engine) WaitingIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.pool))
	for id := range e.pool {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HistoryCount returns how many times two peers have been paired.
func (e *Engine) HistoryCount(a, b string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history[keyFor(a, b)]
}

// Stats returns pool counters for introspection and broadcast.
func (e *Engine) Stats(now time.Time) Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Stats{Waiting: len(e.pool)}

	var waitSum time.Duration
	for _, entry := range e.pool {
		waitSum += now.Sub(entry.JoinedAt)
		if entry.Profile.ChatMode == profile.ModeVideo {
			st.WaitingVideo++
		} else {
			st.WaitingText++
		}
	}
	if len(e.pool) > 0 {
		st.AvgWaitMs = (waitSum / time.Duration(len(e.pool))).Milliseconds()
	}

	var scoreSum float64
	var scoreN int
	for _, m := range e.scores {
		for _, s := range m {
			scoreSum += s
			scoreN++
		}
	}
	if scoreN > 0 {
		st.AvgScore = scoreSum / float64(scoreN)
	}
	return st
}

// evictLocked removes a peer from the pool and from every score index.
func (e *Engine) evictLocked(peerID string) {
	if _, ok := e.pool[peerID]; !ok {
		return
	}
	delete(e.pool, peerID)
	for partner := range e.scores[peerID] {
		delete(e.scores[partner], peerID)
	}
	delete(e.scores, peerID)
}

// basicCompatibleLocked is the hard filter applied before any scoring:
// mutual gender preference, mutual age range, same chat mode, not blocked.
func (e *Engine) basicCompatibleLocked(a, b *profile.Profile) bool {
	if a.ChatMode != b.ChatMode {
		return false
	}
	if e.blockedLocked(a.ID, b.ID) {
		return false
	}
	if !a.AcceptsGender(b.Gender) || !b.AcceptsGender(a.Gender) {
		return false
	}
	if !a.AgeRange.Contains(b.Age) || !b.AgeRange.Contains(a.Age) {
		return false
	}
	return true
}

func (e *Engine) blockedLocked(a, b string) bool {
	return e.blocks[a][b] || e.blocks[b][a]
}

// waitMultiplier grows linearly with the candidate's time in the pool,
// saturating at maxWaitMultiplier when the wait reaches maxWait.
func (e *Engine) waitMultiplier(entry *Entry, now time.Time) float64 {
	if e.maxWait <= 0 {
		return 0
	}
	frac := float64(now.Sub(entry.JoinedAt)) / float64(e.maxWait)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return maxWaitMultiplier * frac
}

func priorityMultiplier(priority float64) float64 {
	boost := (priority - profile.DefaultPriority) * priorityStep
	if boost < 0 {
		return 0
	}
	if boost > maxPriorityMultiplier {
		return maxPriorityMultiplier
	}
	return boost
}

// better implements the deterministic selection order: effective score
// descending, then priority descending, then longer wait, then peer id
// ascending.
func better(eff1, pri1 float64, join1 time.Time, id1 string,
	eff2, pri2 float64, join2 time.Time, id2 string) bool {
	if eff1 != eff2 {
		return eff1 > eff2
	}
	if pri1 != pri2 {
		return pri1 > pri2
	}
	if !join1.Equal(join2) {
		return join1.Before(join2)
	}
	return id1 < id2
}
