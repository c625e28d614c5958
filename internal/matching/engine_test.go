package matching

import (
	"testing"
	"time"

	"github.com/driftchat/pairserver/internal/profile"
	"github.com/driftchat/pairserver/internal/scoring"
)

func newTestEngine() *Engine {
	return NewEngine(scoring.New(scoring.DefaultConfig()), 45*time.Second)
}

func mkProfile(id, mode string, age int, interests ...string) *profile.Profile {
	return &profile.Profile{
		ID:               id,
		Username:         id,
		Gender:           profile.GenderNotSpecified,
		Age:              age,
		Interests:        profile.NormalizeInterests(interests),
		ChatMode:         mode,
		GenderPreference: profile.PrefAny,
		AgeRange:         profile.AgeRange{Min: profile.MinAge, Max: profile.MaxAge},
		Priority:         profile.DefaultPriority,
	}
}

func TestFindMatch_HappyPath(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	e.Add(mkProfile("a", profile.ModeText, 25, "music", "travel"), 0, now)
	e.Add(mkProfile("b", profile.ModeText, 27, "music"), 0, now)

	cand, ok := e.FindMatch("a", now)
	if !ok {
		t.Fatal("expected a match")
	}
	if cand.PartnerID != "b" {
		t.Errorf("expected partner b, got %s", cand.PartnerID)
	}
	if cand.Mode != profile.ModeText {
		t.Errorf("expected text mode, got %s", cand.Mode)
	}
	if cand.Score < 65 {
		t.Errorf("expected score above text threshold, got %f", cand.Score)
	}
	if len(cand.SharedInterests) != 1 || cand.SharedInterests[0] != "music" {
		t.Errorf("expected shared interests [music], got %v", cand.SharedInterests)
	}
}

func TestFindMatch_ModeStrict(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	e.Add(mkProfile("a", profile.ModeText, 25, "music"), 0, now)
	e.Add(mkProfile("b", profile.ModeVideo, 25, "music"), 0, now)

	if _, ok := e.FindMatch("a", now); ok {
		t.Error("text seeker must not match a video peer")
	}
	if _, ok := e.FindMatch("b", now); ok {
		t.Error("video seeker must not fall back to a text peer")
	}

	// A compatible third peer resolves one side only.
	e.Add(mkProfile("c", profile.ModeVideo, 25, "music"), 0, now)
	cand, ok := e.FindMatch("b", now)
	if !ok || cand.PartnerID != "c" {
		t.Errorf("expected b-c video match, got %+v ok=%v", cand, ok)
	}
	if cand.Mode != profile.ModeVideo {
		t.Errorf("expected video mode, got %s", cand.Mode)
	}
}

func TestFindMatch_AgeRangeFilter(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	a := mkProfile("a", profile.ModeText, 22, "music")
	a.AgeRange = profile.AgeRange{Min: 30, Max: 60}
	e.Add(a, 0, now)
	e.Add(mkProfile("b", profile.ModeText, 25, "music"), 0, now)

	if _, ok := e.FindMatch("a", now); ok {
		t.Error("basic filter should reject partner outside declared age range")
	}
	if _, ok := e.FindMatch("b", now); ok {
		t.Error("filter must apply in both directions")
	}
}

func TestFindMatch_GenderPreference(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	a := mkProfile("a", profile.ModeText, 25, "music")
	a.Gender = profile.GenderMale
	a.GenderPreference = profile.PrefFemale
	e.Add(a, 0, now)

	b := mkProfile("b", profile.ModeText, 25, "music")
	b.Gender = profile.GenderMale
	e.Add(b, 0, now)

	if _, ok := e.FindMatch("a", now); ok {
		t.Error("gender preference should be enforced by the basic filter")
	}

	c := mkProfile("c", profile.ModeText, 25, "music")
	c.Gender = profile.GenderFemale
	e.Add(c, 0, now)

	cand, ok := e.FindMatch("a", now)
	if !ok || cand.PartnerID != "c" {
		t.Errorf("expected match with c, got %+v ok=%v", cand, ok)
	}
}

func TestBlock_Symmetric(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	e.Add(mkProfile("a", profile.ModeText, 25, "music"), 0, now)
	e.Add(mkProfile("b", profile.ModeText, 25, "music"), 0, now)
	e.Block("a", "b")

	if _, ok := e.FindMatch("a", now); ok {
		t.Error("blocker must not match the blocked peer")
	}
	if _, ok := e.FindMatch("b", now); ok {
		t.Error("blocked peer must not match the blocker")
	}

	// Block persists across re-entry into the pool.
	e.Remove("a")
	e.Add(mkProfile("a", profile.ModeText, 25, "music"), 1, now)
	if _, ok := e.FindMatch("a", now); ok {
		t.Error("block must survive pool re-entry")
	}
}

func TestRemove_EvictsScoreIndex(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	e.Add(mkProfile("a", profile.ModeText, 25, "music"), 0, now)
	e.Add(mkProfile("b", profile.ModeText, 25, "music"), 0, now)
	e.Remove("b")

	if e.IsWaiting("b") {
		t.Error("removed peer still waiting")
	}
	if _, ok := e.FindMatch("a", now); ok {
		t.Error("removed peer should not be matchable")
	}
	if _, ok := e.FindMatch("b", now); ok {
		t.Error("FindMatch on a removed peer must be a no-op")
	}
}

func TestCommitRemove_Atomic(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	e.Add(mkProfile("a", profile.ModeText, 25, "music"), 0, now)
	e.Add(mkProfile("b", profile.ModeText, 25, "music"), 0, now)

	if !e.CommitRemove("a", "b") {
		t.Fatal("commit remove should succeed while both wait")
	}
	if e.IsWaiting("a") || e.IsWaiting("b") {
		t.Error("both peers must leave the pool atomically")
	}
	if e.HistoryCount("a", "b") != 1 {
		t.Errorf("expected history count 1, got %d", e.HistoryCount("a", "b"))
	}
	if e.HistoryCount("b", "a") != 1 {
		t.Error("history must be unordered")
	}

	// Second commit fails: the pair already left the pool.
	if e.CommitRemove("a", "b") {
		t.Error("commit remove must fail once a peer is gone")
	}
}

func TestFindMatch_Threshold(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	add := func() {
		e.Add(mkProfile("a", profile.ModeText, 13, "chess"), 0, now)
		e.Add(mkProfile("b", profile.ModeText, 120, "surfing"), 0, now)
	}

	// A weak pairing still clears the text threshold on first contact, but
	// the accumulating rematch penalty pushes it under after two rounds.
	add()
	if _, ok := e.FindMatch("a", now); !ok {
		t.Fatal("expected first contact to clear the threshold")
	}
	e.CommitRemove("a", "b")
	add()
	e.CommitRemove("a", "b")
	add()

	if _, ok := e.FindMatch("a", now); ok {
		t.Error("repeat pairings should fall below the threshold")
	}
}

func TestFindMatch_DeterministicTieBreak(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	e.Add(mkProfile("z", profile.ModeText, 25, "music"), 0, now)
	// Two identical candidates: id order must decide.
	e.Add(mkProfile("b", profile.ModeText, 25, "music"), 0, now)
	e.Add(mkProfile("a", profile.ModeText, 25, "music"), 0, now)

	cand, ok := e.FindMatch("z", now)
	if !ok {
		t.Fatal("expected a match")
	}
	if cand.PartnerID != "a" {
		t.Errorf("tie-break should pick lexicographically smaller id, got %s", cand.PartnerID)
	}
}

func TestFindMatch_PriorityWins(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	e.Add(mkProfile("z", profile.ModeText, 25, "music"), 0, now)
	e.Add(mkProfile("b", profile.ModeText, 25, "music"), 0, now)

	premium := mkProfile("p", profile.ModeText, 25, "music")
	premium.Priority = 2.0
	e.Add(premium, 0, now)

	cand, ok := e.FindMatch("z", now)
	if !ok {
		t.Fatal("expected a match")
	}
	if cand.PartnerID != "p" {
		t.Errorf("premium candidate should win selection, got %s", cand.PartnerID)
	}
}

func TestUpdateAttempts(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	e.Add(mkProfile("a", profile.ModeText, 25, "music"), 0, now)

	e.UpdateAttempts("a", 3)
	entry, ok := e.Entry("a")
	if !ok {
		t.Fatal("peer a not in the pool")
	}
	if entry.Attempts != 3 {
		t.Errorf("entry attempts = %d, want 3", entry.Attempts)
	}

	// Absent peers are a no-op.
	e.UpdateAttempts("ghost", 7)
	if e.IsWaiting("ghost") {
		t.Error("UpdateAttempts must not create a pool entry")
	}
}

func TestStats(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	e.Add(mkProfile("a", profile.ModeText, 25, "music"), 0, now.Add(-10*time.Second))
	e.Add(mkProfile("b", profile.ModeVideo, 25, "music"), 0, now)

	st := e.Stats(now)
	if st.Waiting != 2 || st.WaitingText != 1 || st.WaitingVideo != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if st.AvgWaitMs < 4000 || st.AvgWaitMs > 6000 {
		t.Errorf("expected ~5s average wait, got %dms", st.AvgWaitMs)
	}
}

func TestWaitingIDs_Sorted(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	for _, id := range []string{"c", "a", "b"} {
		e.Add(mkProfile(id, profile.ModeText, 25), 0, now)
	}

	ids := e.WaitingIDs()
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("expected sorted snapshot, got %v", ids)
	}
}
