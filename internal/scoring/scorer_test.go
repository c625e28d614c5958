package scoring

import (
	"testing"
	"time"

	"github.com/driftchat/pairserver/internal/profile"
)

func textPeer(id string, age int, interests ...string) Candidate {
	return Candidate{
		Profile: &profile.Profile{
			ID:               id,
			Username:         id,
			Gender:           profile.GenderNotSpecified,
			Age:              age,
			Interests:        profile.NormalizeInterests(interests),
			ChatMode:         profile.ModeText,
			GenderPreference: profile.PrefAny,
			AgeRange:         profile.AgeRange{Min: profile.MinAge, Max: profile.MaxAge},
			Priority:         profile.DefaultPriority,
		},
		JoinedAt: time.Now(),
	}
}

func TestScore_Symmetric(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()

	a := textPeer("a", 25, "music", "travel")
	b := textPeer("b", 27, "music")
	a.Profile.Gender = profile.GenderFemale
	b.Profile.Gender = profile.GenderMale
	a.Profile.GenderPreference = profile.PrefMale

	ab := s.Score(a, b, 0, now)
	ba := s.Score(b, a, 0, now)
	if ab != ba {
		t.Errorf("score not symmetric: %f vs %f", ab, ba)
	}
}

func TestScore_Range(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()

	pairs := [][2]Candidate{
		{textPeer("a", 25, "music"), textPeer("b", 27, "music")},
		{textPeer("c", 13), textPeer("d", 120)},
		{textPeer("e", 50, "x", "y", "z"), textPeer("f", 50, "x", "y", "z")},
	}
	for _, p := range pairs {
		got := s.Score(p[0], p[1], 0, now)
		if got < 0 || got > 100 {
			t.Errorf("score out of range: %f", got)
		}
	}
}

func TestScore_SharedInterestsHelp(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()

	a := textPeer("a", 25, "music", "travel")
	bShared := textPeer("b", 25, "music", "travel")
	bNone := textPeer("b", 25, "chess", "baking")

	with := s.Score(a, bShared, 0, now)
	without := s.Score(a, bNone, 0, now)
	if with <= without {
		t.Errorf("shared interests should raise the score: %f <= %f", with, without)
	}
}

func TestScore_HappyPathTextPairAboveThreshold(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()

	a := textPeer("a", 25, "music", "travel")
	b := textPeer("b", 27, "music")

	got := s.Score(a, b, 0, now)
	if got < s.Threshold(profile.ModeText) {
		t.Errorf("compatible text peers should clear the text threshold: %f", got)
	}
}

func TestScore_AgeDecay(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()

	a := textPeer("a", 30, "music")
	close := textPeer("b", 32, "music")
	mid := textPeer("c", 45, "music")
	far := textPeer("d", 60, "music")

	sc := s.Score(a, close, 0, now)
	sm := s.Score(a, mid, 0, now)
	sf := s.Score(a, far, 0, now)
	if !(sc > sm && sm > sf) {
		t.Errorf("expected monotonic age decay: close=%f mid=%f far=%f", sc, sm, sf)
	}
}

func TestScore_WaitTimeBoost(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()

	fresh := textPeer("a", 25, "music")
	fresh2 := textPeer("b", 25, "music")

	waited := textPeer("a", 25, "music")
	waited2 := textPeer("b", 25, "music")
	waited.JoinedAt = now.Add(-20 * time.Second)
	waited2.JoinedAt = now.Add(-20 * time.Second)

	if s.Score(waited, waited2, 0, now) <= s.Score(fresh, fresh2, 0, now) {
		t.Error("long waiters should score higher than fresh arrivals")
	}
}

func TestScore_HistoryPenalty(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()

	a := textPeer("a", 25, "music")
	b := textPeer("b", 25, "music")

	first := s.Score(a, b, 0, now)
	repeat := s.Score(a, b, 2, now)
	if repeat >= first {
		t.Errorf("rematch penalty missing: %f >= %f", repeat, first)
	}

	// Penalty saturates.
	deep := s.Score(a, b, 10, now)
	deeper := s.Score(a, b, 50, now)
	if deep != deeper {
		t.Errorf("history penalty should cap: %f vs %f", deep, deeper)
	}
}

func TestScore_PremiumBonus(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()

	a := textPeer("a", 25, "music")
	b := textPeer("b", 25, "music")
	plain := s.Score(a, b, 0, now)

	a.Profile.Priority = 2.0
	boosted := s.Score(a, b, 0, now)
	if boosted <= plain {
		t.Errorf("premium peer should boost the score: %f <= %f", boosted, plain)
	}
}

func TestScore_VideoBeatsText(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()

	at := textPeer("a", 25, "music")
	bt := textPeer("b", 25, "music")
	text := s.Score(at, bt, 0, now)

	av := textPeer("a", 25, "music")
	bv := textPeer("b", 25, "music")
	av.Profile.ChatMode = profile.ModeVideo
	bv.Profile.ChatMode = profile.ModeVideo
	video := s.Score(av, bv, 0, now)

	if video <= text {
		t.Errorf("both-video should outscore both-text: %f <= %f", video, text)
	}
}

func TestScore_RoundedToOneDecimal(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()

	got := s.Score(textPeer("a", 25, "music"), textPeer("b", 28, "music", "art"), 0, now)
	if got*10 != float64(int64(got*10)) {
		t.Errorf("score not rounded to one decimal: %v", got)
	}
}

func TestSharedInterests(t *testing.T) {
	a := textPeer("a", 25, "music", "travel", "art").Profile
	b := textPeer("b", 25, "travel", "music", "chess").Profile

	shared := SharedInterests(a, b)
	if len(shared) != 2 || shared[0] != "music" || shared[1] != "travel" {
		t.Errorf("unexpected shared interests: %v", shared)
	}

	none := SharedInterests(a, textPeer("c", 25).Profile)
	if len(none) != 0 {
		t.Errorf("expected empty intersection, got %v", none)
	}
}

func TestThreshold_PerMode(t *testing.T) {
	s := New(DefaultConfig())
	if s.Threshold(profile.ModeVideo) != 70 {
		t.Errorf("video threshold: %f", s.Threshold(profile.ModeVideo))
	}
	if s.Threshold(profile.ModeText) != 65 {
		t.Errorf("text threshold: %f", s.Threshold(profile.ModeText))
	}
}
