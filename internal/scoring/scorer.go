// Package scoring computes the 0-100 compatibility score between two waiting
// peers. The scorer is a pure function of the two candidates, the rematch
// history count and the clock; the matching engine owns candidate selection
// and tie-breaking.
package scoring

import (
	"math"
	"time"

	"github.com/driftchat/pairserver/internal/profile"
)

// Config holds every weight and threshold the scorer uses. All values are
// overridable through the environment; zero values fall back to defaults.
type Config struct {
	// Term weights. They scale each term's 0..1 value into score points
	// (weight * 50).
	InterestWeight    float64
	DemographicWeight float64
	ChatModeWeight    float64
	BehaviorWeight    float64

	// Interest term.
	SharedInterestBonus float64 // flat bonus when any interest is shared

	// Demographic term.
	OptimalAgeDiff  int     // full bonus at or below this difference
	MaxAgeDiff      int     // bonus decays to zero at this difference
	AgeBonus        float64 // bonus for an optimal age difference
	PrefBonus       float64 // per direction where genderPreference holds
	SameGenderBonus float64 // both genders specified and equal

	// Behavior term.
	WaitBoostFloor time.Duration // wait boost starts past this
	PriorityTime   time.Duration // wait boost saturates here
	MaxWaitBoost   float64
	AttemptBoost   float64 // per search attempt
	MaxAttemptBoost float64

	// Multiplicative adjustment, clamped to [-MaxAdjustment, +MaxAdjustment].
	MaxAdjustment    float64
	PremiumBonus     float64 // either peer is premium
	VideoModeBonus   float64 // both peers in video mode
	VideoTextPenalty float64 // unreachable in strict-mode selection, kept for completeness
	AgeRangeBonus    float64 // split per direction where age fits the declared range
	HistoryPenalty   float64 // per previous pairing of the same two peers
	MaxHistoryPenalty float64

	// Selection thresholds, consumed by the matching engine.
	TextThreshold  float64
	VideoThreshold float64
}

// DefaultConfig returns the production scoring defaults.
func DefaultConfig() Config {
	return Config{
		InterestWeight:    0.35,
		DemographicWeight: 0.25,
		ChatModeWeight:    0.30,
		BehaviorWeight:    0.10,

		SharedInterestBonus: 0.3,

		OptimalAgeDiff:  5,
		MaxAgeDiff:      25,
		AgeBonus:        0.3,
		PrefBonus:       0.15,
		SameGenderBonus: 0.10,

		WaitBoostFloor:  5 * time.Second,
		PriorityTime:    15 * time.Second,
		MaxWaitBoost:    0.3,
		AttemptBoost:    0.05,
		MaxAttemptBoost: 0.2,

		MaxAdjustment:     0.3,
		PremiumBonus:      0.10,
		VideoModeBonus:    0.05,
		VideoTextPenalty:  0.10,
		AgeRangeBonus:     0.10,
		HistoryPenalty:    0.1,
		MaxHistoryPenalty: 0.3,

		TextThreshold:  65,
		VideoThreshold: 70,
	}
}

// baseScore is the starting point before any weighted term is added.
const baseScore = 50.0

// Candidate is the scorer's view of a waiting peer: the profile plus the
// runtime search state that feeds the behavior term.
type Candidate struct {
	Profile  *profile.Profile
	JoinedAt time.Time
	Attempts int
}

// Scorer computes compatibility scores with a fixed configuration.
type Scorer struct {
	cfg Config
}

// New creates a Scorer with the given configuration.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Threshold returns the minimum committing score for the given chat mode.
func (s *Scorer) Threshold(mode string) float64 {
	if mode == profile.ModeVideo {
		return s.cfg.VideoThreshold
	}
	return s.cfg.TextThreshold
}

// Score maps two candidates to a compatibility score in [0, 100], rounded to
// one decimal. historyCount is the number of times the two peers were paired
// before. The result is symmetric in its arguments: every per-direction term
// is summed over both directions.
func (s *Scorer) Score(a, b Candidate, historyCount int, now time.Time) float64 {
	cfg := s.cfg

	weighted := cfg.InterestWeight*50*s.interestTerm(a.Profile, b.Profile) +
		cfg.DemographicWeight*50*s.demographicTerm(a.Profile, b.Profile) +
		cfg.ChatModeWeight*50*s.chatModeTerm(a.Profile, b.Profile) +
		cfg.BehaviorWeight*50*s.behaviorTerm(a, b, now)

	adj := s.adjustment(a.Profile, b.Profile, historyCount)

	score := (baseScore + weighted) * (1 + adj)
	score = math.Round(score*10) / 10
	return clamp(score, 0, 100)
}

// SharedInterests returns the (sorted) intersection of the two interest
// sets. Both inputs are already normalized and sorted by the profile package.
func SharedInterests(a, b *profile.Profile) []string {
	shared := make([]string, 0)
	i, j := 0, 0
	for i < len(a.Interests) && j < len(b.Interests) {
		switch {
		case a.Interests[i] == b.Interests[j]:
			shared = append(shared, a.Interests[i])
			i++
			j++
		case a.Interests[i] < b.Interests[j]:
			i++
		default:
			j++
		}
	}
	return shared
}

// interestTerm is the Jaccard similarity of the interest sets plus a flat
// bonus for any overlap at all, capped at 1.
func (s *Scorer) interestTerm(a, b *profile.Profile) float64 {
	if len(a.Interests) == 0 && len(b.Interests) == 0 {
		return 0
	}

	shared := len(SharedInterests(a, b))
	union := len(a.Interests) + len(b.Interests) - shared
	if union == 0 {
		return 0
	}

	term := float64(shared) / float64(union)
	if shared > 0 {
		term += s.cfg.SharedInterestBonus
	}
	return clamp(term, 0, 1)
}

// demographicTerm starts at 0.5 and adds age-proximity, preference and
// same-gender bonuses.
func (s *Scorer) demographicTerm(a, b *profile.Profile) float64 {
	cfg := s.cfg
	term := 0.5

	diff := a.Age - b.Age
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff <= cfg.OptimalAgeDiff:
		term += cfg.AgeBonus
	case diff < cfg.MaxAgeDiff:
		span := float64(cfg.MaxAgeDiff - cfg.OptimalAgeDiff)
		term += cfg.AgeBonus * float64(cfg.MaxAgeDiff-diff) / span
	}

	if a.AcceptsGender(b.Gender) {
		term += cfg.PrefBonus
	}
	if b.AcceptsGender(a.Gender) {
		term += cfg.PrefBonus
	}

	if a.Gender != profile.GenderNotSpecified && a.Gender == b.Gender {
		term += cfg.SameGenderBonus
	}

	return clamp(term, 0, 1)
}

// chatModeTerm rewards matching modes. The mixed value exists only for
// score introspection; the engine never selects across modes.
func (s *Scorer) chatModeTerm(a, b *profile.Profile) float64 {
	switch {
	case a.ChatMode == profile.ModeVideo && b.ChatMode == profile.ModeVideo:
		return 1.0
	case a.ChatMode == profile.ModeText && b.ChatMode == profile.ModeText:
		return 0.8
	default:
		return 0.4
	}
}

// behaviorTerm boosts long-waiting and repeatedly retrying peers.
func (s *Scorer) behaviorTerm(a, b Candidate, now time.Time) float64 {
	cfg := s.cfg

	wait := (now.Sub(a.JoinedAt) + now.Sub(b.JoinedAt)) / 2
	var waitBoost float64
	if wait > cfg.WaitBoostFloor {
		span := cfg.PriorityTime - cfg.WaitBoostFloor
		frac := float64(wait-cfg.WaitBoostFloor) / float64(span)
		waitBoost = cfg.MaxWaitBoost * clamp(frac, 0, 1)
	}

	attempts := float64(a.Attempts+b.Attempts) / 2
	attemptBoost := math.Min(attempts*cfg.AttemptBoost, cfg.MaxAttemptBoost)

	return clamp(waitBoost+attemptBoost, 0, 1)
}

// adjustment computes the multiplicative bonus/penalty factor.
func (s *Scorer) adjustment(a, b *profile.Profile, historyCount int) float64 {
	cfg := s.cfg
	var adj float64

	if a.IsPremium() || b.IsPremium() {
		adj += cfg.PremiumBonus
	}

	bothVideo := a.ChatMode == profile.ModeVideo && b.ChatMode == profile.ModeVideo
	sameMode := a.ChatMode == b.ChatMode
	if bothVideo {
		adj += cfg.VideoModeBonus
	} else if !sameMode {
		adj -= cfg.VideoTextPenalty
	}

	if a.AgeRange.Contains(b.Age) {
		adj += cfg.AgeRangeBonus / 2
	}
	if b.AgeRange.Contains(a.Age) {
		adj += cfg.AgeRangeBonus / 2
	}

	if historyCount > 0 {
		adj -= math.Min(cfg.MaxHistoryPenalty, cfg.HistoryPenalty*float64(historyCount))
	}

	return clamp(adj, -cfg.MaxAdjustment, cfg.MaxAdjustment)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
