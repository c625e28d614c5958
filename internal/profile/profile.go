// Package profile normalizes registration input into the immutable peer
// profile consumed by the matching engine. Interests are trimmed and
// lowercased, missing fields are coerced to defaults, and ages are clamped
// to the supported range.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/driftchat/pairserver/internal/protocol"
)

// ErrInvalidProfile is returned when required registration fields are
// malformed. Callers answer it with a register-error event.
var ErrInvalidProfile = errors.New("invalid profile")

// Gender values accepted at registration.
const (
	GenderMale         = "male"
	GenderFemale       = "female"
	GenderOther        = "other"
	GenderNotSpecified = "not-specified"
)

// Gender preference values. PrefAny matches everyone.
const (
	PrefAny    = "any"
	PrefMale   = "male"
	PrefFemale = "female"
	PrefOther  = "other"
)

// Chat modes. Pairs are strictly mode-homogeneous.
const (
	ModeText  = "text"
	ModeVideo = "video"
)

// Age bounds for the service and defaults for missing fields.
const (
	MinAge = 13
	MaxAge = 120

	DefaultAge      = 18
	DefaultPriority = 1.0
	MaxInterests    = 10
	MaxUsernameLen  = 32
)

// AgeRange is the acceptable partner age interval.
type AgeRange struct {
	Min int
	Max int
}

// Contains reports whether age falls inside the range.
func (r AgeRange) Contains(age int) bool {
	return age >= r.Min && age <= r.Max
}

// Profile is a peer's normalized registration data. It is immutable after
// creation except for ChatMode, which may be re-set when a search starts.
type Profile struct {
	ID               string
	Username         string
	Gender           string
	Age              int
	Interests        []string // lowercase, deduped, sorted
	ChatMode         string
	GenderPreference string
	AgeRange         AgeRange
	Priority         float64
	AutoConnect      bool // start video calls without a manual request
}

// Normalize validates and normalizes a registration payload into a Profile.
// The id is the connection-scoped peer identifier assigned by the transport.
func Normalize(id string, msg protocol.RegisterMsg) (*Profile, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: missing peer id", ErrInvalidProfile)
	}

	username := strings.TrimSpace(msg.Username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidProfile)
	}
	if len(username) > MaxUsernameLen {
		username = username[:MaxUsernameLen]
	}

	gender := normalizeGender(msg.Gender)
	pref := normalizePreference(msg.GenderPreference)
	mode, err := NormalizeMode(msg.ChatMode)
	if err != nil {
		return nil, err
	}

	age := clampAge(msg.Age, DefaultAge)

	ageRange := AgeRange{
		Min: clampAge(msg.AgeRange.Min, MinAge),
		Max: clampAge(msg.AgeRange.Max, MaxAge),
	}
	if ageRange.Min > ageRange.Max {
		return nil, fmt.Errorf("%w: ageRange.min %d > ageRange.max %d",
			ErrInvalidProfile, ageRange.Min, ageRange.Max)
	}

	priority := msg.Priority
	if priority <= 0 {
		priority = DefaultPriority
	}

	return &Profile{
		ID:               id,
		Username:         username,
		Gender:           gender,
		Age:              age,
		Interests:        NormalizeInterests(msg.Interests),
		ChatMode:         mode,
		GenderPreference: pref,
		AgeRange:         ageRange,
		Priority:         priority,
		AutoConnect:      msg.AutoConnect,
	}, nil
}

// NormalizeMode validates a chat mode, defaulting to text when empty.
func NormalizeMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "":
		return ModeText, nil
	case ModeText:
		return ModeText, nil
	case ModeVideo:
		return ModeVideo, nil
	default:
		return "", fmt.Errorf("%w: unknown chat mode %q", ErrInvalidProfile, mode)
	}
}

// NormalizeInterests trims, lowercases, dedupes and sorts interest tags.
// Empty tags are dropped; at most MaxInterests survive.
func NormalizeInterests(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, tag := range raw {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == MaxInterests {
			break
		}
	}
	sort.Strings(out)
	return out
}

// AcceptsGender reports whether the profile's gender preference is satisfied
// by the partner's gender. PrefAny accepts everyone, including unspecified.
func (p *Profile) AcceptsGender(partnerGender string) bool {
	if p.GenderPreference == PrefAny {
		return true
	}
	return p.GenderPreference == partnerGender
}

// IsPremium reports whether the peer has boosted matching priority.
func (p *Profile) IsPremium() bool {
	return p.Priority > DefaultPriority
}

// Public returns the partner-visible view of the profile.
func (p *Profile) Public() protocol.PublicProfile {
	interests := make([]string, len(p.Interests))
	copy(interests, p.Interests)
	return protocol.PublicProfile{
		ID:        p.ID,
		Username:  p.Username,
		Gender:    p.Gender,
		Age:       p.Age,
		Interests: interests,
		ChatMode:  p.ChatMode,
	}
}

func normalizeGender(g string) string {
	switch strings.ToLower(strings.TrimSpace(g)) {
	case GenderMale:
		return GenderMale
	case GenderFemale:
		return GenderFemale
	case GenderOther:
		return GenderOther
	default:
		return GenderNotSpecified
	}
}

func normalizePreference(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case PrefMale:
		return PrefMale
	case PrefFemale:
		return PrefFemale
	case PrefOther:
		return PrefOther
	default:
		return PrefAny
	}
}

func clampAge(age, fallback int) int {
	if age == 0 {
		return fallback
	}
	if age < MinAge {
		return MinAge
	}
	if age > MaxAge {
		return MaxAge
	}
	return age
}
