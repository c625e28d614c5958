package profile

import (
	"errors"
	"testing"

	"github.com/driftchat/pairserver/internal/protocol"
)

func baseMsg() protocol.RegisterMsg {
	return protocol.RegisterMsg{
		Username:         "anna",
		Gender:           "female",
		Age:              25,
		Interests:        []string{"Music", " travel ", "music"},
		ChatMode:         "text",
		GenderPreference: "any",
		AgeRange:         protocol.AgeRange{Min: 18, Max: 40},
	}
}

func TestNormalize_Basic(t *testing.T) {
	p, err := Normalize("peer-1", baseMsg())
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	if p.ID != "peer-1" || p.Username != "anna" {
		t.Errorf("unexpected identity: %+v", p)
	}
	if len(p.Interests) != 2 {
		t.Fatalf("expected deduped interests, got %v", p.Interests)
	}
	if p.Interests[0] != "music" || p.Interests[1] != "travel" {
		t.Errorf("expected sorted lowercase interests, got %v", p.Interests)
	}
	if p.Priority != DefaultPriority {
		t.Errorf("expected default priority, got %f", p.Priority)
	}
}

func TestNormalize_Defaults(t *testing.T) {
	msg := protocol.RegisterMsg{Username: "bob"}

	p, err := Normalize("peer-2", msg)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	if p.Gender != GenderNotSpecified {
		t.Errorf("expected gender default, got %q", p.Gender)
	}
	if p.GenderPreference != PrefAny {
		t.Errorf("expected preference default, got %q", p.GenderPreference)
	}
	if p.ChatMode != ModeText {
		t.Errorf("expected text mode default, got %q", p.ChatMode)
	}
	if p.Age != DefaultAge {
		t.Errorf("expected default age, got %d", p.Age)
	}
	if p.AgeRange.Min != MinAge || p.AgeRange.Max != MaxAge {
		t.Errorf("expected full age range default, got %+v", p.AgeRange)
	}
}

func TestNormalize_ClampsAges(t *testing.T) {
	msg := baseMsg()
	msg.Age = 150
	msg.AgeRange = protocol.AgeRange{Min: 5, Max: 300}

	p, err := Normalize("peer-3", msg)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if p.Age != MaxAge {
		t.Errorf("expected age clamped to %d, got %d", MaxAge, p.Age)
	}
	if p.AgeRange.Min != MinAge || p.AgeRange.Max != MaxAge {
		t.Errorf("expected clamped range, got %+v", p.AgeRange)
	}
}

func TestNormalize_InvertedAgeRange(t *testing.T) {
	msg := baseMsg()
	msg.AgeRange = protocol.AgeRange{Min: 60, Max: 30}

	_, err := Normalize("peer-4", msg)
	if !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("expected ErrInvalidProfile, got %v", err)
	}
}

func TestNormalize_EmptyUsername(t *testing.T) {
	msg := baseMsg()
	msg.Username = "   "

	_, err := Normalize("peer-5", msg)
	if !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("expected ErrInvalidProfile, got %v", err)
	}
}

func TestNormalize_UnknownMode(t *testing.T) {
	msg := baseMsg()
	msg.ChatMode = "hologram"

	_, err := Normalize("peer-6", msg)
	if !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("expected ErrInvalidProfile, got %v", err)
	}
}

func TestNormalizeInterests_CapAndDedup(t *testing.T) {
	raw := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "A", ""}
	out := NormalizeInterests(raw)
	if len(out) != MaxInterests {
		t.Errorf("expected %d interests, got %d", MaxInterests, len(out))
	}
}

func TestAcceptsGender(t *testing.T) {
	p := &Profile{GenderPreference: PrefFemale}
	if !p.AcceptsGender(GenderFemale) {
		t.Error("female preference should accept female")
	}
	if p.AcceptsGender(GenderMale) {
		t.Error("female preference should not accept male")
	}

	anyP := &Profile{GenderPreference: PrefAny}
	for _, g := range []string{GenderMale, GenderFemale, GenderOther, GenderNotSpecified} {
		if !anyP.AcceptsGender(g) {
			t.Errorf("any preference should accept %q", g)
		}
	}
}

func TestPublic_CopiesInterests(t *testing.T) {
	p, err := Normalize("peer-7", baseMsg())
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	pub := p.Public()
	pub.Interests[0] = "mutated"
	if p.Interests[0] == "mutated" {
		t.Error("Public() must copy the interest slice")
	}
}
