package relay

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/driftchat/pairserver/internal/matching"
	"github.com/driftchat/pairserver/internal/moderation"
	"github.com/driftchat/pairserver/internal/pairing"
	"github.com/driftchat/pairserver/internal/profile"
	"github.com/driftchat/pairserver/internal/protocol"
	"github.com/driftchat/pairserver/internal/scoring"
	"github.com/driftchat/pairserver/internal/session"
)

type sent struct {
	peerID  string
	msgType string
	payload interface{}
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
}

func (f *fakeSender) Send(peerID, msgType string, payload interface{}) error {
	f.mu.Lock()
	f.msgs = append(f.msgs, sent{peerID, msgType, payload})
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) byType(msgType string) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, m := range f.msgs {
		if m.msgType == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	f.msgs = nil
	f.mu.Unlock()
}

type fixture struct {
	sessions *session.Manager
	engine   *matching.Engine
	registry *pairing.Registry
	sender   *fakeSender
	relay    *Relay
	room     *pairing.Room
}

// pairedFixture wires two peers into a committed room.
func pairedFixture(t *testing.T, mode string) *fixture {
	t.Helper()
	now := time.Now()

	sessions := session.NewManager()
	engine := matching.NewEngine(scoring.New(scoring.DefaultConfig()), 45*time.Second)
	sender := &fakeSender{}
	registry := pairing.NewRegistry(sessions, engine, sender)
	filter := moderation.NewFilterWithTerms([]string{"badword"})
	r := New(sessions, registry, filter, sender)

	for _, id := range []string{"a", "b"} {
		s := sessions.Create(id, now)
		p := &profile.Profile{
			ID:               id,
			Username:         "user-" + id,
			Gender:           profile.GenderNotSpecified,
			Age:              25,
			Interests:        []string{"music"},
			ChatMode:         mode,
			GenderPreference: profile.PrefAny,
			AgeRange:         profile.AgeRange{Min: profile.MinAge, Max: profile.MaxAge},
			Priority:         profile.DefaultPriority,
		}
		s.SetProfile(p, now)
		s.StartSearch(now)
		engine.Add(p, 0, now)
	}

	cand, ok := engine.FindMatch("a", now)
	if !ok {
		t.Fatal("no candidate")
	}
	room, ok := registry.Commit(cand, now)
	if !ok {
		t.Fatal("commit failed")
	}
	sender.reset()

	return &fixture{
		sessions: sessions,
		engine:   engine,
		registry: registry,
		sender:   sender,
		relay:    r,
		room:     room,
	}
}

func TestSendChat_Delivers(t *testing.T) {
	fx := pairedFixture(t, profile.ModeText)
	now := time.Now()

	_, ok := fx.relay.SendChat("a", protocol.ChatMsg{Text: "  hello there  "}, now)
	if !ok {
		t.Fatal("send failed")
	}

	delivered := fx.sender.byType(protocol.TypeMessage)
	if len(delivered) != 1 || delivered[0].peerID != "b" {
		t.Fatalf("expected delivery to b, got %v", delivered)
	}
	msg := delivered[0].payload.(protocol.ServerChatMsg)
	if msg.Text != "hello there" {
		t.Errorf("text not trimmed: %q", msg.Text)
	}
	if msg.From != "user-a" {
		t.Errorf("expected sender username, got %q", msg.From)
	}

	acks := fx.sender.byType(protocol.TypeMessageSent)
	if len(acks) != 1 || acks[0].peerID != "a" {
		t.Fatalf("expected ack to a, got %v", acks)
	}
	if acks[0].payload.(protocol.MessageSentMsg).ID != msg.ID {
		t.Error("ack id must match the delivered message id")
	}

	hist := fx.relay.History().Get(fx.room.ID)
	if len(hist) != 1 || hist[0].Text != "hello there" {
		t.Errorf("history not recorded: %v", hist)
	}
}

func TestSendChat_Unpaired(t *testing.T) {
	fx := pairedFixture(t, profile.ModeText)
	now := time.Now()

	fx.registry.Teardown("a", pairing.ReasonManual, now)
	fx.sender.reset()

	if _, ok := fx.relay.SendChat("a", protocol.ChatMsg{Text: "hi"}, now); ok {
		t.Error("send without a partner must fail")
	}
	errs := fx.sender.byType(protocol.TypeMessageError)
	if len(errs) != 1 || errs[0].payload.(protocol.ErrorMsg).Code != CodeNoPartner {
		t.Errorf("expected no_partner error, got %v", errs)
	}
}

func TestSendChat_Validation(t *testing.T) {
	fx := pairedFixture(t, profile.ModeText)
	now := time.Now()

	cases := []struct {
		name string
		text string
		code string
	}{
		{"empty", "   ", CodeEmpty},
		{"too long", strings.Repeat("x", MaxTextChars+1), CodeTooLong},
		{"bad utf8", "ok\xffbad", CodeInvalidUTF8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx.sender.reset()
			if _, ok := fx.relay.SendChat("a", protocol.ChatMsg{Text: tc.text}, now); ok {
				t.Fatal("expected rejection")
			}
			errs := fx.sender.byType(protocol.TypeMessageError)
			if len(errs) != 1 || errs[0].payload.(protocol.ErrorMsg).Code != tc.code {
				t.Errorf("expected %s error, got %v", tc.code, errs)
			}
			if len(fx.sender.byType(protocol.TypeMessage)) != 0 {
				t.Error("rejected message must not be delivered")
			}
		})
	}
}

func TestSendChat_Filtered(t *testing.T) {
	fx := pairedFixture(t, profile.ModeText)
	now := time.Now()

	res, ok := fx.relay.SendChat("a", protocol.ChatMsg{Text: "this is badword"}, now)
	if ok {
		t.Fatal("filtered message must not be delivered")
	}
	if !res.Blocked || res.Term != "badword" {
		t.Errorf("expected filter result, got %+v", res)
	}
	errs := fx.sender.byType(protocol.TypeMessageError)
	if len(errs) != 1 || errs[0].payload.(protocol.ErrorMsg).Code != CodeBlocked {
		t.Errorf("expected content_blocked error, got %v", errs)
	}
}

func TestTyping_RelayAndExpiry(t *testing.T) {
	fx := pairedFixture(t, profile.ModeText)

	fx.relay.Typing("a")
	if got := fx.sender.byType(protocol.TypePartnerTyping); len(got) != 1 || got[0].peerID != "b" {
		t.Fatalf("expected partnerTyping to b, got %v", got)
	}
	if fx.relay.TypingCount() != 1 {
		t.Errorf("typing count = %d, want 1", fx.relay.TypingCount())
	}

	// A refresh does not resend the indicator.
	fx.relay.Typing("a")
	if got := fx.sender.byType(protocol.TypePartnerTyping); len(got) != 1 {
		t.Errorf("refresh resent the indicator: %v", got)
	}

	fx.relay.TypingStopped("a")
	got := fx.sender.byType(protocol.TypePartnerTypingStop)
	if len(got) != 1 || got[0].peerID != "b" {
		t.Fatalf("expected partnerTypingStopped to b, got %v", got)
	}
	if fx.relay.TypingCount() != 0 {
		t.Error("indicator should be cleared after stop")
	}

	// Stopping again must not duplicate the notification.
	fx.relay.TypingStopped("a")
	if got := fx.sender.byType(protocol.TypePartnerTypingStop); len(got) != 1 {
		t.Errorf("duplicate stop notification: %v", got)
	}
}

func TestSendChat_ClearsTyping(t *testing.T) {
	fx := pairedFixture(t, profile.ModeText)
	now := time.Now()

	fx.relay.Typing("a")
	fx.relay.SendChat("a", protocol.ChatMsg{Text: "done typing"}, now)
	if fx.relay.TypingCount() != 0 {
		t.Error("delivering a message should clear the typing indicator")
	}
}

func TestForwardOffer_ContainedToPartner(t *testing.T) {
	fx := pairedFixture(t, profile.ModeVideo)
	now := time.Now()

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	ok := fx.relay.ForwardOffer("a", protocol.WebRTCOfferMsg{To: "b", SDP: sdp}, now)
	if !ok {
		t.Fatal("offer rejected")
	}

	fwd := fx.sender.byType(protocol.TypeWebRTCOffer)
	if len(fwd) != 1 || fwd[0].peerID != "b" {
		t.Fatalf("expected forward to b, got %v", fwd)
	}
	msg := fwd[0].payload.(protocol.ForwardedSignalMsg)
	if msg.From != "a" || msg.RoomID != fx.room.ID || string(msg.SDP) != string(sdp) {
		t.Errorf("bad forwarded offer: %+v", msg)
	}

	call, ok := fx.registry.Call(fx.room.ID)
	if !ok || call.Status != pairing.CallOffered {
		t.Errorf("call record not offered: %+v", call)
	}
}

func TestForwardOffer_RejectsForeignTarget(t *testing.T) {
	fx := pairedFixture(t, profile.ModeVideo)
	now := time.Now()

	ok := fx.relay.ForwardOffer("a", protocol.WebRTCOfferMsg{To: "intruder", SDP: json.RawMessage(`{}`)}, now)
	if ok {
		t.Fatal("offer to a non-partner must be rejected")
	}
	if len(fx.sender.byType(protocol.TypeWebRTCOffer)) != 0 {
		t.Error("rejected offer must not be forwarded anywhere")
	}
	errs := fx.sender.byType(protocol.TypeWebRTCError)
	if len(errs) != 1 || errs[0].peerID != "a" ||
		errs[0].payload.(protocol.ErrorMsg).Code != CodeWrongTarget {
		t.Errorf("expected wrong_target error to a, got %v", errs)
	}
}

func TestForwardAnswer_EmptyToDefaultsToPartner(t *testing.T) {
	fx := pairedFixture(t, profile.ModeVideo)
	now := time.Now()

	fx.relay.ForwardOffer("a", protocol.WebRTCOfferMsg{SDP: json.RawMessage(`{}`)}, now)
	ok := fx.relay.ForwardAnswer("b", protocol.WebRTCAnswerMsg{SDP: json.RawMessage(`{}`)}, now)
	if !ok {
		t.Fatal("answer rejected")
	}
	fwd := fx.sender.byType(protocol.TypeWebRTCAnswer)
	if len(fwd) != 1 || fwd[0].peerID != "a" {
		t.Fatalf("expected answer forwarded to a, got %v", fwd)
	}
	call, _ := fx.registry.Call(fx.room.ID)
	if call.Status != pairing.CallAnswered {
		t.Errorf("call record not answered: %+v", call)
	}
}

func TestEndCall_ClosesRecordKeepsRoom(t *testing.T) {
	fx := pairedFixture(t, profile.ModeVideo)
	now := time.Now()

	fx.relay.ForwardOffer("a", protocol.WebRTCOfferMsg{SDP: json.RawMessage(`{}`)}, now)
	if !fx.relay.EndCall("a", protocol.WebRTCEndMsg{Reason: "hangup"}, now) {
		t.Fatal("end rejected")
	}

	fwd := fx.sender.byType(protocol.TypeWebRTCEnd)
	if len(fwd) != 1 || fwd[0].payload.(protocol.ForwardedSignalMsg).Reason != "hangup" {
		t.Errorf("bad end forward: %v", fwd)
	}
	if _, ok := fx.registry.Call(fx.room.ID); ok {
		t.Error("call record should be closed")
	}
	if _, ok := fx.registry.RoomOf("a"); !ok {
		t.Error("ending the call must not dissolve the room")
	}
}

func TestForwardOpaque(t *testing.T) {
	fx := pairedFixture(t, profile.ModeVideo)

	raw := json.RawMessage(`{"type":"call-toggle-media","audio":false}`)
	if !fx.relay.ForwardOpaque("a", protocol.TypeToggleMedia, raw) {
		t.Fatal("opaque forward rejected")
	}
	fwd := fx.sender.byType(protocol.TypeToggleMedia)
	if len(fwd) != 1 || fwd[0].peerID != "b" {
		t.Fatalf("expected forward to b, got %v", fwd)
	}
	if string(fwd[0].payload.(protocol.ForwardedSignalMsg).Payload) != string(raw) {
		t.Error("opaque payload must be forwarded verbatim")
	}
}

func TestRequestVideoCall(t *testing.T) {
	fx := pairedFixture(t, profile.ModeText)
	now := time.Now()

	if !fx.relay.RequestVideoCall("a", now) {
		t.Fatal("request rejected")
	}
	fwd := fx.sender.byType(protocol.TypeVideoCallRequest)
	if len(fwd) != 1 || fwd[0].peerID != "b" {
		t.Fatalf("expected request relayed to b, got %v", fwd)
	}

	// A second request while the first call is live must be refused.
	fx.relay.ForwardOffer("a", protocol.WebRTCOfferMsg{SDP: json.RawMessage(`{}`)}, now)
	fx.sender.reset()
	if fx.relay.RequestVideoCall("b", now) {
		t.Error("request during a live call must be refused")
	}
	errs := fx.sender.byType(protocol.TypeWebRTCError)
	if len(errs) != 1 || errs[0].payload.(protocol.ErrorMsg).Code != CodeCallConflict {
		t.Errorf("expected call_in_progress error, got %v", errs)
	}
}

func TestPartnerInfo(t *testing.T) {
	fx := pairedFixture(t, profile.ModeText)

	if !fx.relay.PartnerInfo("a") {
		t.Fatal("partner info rejected")
	}
	got := fx.sender.byType(protocol.TypePartnerInfo)
	if len(got) != 1 || got[0].peerID != "a" {
		t.Fatalf("expected partner-info to a, got %v", got)
	}
	msg := got[0].payload.(protocol.PartnerInfoMsg)
	if msg.Partner.ID != "b" || msg.RoomID != fx.room.ID {
		t.Errorf("bad partner info: %+v", msg)
	}
}

func TestCleanupRoom(t *testing.T) {
	fx := pairedFixture(t, profile.ModeText)
	now := time.Now()

	fx.relay.SendChat("a", protocol.ChatMsg{Text: "hello"}, now)
	fx.relay.Typing("b")
	fx.relay.CleanupRoom(fx.room.ID, "a", "b")

	if len(fx.relay.History().Get(fx.room.ID)) != 0 {
		t.Error("history should be dropped on cleanup")
	}
	if fx.relay.TypingCount() != 0 {
		t.Error("typing indicators should be dropped on cleanup")
	}
}

func TestHistory_RingOverwrite(t *testing.T) {
	h := NewHistory()
	for i := 0; i < MaxHistoryMessages+2; i++ {
		h.Add("room", StoredMessage{ID: string(rune('a' + i))})
	}
	got := h.Get("room")
	if len(got) != MaxHistoryMessages {
		t.Fatalf("expected %d messages, got %d", MaxHistoryMessages, len(got))
	}
	if got[0].ID != "c" || got[len(got)-1].ID != "g" {
		t.Errorf("unexpected ring window: %v", got)
	}
}
