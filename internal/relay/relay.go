// Package relay delivers events between the two peers of a committed room:
// chat messages, typing indicators and opaque WebRTC signals. Every relayed
// event is contained to the sender's own room; a signal addressed to anyone
// but the current partner is rejected without being forwarded.
package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/driftchat/pairserver/internal/moderation"
	"github.com/driftchat/pairserver/internal/pairing"
	"github.com/driftchat/pairserver/internal/protocol"
	"github.com/driftchat/pairserver/internal/session"
)

// Message size limits.
const (
	MaxMessageBytes = 4096 // max raw payload size
	MaxTextChars    = 1000 // max character count after trimming
)

// Error codes carried in the typed error events.
const (
	CodeNoPartner    = "no_partner"
	CodeEmpty        = "empty_message"
	CodeTooLong      = "message_too_long"
	CodeInvalidUTF8  = "invalid_utf8"
	CodeBlocked      = "content_blocked"
	CodeWrongTarget  = "wrong_target"
	CodeCallConflict = "call_in_progress"
)

// Relay forwards events inside rooms.
type Relay struct {
	sessions *session.Manager
	registry *pairing.Registry
	filter   *moderation.Filter
	sender   pairing.Sender
	history  *History
	typing   *typingTracker
}

// New creates a relay over the given registry and sender.
func New(sessions *session.Manager, registry *pairing.Registry, filter *moderation.Filter, sender pairing.Sender) *Relay {
	return &Relay{
		sessions: sessions,
		registry: registry,
		filter:   filter,
		sender:   sender,
		history:  NewHistory(),
		typing:   newTypingTracker(sender),
	}
}

// History exposes the room message buffer, mainly for teardown cleanup.
func (r *Relay) History() *History { return r.history }

// TypingCount returns the number of live typing indicators.
func (r *Relay) TypingCount() int { return r.typing.count() }

// room resolves the sender's room and partner, emitting the given error type
// when the peer is unpaired.
func (r *Relay) room(peerID, errType string) (*pairing.Room, string, bool) {
	room, ok := r.registry.RoomOf(peerID)
	if !ok {
		r.sendError(peerID, errType, CodeNoPartner, "you are not in a chat")
		return nil, "", false
	}
	return room, room.Partner(peerID), true
}

func (r *Relay) sendError(peerID, msgType, code, message string) {
	r.sender.Send(peerID, msgType, protocol.ErrorMsg{Code: code, Message: message})
}

// SendChat validates, filters and delivers a chat message to the sender's
// partner. The returned FilterResult is non-zero when the message was blocked
// by the content filter, so the caller can publish a flagged event.
func (r *Relay) SendChat(peerID string, msg protocol.ChatMsg, now time.Time) (moderation.FilterResult, bool) {
	room, partnerID, ok := r.room(peerID, protocol.TypeMessageError)
	if !ok {
		return moderation.FilterResult{}, false
	}

	text := strings.TrimSpace(msg.Text)
	if err := validateText(text); err != nil {
		r.sendError(peerID, protocol.TypeMessageError, err.code, err.message)
		return moderation.FilterResult{}, false
	}

	if res := r.filter.Check(text); res.Blocked {
		r.sendError(peerID, protocol.TypeMessageError, CodeBlocked, "message blocked by content filter")
		return res, false
	}

	id := uuid.NewString()
	ts := now.UnixMilli()
	r.history.Add(room.ID, StoredMessage{ID: id, From: peerID, Text: text, Ts: ts})

	// A delivered message implicitly ends the typing indicator.
	r.typing.clear(peerID)

	from := peerID
	if s, ok := r.sessions.Get(peerID); ok {
		if p := s.Profile(); p != nil {
			from = p.Username
		}
	}
	r.sender.Send(partnerID, protocol.TypeMessage, protocol.ServerChatMsg{
		ID: id, From: from, Text: text, Ts: ts,
	})
	r.sender.Send(peerID, protocol.TypeMessageSent, protocol.MessageSentMsg{ID: id, Ts: ts})
	return moderation.FilterResult{}, true
}

// Typing relays a typing indicator to the partner. Silently ignored when the
// peer is unpaired: a late indicator after teardown is not an error.
func (r *Relay) Typing(peerID string) {
	room, ok := r.registry.RoomOf(peerID)
	if !ok {
		return
	}
	r.typing.start(peerID, room.Partner(peerID))
}

// TypingStopped relays the end of a typing indicator.
func (r *Relay) TypingStopped(peerID string) {
	room, ok := r.registry.RoomOf(peerID)
	if !ok {
		r.typing.clear(peerID)
		return
	}
	r.typing.stop(peerID, room.Partner(peerID))
}

// contained verifies an explicit "to" field addresses the current partner.
// An empty "to" is taken as "my partner".
func (r *Relay) contained(peerID, to, partnerID string) bool {
	if to == "" || to == partnerID {
		return true
	}
	r.sendError(peerID, protocol.TypeWebRTCError, CodeWrongTarget,
		"signal target is not your current partner")
	return false
}

// ForwardOffer relays an SDP offer and moves the call record to offered.
func (r *Relay) ForwardOffer(peerID string, msg protocol.WebRTCOfferMsg, now time.Time) bool {
	room, partnerID, ok := r.room(peerID, protocol.TypeWebRTCError)
	if !ok || !r.contained(peerID, msg.To, partnerID) {
		return false
	}

	call, _ := r.registry.MarkCall(peerID, pairing.CallOffered, now)
	r.sender.Send(partnerID, protocol.TypeWebRTCOffer, protocol.ForwardedSignalMsg{
		From:     peerID,
		RoomID:   room.ID,
		CallID:   call.CallID,
		SDP:      msg.SDP,
		Metadata: msg.Metadata,
	})
	return true
}

// ForwardAnswer relays an SDP answer and moves the call record to answered.
func (r *Relay) ForwardAnswer(peerID string, msg protocol.WebRTCAnswerMsg, now time.Time) bool {
	room, partnerID, ok := r.room(peerID, protocol.TypeWebRTCError)
	if !ok || !r.contained(peerID, msg.To, partnerID) {
		return false
	}

	call, _ := r.registry.MarkCall(peerID, pairing.CallAnswered, now)
	r.sender.Send(partnerID, protocol.TypeWebRTCAnswer, protocol.ForwardedSignalMsg{
		From:   peerID,
		RoomID: room.ID,
		CallID: call.CallID,
		SDP:    msg.SDP,
	})
	return true
}

// ForwardICE relays an ICE candidate. Candidates do not touch the call record.
func (r *Relay) ForwardICE(peerID string, msg protocol.ICECandidateMsg) bool {
	room, partnerID, ok := r.room(peerID, protocol.TypeWebRTCError)
	if !ok || !r.contained(peerID, msg.To, partnerID) {
		return false
	}

	r.sender.Send(partnerID, protocol.TypeICECandidate, protocol.ForwardedSignalMsg{
		From:      peerID,
		RoomID:    room.ID,
		Candidate: msg.Candidate,
	})
	return true
}

// EndCall relays webrtc-end and closes the call record. The room survives.
func (r *Relay) EndCall(peerID string, msg protocol.WebRTCEndMsg, now time.Time) bool {
	room, partnerID, ok := r.room(peerID, protocol.TypeWebRTCError)
	if !ok || !r.contained(peerID, msg.To, partnerID) {
		return false
	}

	r.registry.MarkCall(peerID, pairing.CallEnded, now)
	r.sender.Send(partnerID, protocol.TypeWebRTCEnd, protocol.ForwardedSignalMsg{
		From:   peerID,
		RoomID: room.ID,
		Reason: msg.Reason,
	})
	return true
}

// RejectCall relays webrtc-reject and closes the call record.
func (r *Relay) RejectCall(peerID string, msg protocol.WebRTCRejectMsg, now time.Time) bool {
	room, partnerID, ok := r.room(peerID, protocol.TypeWebRTCError)
	if !ok || !r.contained(peerID, msg.To, partnerID) {
		return false
	}

	r.registry.MarkCall(peerID, pairing.CallRejected, now)
	r.sender.Send(partnerID, protocol.TypeWebRTCReject, protocol.ForwardedSignalMsg{
		From:   peerID,
		RoomID: room.ID,
		Reason: msg.Reason,
	})
	return true
}

// ForwardOpaque relays a pass-through payload (video-call-status,
// call-toggle-media, screen-share-status) without inspecting it.
func (r *Relay) ForwardOpaque(peerID, msgType string, raw json.RawMessage) bool {
	room, partnerID, ok := r.room(peerID, protocol.TypeWebRTCError)
	if !ok {
		return false
	}

	r.sender.Send(partnerID, msgType, protocol.ForwardedSignalMsg{
		From:    peerID,
		RoomID:  room.ID,
		Payload: raw,
	})
	return true
}

// RequestVideoCall registers a manual call request and relays it to the
// partner. A live call in progress rejects the request.
func (r *Relay) RequestVideoCall(peerID string, now time.Time) bool {
	room, partnerID, ok := r.room(peerID, protocol.TypeWebRTCError)
	if !ok {
		return false
	}

	call, created := r.registry.RequestCall(peerID, now)
	if !created {
		r.sendError(peerID, protocol.TypeWebRTCError, CodeCallConflict,
			"a call is already in progress")
		return false
	}
	r.sender.Send(partnerID, protocol.TypeVideoCallRequest, protocol.ForwardedSignalMsg{
		From:   peerID,
		RoomID: room.ID,
		CallID: call.CallID,
	})
	return true
}

// PartnerInfo answers get-partner-info with the partner's public profile.
func (r *Relay) PartnerInfo(peerID string) bool {
	room, partnerID, ok := r.room(peerID, protocol.TypeError)
	if !ok {
		return false
	}

	partner, exists := r.sessions.Get(partnerID)
	if !exists || partner.Profile() == nil {
		r.sendError(peerID, protocol.TypeError, CodeNoPartner, "partner is gone")
		return false
	}
	r.sender.Send(peerID, protocol.TypePartnerInfo, protocol.PartnerInfoMsg{
		RoomID:  room.ID,
		Partner: partner.Profile().Public(),
	})
	return true
}

// CleanupRoom drops relay state tied to a dissolved room.
func (r *Relay) CleanupRoom(roomID string, peerIDs ...string) {
	r.history.Remove(roomID)
	for _, id := range peerIDs {
		r.typing.clear(id)
	}
}

type validationError struct {
	code    string
	message string
}

func validateText(text string) *validationError {
	if text == "" {
		return &validationError{CodeEmpty, "message text is empty"}
	}
	if len(text) > MaxMessageBytes {
		return &validationError{CodeTooLong, fmt.Sprintf("message exceeds %d byte limit", MaxMessageBytes)}
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return &validationError{CodeTooLong, fmt.Sprintf("message exceeds %d character limit", MaxTextChars)}
	}
	if !utf8.ValidString(text) {
		return &validationError{CodeInvalidUTF8, "message contains invalid UTF-8"}
	}
	return nil
}
