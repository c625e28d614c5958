// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeRegister          = "register"
	TypeSetFingerprint    = "set-fingerprint"
	TypeSearch            = "search"
	TypeCancelSearch      = "cancel-search"
	TypeMessage           = "message"
	TypeTyping            = "typing"
	TypeTypingStopped     = "typingStopped"
	TypeNext              = "next"
	TypeDisconnectPartner = "disconnect-partner"
	TypeBlockPartner      = "block-partner"
	TypeReport            = "report"
	TypeWebRTCOffer       = "webrtc-offer"
	TypeWebRTCAnswer      = "webrtc-answer"
	TypeICECandidate      = "webrtc-ice-candidate"
	TypeWebRTCEnd         = "webrtc-end"
	TypeWebRTCReject      = "webrtc-reject"
	TypeVideoCallStatus   = "video-call-status"
	TypeToggleMedia       = "call-toggle-media"
	TypeScreenShare       = "screen-share-status"
	TypeVideoCallRequest  = "video-call-request"
	TypeGetPartnerInfo    = "get-partner-info"
	TypeGetStats          = "get-stats"
	TypeGetICEServers     = "get-ice-servers"
	TypeHeartbeat         = "heartbeat"
)

// Server -> Client message types.
const (
	TypeRegistered          = "registered"
	TypeSearching           = "searching"
	TypeSearchingUpdate     = "searching-update"
	TypeSearchTimeout       = "search-timeout"
	TypeSearchCancelled     = "search-cancelled"
	TypeMatched             = "matched"
	TypeVideoMatchReady     = "video-match-ready"
	TypeVideoCallAutoStart  = "video-call-auto-start"
	TypePartnerTyping       = "partnerTyping"
	TypePartnerTypingStop   = "partnerTypingStopped"
	TypeMessageSent         = "message-sent"
	TypePartnerDisconnected = "partnerDisconnected"
	TypePartnerInfo         = "partner-info"
	TypeRegisterError       = "register-error"
	TypeSearchError         = "search-error"
	TypeMessageError        = "message-error"
	TypeWebRTCError         = "webrtc-error"
	TypeStats               = "stats"
	TypeStatsUpdated        = "stats-updated"
	TypeHeartbeatResponse   = "heartbeat-response"
	TypeICEServers          = "ice-servers"
	TypeRateLimited         = "rate-limited"
	TypeBanned              = "banned"
	TypeError               = "error"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// AgeRange is the acceptable partner age interval declared at registration.
type AgeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// RegisterMsg carries the peer's profile fields. Missing fields are coerced
// to defaults by the profile package.
type RegisterMsg struct {
	Type             string   `json:"type"`
	Username         string   `json:"username"`
	Gender           string   `json:"gender"`
	Age              int      `json:"age"`
	Interests        []string `json:"interests"`
	ChatMode         string   `json:"chatMode"`
	GenderPreference string   `json:"genderPreference"`
	AgeRange         AgeRange `json:"ageRange"`
	Priority         float64  `json:"priority,omitempty"`
	AutoConnect      bool     `json:"autoConnect,omitempty"`
	Fingerprint      string   `json:"fingerprint,omitempty"`
}

// SetFingerprintMsg associates a browser fingerprint hash with the current
// session for ban enforcement.
type SetFingerprintMsg struct {
	Type        string `json:"type"`
	Fingerprint string `json:"fingerprint"`
}

// SearchMsg enters the matching queue. Mode optionally overrides the chat
// mode declared at registration.
type SearchMsg struct {
	Type string `json:"type"`
	Mode string `json:"mode,omitempty"`
}

// CancelSearchMsg leaves the matching queue.
type CancelSearchMsg struct {
	Type string `json:"type"`
}

// ChatMsg is a text message sent by the client to its current partner.
type ChatMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TypingMsg signals that the client started typing.
type TypingMsg struct {
	Type string `json:"type"`
}

// TypingStoppedMsg signals that the client stopped typing.
type TypingStoppedMsg struct {
	Type string `json:"type"`
}

// NextMsg leaves the current pair and immediately re-enters the queue.
type NextMsg struct {
	Type string `json:"type"`
}

// DisconnectPartnerMsg leaves the current pair and stays ready.
type DisconnectPartnerMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// BlockPartnerMsg blocks the current partner and ends the pair. Neither side
// will be matched with the other again for the connection's lifetime.
type BlockPartnerMsg struct {
	Type string `json:"type"`
}

// ReportMsg files an abuse report against the current partner.
type ReportMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// WebRTCOfferMsg carries an opaque SDP offer for the paired peer.
type WebRTCOfferMsg struct {
	Type     string          `json:"type"`
	To       string          `json:"to"`
	SDP      json.RawMessage `json:"sdp"`
	CallID   string          `json:"callId,omitempty"`
	RoomID   string          `json:"roomId,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// WebRTCAnswerMsg carries an opaque SDP answer back to the caller.
type WebRTCAnswerMsg struct {
	Type   string          `json:"type"`
	To     string          `json:"to"`
	SDP    json.RawMessage `json:"sdp"`
	CallID string          `json:"callId"`
	RoomID string          `json:"roomId,omitempty"`
}

// ICECandidateMsg carries an opaque ICE candidate for the paired peer.
type ICECandidateMsg struct {
	Type      string          `json:"type"`
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

// WebRTCEndMsg ends the current call. The pair itself stays alive.
type WebRTCEndMsg struct {
	Type   string `json:"type"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// WebRTCRejectMsg rejects an incoming call.
type WebRTCRejectMsg struct {
	Type   string `json:"type"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// VideoCallRequestMsg asks the partner to start a video call (out of band
// from the WebRTC offer; the waiting request expires after 30 seconds).
type VideoCallRequestMsg struct {
	Type   string `json:"type"`
	CallID string `json:"callId,omitempty"`
}

// GetPartnerInfoMsg requests the current partner's public profile.
type GetPartnerInfoMsg struct {
	Type string `json:"type"`
}

// GetStatsMsg requests a live stats snapshot.
type GetStatsMsg struct {
	Type string `json:"type"`
}

// GetICEServersMsg requests the STUN/TURN configuration.
type GetICEServersMsg struct {
	Type string `json:"type"`
}

// HeartbeatMsg is an application-level keepalive.
type HeartbeatMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// PublicProfile is the subset of a profile shared with a matched partner.
type PublicProfile struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	Gender    string   `json:"gender"`
	Age       int      `json:"age"`
	Interests []string `json:"interests"`
	ChatMode  string   `json:"chatMode"`
}

// RegisteredMsg confirms session creation with the normalized profile.
type RegisteredMsg struct {
	Type    string        `json:"type"`
	PeerID  string        `json:"peerId"`
	Profile PublicProfile `json:"profile"`
}

// SearchingMsg confirms the client has entered the waiting pool.
type SearchingMsg struct {
	Type    string `json:"type"`
	Mode    string `json:"mode"`
	Timeout int    `json:"timeout"` // seconds until search-timeout
}

// SearchingUpdateMsg is a periodic progress report while searching.
type SearchingUpdateMsg struct {
	Type      string `json:"type"`
	Waiting   int    `json:"waiting"`   // peers currently in the pool
	ElapsedMs int64  `json:"elapsedMs"` // time since search started
	Attempts  int    `json:"attempts"`
}

// SearchTimeoutMsg is sent when the search exceeded the maximum wait time.
type SearchTimeoutMsg struct {
	Type string `json:"type"`
}

// SearchCancelledMsg confirms a cancel-search request.
type SearchCancelledMsg struct {
	Type string `json:"type"`
}

// MatchedMsg is sent to both peers when a pair commits.
type MatchedMsg struct {
	Type            string        `json:"type"`
	RoomID          string        `json:"roomId"`
	Partner         PublicProfile `json:"partner"`
	Compatibility   float64       `json:"compatibility"`
	SharedInterests []string      `json:"sharedInterests"`
	MatchMode       string        `json:"matchMode"`
	Ts              int64         `json:"ts"`
}

// VideoMatchReadyMsg is sent to both peers of a video pair once the pending
// call record exists.
type VideoMatchReadyMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	CallID string `json:"callId"`
	// Initiator is the peer expected to create the WebRTC offer.
	Initiator string `json:"initiator"`
}

// VideoCallAutoStartMsg tells auto-connect peers to begin the call without
// waiting for a manual video-call-request.
type VideoCallAutoStartMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	CallID string `json:"callId"`
}

// PartnerTypingMsg relays the partner's typing indicator.
type PartnerTypingMsg struct {
	Type string `json:"type"`
}

// PartnerTypingStoppedMsg relays the end of the partner's typing indicator.
type PartnerTypingStoppedMsg struct {
	Type string `json:"type"`
}

// ServerChatMsg is a text message relayed from the partner.
type ServerChatMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	From string `json:"from"` // sender username
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// MessageSentMsg acknowledges a delivered chat message to its sender.
type MessageSentMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Ts   int64  `json:"ts"`
}

// PartnerDisconnectedMsg tells a peer its pair was torn down.
type PartnerDisconnectedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// PartnerInfoMsg answers get-partner-info.
type PartnerInfoMsg struct {
	Type    string        `json:"type"`
	RoomID  string        `json:"roomId"`
	Partner PublicProfile `json:"partner"`
}

// ForwardedSignalMsg wraps an opaque WebRTC payload relayed to the partner.
// SDP, candidates and metadata are never inspected by the server.
type ForwardedSignalMsg struct {
	Type      string          `json:"type"`
	From      string          `json:"from"`
	RoomID    string          `json:"roomId,omitempty"`
	CallID    string          `json:"callId,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// StatsMsg carries the live counters (both for stats and stats-updated).
type StatsMsg struct {
	Type                string  `json:"type"`
	Online              int     `json:"online"`
	Searching           int     `json:"searching"`
	ActivePairs         int     `json:"activePairs"`
	ActiveCalls         int     `json:"activeCalls"`
	WaitingCallRequests int     `json:"waitingCallRequests"`
	TypingPeers         int     `json:"typingPeers"`
	AvgWaitMs           int64   `json:"avgWaitMs"`
	AvgCompatibility    float64 `json:"avgCompatibility"`
	Ts                  int64   `json:"ts"`
}

// HeartbeatResponseMsg answers a heartbeat.
type HeartbeatResponseMsg struct {
	Type string `json:"type"`
	Ts   int64  `json:"ts"`
}

// ICEServer describes one STUN/TURN entry handed to clients verbatim.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICEServersMsg answers get-ice-servers.
type ICEServersMsg struct {
	Type       string      `json:"type"`
	ICEServers []ICEServer `json:"iceServers"`
}

// RateLimitedMsg is sent when the client exceeded a rate limit.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retryAfter"`
}

// BannedMsg is sent when the client's fingerprint is banned.
type BannedMsg struct {
	Type     string `json:"type"`
	Duration int    `json:"duration"` // seconds remaining
	Reason   string `json:"reason"`
}

// ErrorMsg is the generic typed error payload. The envelope type carries the
// error class (register-error, search-error, message-error, webrtc-error, or
// plain error for everything else).
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
//
// For the opaque pass-through types (video-call-status, call-toggle-media,
// screen-share-status) the returned message is the raw json.RawMessage so the
// relay can forward it without interpreting the payload.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeRegister:
		var m RegisterMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSetFingerprint:
		var m SetFingerprintMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSearch:
		var m SearchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCancelSearch:
		var m CancelSearchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStopped:
		var m TypingStoppedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeNext:
		var m NextMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDisconnectPartner:
		var m DisconnectPartnerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeBlockPartner:
		var m BlockPartnerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReport:
		var m ReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWebRTCOffer:
		var m WebRTCOfferMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWebRTCAnswer:
		var m WebRTCAnswerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeICECandidate:
		var m ICECandidateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWebRTCEnd:
		var m WebRTCEndMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWebRTCReject:
		var m WebRTCRejectMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeVideoCallStatus, TypeToggleMedia, TypeScreenShare:
		msg = env.Raw
	case TypeVideoCallRequest:
		var m VideoCallRequestMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetPartnerInfo:
		var m GetPartnerInfoMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetStats:
		var m GetStatsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetICEServers:
		var m GetICEServersMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeHeartbeat:
		var m HeartbeatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
