// Package hub wires the transport to the core: it owns the session
// manager, matching engine, pair registry and relay, routes every client
// event to them, and runs the background loops (rematch, idle sweep,
// stats broadcast).
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/driftchat/pairserver/internal/ban"
	"github.com/driftchat/pairserver/internal/matching"
	"github.com/driftchat/pairserver/internal/messaging"
	"github.com/driftchat/pairserver/internal/metrics"
	"github.com/driftchat/pairserver/internal/moderation"
	"github.com/driftchat/pairserver/internal/pairing"
	"github.com/driftchat/pairserver/internal/profile"
	"github.com/driftchat/pairserver/internal/protocol"
	"github.com/driftchat/pairserver/internal/ratelimit"
	"github.com/driftchat/pairserver/internal/relay"
	"github.com/driftchat/pairserver/internal/report"
	"github.com/driftchat/pairserver/internal/scoring"
	"github.com/driftchat/pairserver/internal/session"
	"github.com/driftchat/pairserver/internal/stats"
)

// Config holds the hub's timing knobs and the ICE configuration handed
// to clients.
type Config struct {
	SearchTimeout   time.Duration // max time in the waiting pool
	RematchInterval time.Duration // retry cadence for waiting peers
	SweepInterval   time.Duration // idle-session and call-expiry sweep cadence
	IdleThreshold   time.Duration // inactivity before a session is reaped
	StatsInterval   time.Duration // stats-updated broadcast cadence
	ICEServers      []protocol.ICEServer
	Scoring         scoring.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SearchTimeout:   45 * time.Second,
		RematchInterval: 5 * time.Second,
		SweepInterval:   time.Minute,
		IdleThreshold:   5 * time.Minute,
		StatsInterval:   10 * time.Second,
		ICEServers: []protocol.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		Scoring: scoring.DefaultConfig(),
	}
}

// Deps are the external stores the hub uses. All of them are optional:
// a nil limiter allows everything, nil ban and report stores disable
// enforcement and persistence, a nil publisher disables the event stream.
type Deps struct {
	Limiter *ratelimit.Limiter
	Bans    *ban.Store
	Reports *report.Store
	Events  *messaging.Publisher
}

// Hub glues the transport to the core components.
type Hub struct {
	cfg Config

	sessions *session.Manager
	engine   *matching.Engine
	registry *pairing.Registry
	filter   *moderation.Filter
	relay    *relay.Relay
	stats    *stats.Collector

	limiter *ratelimit.Limiter
	bans    *ban.Store
	reports *report.Store
	events  *messaging.Publisher

	// transport hooks, set by Attach. Nil hooks make the hub inert on
	// that path, which the tests rely on.
	transport func(peerID string, data []byte) error
	broadcast func(data []byte)
	dropConn  func(peerID string)

	done      chan struct{}
	closeOnce sync.Once
}

// New builds a hub with fresh core components and the given stores.
func New(cfg Config, deps Deps) *Hub {
	h := &Hub{
		cfg:     cfg,
		limiter: deps.Limiter,
		bans:    deps.Bans,
		reports: deps.Reports,
		events:  deps.Events,
		done:    make(chan struct{}),
	}

	h.sessions = session.NewManager()
	h.engine = matching.NewEngine(scoring.New(cfg.Scoring), cfg.SearchTimeout)
	h.registry = pairing.NewRegistry(h.sessions, h.engine, h)
	h.filter = moderation.NewFilter()
	h.relay = relay.New(h.sessions, h.registry, h.filter, h)
	h.stats = stats.New(h.sessions, h.engine, h.registry, h.relay)
	return h
}

// Send implements pairing.Sender over the attached transport.
func (h *Hub) Send(peerID, msgType string, payload interface{}) error {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[hub] encode %s for peer=%s: %v", msgType, peerID, err)
		return err
	}
	if h.transport == nil {
		return nil
	}
	return h.transport(peerID, data)
}

func (h *Hub) sendError(peerID, msgType, code, message string) {
	h.Send(peerID, msgType, protocol.ErrorMsg{Code: code, Message: message})
}

// touch refreshes the session's activity clock. Called from every
// handler so the idle sweep only reaps genuinely silent peers.
func (h *Hub) touch(peerID string, now time.Time) *session.Session {
	s, ok := h.sessions.Get(peerID)
	if !ok {
		return nil
	}
	s.Touch(now)
	return s
}

// limitKey throttles by fingerprint when one is set, so reconnecting
// does not reset the counters, and falls back to the peer id.
func (h *Hub) limitKey(s *session.Session, peerID string) string {
	if s != nil {
		if fp := s.Fingerprint(); fp != "" {
			return fp
		}
	}
	return peerID
}

func (h *Hub) allow(key string, rule ratelimit.Rule, peerID string) bool {
	if h.limiter.Allow(context.Background(), key, rule) {
		return true
	}
	metrics.RateLimitedTotal.WithLabelValues(rule.Name).Inc()
	h.Send(peerID, protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: int(rule.Window.Seconds()),
	})
	return false
}

// checkBan enforces a fingerprint ban: the peer gets a banned notice and
// its connection is dropped. Redis errors fail open.
func (h *Hub) checkBan(peerID, fingerprint string) bool {
	if h.bans == nil || fingerprint == "" {
		return false
	}
	banned, remaining, reason, err := h.bans.IsBanned(context.Background(), fingerprint)
	if err != nil {
		log.Printf("[hub] ban check failed for peer=%s: %v (failing open)", peerID, err)
		return false
	}
	if !banned {
		return false
	}
	h.Send(peerID, protocol.TypeBanned, protocol.BannedMsg{Duration: remaining, Reason: reason})
	h.drop(peerID)
	return true
}

func (h *Hub) drop(peerID string) {
	if h.dropConn != nil {
		h.dropConn(peerID)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle handlers
// ---------------------------------------------------------------------------

// handleConnected runs once per accepted connection.
func (h *Hub) handleConnected(peerID string, now time.Time) {
	h.sessions.Create(peerID, now)
}

// handleDisconnected reaps everything tied to a closed connection. The
// partner, if any, gets exactly one partnerDisconnected.
func (h *Hub) handleDisconnected(peerID string, now time.Time) {
	h.teardown(peerID, pairing.ReasonDisconnect, now)
	h.engine.Remove(peerID)
	h.engine.Forget(peerID)
	h.sessions.Destroy(peerID)
}

func (h *Hub) handleRegister(peerID string, msg protocol.RegisterMsg, now time.Time) {
	s := h.touch(peerID, now)
	if s == nil {
		s = h.sessions.Create(peerID, now)
	}

	p, err := profile.Normalize(peerID, msg)
	if err != nil {
		h.sendError(peerID, protocol.TypeRegisterError, "invalid_profile", err.Error())
		return
	}
	// Interests that trip the content filter are dropped, not fatal.
	p.Interests = h.filter.CheckInterests(p.Interests)

	if msg.Fingerprint != "" {
		if h.checkBan(peerID, msg.Fingerprint) {
			return
		}
		s.SetFingerprint(msg.Fingerprint, now)
	}

	if !s.SetProfile(p, now) {
		h.sendError(peerID, protocol.TypeRegisterError, "profile_locked",
			"profile cannot change during an active chat")
		return
	}

	h.Send(peerID, protocol.TypeRegistered, protocol.RegisteredMsg{
		PeerID:  peerID,
		Profile: p.Public(),
	})
}

func (h *Hub) handleSetFingerprint(peerID string, msg protocol.SetFingerprintMsg, now time.Time) {
	s := h.touch(peerID, now)
	if s == nil || msg.Fingerprint == "" {
		return
	}
	if h.checkBan(peerID, msg.Fingerprint) {
		return
	}
	s.SetFingerprint(msg.Fingerprint, now)
}

// ---------------------------------------------------------------------------
// Search handlers
// ---------------------------------------------------------------------------

func (h *Hub) handleSearch(peerID string, msg protocol.SearchMsg, now time.Time) {
	s := h.touch(peerID, now)
	if s == nil || s.Profile() == nil {
		h.sendError(peerID, protocol.TypeSearchError, "not_registered", "register a profile first")
		return
	}
	if !h.allow(h.limitKey(s, peerID), ratelimit.RuleSearch, peerID) {
		return
	}

	var mode string
	if msg.Mode != "" {
		var err error
		mode, err = profile.NormalizeMode(msg.Mode)
		if err != nil {
			h.sendError(peerID, protocol.TypeSearchError, "invalid_mode", err.Error())
			return
		}
	}

	// Searching while paired dissolves the pair first.
	h.teardown(peerID, pairing.ReasonNewSearch, now)

	// Profiles handed to the engine are shared snapshots and never written
	// in place; a mode override installs a fresh copy under the session
	// lock instead.
	if cur := s.Profile(); mode != "" && cur.ChatMode != mode {
		next := *cur
		next.ChatMode = mode
		s.SetProfile(&next, now)
	}

	h.startSearch(s, peerID, now)
}

func (h *Hub) handleCancelSearch(peerID string, now time.Time) {
	s := h.touch(peerID, now)
	if s == nil {
		return
	}
	h.engine.Remove(peerID)
	if s.CancelSearch(now) {
		h.Send(peerID, protocol.TypeSearchCancelled, protocol.SearchCancelledMsg{})
	}
}

// handleNext dissolves the current pair and re-enters the queue.
func (h *Hub) handleNext(peerID string, now time.Time) {
	s := h.touch(peerID, now)
	if s == nil || s.Profile() == nil {
		h.sendError(peerID, protocol.TypeSearchError, "not_registered", "register a profile first")
		return
	}
	if !h.allow(h.limitKey(s, peerID), ratelimit.RuleSearch, peerID) {
		return
	}

	// Leaving a pair for the queue counts as a search attempt.
	if _, ok := h.teardown(peerID, pairing.ReasonNext, now); ok {
		s.BumpAttempts()
	}
	h.startSearch(s, peerID, now)
}

// startSearch pools the peer, confirms, and attempts an immediate match.
func (h *Hub) startSearch(s *session.Session, peerID string, now time.Time) {
	attempts, ok := s.StartSearch(now)
	if !ok {
		h.sendError(peerID, protocol.TypeSearchError, "cannot_search", "search is not available right now")
		return
	}
	h.engine.Add(s.Profile(), attempts, now)

	h.Send(peerID, protocol.TypeSearching, protocol.SearchingMsg{
		Mode:    s.Profile().ChatMode,
		Timeout: int(h.cfg.SearchTimeout.Seconds()),
	})
	h.tryMatch(peerID, now)
}

// tryMatch runs one selection pass for the peer and commits the result.
func (h *Hub) tryMatch(peerID string, now time.Time) bool {
	cand, ok := h.engine.FindMatch(peerID, now)
	if !ok {
		return false
	}

	entry, hasEntry := h.engine.Entry(peerID)

	room, committed := h.registry.Commit(cand, now)
	if !committed {
		return false
	}

	metrics.MatchesTotal.WithLabelValues(room.Mode).Inc()
	if hasEntry {
		metrics.MatchDuration.Observe(now.Sub(entry.JoinedAt).Seconds())
	}
	h.events.Publish(messaging.SubjectMatchCreated, messaging.MatchCreatedEvent{
		RoomID:        room.ID,
		Mode:          room.Mode,
		Compatibility: room.Compatibility,
		Ts:            now.UnixMilli(),
	})
	return true
}

// teardown dissolves the peer's pair and cleans up relay state. A peer
// without a pair is a no-op.
func (h *Hub) teardown(peerID, reason string, now time.Time) (string, bool) {
	room, hasRoom := h.registry.RoomOf(peerID)
	partnerID, ok := h.registry.Teardown(peerID, reason, now)
	if !ok {
		return "", false
	}

	if hasRoom {
		h.relay.CleanupRoom(room.ID, room.PeerA, room.PeerB)
		metrics.TeardownsTotal.WithLabelValues(reason).Inc()
		h.events.Publish(messaging.SubjectMatchEnded, messaging.MatchEndedEvent{
			RoomID:     room.ID,
			Reason:     reason,
			DurationMs: now.Sub(room.CreatedAt).Milliseconds(),
			Ts:         now.UnixMilli(),
		})
	}
	return partnerID, true
}

// ---------------------------------------------------------------------------
// In-room handlers
// ---------------------------------------------------------------------------

func (h *Hub) handleMessage(peerID string, msg protocol.ChatMsg, now time.Time) {
	s := h.touch(peerID, now)
	if !h.allow(h.limitKey(s, peerID), ratelimit.RuleMessage, peerID) {
		return
	}

	room, _ := h.registry.RoomOf(peerID)

	res, delivered := h.relay.SendChat(peerID, msg, now)
	switch {
	case delivered:
		metrics.MessagesTotal.WithLabelValues("delivered").Inc()
	case res.Blocked:
		metrics.MessagesTotal.WithLabelValues("blocked").Inc()
		flagged := moderation.FlaggedMessage{
			PeerID: peerID,
			Reason: res.Reason,
			Term:   res.Term,
			Ts:     now.UnixMilli(),
		}
		if room != nil {
			flagged.RoomID = room.ID
		}
		h.events.Publish(messaging.SubjectChatFlagged, flagged)
	default:
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
	}
}

func (h *Hub) handleTyping(peerID string, now time.Time) {
	h.touch(peerID, now)
	h.relay.Typing(peerID)
}

func (h *Hub) handleTypingStopped(peerID string, now time.Time) {
	h.touch(peerID, now)
	h.relay.TypingStopped(peerID)
}

func (h *Hub) handleDisconnectPartner(peerID string, now time.Time) {
	h.touch(peerID, now)
	h.teardown(peerID, pairing.ReasonManual, now)
}

func (h *Hub) handleBlockPartner(peerID string, now time.Time) {
	h.touch(peerID, now)
	room, ok := h.registry.RoomOf(peerID)
	if !ok {
		h.sendError(peerID, protocol.TypeError, "no_partner", "you are not in a chat")
		return
	}
	h.engine.Block(peerID, room.Partner(peerID))
	h.teardown(peerID, pairing.ReasonManual, now)
}

func (h *Hub) handleReport(peerID string, msg protocol.ReportMsg, now time.Time) {
	s := h.touch(peerID, now)
	if !report.ValidReason(msg.Reason) {
		h.sendError(peerID, protocol.TypeError, "invalid_reason", "unknown report reason")
		return
	}
	room, ok := h.registry.RoomOf(peerID)
	if !ok {
		h.sendError(peerID, protocol.TypeError, "no_partner", "you are not in a chat")
		return
	}
	partnerID := room.Partner(peerID)

	var reporterFP, reportedFP string
	if s != nil {
		reporterFP = s.Fingerprint()
	}
	if partner, exists := h.sessions.Get(partnerID); exists {
		reportedFP = partner.Fingerprint()
	}

	metrics.ReportsTotal.Inc()

	if h.reports != nil {
		r := &report.Report{
			ReporterFingerprint: reporterFP,
			ReportedFingerprint: reportedFP,
			RoomID:              room.ID,
			Reason:              msg.Reason,
			Transcript:          h.transcript(room.ID, peerID),
		}
		id, err := h.reports.Create(context.Background(), r)
		if err != nil {
			log.Printf("[hub] report insert failed peer=%s: %v", peerID, err)
		} else {
			h.events.Publish(messaging.SubjectReportFiled, messaging.ReportFiledEvent{
				ReportID: id,
				Reason:   msg.Reason,
				Ts:       now.UnixMilli(),
			})
		}
	}

	if h.bans != nil && reportedFP != "" {
		banned, duration, err := h.bans.ReportAndCheck(context.Background(), reportedFP)
		if err != nil {
			log.Printf("[hub] report ban check failed: %v", err)
		} else if banned {
			h.Send(partnerID, protocol.TypeBanned, protocol.BannedMsg{
				Duration: int(duration.Seconds()),
				Reason:   "multiple_reports",
			})
			h.teardown(partnerID, pairing.ReasonDisconnect, now)
			h.drop(partnerID)
		}
	}
}

// transcript anonymises the room's message buffer for a report.
func (h *Hub) transcript(roomID, reporterID string) []report.TranscriptEntry {
	stored := h.relay.History().Get(roomID)
	entries := make([]report.TranscriptEntry, 0, len(stored))
	for _, m := range stored {
		from := "reported"
		if m.From == reporterID {
			from = "reporter"
		}
		entries = append(entries, report.TranscriptEntry{From: from, Text: m.Text, Ts: m.Ts})
	}
	return entries
}

// ---------------------------------------------------------------------------
// Signaling handlers
// ---------------------------------------------------------------------------

func (h *Hub) handleOffer(peerID string, msg protocol.WebRTCOfferMsg, now time.Time) {
	h.touch(peerID, now)
	if h.relay.ForwardOffer(peerID, msg, now) {
		metrics.SignalsTotal.WithLabelValues(protocol.TypeWebRTCOffer).Inc()
	}
}

func (h *Hub) handleAnswer(peerID string, msg protocol.WebRTCAnswerMsg, now time.Time) {
	h.touch(peerID, now)
	if h.relay.ForwardAnswer(peerID, msg, now) {
		metrics.SignalsTotal.WithLabelValues(protocol.TypeWebRTCAnswer).Inc()
	}
}

func (h *Hub) handleICECandidate(peerID string, msg protocol.ICECandidateMsg, now time.Time) {
	h.touch(peerID, now)
	if h.relay.ForwardICE(peerID, msg) {
		metrics.SignalsTotal.WithLabelValues(protocol.TypeICECandidate).Inc()
	}
}

func (h *Hub) handleEndCall(peerID string, msg protocol.WebRTCEndMsg, now time.Time) {
	h.touch(peerID, now)
	if h.relay.EndCall(peerID, msg, now) {
		metrics.SignalsTotal.WithLabelValues(protocol.TypeWebRTCEnd).Inc()
	}
}

func (h *Hub) handleRejectCall(peerID string, msg protocol.WebRTCRejectMsg, now time.Time) {
	h.touch(peerID, now)
	if h.relay.RejectCall(peerID, msg, now) {
		metrics.SignalsTotal.WithLabelValues(protocol.TypeWebRTCReject).Inc()
	}
}

func (h *Hub) handleOpaque(peerID, msgType string, raw json.RawMessage, now time.Time) {
	h.touch(peerID, now)
	if h.relay.ForwardOpaque(peerID, msgType, raw) {
		metrics.SignalsTotal.WithLabelValues(msgType).Inc()
	}
}

func (h *Hub) handleVideoCallRequest(peerID string, now time.Time) {
	h.touch(peerID, now)
	if h.relay.RequestVideoCall(peerID, now) {
		metrics.SignalsTotal.WithLabelValues(protocol.TypeVideoCallRequest).Inc()
	}
}

// ---------------------------------------------------------------------------
// Introspection handlers
// ---------------------------------------------------------------------------

func (h *Hub) handleGetPartnerInfo(peerID string, now time.Time) {
	h.touch(peerID, now)
	h.relay.PartnerInfo(peerID)
}

func (h *Hub) handleGetStats(peerID string, now time.Time) {
	h.touch(peerID, now)
	h.Send(peerID, protocol.TypeStats, h.stats.Snapshot(now))
}

// handleHeartbeat answers the application-level keepalive. The transport
// heartbeat covers liveness; this one refreshes the activity clock for
// clients that idle between messages.
func (h *Hub) handleHeartbeat(peerID string, now time.Time) {
	h.touch(peerID, now)
	h.Send(peerID, protocol.TypeHeartbeatResponse, protocol.HeartbeatResponseMsg{Ts: now.UnixMilli()})
}

func (h *Hub) handleGetICEServers(peerID string, now time.Time) {
	h.touch(peerID, now)
	h.Send(peerID, protocol.TypeICEServers, protocol.ICEServersMsg{
		ICEServers: h.cfg.ICEServers,
	})
}
