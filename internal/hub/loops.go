package hub

import (
	"time"

	"github.com/driftchat/pairserver/internal/messaging"
	"github.com/driftchat/pairserver/internal/metrics"
	"github.com/driftchat/pairserver/internal/pairing"
	"github.com/driftchat/pairserver/internal/protocol"
)

// Run starts the background loops. Each runs until Close.
func (h *Hub) Run() {
	go h.rematchLoop()
	go h.sweepLoop()
	go h.statsLoop()
}

// Close stops the background loops.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// rematchLoop retries matching for every waiting peer and times out
// searches that exceeded the maximum wait.
func (h *Hub) rematchLoop() {
	ticker := time.NewTicker(h.cfg.RematchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.rematchTick(time.Now())
		}
	}
}

func (h *Hub) rematchTick(now time.Time) {
	waiting := h.engine.Stats(now).Waiting

	for _, id := range h.engine.WaitingIDs() {
		entry, ok := h.engine.Entry(id)
		if !ok {
			continue // matched earlier in this tick
		}
		s, exists := h.sessions.Get(id)
		if !exists {
			h.engine.Remove(id)
			continue
		}

		if now.Sub(entry.JoinedAt) >= h.cfg.SearchTimeout {
			h.engine.Remove(id)
			s.CancelSearch(now)
			metrics.SearchTimeoutsTotal.Inc()
			h.Send(id, protocol.TypeSearchTimeout, protocol.SearchTimeoutMsg{})
			continue
		}

		if h.tryMatch(id, now) {
			continue
		}

		attempts := s.BumpAttempts()
		h.engine.UpdateAttempts(id, attempts)
		h.Send(id, protocol.TypeSearchingUpdate, protocol.SearchingUpdateMsg{
			Waiting:   waiting,
			ElapsedMs: now.Sub(entry.JoinedAt).Milliseconds(),
			Attempts:  attempts,
		})
	}
}

// sweepLoop reaps idle sessions and expires stale video call requests.
func (h *Hub) sweepLoop() {
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.sweepTick(time.Now())
		}
	}
}

func (h *Hub) sweepTick(now time.Time) {
	for _, id := range h.sessions.IdleSince(now.Add(-h.cfg.IdleThreshold)) {
		h.teardown(id, pairing.ReasonInactive, now)
		// Closing the connection triggers handleDisconnected for the rest.
		h.drop(id)
	}

	for _, call := range h.registry.ExpireCallRequests(now) {
		h.sendError(call.Caller, protocol.TypeWebRTCError,
			"call_request_expired", "video call request timed out")
	}
}

// statsLoop refreshes the gauges and broadcasts stats-updated.
func (h *Hub) statsLoop() {
	ticker := time.NewTicker(h.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.statsTick(time.Now())
		}
	}
}

func (h *Hub) statsTick(now time.Time) {
	snap := h.stats.Snapshot(now)

	metrics.SearchingPeers.Set(float64(snap.Searching))
	metrics.ActivePairs.Set(float64(snap.ActivePairs))
	metrics.ActiveCalls.Set(float64(snap.ActiveCalls))

	if h.broadcast != nil {
		if data, err := protocol.NewServerMessage(protocol.TypeStatsUpdated, snap); err == nil {
			h.broadcast(data)
		}
	}
	h.events.Publish(messaging.SubjectStatsSnapshot, snap)
}
