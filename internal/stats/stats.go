// Package stats assembles live counters from the session manager, the
// matching engine and the pair registry into one snapshot, served on
// get-stats and broadcast periodically as stats-updated.
package stats

import (
	"time"

	"github.com/driftchat/pairserver/internal/matching"
	"github.com/driftchat/pairserver/internal/pairing"
	"github.com/driftchat/pairserver/internal/protocol"
	"github.com/driftchat/pairserver/internal/relay"
	"github.com/driftchat/pairserver/internal/session"
)

// Collector reads counters from the core components. It holds no state
// of its own; every Snapshot is computed fresh.
type Collector struct {
	sessions *session.Manager
	engine   *matching.Engine
	registry *pairing.Registry
	relay    *relay.Relay
}

// New returns a collector over the given components.
func New(sessions *session.Manager, engine *matching.Engine, registry *pairing.Registry, rel *relay.Relay) *Collector {
	return &Collector{sessions: sessions, engine: engine, registry: registry, relay: rel}
}

// Snapshot returns the current counters. The Type field is left empty;
// the sender injects it (stats or stats-updated).
func (c *Collector) Snapshot(now time.Time) protocol.StatsMsg {
	es := c.engine.Stats(now)
	activePairs, activeCalls, waitingRequests := c.registry.Stats()

	return protocol.StatsMsg{
		Online:              c.sessions.Count(),
		Searching:           es.Waiting,
		ActivePairs:         activePairs,
		ActiveCalls:         activeCalls,
		WaitingCallRequests: waitingRequests,
		TypingPeers:         c.relay.TypingCount(),
		AvgWaitMs:           es.AvgWaitMs,
		AvgCompatibility:    es.AvgScore,
		Ts:                  now.UnixMilli(),
	}
}
