// Package metrics provides Prometheus instrumentation for the pairing
// server. It exposes gauges for connection, pool and room counts, counters
// for message and match throughput, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairserver_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// SearchingPeers tracks the current number of peers in the waiting pool.
	SearchingPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairserver_searching_peers",
		Help: "Current number of peers in the matching pool",
	})

	// ActivePairs tracks the current number of committed rooms.
	ActivePairs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairserver_active_pairs",
		Help: "Current number of committed pairs",
	})

	// ActiveCalls tracks the current number of live WebRTC calls.
	ActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairserver_active_calls",
		Help: "Current number of WebRTC calls in the offered or answered state",
	})

	// MatchesTotal counts committed matches, labeled by chat mode.
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairserver_matches_total",
		Help: "Total number of committed matches",
	}, []string{"mode"}) // mode = "text", "video"

	// MatchDuration records the time from search start to committed match.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairserver_match_duration_seconds",
		Help:    "Time from search start to committed match",
		Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 45},
	})

	// SearchTimeoutsTotal counts searches that hit the maximum wait time.
	SearchTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairserver_search_timeouts_total",
		Help: "Total number of searches ended by timeout",
	})

	// MessagesTotal counts chat messages, labeled by outcome: "delivered",
	// "rejected", or "blocked".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairserver_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"})

	// SignalsTotal counts relayed WebRTC signals, labeled by type.
	SignalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairserver_signals_total",
		Help: "Total number of relayed WebRTC signaling messages",
	}, []string{"type"})

	// TeardownsTotal counts pair teardowns, labeled by reason.
	TeardownsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairserver_teardowns_total",
		Help: "Total number of pair teardowns",
	}, []string{"reason"})

	// ReportsTotal counts filed abuse reports.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairserver_reports_total",
		Help: "Total number of abuse reports filed",
	})

	// RateLimitedTotal counts rejected events, labeled by limit rule.
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairserver_rate_limited_total",
		Help: "Total number of events rejected by rate limiting",
	}, []string{"rule"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		SearchingPeers,
		ActivePairs,
		ActiveCalls,
		MatchesTotal,
		MatchDuration,
		SearchTimeoutsTotal,
		MessagesTotal,
		SignalsTotal,
		TeardownsTotal,
		ReportsTotal,
		RateLimitedTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
