// Package messaging publishes server events to NATS for out-of-process
// consumers (analytics, moderation tooling, dashboards). Publishing is
// fire-and-forget: the server never blocks on or fails because of the event
// stream, and a nil publisher disables it entirely.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Event subjects.
const (
	SubjectMatchCreated  = "match.created"
	SubjectMatchEnded    = "match.ended"
	SubjectChatFlagged   = "chat.flagged"
	SubjectReportFiled   = "report.filed"
	SubjectStatsSnapshot = "stats.snapshot"
)

// MatchCreatedEvent is published when a pair commits.
type MatchCreatedEvent struct {
	RoomID        string  `json:"room_id"`
	Mode          string  `json:"mode"`
	Compatibility float64 `json:"compatibility"`
	Ts            int64   `json:"ts"`
}

// MatchEndedEvent is published when a pair is torn down.
type MatchEndedEvent struct {
	RoomID     string `json:"room_id"`
	Reason     string `json:"reason"`
	DurationMs int64  `json:"duration_ms"`
	Ts         int64  `json:"ts"`
}

// ReportFiledEvent is published when an abuse report is stored.
type ReportFiledEvent struct {
	ReportID string `json:"report_id"`
	Reason   string `json:"reason"`
	Ts       int64  `json:"ts"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "pairserver",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Publisher emits JSON events to NATS subjects. The zero value (and a nil
// pointer) is a disabled publisher whose methods are all no-ops.
type Publisher struct {
	conn *nats.Conn
}

// Connect establishes the NATS connection and returns a live publisher.
func Connect(config NATSConfig) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())
	return &Publisher{conn: nc}, nil
}

// Publish marshals the event and sends it to the subject. Failures are logged
// and swallowed; the event stream is best-effort.
func (p *Publisher) Publish(subject string, event interface{}) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[nats] marshal %s: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("[nats] publish %s: %v", subject, err)
	}
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] publisher closed")
}
