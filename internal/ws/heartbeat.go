package ws

import (
	"log"
	"time"

	"github.com/gobwas/ws"
)

// HeartbeatConfig tunes the dead-connection detector.
type HeartbeatConfig struct {
	Interval time.Duration // ping cadence
	Timeout  time.Duration // grace period after the last observed activity
}

// DefaultHeartbeatConfig returns the production defaults.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat launches the background monitor: every Interval it pings
// all connections and evicts any without a successful read inside
// Interval + Timeout. The goroutine exits with the server's done channel.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				sweepConnections(server, config)
			}
		}
	}()
}

// sweepConnections evicts stale peers and pings the rest. The ping is a
// protocol-level frame (opcode 0x9); browsers answer it automatically, and
// any inbound frame refreshes LastPing.
func sweepConnections(server *Server, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range server.Connections().All() {
		idle := now.Sub(c.LastPing)
		if idle > deadline {
			log.Printf("ws: heartbeat timeout peer=%s idle=%s", c.ID, idle.Round(time.Second))
			server.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed peer=%s: %v", c.ID, err)
			server.RemoveConnection(c)
		}
	}
}

// WritePing sends a protocol-level ping frame, serialized with application
// writes by the connection's write mutex.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}
