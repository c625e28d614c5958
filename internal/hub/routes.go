package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/driftchat/pairserver/internal/metrics"
	"github.com/driftchat/pairserver/internal/protocol"
	"github.com/driftchat/pairserver/internal/ratelimit"
	"github.com/driftchat/pairserver/internal/ws"
)

// Attach binds the hub to a WebSocket server and dispatcher: transport
// hooks, connection lifecycle callbacks, and one dispatcher registration
// per client event. Must be called before the server starts.
func (h *Hub) Attach(server *ws.Server, d *ws.MessageDispatcher) {
	h.transport = server.SendMessage
	h.broadcast = server.Connections().Broadcast
	h.dropConn = func(peerID string) {
		if c := server.Connections().Get(peerID); c != nil {
			server.RemoveConnection(c)
		}
	}

	server.SetOnConnect(h.acceptConn)
	server.SetOnDisconnect(func(peerID string) {
		metrics.ConnectionsTotal.Dec()
		h.handleDisconnected(peerID, time.Now())
	})

	d.Register(protocol.TypeRegister, func(c *ws.Connection, m interface{}) {
		h.handleRegister(c.ID, m.(protocol.RegisterMsg), time.Now())
	})
	d.Register(protocol.TypeSetFingerprint, func(c *ws.Connection, m interface{}) {
		h.handleSetFingerprint(c.ID, m.(protocol.SetFingerprintMsg), time.Now())
	})
	d.Register(protocol.TypeSearch, func(c *ws.Connection, m interface{}) {
		h.handleSearch(c.ID, m.(protocol.SearchMsg), time.Now())
	})
	d.Register(protocol.TypeCancelSearch, func(c *ws.Connection, m interface{}) {
		h.handleCancelSearch(c.ID, time.Now())
	})
	d.Register(protocol.TypeMessage, func(c *ws.Connection, m interface{}) {
		h.handleMessage(c.ID, m.(protocol.ChatMsg), time.Now())
	})
	d.Register(protocol.TypeTyping, func(c *ws.Connection, m interface{}) {
		h.handleTyping(c.ID, time.Now())
	})
	d.Register(protocol.TypeTypingStopped, func(c *ws.Connection, m interface{}) {
		h.handleTypingStopped(c.ID, time.Now())
	})
	d.Register(protocol.TypeNext, func(c *ws.Connection, m interface{}) {
		h.handleNext(c.ID, time.Now())
	})
	d.Register(protocol.TypeDisconnectPartner, func(c *ws.Connection, m interface{}) {
		h.handleDisconnectPartner(c.ID, time.Now())
	})
	d.Register(protocol.TypeBlockPartner, func(c *ws.Connection, m interface{}) {
		h.handleBlockPartner(c.ID, time.Now())
	})
	d.Register(protocol.TypeReport, func(c *ws.Connection, m interface{}) {
		h.handleReport(c.ID, m.(protocol.ReportMsg), time.Now())
	})
	d.Register(protocol.TypeWebRTCOffer, func(c *ws.Connection, m interface{}) {
		h.handleOffer(c.ID, m.(protocol.WebRTCOfferMsg), time.Now())
	})
	d.Register(protocol.TypeWebRTCAnswer, func(c *ws.Connection, m interface{}) {
		h.handleAnswer(c.ID, m.(protocol.WebRTCAnswerMsg), time.Now())
	})
	d.Register(protocol.TypeICECandidate, func(c *ws.Connection, m interface{}) {
		h.handleICECandidate(c.ID, m.(protocol.ICECandidateMsg), time.Now())
	})
	d.Register(protocol.TypeWebRTCEnd, func(c *ws.Connection, m interface{}) {
		h.handleEndCall(c.ID, m.(protocol.WebRTCEndMsg), time.Now())
	})
	d.Register(protocol.TypeWebRTCReject, func(c *ws.Connection, m interface{}) {
		h.handleRejectCall(c.ID, m.(protocol.WebRTCRejectMsg), time.Now())
	})
	for _, opaque := range []string{protocol.TypeVideoCallStatus, protocol.TypeToggleMedia, protocol.TypeScreenShare} {
		msgType := opaque
		d.Register(msgType, func(c *ws.Connection, m interface{}) {
			h.handleOpaque(c.ID, msgType, m.(json.RawMessage), time.Now())
		})
	}
	d.Register(protocol.TypeVideoCallRequest, func(c *ws.Connection, m interface{}) {
		h.handleVideoCallRequest(c.ID, time.Now())
	})
	d.Register(protocol.TypeHeartbeat, func(c *ws.Connection, m interface{}) {
		h.handleHeartbeat(c.ID, time.Now())
	})
	d.Register(protocol.TypeGetPartnerInfo, func(c *ws.Connection, m interface{}) {
		h.handleGetPartnerInfo(c.ID, time.Now())
	})
	d.Register(protocol.TypeGetStats, func(c *ws.Connection, m interface{}) {
		h.handleGetStats(c.ID, time.Now())
	})
	d.Register(protocol.TypeGetICEServers, func(c *ws.Connection, m interface{}) {
		h.handleGetICEServers(c.ID, time.Now())
	})
}

// acceptConn is the pre-registration veto: per-IP connection rate limit,
// then session creation. A rejected client gets one rate-limited frame
// before the close.
func (h *Hub) acceptConn(c *ws.Connection) error {
	ip := remoteIP(c)
	if !h.limiter.Allow(context.Background(), ip, ratelimit.RuleConnect) {
		metrics.RateLimitedTotal.WithLabelValues(ratelimit.RuleConnect.Name).Inc()
		if data, err := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: int(ratelimit.RuleConnect.Window.Seconds()),
		}); err == nil {
			_ = c.WriteMessage(data)
		}
		return fmt.Errorf("connection rate limited for %s", ip)
	}

	metrics.ConnectionsTotal.Inc()
	h.handleConnected(c.ID, time.Now())
	return nil
}

func remoteIP(c *ws.Connection) string {
	addr := c.Conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
