package moderation

// FlaggedMessage is the event payload published when the filter blocks a
// message, consumed by out-of-process moderation tooling.
type FlaggedMessage struct {
	PeerID string `json:"peer_id"`
	RoomID string `json:"room_id"`
	Reason string `json:"reason"`
	Term   string `json:"term"`
	Ts     int64  `json:"ts"`
}
