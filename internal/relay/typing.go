package relay

import (
	"sync"
	"time"

	"github.com/driftchat/pairserver/internal/pairing"
	"github.com/driftchat/pairserver/internal/protocol"
)

// TypingTTL is how long a typing indicator stays alive without a refresh
// before the partner is told the peer stopped.
const TypingTTL = 3 * time.Second

// typingTracker relays typing indicators and expires stale ones. Each typing
// peer holds one timer; a refresh resets it, an explicit stop or expiry fires
// partnerTypingStopped exactly once.
type typingTracker struct {
	sender pairing.Sender

	mu     sync.Mutex
	timers map[string]*time.Timer // typing peer id -> expiry timer
}

func newTypingTracker(sender pairing.Sender) *typingTracker {
	return &typingTracker{
		sender: sender,
		timers: make(map[string]*time.Timer),
	}
}

// start relays partnerTyping on the first indicator and (re)arms the expiry
// timer on every refresh.
func (t *typingTracker) start(peerID, partnerID string) {
	t.mu.Lock()
	timer, active := t.timers[peerID]
	if active {
		timer.Reset(TypingTTL)
		t.mu.Unlock()
		return
	}
	t.timers[peerID] = time.AfterFunc(TypingTTL, func() {
		t.expire(peerID, partnerID)
	})
	t.mu.Unlock()

	t.sender.Send(partnerID, protocol.TypePartnerTyping, protocol.PartnerTypingMsg{})
}

// stop cancels the indicator and notifies the partner. A stop without a
// preceding start is a no-op.
func (t *typingTracker) stop(peerID, partnerID string) {
	if !t.clear(peerID) {
		return
	}
	t.sender.Send(partnerID, protocol.TypePartnerTypingStop, protocol.PartnerTypingStoppedMsg{})
}

// expire is the timer callback: the peer went quiet without sending
// typingStopped.
func (t *typingTracker) expire(peerID, partnerID string) {
	t.mu.Lock()
	_, active := t.timers[peerID]
	delete(t.timers, peerID)
	t.mu.Unlock()
	if !active {
		return
	}
	t.sender.Send(partnerID, protocol.TypePartnerTypingStop, protocol.PartnerTypingStoppedMsg{})
}

// clear drops the peer's timer without notifying anyone. Used on teardown.
// Reports whether an indicator was active.
func (t *typingTracker) clear(peerID string) bool {
	t.mu.Lock()
	timer, active := t.timers[peerID]
	if active {
		timer.Stop()
		delete(t.timers, peerID)
	}
	t.mu.Unlock()
	return active
}

// count returns how many peers currently show a typing indicator.
func (t *typingTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
