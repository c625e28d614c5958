package relay

import "sync"

// MaxHistoryMessages is the number of recent messages retained per room.
const MaxHistoryMessages = 5

// StoredMessage is a single delivered message kept in the room's ring buffer.
type StoredMessage struct {
	ID   string `json:"id"`
	From string `json:"from"` // sender peer id
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// History stores the last N messages per room in memory. It is
// goroutine-safe and uses a fixed-size ring per room.
type History struct {
	mu    sync.RWMutex
	rooms map[string]*ring
}

type ring struct {
	items []StoredMessage
	pos   int
	count int
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{rooms: make(map[string]*ring)}
}

// Add appends a message to the room's ring, overwriting the oldest entry
// once the ring is full.
func (h *History) Add(roomID string, msg StoredMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		r = &ring{items: make([]StoredMessage, MaxHistoryMessages)}
		h.rooms[roomID] = r
	}
	r.items[r.pos] = msg
	r.pos = (r.pos + 1) % MaxHistoryMessages
	if r.count < MaxHistoryMessages {
		r.count++
	}
}

// Get returns the room's retained messages in chronological order.
func (h *History) Get(roomID string) []StoredMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return []StoredMessage{}
	}
	out := make([]StoredMessage, r.count)
	start := (r.pos - r.count + MaxHistoryMessages) % MaxHistoryMessages
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(start+i)%MaxHistoryMessages]
	}
	return out
}

// Remove drops the room's buffer on teardown.
func (h *History) Remove(roomID string) {
	h.mu.Lock()
	delete(h.rooms, roomID)
	h.mu.Unlock()
}
