package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one WebSocket peer. Outbound frames are serialized by the
// write mutex; reads are owned by the event loop.
type Connection struct {
	ID         string    // peer id (UUID), assigned at upgrade
	Conn       net.Conn  // underlying socket
	Fd         int       // socket descriptor, keys the epoll interest list
	CreatedAt  time.Time
	LastPing   time.Time  // refreshed on every inbound frame
	writeMu    sync.Mutex
	processing int32 // atomic; 1 while a worker is draining this connection
}

// WriteMessage sends a text frame. Safe for concurrent callers.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager indexes live connections by peer id and by socket
// descriptor, so both the dispatch path (peer id) and the epoll wakeup
// path (fd) resolve in O(1).
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
	byFd map[int]*Connection
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a connection under both indexes.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
}

// Remove drops the connection with the given peer id from both indexes and
// closes its socket. Reports whether the id was present.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byFd, conn.Fd)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// RemoveByFd drops the connection registered for fd and closes its socket.
// Returns the removed connection so the caller can run disconnect cleanup,
// or nil if the fd was not registered.
func (cm *ConnectionManager) RemoveByFd(fd int) *Connection {
	cm.mu.Lock()
	conn, ok := cm.byFd[fd]
	if ok {
		delete(cm.byFd, fd)
		delete(cm.byID, conn.ID)
	}
	cm.mu.Unlock()

	if !ok {
		return nil
	}
	conn.Close()
	return conn
}

// Get returns the connection for a peer id, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for a socket descriptor, or nil.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn resolves a net.Conn back to its registered Connection via the
// socket descriptor. Returns nil if not registered.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	return cm.GetByFd(socketFD(c))
}

// Count returns the number of live connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// snapshot copies the current connection set so callers can iterate without
// holding the lock.
func (cm *ConnectionManager) snapshot() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}

// Broadcast writes msg to every connection. Individual write failures are
// ignored; the event loop evicts broken connections on their next read.
func (cm *ConnectionManager) Broadcast(msg []byte) {
	for _, conn := range cm.snapshot() {
		_ = conn.WriteMessage(msg)
	}
}

// All returns a snapshot of the current connections.
func (cm *ConnectionManager) All() []*Connection {
	return cm.snapshot()
}
