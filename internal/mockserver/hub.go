package mockserver

import (
	"context"
	"sync"
)

// peerConn is the transport side of a connected subscriber.
type peerConn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
	RemoteAddr() string
}

// client is a subscriber that has joined a room.
type client struct {
	conn     peerConn
	roomID   int64
	outgoing chan []byte
}

// hub tracks joined clients. WebSocket and TCP listeners share one hub.
type hub struct {
	clients map[*client]bool
	mu      sync.RWMutex
}

func newHub() *hub {
	return &hub{clients: make(map[*client]bool)}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast queues data for every client in roomID (all rooms when roomID is 0)
// and returns how many clients it reached. Full queues are skipped.
func (h *hub) broadcast(roomID int64, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.clients {
		if roomID != 0 && c.roomID != roomID {
			continue
		}
		select {
		case c.outgoing <- data:
			n++
		default:
		}
	}
	return n
}

func (h *hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.conn.Close()
	}
}
