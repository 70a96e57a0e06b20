package hub

import (
	"sort"
	"sync"

	"github.com/nutribin/feedrelay/internal/metrics"
)

// DefaultBuffer is the per-connection queue length used when New is given a
// non-positive size.
const DefaultBuffer = 64

// Conn is the outbound side of one live connection.
type Conn struct {
	ID string

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// Outbound yields queued messages until the connection is removed.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

func (c *Conn) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		metrics.RecordDropped()
		return false
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub is the registry of live connections. Sends never block: when a
// connection's queue is full the message is dropped for that connection.
type Hub struct {
	buffer int

	mu    sync.RWMutex
	conns map[string]*Conn
}

// New returns an empty Hub whose connections queue up to buffer messages.
func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{buffer: buffer, conns: make(map[string]*Conn)}
}

// Add registers a connection. Adding an id that is already present replaces
// and closes the previous connection.
func (h *Hub) Add(id string) *Conn {
	c := &Conn{ID: id, send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	prev := h.conns[id]
	h.conns[id] = c
	h.mu.Unlock()
	if prev != nil {
		prev.close()
	} else {
		metrics.ConnectionOpened()
	}
	return c
}

// Remove unregisters id and closes its queue. Unknown ids are ignored.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	if ok {
		c.close()
		metrics.ConnectionClosed()
	}
}

// Send queues msg for id and reports whether it was accepted.
func (h *Hub) Send(id string, msg []byte) bool {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return c.enqueue(msg)
}

// Broadcast queues msg for every connection registered at call time and
// returns how many accepted it.
func (h *Hub) Broadcast(msg []byte) int {
	h.mu.RLock()
	snapshot := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range snapshot {
		if c.enqueue(msg) {
			n++
		}
	}
	return n
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// IDs returns the live connection ids in sorted order.
func (h *Hub) IDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// CloseAll closes every connection's queue. Connections stay registered
// until their owner calls Remove, so Count reports handlers still running.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.close()
	}
}
