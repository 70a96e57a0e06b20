package serverstate

import (
	"sync"
	"sync/atomic"
)

// State holds the server status, the draining flag and a mirror of the
// relay's stream status. All fields are updated together so callers always
// observe a consistent snapshot.
type State struct {
	Status       string `json:"status"`
	Draining     bool   `json:"draining"`
	StreamActive bool   `json:"stream_active"`
	Producers    int    `json:"producers"`
}

// Store defines how the server state is persisted. Implementations may keep
// it in memory or in an external service such as Redis.
type Store interface {
	Load() State
	Store(State)
}

var (
	// mu serializes read-modify-write updates against the active store.
	mu     sync.Mutex
	active Store = NewMemoryStore()
)

// UseStore replaces the active Store.
func UseStore(s Store) {
	if s == nil {
		return
	}
	mu.Lock()
	active = s
	mu.Unlock()
}

func current() Store {
	mu.Lock()
	defer mu.Unlock()
	return active
}

func update(fn func(*State)) {
	mu.Lock()
	defer mu.Unlock()
	st := active.Load()
	fn(&st)
	active.Store(st)
}

// memoryStore implements Store using an atomic.Value.
type memoryStore struct {
	v atomic.Value
}

// NewMemoryStore returns a memory-backed Store initialized to "not_ready".
func NewMemoryStore() Store {
	ms := &memoryStore{}
	ms.v.Store(State{Status: "not_ready"})
	return ms
}

func (m *memoryStore) Load() State {
	if st, ok := m.v.Load().(State); ok {
		return st
	}
	return State{Status: "unknown"}
}

func (m *memoryStore) Store(s State) {
	m.v.Store(s)
}

// SetState updates the server status string.
func SetState(status string) {
	update(func(st *State) { st.Status = status })
}

// GetState returns the current server status.
func GetState() string {
	return current().Load().Status
}

// SetStream records the relay's producer count. The stream is active iff
// producers > 0.
func SetStream(producers int) {
	update(func(st *State) {
		st.Producers = producers
		st.StreamActive = producers > 0
	})
}

// StartDrain marks the server as draining.
func StartDrain() {
	update(func(st *State) {
		st.Draining = true
		st.Status = "draining"
	})
}

// IsDraining reports whether the server is draining.
func IsDraining() bool {
	return current().Load().Draining
}

// Snapshot returns the full current state.
func Snapshot() State {
	return current().Load()
}
