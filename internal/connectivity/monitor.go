// Package connectivity publishes the process-wide online/offline state.
// Subscribers are notified on edges only; steady state is never re-announced.
package connectivity

import "sync"

// Monitor holds the single isOnline flag and its subscriber list.
// The zero value is offline with no subscribers and ready to use.
type Monitor struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(online bool)
}

func NewMonitor() *Monitor {
	return &Monitor{subs: make(map[int]func(bool))}
}

// IsOnline reports the last observed state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records a new observation from the underlying sensor. Subscribers are
// invoked only when the value actually changed.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online

	// Snapshot under the lock, call outside it: a subscriber may unsubscribe
	// or re-enter Set from its callback.
	callbacks := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		callbacks = append(callbacks, fn)
	}
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(online)
	}
}

// Subscribe registers fn for future edges and returns an unsubscribe func.
// fn is not called with the current state; callers that need it read IsOnline.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.subs == nil {
		m.subs = make(map[int]func(bool))
	}
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}
