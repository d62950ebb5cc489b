package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"sync"

	"github.com/samber/lo"
)

// Registry maps every present identity to its single live connection.
// It is the only state shared between connection actors.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.Identity]contract.Connection // map identity -> live connection
	changes  chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.Identity]contract.Connection),
		changes:  make(chan struct{}, 1),
	}
}

// Register installs conn as the live connection of identity and returns the
// connection it displaced, if any. The caller owns the returned connection
// and must close it.
func (r *Registry) Register(identity domain.Identity, conn contract.Connection) (contract.Connection, bool) {
	r.mu.Lock()
	previous, replaced := r.sessions[identity]
	r.sessions[identity] = conn
	r.mu.Unlock()

	r.notify()
	if replaced && previous == conn {
		return nil, false
	}
	return previous, replaced
}

// Unregister removes identity only while conn is still its live connection.
// A disconnect that arrives after a reconnect finds a newer connection in
// place and leaves it untouched.
func (r *Registry) Unregister(identity domain.Identity, conn contract.Connection) bool {
	r.mu.Lock()
	current, ok := r.sessions[identity]
	if !ok || current != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, identity)
	r.mu.Unlock()

	r.notify()
	return true
}

// Lookup returns the live connection of identity. A connection that already
// started closing is reported absent even before it unregisters.
func (r *Registry) Lookup(identity domain.Identity) (contract.Connection, bool) {
	r.mu.RLock()
	conn, ok := r.sessions[identity]
	r.mu.RUnlock()

	if !ok || conn.Closing() {
		return nil, false
	}
	return conn, true
}

// Roster is a snapshot of the registry key set.
func (r *Registry) Roster() domain.Roster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.NewRoster(lo.Keys(r.sessions))
}

// Connections is a snapshot of every registered connection, closing ones included.
func (r *Registry) Connections() []contract.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.sessions)
}

// Changes signals registry churn. Signals coalesce: a receiver woken once
// observes every mutation that happened before it reads the registry.
func (r *Registry) Changes() <-chan struct{} {
	return r.changes
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) notify() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}
