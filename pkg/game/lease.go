package game

import "sync"

// sessionLeases grants at most one mutating caller per session. A second
// caller is refused, never queued.
type sessionLeases struct {
	mu   sync.Mutex
	held map[SessionID]struct{}
}

func newSessionLeases() *sessionLeases {
	return &sessionLeases{held: make(map[SessionID]struct{})}
}

func (leases *sessionLeases) acquire(sessionID SessionID) (func(), bool) {
	leases.mu.Lock()
	defer leases.mu.Unlock()
	if _, busy := leases.held[sessionID]; busy {
		return nil, false
	}
	leases.held[sessionID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			leases.mu.Lock()
			delete(leases.held, sessionID)
			leases.mu.Unlock()
		})
	}, true
}
