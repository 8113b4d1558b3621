package workflows

import "sync"

// sessionLocks serializes stage operations per session. Entries are
// refcounted so the map does not grow with every session ever seen.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{entries: make(map[string]*lockEntry)}
}

// Acquire blocks until the lock for id is held and returns the release
// function. Waiters hold a reference, so an entry is only dropped once
// the last holder releases.
func (l *sessionLocks) Acquire(id string) func() {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &lockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
