package scheduler

import "sync"

// keyLocks is the in-process per-shipment lock table. TryAcquire either
// takes the lock or reports contention; there is no queueing — a skipped
// shipment waits for the next cycle. Cross-process exclusion is handled by
// the store claim; this table arbitrates scheduled vs on-demand refreshes
// inside one process.
type keyLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyLocks() *keyLocks {
	return &keyLocks{held: make(map[string]struct{})}
}

func (l *keyLocks) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *keyLocks) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
