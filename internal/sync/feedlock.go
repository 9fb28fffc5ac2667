package sync

import gosync "sync"

// feedLocks hands out one non-blocking lock per feed id.
type feedLocks struct {
	mu    gosync.Mutex
	locks map[string]*gosync.Mutex
}

// tryLock acquires the feed's lock without waiting. The returned func
// releases it.
func (l *feedLocks) tryLock(feedID string) (func(), bool) {
	l.mu.Lock()

	if l.locks == nil {
		l.locks = make(map[string]*gosync.Mutex)
	}

	m, ok := l.locks[feedID]
	if !ok {
		m = &gosync.Mutex{}
		l.locks[feedID] = m
	}

	l.mu.Unlock()

	if !m.TryLock() {
		return nil, false
	}

	return m.Unlock, true
}
