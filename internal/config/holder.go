package config

import "sync"

// Holder gives concurrent access to a replaceable *Resolved. The watch loop
// reads through it on every tick while the config watcher swaps in a
// freshly resolved value after the file changes.
type Holder struct {
	mu       sync.RWMutex
	resolved *Resolved
}

// NewHolder returns a Holder seeded with r.
func NewHolder(r *Resolved) *Holder {
	return &Holder{resolved: r}
}

// Resolved returns the current snapshot.
func (h *Holder) Resolved() *Resolved {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.resolved
}

// Path returns the config file path of the current snapshot.
func (h *Holder) Path() string {
	return h.Resolved().ConfigPath
}

// Update replaces the snapshot.
func (h *Holder) Update(r *Resolved) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.resolved = r
}
