// Package frame tracks reference counts for physical frames shared between
// processes by copy-on-write fork. Untracked frames are implicitly private
// (refcount 1); a frame only needs an entry once it becomes shared.
package frame

import "sync"

// Base is a physical frame's base address.
type Base uint64

// Metadata is the sparse refcount map for shared physical frames. Its own
// lock guards it, per the "frame-metadata map" entry in spec.md §5's shared
// mutable state list.
type Metadata struct {
	mu     sync.Mutex
	counts map[Base]int
}

// NewMetadata returns an empty frame-metadata tracker.
func NewMetadata() *Metadata {
	return &Metadata{counts: make(map[Base]int)}
}

// Register begins tracking a frame explicitly, at the given initial
// refcount, replacing any count already recorded for it.
func (m *Metadata) Register(f Base, initial int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[f] = initial
}

// Incref increments the refcount of a shared frame and returns the new
// value. If the frame was not previously tracked, it starts from an
// implicit refcount of 1 (private) and becomes 2 (shared).
func (m *Metadata) Incref(f Base) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counts[f]
	if !ok {
		c = 1
	}
	c++
	m.counts[f] = c
	return c
}

// Decref decrements the refcount of a frame and reports whether it has
// reached zero and should be returned to the frame allocator. A frame with
// no tracked entry is implicitly private (refcount 1); decrementing it
// always yields shouldFree == true and removes any (nonexistent) entry.
func (m *Metadata) Decref(f Base) (shouldFree bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counts[f]
	if !ok {
		return true
	}
	c--
	if c <= 1 {
		// A refcount of 1 no longer needs explicit tracking: it's back to
		// being implicitly private.
		delete(m.counts, f)
	} else {
		m.counts[f] = c
	}
	return c <= 0
}

// IsShared reports whether a frame currently has more than one owner.
func (m *Metadata) IsShared(f Base) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counts[f]
	return ok && c > 1
}

// Refcount returns a frame's current reference count. Untracked frames
// report the implicit refcount of 1.
func (m *Metadata) Refcount(f Base) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counts[f]; ok {
		return c
	}
	return 1
}
