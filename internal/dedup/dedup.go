// Package dedup implements the bounded window of recently observed
// correlation keys. The window guarantees that a key recorded once answers
// Seen until it is pushed out by newer insertions; eviction is strict FIFO by
// insertion order, lookups do not refresh an entry.
package dedup

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultCapacity matches the production dedup window.
const DefaultCapacity = 200

// Window is a fixed-capacity, insertion-ordered set of correlation keys.
// Keys are stored as xxhash digests so the window occupies constant memory
// regardless of key length.
type Window struct {
	mu       sync.Mutex
	capacity int
	order    []uint64
	seen     map[uint64]struct{}
}

// NewWindow creates a window holding up to capacity keys. A capacity of zero
// or less falls back to DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity: capacity,
		order:    make([]uint64, 0, capacity),
		seen:     make(map[uint64]struct{}, capacity),
	}
}

// Seen reports whether key is currently inside the window.
func (w *Window) Seen(key string) bool {
	h := xxhash.Sum64String(key)

	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[h]
	return ok
}

// Record inserts key, evicting the single oldest entry if the window is full.
// Recording a key already present is a no-op; it does not move the key to the
// back of the eviction order.
func (w *Window) Record(key string) {
	h := xxhash.Sum64String(key)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.recordLocked(h)
}

// SeenOrRecord reports whether key is inside the window, recording it when it
// is not. Check and insert happen under one lock hold: callers gating
// delivery on the window must use this rather than Seen followed by Record,
// which leaves a gap two deliverers of the same key can both slip through.
func (w *Window) SeenOrRecord(key string) bool {
	h := xxhash.Sum64String(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[h]; ok {
		return true
	}
	w.recordLocked(h)
	return false
}

func (w *Window) recordLocked(h uint64) {
	if _, ok := w.seen[h]; ok {
		return
	}
	if len(w.order) >= w.capacity {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, oldest)
	}
	w.order = append(w.order, h)
	w.seen[h] = struct{}{}
}

// Len returns the number of keys currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}
