// Package dedupe tracks bundle ids already acted on, so that each
// prediction bundle is released at most once per cycle.
package dedupe

import (
	"context"
	"sync"
)

// Deduper records seen bundle ids.
type Deduper interface {
	// Seen reports whether id was recorded, without recording it.
	Seen(ctx context.Context, id string) bool

	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a failed action can be retried.
	Unrecord(ctx context.Context, id string)

	// Reset forgets every id.
	Reset()

	Size() int
}

type inMemoryDeduper struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewInMemoryDeduper creates an empty deduper.
func NewInMemoryDeduper() Deduper {
	return &inMemoryDeduper{seen: make(map[string]struct{})}
}

func (d *inMemoryDeduper) Seen(_ context.Context, id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.seen[id]
	return ok
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}

func (d *inMemoryDeduper) Reset() {
	d.mu.Lock()
	clear(d.seen)
	d.mu.Unlock()
}

func (d *inMemoryDeduper) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.seen)
}
