// Package dedupe tracks the last committed content of each station so that
// resubmissions of an identical snapshot can be skipped before storage.
package dedupe

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Deduper remembers one fingerprint per station.
type Deduper interface {
	// Unchanged reports whether fp equals the fingerprint last recorded for station.
	Unchanged(ctx context.Context, station, fp string) bool

	// Record remembers fp as the station's latest committed content.
	Record(ctx context.Context, station, fp string)

	Size() int64
}

// inMemoryDeduper keeps fingerprints in a map (unbounded) or an LRU (bounded).
type inMemoryDeduper struct {
	mu      sync.Mutex
	maxSize int
	seen    map[string]string
	bounded *lru.Cache[string, string]
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50_000,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.maxSize > 0 {
		// lru.New only fails on a non-positive size.
		d.bounded, _ = lru.New[string, string](d.maxSize)
	} else {
		d.seen = make(map[string]string)
	}
	return d
}

func (d *inMemoryDeduper) Unchanged(_ context.Context, station, fp string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	var last string
	var ok bool
	if d.bounded != nil {
		last, ok = d.bounded.Get(station)
	} else {
		last, ok = d.seen[station]
	}
	return ok && last == fp
}

func (d *inMemoryDeduper) Record(_ context.Context, station, fp string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.bounded != nil {
		d.bounded.Add(station, fp)
		return
	}
	d.seen[station] = fp
}

// Size returns the number of stations tracked.
func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.bounded != nil {
		return int64(d.bounded.Len())
	}
	return int64(len(d.seen))
}
