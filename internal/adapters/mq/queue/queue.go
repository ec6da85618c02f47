// Package queue holds raw score documents between the gateway and the batch aggregator.
//
// Many producers enqueue; a single consumer drains everything at once and may
// put a failed batch back at the front.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/livescore/pkg/metrics"
)

// Item is one accepted raw document.
type Item struct {
	Doc      string    // sanitized document text
	KeyID    string    // submitting key, for logs
	Received time.Time // gateway acceptance time
	Attempts int       // fatal flush failures so far
}

// Queue provides non-blocking enqueue and whole-queue drain semantics.
type Queue interface {
	// Enqueue adds an item. Returns false if the queue is at capacity or closed.
	Enqueue(ctx context.Context, it Item) bool

	// Drain removes and returns everything currently queued, oldest first.
	Drain(ctx context.Context) []Item

	// Requeue puts items back ahead of anything queued since they were drained.
	// It ignores capacity and works after Close, so nothing is ever dropped.
	Requeue(ctx context.Context, items []Item)

	// Len returns the current number of queued items.
	Len(ctx context.Context) int

	// Close stops accepting new items. Queued items stay drainable.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a mutex-guarded slice.
type InMemoryQueue struct {
	mu       sync.Mutex
	items    []Item
	capacity int // 0 = unbounded
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{}

	for _, opt := range opts {
		opt(q)
	}

	metrics.UpdateQueueDepth(0)
	return q
}

// Enqueue adds an item to the tail.
func (q *InMemoryQueue) Enqueue(ctx context.Context, it Item) bool {
	if ctx.Err() != nil {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return false
	}
	if it.Received.IsZero() {
		it.Received = time.Now().UTC()
	}
	q.items = append(q.items, it)

	metrics.RecordQueueEnqueue()
	metrics.UpdateQueueDepth(len(q.items))
	return true
}

// Drain takes everything queued.
func (q *InMemoryQueue) Drain(_ context.Context) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	metrics.UpdateQueueDepth(0)
	return out
}

// Requeue prepends items, keeping their order.
func (q *InMemoryQueue) Requeue(_ context.Context, items []Item) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]Item, 0, len(items)+len(q.items))
	merged = append(merged, items...)
	merged = append(merged, q.items...)
	q.items = merged

	metrics.RecordQueueRequeue(len(items))
	metrics.UpdateQueueDepth(len(q.items))
}

// Len returns the current number of queued items.
func (q *InMemoryQueue) Len(_ context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting new items.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
