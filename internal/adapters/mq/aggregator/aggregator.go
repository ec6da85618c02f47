// Package aggregator runs the single background worker that drains the
// submission queue on a fixed cadence and writes each batch to the store.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/livescore/internal/adapters/mq/queue"
	"github.com/okian/livescore/internal/adapters/repository"
	"github.com/okian/livescore/internal/domain/livexml"
	"github.com/okian/livescore/internal/domain/model"
	"github.com/okian/livescore/pkg/logger"
	"github.com/okian/livescore/pkg/metrics"
)

// Default aggregator configuration constants.
const (
	defaultInterval       = 60 * time.Second
	defaultRetryBackoff   = time.Second
	defaultMaxFastRetries = 3
	defaultStopTimeout    = 30 * time.Second
)

// Persister parses and stores a batch. The contest store satisfies it.
type Persister interface {
	Parse(ctx context.Context, raw string) ([]model.ScoreSnapshot, []error)
	Store(ctx context.Context, snaps []model.ScoreSnapshot) repository.Result
}

// State of the worker loop.
type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Aggregator drains the queue every interval and persists what it found.
type Aggregator struct {
	queue queue.Queue
	store Persister

	interval       time.Duration
	retryBackoff   time.Duration
	maxFastRetries int
	maxAttempts    int
	stopTimeout    time.Duration
	deadLetter     DeadLetter

	// flushMu keeps flushes from overlapping.
	flushMu sync.Mutex

	mu     sync.Mutex
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	logger logger.Logger
}

// New creates an aggregator over q and store.
func New(q queue.Queue, store Persister, opts ...Option) *Aggregator {
	a := &Aggregator{
		queue:          q,
		store:          store,
		interval:       defaultInterval,
		retryBackoff:   defaultRetryBackoff,
		maxFastRetries: defaultMaxFastRetries,
		stopTimeout:    defaultStopTimeout,
		logger:         logger.Get().Named("aggregator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State reports whether the loop is running.
func (a *Aggregator) State() State { return State(a.state.Load()) }

// Serve runs the loop until ctx is canceled, then performs a final flush of
// whatever is still queued.
func (a *Aggregator) Serve(ctx context.Context) error {
	if !a.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		return ErrAlreadyRunning
	}
	defer a.state.Store(int32(Stopped))

	a.logger.Info(ctx, "aggregator started",
		logger.Duration("interval", a.interval),
		logger.Duration("retry_backoff", a.retryBackoff),
	)

	timer := time.NewTimer(a.interval)
	defer timer.Stop()

	fast := 0
	for {
		select {
		case <-ctx.Done():
			a.finalFlush()
			a.logger.Info(context.Background(), "aggregator stopped")
			return ctx.Err()
		case <-timer.C:
		}

		start := time.Now()
		outcome := a.Flush(ctx)

		wait := a.interval - time.Since(start)
		if outcome == repository.Retryable && fast < a.maxFastRetries {
			fast++
			wait = a.retryBackoff
		} else {
			fast = 0
		}
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// finalFlush gives items still queued at shutdown one bounded chance to land.
func (a *Aggregator) finalFlush() {
	if a.queue.Len(context.Background()) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.stopTimeout)
	defer cancel()
	if outcome := a.Flush(ctx); outcome != repository.Committed {
		a.logger.Warn(ctx, "final flush did not commit",
			logger.String("outcome", outcome.String()),
			logger.Int("queued", a.queue.Len(ctx)),
		)
	}
}

// Start launches Serve in the background.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done != nil {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	done := a.done
	go func() {
		defer close(done)
		_ = a.Serve(runCtx)
	}()
	return nil
}

// Stop cancels the loop and waits for the in-flight batch, at most stop_timeout.
func (a *Aggregator) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if done == nil {
		return ErrNotRunning
	}
	cancel()

	timeout := time.NewTimer(a.stopTimeout)
	defer timeout.Stop()
	select {
	case <-done:
		return nil
	case <-timeout.C:
		a.logger.Warn(ctx, "stop timed out", logger.Duration("timeout", a.stopTimeout))
		return fmt.Errorf("%w after %s", ErrStopTimeout, a.stopTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err())
	}
}

// Flush runs one drain, parse, store cycle and returns the store outcome.
// An empty queue counts as Committed.
func (a *Aggregator) Flush(ctx context.Context) repository.Outcome {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	// The write is not interrupted by cancellation; a stopped loop waits for it.
	ctx = context.WithoutCancel(ctx)

	items := a.queue.Drain(ctx)
	metrics.UpdateQueueDepth(a.queue.Len(ctx))
	items = a.expire(ctx, items)
	if len(items) == 0 {
		return repository.Committed
	}

	start := time.Now()
	outcome := a.persist(ctx, items)
	metrics.RecordBatch(len(items), time.Since(start).Seconds(), outcome.String())
	return outcome
}

func (a *Aggregator) persist(ctx context.Context, items []queue.Item) repository.Outcome {
	docs := make([]string, len(items))
	for i, it := range items {
		docs[i] = it.Doc
	}

	snaps, errs := a.store.Parse(ctx, strings.Join(docs, "\n"))
	if len(errs) > 0 {
		items = a.rejectDocuments(ctx, items, errs)
	}

	res := a.store.Store(ctx, snaps)
	switch res.Outcome {
	case repository.Committed:
		a.logger.Debug(ctx, "batch committed",
			logger.Int("documents", len(items)),
			logger.Int("committed", len(res.Committed)),
			logger.Int("duplicates", res.Duplicates),
			logger.Int("unchanged", res.Unchanged),
		)
	case repository.Retryable:
		a.requeue(ctx, items, false)
		a.logger.Warn(ctx, "store busy, batch requeued",
			logger.Int("documents", len(items)),
			logger.Error(res.Err),
		)
	default:
		if len(items) > 1 {
			a.logger.Warn(ctx, "batch write failed, storing documents one by one",
				logger.Int("documents", len(items)),
				logger.Error(res.Err),
			)
			return a.isolate(ctx, items)
		}
		a.requeue(ctx, items, true)
		a.logger.Error(ctx, "batch write failed, requeued",
			logger.Int("documents", len(items)),
			logger.Error(res.Err),
			logger.Trace(res.Err),
		)
	}
	return res.Outcome
}

// isolate stores each item on its own so one failing record cannot hold its
// siblings back. Failed items go back with a bumped attempt count; a busy store
// sends the current item and everything after it back unchanged.
func (a *Aggregator) isolate(ctx context.Context, items []queue.Item) repository.Outcome {
	var back []queue.Item
	outcome := repository.Committed
	for i, it := range items {
		snaps, _ := a.store.Parse(ctx, it.Doc)
		res := a.store.Store(ctx, snaps)
		if res.Outcome == repository.Committed {
			continue
		}
		if res.Outcome == repository.Retryable {
			back = append(back, items[i:]...)
			outcome = repository.Retryable
			a.logger.Warn(ctx, "store busy, remaining documents requeued",
				logger.Int("documents", len(items)-i),
				logger.Error(res.Err),
			)
			break
		}
		it.Attempts++
		back = append(back, it)
		outcome = repository.Fatal
		a.logger.Error(ctx, "document write failed, requeued",
			logger.String("key_id", it.KeyID),
			logger.Int("attempts", it.Attempts),
			logger.Error(res.Err),
			logger.Trace(res.Err),
		)
	}
	if len(back) > 0 {
		a.requeue(ctx, back, false)
	}
	return outcome
}

// rejectDocuments handles documents that failed to parse and returns the items
// that did parse. Each item holds one document, so a document index is also an
// item index. Failed items are requeued with a bumped attempt count when
// attempts are bounded and dropped otherwise; sibling documents are stored
// either way.
func (a *Aggregator) rejectDocuments(ctx context.Context, items []queue.Item, errs []error) []queue.Item {
	bad := make(map[int]bool, len(errs))
	var failed []queue.Item
	for _, err := range errs {
		de, ok := asDocumentError(err)
		if !ok || de.Index < 0 || de.Index >= len(items) {
			a.logger.Error(ctx, "unparseable batch text", logger.Error(err))
			continue
		}
		it := items[de.Index]
		a.logger.Error(ctx, "document failed to parse",
			logger.String("key_id", it.KeyID),
			logger.Int("attempts", it.Attempts),
			logger.Error(de.Err),
		)
		if !bad[de.Index] {
			bad[de.Index] = true
			failed = append(failed, it)
		}
	}
	metrics.RecordDocumentInvalid(len(errs))
	if a.maxAttempts > 0 && len(failed) > 0 {
		a.requeue(ctx, failed, true)
	}

	parsed := make([]queue.Item, 0, len(items)-len(failed))
	for i, it := range items {
		if !bad[i] {
			parsed = append(parsed, it)
		}
	}
	return parsed
}

func (a *Aggregator) requeue(ctx context.Context, items []queue.Item, bump bool) {
	back := make([]queue.Item, len(items))
	copy(back, items)
	if bump {
		for i := range back {
			back[i].Attempts++
		}
	}
	a.queue.Requeue(ctx, back)
}

// expire moves items that used up their attempts to the dead letter.
func (a *Aggregator) expire(ctx context.Context, items []queue.Item) []queue.Item {
	if a.maxAttempts <= 0 {
		return items
	}
	keep := items[:0]
	var dead []queue.Item
	for _, it := range items {
		if it.Attempts >= a.maxAttempts {
			dead = append(dead, it)
			continue
		}
		keep = append(keep, it)
	}
	if len(dead) == 0 {
		return keep
	}

	metrics.RecordDeadLetter(len(dead))
	if a.deadLetter == nil {
		a.logger.Error(ctx, "dropping items past max attempts", logger.Int("items", len(dead)))
		return keep
	}
	if err := a.deadLetter.Write(ctx, dead); err != nil {
		a.logger.Error(ctx, "dead letter write failed", logger.Int("items", len(dead)), logger.Error(err))
		return keep
	}
	a.logger.Warn(ctx, "items dead-lettered", logger.Int("items", len(dead)))
	return keep
}

func asDocumentError(err error) (*livexml.DocumentError, bool) {
	var de *livexml.DocumentError
	ok := errors.As(err, &de)
	return de, ok
}
