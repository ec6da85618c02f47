// Package live pushes per-subscriber scoreboard views. Each subscriber runs
// its own timer-driven loop that rebuilds the view and sends it only when the
// serialized bytes change.
package live

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/okian/livescore/internal/domain/view"
	"github.com/okian/livescore/pkg/logger"
	"github.com/okian/livescore/pkg/metrics"
)

// Event kinds.
const (
	EventInit   = "init"
	EventUpdate = "update"
)

const (
	defaultInterval  = 30 * time.Second
	defaultHeartbeat = 15 * time.Second
)

// ErrHubClosed is returned when subscribing after Close.
var ErrHubClosed = errors.New("live hub closed")

// Sink is one subscriber's transport.
type Sink interface {
	// Send writes one event. An error means the peer is gone.
	Send(kind string, data []byte) error
	// Heartbeat proves the connection is alive.
	Heartbeat() error
	// Done is closed when the peer disconnects.
	Done() <-chan struct{}
	Transport() string
}

// ViewBuilder computes a subscriber's view.
type ViewBuilder interface {
	Build(ctx context.Context, q view.Query) (view.View, error)
}

// Hub runs subscriber loops and tracks how many are active.
type Hub struct {
	builder   ViewBuilder
	interval  time.Duration
	heartbeat time.Duration
	log       logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders wg.Add against Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	active atomic.Int64
}

// Option configures a Hub.
type Option func(*Hub)

// WithInterval sets how often views are rebuilt.
func WithInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.interval = d
		}
	}
}

// WithHeartbeat sets the keep-alive period.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// NewHub creates a hub over builder.
func NewHub(builder ViewBuilder, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		builder:   builder,
		interval:  defaultInterval,
		heartbeat: defaultHeartbeat,
		log:       logger.Named("live"),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribers returns the number of running loops.
func (h *Hub) Subscribers() int64 { return h.active.Load() }

// Prepare validates the query and builds the initial view before any bytes
// reach the client, so request errors can still be answered with a status.
func (h *Hub) Prepare(ctx context.Context, q view.Query) (view.Query, []byte, error) {
	if h.ctx.Err() != nil {
		return q, nil, ErrHubClosed
	}
	q, err := q.Normalize()
	if err != nil {
		return q, nil, err
	}
	v, err := h.builder.Build(ctx, q)
	if err != nil {
		return q, nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return q, nil, fmt.Errorf("encode view: %w", err)
	}
	return q, data, nil
}

// Serve sends initial and then loops until ctx ends, the hub closes or the
// sink fails. Transport errors end the loop silently.
func (h *Hub) Serve(ctx context.Context, q view.Query, initial []byte, sink Sink) {
	if !h.join() {
		return
	}
	defer h.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	h.active.Add(1)
	defer h.active.Add(-1)
	metrics.AddPushSubscriber(sink.Transport(), 1)
	defer metrics.AddPushSubscriber(sink.Transport(), -1)

	sub := &subscriber{
		id:      uuid.NewString(),
		query:   q,
		builder: h.builder,
		sink:    sink,
		log:     h.log,
	}
	sub.run(ctx, initial, h.interval, h.heartbeat)
}

// join registers a subscriber loop unless the hub is closed.
func (h *Hub) join() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.wg.Add(1)
	return true
}

// Close ends every subscriber loop and waits for them. Later calls to Serve
// return at once.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
}

type subscriber struct {
	id      string
	query   view.Query
	builder ViewBuilder
	sink    Sink
	last    []byte
	log     logger.Logger
}

func (s *subscriber) run(ctx context.Context, initial []byte, interval, heartbeat time.Duration) {
	log := s.log
	ctx = logger.WithRequestID(ctx, s.id)
	log.Debug(ctx, "subscriber started",
		logger.String("transport", s.sink.Transport()),
		logger.String("contest", s.query.Contest),
		logger.String("callsign", s.query.Callsign),
	)
	defer log.Debug(ctx, "subscriber ended")

	if err := s.send(EventInit, initial); err != nil {
		return
	}

	push := time.NewTicker(interval)
	defer push.Stop()
	beat := time.NewTicker(heartbeat)
	defer beat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.sink.Done():
			return
		case <-beat.C:
			if err := s.sink.Heartbeat(); err != nil {
				return
			}
		case <-push.C:
			v, err := s.builder.Build(ctx, s.query)
			if err != nil {
				log.Debug(ctx, "view rebuild failed", logger.Error(err))
				continue
			}
			data, err := json.Marshal(v)
			if err != nil {
				log.Error(ctx, "view encode failed", logger.Error(err))
				continue
			}
			if bytes.Equal(data, s.last) {
				continue
			}
			if err := s.send(EventUpdate, data); err != nil {
				return
			}
		}
	}
}

func (s *subscriber) send(kind string, data []byte) error {
	if err := s.sink.Send(kind, data); err != nil {
		return err
	}
	s.last = data
	metrics.RecordPushEvent(kind)
	return nil
}
