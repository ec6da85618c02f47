package broker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sony/gobreaker/v2"

	"github.com/okian/livescore/internal/domain/model"
	"github.com/okian/livescore/pkg/logger"
	"github.com/okian/livescore/pkg/metrics"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("broker unavailable")

// Publisher sends one snapshot to the broker.
type Publisher interface {
	Publish(ctx context.Context, snap model.ScoreSnapshot) error
}

// Config holds connection and stream settings.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	Timeout       time.Duration
	ReconnectWait time.Duration
	DuplicateWin  time.Duration
	MaxAge        time.Duration

	// Breaker trips after this many consecutive failures and tries again after BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.DuplicateWin <= 0 {
		c.DuplicateWin = 2 * time.Minute
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 7 * 24 * time.Hour
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

type sendFunc func(ctx context.Context, msg *nats.Msg) (*jetstream.PubAck, error)

// JetStreamPublisher publishes with broker acknowledgement.
type JetStreamPublisher struct {
	cfg     Config
	nc      *nats.Conn
	js      jetstream.JetStream
	send    sendFunc
	breaker *gobreaker.CircuitBreaker[*jetstream.PubAck]
	ensured atomic.Bool
	log     logger.Logger
}

var _ Publisher = (*JetStreamPublisher)(nil)

// Connect dials the broker. The client reconnects on its own; a broker that
// is down at startup is retried in the background.
func Connect(ctx context.Context, cfg Config) (*JetStreamPublisher, error) {
	cfg = cfg.withDefaults()
	log := logger.Named("broker")

	nc, err := nats.Connect(cfg.URL,
		nats.Name("livescore"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn(context.Background(), "broker disconnected", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info(context.Background(), "broker reconnected", logger.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info(context.Background(), "broker connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	p := newPublisher(cfg, func(ctx context.Context, msg *nats.Msg) (*jetstream.PubAck, error) {
		return js.PublishMsg(ctx, msg)
	}, log)
	p.nc, p.js = nc, js
	if err := p.EnsureStream(ctx); err != nil {
		log.Warn(ctx, "stream not ready, will retry on publish", logger.Error(err))
	}
	return p, nil
}

func newPublisher(cfg Config, send sendFunc, log logger.Logger) *JetStreamPublisher {
	cfg = cfg.withDefaults()
	p := &JetStreamPublisher{cfg: cfg, send: send, log: log}
	p.breaker = gobreaker.NewCircuitBreaker[*jetstream.PubAck](gobreaker.Settings{
		Name:        "broker-publish",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn(context.Background(), "breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
			metrics.UpdateBrokerBreakerState(int(to))
		},
	})
	return p
}

// EnsureStream creates or updates the stream that captures every topic.
func (p *JetStreamPublisher) EnsureStream(ctx context.Context) error {
	if p.js == nil {
		p.ensured.Store(true)
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	streamCfg := jetstream.StreamConfig{
		Name:       p.cfg.Stream,
		Subjects:   []string{Subject(p.cfg.SubjectPrefix, TopicRoot) + ".>"},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     p.cfg.MaxAge,
		Duplicates: p.cfg.DuplicateWin,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}
	if _, err := p.js.Stream(ctx, p.cfg.Stream); err == nil {
		if _, err := p.js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
	} else if _, err := p.js.CreateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	p.ensured.Store(true)
	return nil
}

// Publish sends the snapshot and waits for the broker's ack. Failures are
// returned, not retried; the next commit republishes current state.
func (p *JetStreamPublisher) Publish(ctx context.Context, snap model.ScoreSnapshot) error {
	if !p.ensured.Load() {
		if err := p.EnsureStream(ctx); err != nil {
			metrics.RecordBrokerPublish("error")
			return err
		}
	}

	data, err := json.Marshal(NewPayload(snap))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	msg := nats.NewMsg(Subject(p.cfg.SubjectPrefix, Topic(snap)))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, snap.Key())

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	_, err = p.breaker.Execute(func() (*jetstream.PubAck, error) {
		return p.send(ctx, msg)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordBrokerPublish("skipped")
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case err != nil:
		metrics.RecordBrokerPublish("error")
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	metrics.RecordBrokerPublish("ok")
	return nil
}

// Connected reports the client's connection state.
func (p *JetStreamPublisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

// State returns the breaker state name.
func (p *JetStreamPublisher) State() string {
	return p.breaker.State().String()
}

// Close drains pending publishes and closes the connection.
func (p *JetStreamPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
