// Package service wires the livescore pipeline: gateway, aggregator, store,
// rate engine and live distribution, supervised as one process.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/okian/livescore/internal/adapters/broker"
	"github.com/okian/livescore/internal/adapters/http/api"
	"github.com/okian/livescore/internal/adapters/http/auth"
	"github.com/okian/livescore/internal/adapters/http/ratelimit"
	"github.com/okian/livescore/internal/adapters/live"
	"github.com/okian/livescore/internal/adapters/mq/aggregator"
	"github.com/okian/livescore/internal/adapters/mq/bus"
	"github.com/okian/livescore/internal/adapters/mq/queue"
	"github.com/okian/livescore/internal/adapters/repository"
	"github.com/okian/livescore/internal/config"
	"github.com/okian/livescore/internal/domain/dedupe"
	"github.com/okian/livescore/internal/domain/geo"
	"github.com/okian/livescore/internal/domain/livexml"
	"github.com/okian/livescore/internal/domain/rate"
	"github.com/okian/livescore/internal/domain/view"
	"github.com/okian/livescore/pkg/logger"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
	commitBusBuffer   = 1024
)

var (
	ErrAlreadyStarted = errors.New("service already started")
	ErrNotStarted     = errors.New("service not started")
)

// Service owns every pipeline component and the supervisor running them.
type Service struct {
	mu sync.Mutex

	cfg    *config.Config
	logger logger.Logger

	store      *repository.DuckDBStore
	queue      *queue.InMemoryQueue
	commits    *bus.Bus
	aggregator *aggregator.Aggregator
	creds      *auth.CredentialStore
	limiter    *ratelimit.SlidingLog
	rates      *rate.Engine
	hub        *live.Hub
	publisher  *broker.JetStreamPublisher
	server     *http.Server
	handler    http.Handler

	started bool
	cancel  context.CancelFunc
	done    <-chan error
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service for cfg. Nothing is opened until Start.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store, loads credentials and launches the supervised services.
// A missing or exposed credential file fails startup.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	cfg := s.cfg

	creds, err := auth.LoadCredentials(cfg.CredentialsPath)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	s.creds = creds

	var locator geo.Locator = geo.Nop{}
	if cfg.GeoPath != "" {
		table, err := geo.LoadTable(cfg.GeoPath, cfg.GeoCacheSize)
		if err != nil {
			return fmt.Errorf("load prefix table: %w", err)
		}
		locator = table
	}

	s.commits = bus.New(commitBusBuffer)
	store, err := repository.Open(ctx, cfg.DBPath,
		repository.WithParser(livexml.NewParser(locator, cfg.MaxDocuments)),
		repository.WithDeduper(dedupe.NewInMemoryDeduper()),
		repository.WithCommitHook(s.commits.CommitHook()),
	)
	if err != nil {
		_ = s.commits.Close()
		return fmt.Errorf("open store: %w", err)
	}
	s.store = store

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(cfg.QueueCapacity))
	aggOpts := []aggregator.Option{
		aggregator.WithInterval(cfg.BatchInterval),
		aggregator.WithRetryBackoff(cfg.RetryBackoff),
		aggregator.WithMaxFastRetries(cfg.MaxFastRetries),
		aggregator.WithMaxAttempts(cfg.MaxAttempts),
		aggregator.WithStopTimeout(cfg.StopTimeout),
	}
	if cfg.DeadLetterPath != "" {
		aggOpts = append(aggOpts, aggregator.WithDeadLetter(aggregator.NewFileDeadLetter(cfg.DeadLetterPath)))
	}
	s.aggregator = aggregator.New(s.queue, s.store, aggOpts...)

	s.limiter = ratelimit.NewSlidingLog(ratelimit.DefaultWindows(cfg.LimitPerMinute, cfg.LimitPerHour, cfg.LimitPerDay))
	s.rates = rate.NewEngine(s.store,
		rate.WithTolerance(cfg.RateTolerance),
		rate.WithFallbackWindow(cfg.RateDefaultWindow),
		rate.WithWindows(cfg.Windows()),
	)
	s.hub = live.NewHub(view.NewBuilder(s.store, s.rates),
		live.WithInterval(cfg.PushInterval),
		live.WithHeartbeat(cfg.PushHeartbeat),
	)

	deps := api.Dependencies{
		Verifier: auth.NewVerifier(creds, auth.WithReplayWindow(cfg.ReplayWindow)),
		Limiter:  s.limiter,
		Queue:    s.queue,
		Store:    s.store,
		Rates:    s.rates,
		Push:     s.hub,
	}
	if cfg.BrokerEnabled {
		pub, err := broker.Connect(ctx, broker.Config{
			URL:           cfg.BrokerURL,
			Stream:        cfg.BrokerStream,
			SubjectPrefix: cfg.BrokerSubjectPrefix,
			Timeout:       cfg.BrokerTimeout,
		})
		if err != nil {
			s.closeResources()
			return err
		}
		s.publisher = pub
		deps.Broker = pub
	}

	s.handler = api.NewServer(deps, api.Limits{
		MaxPayloadBytes:     cfg.MaxPayloadBytes,
		MaxDocuments:        cfg.MaxDocuments,
		IPRequestsPerMinute: cfg.IPRequestsPerMinute,
		AllowedOrigins:      cfg.CORSOrigins,
		Heartbeat:           cfg.PushHeartbeat,
	}).Handler()
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	sup := suture.New("livescore", suture.Spec{
		EventHook: eventHook(s.logger),
		// The aggregator's final flush must fit in the stop budget.
		Timeout: cfg.StopTimeout + 5*time.Second,
	})
	sup.Add(s.aggregator)
	sup.Add(auth.NewWatcher(creds))
	sup.Add(s.limiter)
	sup.Add(runtimeMetrics{})
	if s.publisher != nil {
		sup.Add(broker.NewForwarder(s.commits, s.publisher))
	}
	sup.Add(&httpService{server: s.server, logger: s.logger})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = sup.ServeBackground(runCtx)
	s.started = true

	s.logger.Info(ctx, "livescore service started",
		logger.String("addr", cfg.Addr),
		logger.String("db_path", cfg.DBPath),
		logger.Int("credentials", creds.Len()),
		logger.Duration("batch_interval", cfg.BatchInterval),
		logger.Bool("broker", s.publisher != nil),
	)
	return nil
}

// Stop shuts down in dependency order: push loops, HTTP, the queue (so the
// aggregator's final flush sees everything accepted), the supervisor, then
// the broker, bus and store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	s.started = false
	s.logger.Info(ctx, "stopping livescore service")

	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	var errs []error
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	_ = s.queue.Close()

	s.cancel()
	select {
	case err := <-s.done:
		if err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("supervisor: %w", err))
		}
	case <-shutdownCtx.Done():
		errs = append(errs, fmt.Errorf("supervisor: %w", shutdownCtx.Err()))
	}

	if err := s.closeResources(); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info(ctx, "livescore service stopped", logger.Int("pending", s.queue.Len(ctx)))
	return errors.Join(errs...)
}

func (s *Service) closeResources() error {
	var errs []error
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("broker close: %w", err))
		}
	}
	if s.commits != nil {
		if err := s.commits.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bus close: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Run starts the service, blocks until ctx ends, then stops it.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout+s.cfg.StopTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// Handler returns the HTTP handler; nil before Start.
func (s *Service) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// Flush runs one aggregator cycle immediately.
func (s *Service) Flush(ctx context.Context) repository.Outcome {
	return s.aggregator.Flush(ctx)
}

// Rates exposes the rate engine.
func (s *Service) Rates(ctx context.Context, callsign, contest string, windows ...int) (rate.Report, error) {
	return s.rates.Rates(ctx, callsign, contest, windows...)
}
