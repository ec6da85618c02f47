// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/livescore/internal/adapters/http/auth"
	"github.com/okian/livescore/internal/adapters/http/ratelimit"
	"github.com/okian/livescore/internal/adapters/http/swagger"
	"github.com/okian/livescore/internal/adapters/live"
	"github.com/okian/livescore/internal/adapters/mq/queue"
	"github.com/okian/livescore/internal/domain/livexml"
	"github.com/okian/livescore/internal/domain/rate"
	"github.com/okian/livescore/internal/domain/view"
	"github.com/okian/livescore/pkg/logger"
	"github.com/okian/livescore/pkg/metrics"
)

// Verifier authenticates a signed submission.
type Verifier interface {
	VerifyRequest(r *http.Request) (auth.Credential, error)
}

// Queue accepts documents for the batch aggregator.
type Queue interface {
	Enqueue(ctx context.Context, it queue.Item) bool
	Len(ctx context.Context) int
}

// Pinger reports storage liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RateReporter answers rate queries.
type RateReporter interface {
	Rates(ctx context.Context, callsign, contest string, windows ...int) (rate.Report, error)
}

// Pusher runs live subscriber loops.
type Pusher interface {
	Prepare(ctx context.Context, q view.Query) (view.Query, []byte, error)
	Serve(ctx context.Context, q view.Query, initial []byte, sink live.Sink)
	Subscribers() int64
}

// BrokerStatus exposes the broker connection for health checks.
type BrokerStatus interface {
	Connected() bool
	State() string
}

// Dependencies required by HTTP handlers. Broker may be nil when publishing is disabled.
type Dependencies struct {
	Verifier Verifier
	Limiter  ratelimit.Limiter
	Queue    Queue
	Store    Pinger
	Rates    RateReporter
	Push     Pusher
	Broker   BrokerStatus
}

// Limits bound request handling.
type Limits struct {
	MaxPayloadBytes     int64
	MaxDocuments        int
	IPRequestsPerMinute int // zero disables the per-address guard
	AllowedOrigins      []string
	Heartbeat           time.Duration
}

// Server wires HTTP routes for the gateway and the read API.
type Server struct {
	deps     Dependencies
	limits   Limits
	now      func() time.Time
	started  time.Time
	log      logger.Logger
	upgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the time source used for rate limiting and uptime.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, limits Limits, opts ...Option) *Server {
	if limits.MaxPayloadBytes <= 0 {
		limits.MaxPayloadBytes = 1 << 20
	}
	if limits.MaxDocuments <= 0 {
		limits.MaxDocuments = livexml.DefaultMaxDocuments
	}
	s := &Server{
		deps:   deps,
		limits: limits,
		now:    time.Now,
		log:    logger.Named("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Views are public read-only data.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now()
	return s
}

// Handler returns the router with every route attached.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogContext)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrMethod)
	})

	r.Group(func(r chi.Router) {
		if n := s.limits.IPRequestsPerMinute; n > 0 {
			r.Use(httprate.Limit(n, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					s.reject(r.Context(), w, r.Header.Get(auth.HeaderKey), http.StatusTooManyRequests, "ip_rate_limited", ErrRateLimited)
				}),
			))
		}
		r.Post("/livescore", s.handleLivescore)
	})

	r.Group(func(r chi.Router) {
		if len(s.limits.AllowedOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: s.limits.AllowedOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodOptions},
				MaxAge:         300,
			}))
		}
		r.Get("/health", s.handleHealth)
		r.Get("/events", s.handleEvents)
		r.Get("/ws", s.handleWebSocket)
		r.Get("/rates", s.handleRates)
	})
	r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	swagger.Register(r)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: status})
}
