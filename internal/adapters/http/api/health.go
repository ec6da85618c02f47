package api

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/livescore/pkg/logger"
)

const pingTimeout = 2 * time.Second

type healthResponse struct {
	Status        string `json:"status"`
	Storage       string `json:"storage"`
	QueueDepth    int    `json:"queue_depth"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Subscribers   int64  `json:"subscribers"`
	Broker        string `json:"broker"`
	BrokerBreaker string `json:"broker_breaker,omitempty"`
}

// handleHealth handles GET /health. Storage failure turns the answer into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	resp := healthResponse{
		Status:        "ok",
		Storage:       "ok",
		QueueDepth:    s.deps.Queue.Len(ctx),
		UptimeSeconds: int64(s.now().Sub(s.started).Seconds()),
		Broker:        "disabled",
	}
	if s.deps.Push != nil {
		resp.Subscribers = s.deps.Push.Subscribers()
	}
	if b := s.deps.Broker; b != nil {
		resp.Broker = "disconnected"
		if b.Connected() {
			resp.Broker = "connected"
		}
		resp.BrokerBreaker = b.State()
	}

	status := http.StatusOK
	if err := s.deps.Store.Ping(ctx); err != nil {
		s.log.Error(ctx, "storage ping failed", logger.Error(err))
		resp.Status, resp.Storage = "degraded", "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
