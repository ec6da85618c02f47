package service

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/okian/livescore/pkg/logger"
	"github.com/okian/livescore/pkg/metrics"
)

const systemMetricsInterval = 10 * time.Second

// eventHook logs supervisor events (failures, backoff, timeouts).
func eventHook(l logger.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := make([]logger.Field, 0, len(e.Map()))
		for k, v := range e.Map() {
			fields = append(fields, logger.Any(k, v))
		}
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate, suture.EventTypeStopTimeout:
			l.Error(context.Background(), e.String(), fields...)
		default:
			l.Warn(context.Background(), e.String(), fields...)
		}
	}
}

// httpService runs the HTTP server under the supervisor.
type httpService struct {
	server *http.Server
	logger logger.Logger
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info(ctx, "starting HTTP server", logger.String("addr", h.server.Addr))
		errCh <- h.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return suture.ErrDoNotRestart
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *httpService) String() string { return "http-server" }

// runtimeMetrics samples memory and goroutine counts.
type runtimeMetrics struct{}

func (runtimeMetrics) Serve(ctx context.Context) error {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			metrics.UpdateSystemMemoryUsage(m.Alloc)
			metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
		}
	}
}

func (runtimeMetrics) String() string { return "runtime-metrics" }
