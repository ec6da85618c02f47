package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/livescore/internal/adapters/live"
	"github.com/okian/livescore/internal/domain/rate"
	"github.com/okian/livescore/internal/domain/view"
	"github.com/okian/livescore/pkg/logger"
)

// handleEvents handles GET /events as a Server-Sent Events stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q, initial, ok := s.preparePush(w, r)
	if !ok {
		return
	}
	s.deps.Push.Serve(r.Context(), q, initial, live.NewSSESink(w, r))
}

// handleWebSocket handles GET /ws, the same views over a WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q, initial, ok := s.preparePush(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		s.log.Debug(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	sink := live.NewWSSink(conn, s.limits.Heartbeat)
	defer func() { _ = sink.Close() }()
	s.deps.Push.Serve(r.Context(), q, initial, sink)
}

// preparePush builds the first view so query errors still get a status code.
func (s *Server) preparePush(w http.ResponseWriter, r *http.Request) (view.Query, []byte, bool) {
	p := r.URL.Query()
	q, initial, err := s.deps.Push.Prepare(r.Context(), view.Query{
		Contest:     p.Get("contest"),
		Callsign:    p.Get("callsign"),
		FilterType:  p.Get("filter_type"),
		FilterValue: p.Get("filter_value"),
	})
	switch {
	case err == nil:
		return q, initial, true
	case errors.Is(err, view.ErrMissingStation), errors.Is(err, view.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrBadRequest, err))
	case errors.Is(err, view.ErrStationNotFound):
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %w", ErrNotFound, err))
	case errors.Is(err, live.ErrHubClosed):
		writeError(w, http.StatusServiceUnavailable, ErrUnavailable)
	default:
		s.log.Error(r.Context(), "build view failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, ErrInternal)
	}
	return q, nil, false
}

// handleRates handles GET /rates?contest=&callsign=&window=N (repeatable).
func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query()
	contest := strings.ToUpper(strings.TrimSpace(p.Get("contest")))
	callsign := strings.ToUpper(strings.TrimSpace(p.Get("callsign")))
	if contest == "" || callsign == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: contest and callsign are required", ErrBadRequest))
		return
	}
	var windows []int
	for _, raw := range p["window"] {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid window %q", ErrBadRequest, raw))
			return
		}
		windows = append(windows, n)
	}

	report, err := s.deps.Rates.Rates(r.Context(), callsign, contest, windows...)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, rate.ErrNoSnapshot):
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %w", ErrNotFound, err))
	case errors.Is(err, rate.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrBadRequest, err))
	default:
		s.log.Error(r.Context(), "rate query failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, ErrInternal)
	}
}
