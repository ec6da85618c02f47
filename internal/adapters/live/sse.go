package live

import (
	"fmt"
	"net/http"
	"time"
)

// SSESink writes Server-Sent Events frames to an HTTP response.
type SSESink struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	done    <-chan struct{}
	started bool
}

// NewSSESink prepares w for streaming. Headers are written with the first event.
func NewSSESink(w http.ResponseWriter, r *http.Request) *SSESink {
	return &SSESink{w: w, rc: http.NewResponseController(w), done: r.Context().Done()}
}

func (s *SSESink) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	// The server write timeout would cut long streams; not every writer supports clearing it.
	_ = s.rc.SetWriteDeadline(time.Time{})
}

func (s *SSESink) Send(kind string, data []byte) error {
	s.start()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", kind, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *SSESink) Heartbeat() error {
	s.start()
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *SSESink) Done() <-chan struct{} { return s.done }

func (s *SSESink) Transport() string { return "sse" }
