package live_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/livescore/internal/adapters/live"
	"github.com/okian/livescore/internal/domain/view"
	"github.com/okian/livescore/pkg/logger"
)

// scriptedBuilder returns views whose score follows the script, repeating the last.
type scriptedBuilder struct {
	mu     sync.Mutex
	scores []int
	calls  int
	err    error
}

func (b *scriptedBuilder) Build(_ context.Context, q view.Query) (view.View, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return view.View{}, b.err
	}
	i := b.calls
	if i >= len(b.scores) {
		i = len(b.scores) - 1
	}
	b.calls++
	return view.View{
		Contest:  q.Contest,
		Callsign: q.Callsign,
		Stations: []view.Row{{Callsign: q.Callsign, Position: "current", Score: b.scores[i]}},
	}, nil
}

func (b *scriptedBuilder) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
	beats  int
	fail   error
	done   chan struct{}
}

func newRecordingSink() *recordingSink { return &recordingSink{done: make(chan struct{})} }

func (s *recordingSink) Send(kind string, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, kind)
	return nil
}

func (s *recordingSink) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beats++
	return s.fail
}

func (s *recordingSink) Done() <-chan struct{} { return s.done }
func (s *recordingSink) Transport() string     { return "test" }

func (s *recordingSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func waitFor(cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
}

func TestHub(t *testing.T) {
	_ = logger.Init()

	Convey("Given a hub with fast timers", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		q := view.Query{Contest: "cq-ww-cw", Callsign: "k1abc"}

		Convey("Two identical consecutive views produce one update", func() {
			b := &scriptedBuilder{scores: []int{100, 200, 200, 300}}
			h := live.NewHub(b, live.WithInterval(5*time.Millisecond), live.WithHeartbeat(time.Hour))
			q, initial, err := h.Prepare(ctx, q)
			So(err, ShouldBeNil)
			So(q.Callsign, ShouldEqual, "K1ABC")

			sink := newRecordingSink()
			done := make(chan struct{})
			go func() { h.Serve(ctx, q, initial, sink); close(done) }()

			waitFor(func() bool { return b.Calls() >= 6 })
			cancel()
			<-done
			// init(100), update(200), skip(200), update(300), then 300 repeats.
			So(sink.Events(), ShouldResemble, []string{live.EventInit, live.EventUpdate, live.EventUpdate})
			So(h.Subscribers(), ShouldEqual, 0)
		})

		Convey("Heartbeats are sent between updates", func() {
			b := &scriptedBuilder{scores: []int{1}}
			h := live.NewHub(b, live.WithInterval(time.Hour), live.WithHeartbeat(3*time.Millisecond))
			q, initial, _ := h.Prepare(ctx, q)
			sink := newRecordingSink()
			go h.Serve(ctx, q, initial, sink)

			waitFor(func() bool {
				sink.mu.Lock()
				defer sink.mu.Unlock()
				return sink.beats >= 2
			})
			sink.mu.Lock()
			So(sink.beats, ShouldBeGreaterThanOrEqualTo, 2)
			sink.mu.Unlock()
			h.Close()
		})

		Convey("A broken transport ends the loop without error", func() {
			b := &scriptedBuilder{scores: []int{1}}
			h := live.NewHub(b, live.WithInterval(time.Millisecond), live.WithHeartbeat(time.Millisecond))
			q, initial, _ := h.Prepare(ctx, q)
			sink := newRecordingSink()
			sink.fail = errors.New("broken pipe")

			done := make(chan struct{})
			go func() { h.Serve(ctx, q, initial, sink); close(done) }()
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("subscriber did not stop")
			}
			So(sink.Events(), ShouldBeEmpty)
		})

		Convey("A disconnected peer ends the loop", func() {
			b := &scriptedBuilder{scores: []int{1}}
			h := live.NewHub(b, live.WithInterval(time.Hour), live.WithHeartbeat(time.Hour))
			q, initial, _ := h.Prepare(ctx, q)
			sink := newRecordingSink()
			done := make(chan struct{})
			go func() { h.Serve(ctx, q, initial, sink); close(done) }()
			waitFor(func() bool { return h.Subscribers() == 1 })
			close(sink.done)
			<-done
			So(h.Subscribers(), ShouldEqual, 0)
		})

		Convey("Prepare reports build failures", func() {
			h := live.NewHub(&scriptedBuilder{err: view.ErrStationNotFound})
			_, _, err := h.Prepare(ctx, q)
			So(err, ShouldEqual, view.ErrStationNotFound)

			h.Close()
			_, _, err = h.Prepare(ctx, q)
			So(err, ShouldEqual, live.ErrHubClosed)
		})

		Convey("Subscribers racing Close never outlive it", func() {
			b := &scriptedBuilder{scores: []int{1}}
			h := live.NewHub(b, live.WithInterval(time.Hour), live.WithHeartbeat(time.Hour))
			q, initial, _ := h.Prepare(ctx, q)

			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					h.Serve(ctx, q, initial, newRecordingSink())
				}()
			}
			h.Close()
			So(h.Subscribers(), ShouldEqual, 0)

			wg.Wait()
			So(h.Subscribers(), ShouldEqual, 0)

			sink := newRecordingSink()
			h.Serve(ctx, q, initial, sink)
			So(sink.Events(), ShouldBeEmpty)
		})

		Reset(cancel)
	})
}

func TestSSESink(t *testing.T) {
	Convey("Given an SSE sink over a recorder", t, func() {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		sink := live.NewSSESink(rec, req)

		So(sink.Send(live.EventInit, []byte(`{"a":1}`)), ShouldBeNil)
		So(sink.Heartbeat(), ShouldBeNil)

		So(rec.Header().Get("Content-Type"), ShouldEqual, "text/event-stream")
		So(rec.Body.String(), ShouldEqual, "event: init\ndata: {\"a\":1}\n\n: keep-alive\n\n")
		So(rec.Flushed, ShouldBeTrue)
	})
}

func TestWSSink(t *testing.T) {
	Convey("Given a websocket sink on a test server", t, func() {
		upgrader := websocket.Upgrader{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			sink := live.NewWSSink(conn, time.Second)
			_ = sink.Send(live.EventInit, []byte(`{"score":1}`))
			_ = sink.Heartbeat()
			<-sink.Done()
		}))
		defer srv.Close()

		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
		So(err, ShouldBeNil)
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		So(err, ShouldBeNil)
		So(string(msg), ShouldEqual, `{"event":"init","data":{"score":1}}`)
	})
}
