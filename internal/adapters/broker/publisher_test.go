package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/livescore/internal/adapters/mq/bus"
	"github.com/okian/livescore/internal/domain/model"
	"github.com/okian/livescore/pkg/logger"
)

type fakeSend struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	err  error
}

func (f *fakeSend) send(_ context.Context, msg *nats.Msg) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, msg)
	return &jetstream.PubAck{Stream: "CONTEST_LIVE", Sequence: uint64(len(f.msgs))}, nil
}

func (f *fakeSend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func testSnapshot() model.ScoreSnapshot {
	return model.ScoreSnapshot{
		ID:        1,
		Timestamp: time.Date(2026, 11, 28, 12, 0, 0, 0, time.UTC),
		Contest:   "CQ-WW-CW",
		Callsign:  "K1ABC",
	}
}

func TestJetStreamPublisher(t *testing.T) {
	_ = logger.Init()

	Convey("Given a publisher over a fake JetStream", t, func() {
		f := &fakeSend{}
		p := newPublisher(Config{SubjectPrefix: "ham", BreakerFailures: 2, BreakerTimeout: time.Hour}, f.send, logger.Named("broker"))
		ctx := context.Background()

		Convey("A publish carries the subject and a message id", func() {
			So(p.Publish(ctx, testSnapshot()), ShouldBeNil)
			So(f.count(), ShouldEqual, 1)
			msg := f.msgs[0]
			So(msg.Subject, ShouldEqual, "ham.contest.live.v1.CQ-WW-CW.unknown.unknown.unknown.unknown.unknown.K1ABC")
			So(msg.Header.Get(nats.MsgIdHdr), ShouldEqual, testSnapshot().Key())
			So(string(msg.Data), ShouldContainSubstring, `"callsign":"K1ABC"`)
		})

		Convey("Repeated failures open the breaker and later publishes are skipped", func() {
			f.err = errors.New("nats: timeout")
			So(p.Publish(ctx, testSnapshot()), ShouldNotBeNil)
			So(p.Publish(ctx, testSnapshot()), ShouldNotBeNil)
			So(p.State(), ShouldEqual, "open")

			err := p.Publish(ctx, testSnapshot())
			So(errors.Is(err, ErrUnavailable), ShouldBeTrue)
		})
	})
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingPublisher) Publish(_ context.Context, snap model.ScoreSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, snap.Callsign)
	return r.err
}

func (r *recordingPublisher) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestForwarder(t *testing.T) {
	_ = logger.Init()

	Convey("Given a forwarder on the commit bus", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		b := bus.New(8)
		pub := &recordingPublisher{err: errors.New("down")}
		done := make(chan error, 1)
		go func() { done <- NewForwarder(b, pub).Serve(ctx) }()
		time.Sleep(20 * time.Millisecond)

		Convey("Every committed record is published even when earlier ones failed", func() {
			hook := b.CommitHook()
			hook(ctx, model.ScoreSnapshot{Callsign: "K1ABC", Contest: "X"})
			hook(ctx, model.ScoreSnapshot{Callsign: "W2XYZ", Contest: "X"})

			deadline := time.Now().Add(2 * time.Second)
			for len(pub.Calls()) < 2 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			So(pub.Calls(), ShouldHaveLength, 2)

			cancel()
			So(<-done, ShouldBeNil)
		})

		Reset(func() {
			cancel()
			_ = b.Close()
		})
	})
}
