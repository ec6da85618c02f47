package broker

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/okian/livescore/internal/adapters/mq/bus"
	"github.com/okian/livescore/pkg/logger"
)

var errBusClosed = errors.New("commit bus closed")

// Source delivers committed-record messages.
type Source interface {
	Subscribe(ctx context.Context) (<-chan *message.Message, error)
}

// Forwarder moves committed snapshots from the bus to the broker. It runs as
// a supervised service and never blocks the store.
type Forwarder struct {
	source Source
	pub    Publisher
	log    logger.Logger
}

// NewForwarder creates a forwarder.
func NewForwarder(source Source, pub Publisher) *Forwarder {
	return &Forwarder{source: source, pub: pub, log: logger.Named("broker-forwarder")}
}

// Serve forwards until ctx is canceled.
func (f *Forwarder) Serve(ctx context.Context) error {
	msgs, err := f.source.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errBusClosed
			}
			f.forward(ctx, msg)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, msg *message.Message) {
	// Acked regardless of outcome: broker delivery is best effort.
	defer msg.Ack()

	snap, err := bus.Decode(msg)
	if err != nil {
		f.log.Error(ctx, "bad commit event", logger.Error(err))
		return
	}
	if err := f.pub.Publish(ctx, snap); err != nil {
		f.log.Warn(ctx, "broker publish failed",
			logger.String("topic", Topic(snap)),
			logger.Error(err),
		)
	}
}

func (f *Forwarder) String() string { return "broker-forwarder" }
