// Package bus carries "record committed" events from the store's commit hook
// to independent fan-out consumers over an in-process pub/sub.
package bus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"

	"github.com/okian/livescore/internal/domain/model"
	"github.com/okian/livescore/pkg/logger"
)

// TopicCommitted carries one message per committed snapshot.
const TopicCommitted = "records.committed"

const defaultBuffer = 1024

// Bus wraps a gochannel pub/sub.
type Bus struct {
	pubsub *gochannel.GoChannel
	log    logger.Logger
}

// New creates a bus whose subscribers buffer up to buffer messages.
func New(buffer int64) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	log := logger.Named("bus")
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: buffer}, NewLoggerAdapter(log)),
		log:    log,
	}
}

// Publish announces a committed snapshot. Delivery is asynchronous.
func (b *Bus) Publish(ctx context.Context, snap model.ScoreSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("station", snap.StationKey())
	msg.SetContext(ctx)
	return b.pubsub.Publish(TopicCommitted, msg)
}

// CommitHook adapts Publish to the store's hook signature. Failures are logged.
func (b *Bus) CommitHook() func(ctx context.Context, snap model.ScoreSnapshot) {
	return func(ctx context.Context, snap model.ScoreSnapshot) {
		if err := b.Publish(ctx, snap); err != nil {
			b.log.Warn(ctx, "commit event dropped", logger.String("station", snap.StationKey()), logger.Error(err))
		}
	}
}

// Subscribe returns committed events until ctx ends. Every message must be acked.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, TopicCommitted)
}

// Decode extracts the snapshot from a bus message.
func Decode(msg *message.Message) (model.ScoreSnapshot, error) {
	var snap model.ScoreSnapshot
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		return model.ScoreSnapshot{}, fmt.Errorf("decode snapshot %s: %w", msg.UUID, err)
	}
	return snap, nil
}

// Close stops delivery to all subscribers.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
