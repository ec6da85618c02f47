package aggregator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/okian/livescore/internal/adapters/mq/queue"
)

// DeadLetter receives items that exhausted their attempts.
type DeadLetter interface {
	Write(ctx context.Context, items []queue.Item) error
}

type deadLetterLine struct {
	KeyID    string    `json:"key_id"`
	Received time.Time `json:"received"`
	Attempts int       `json:"attempts"`
	Expired  time.Time `json:"expired"`
	Doc      string    `json:"doc"`
}

// FileDeadLetter appends one JSON line per item to a file.
type FileDeadLetter struct {
	mu   sync.Mutex
	path string
}

// NewFileDeadLetter returns a dead letter writing to path.
func NewFileDeadLetter(path string) *FileDeadLetter {
	return &FileDeadLetter{path: path}
}

func (d *FileDeadLetter) Write(_ context.Context, items []queue.Item) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open dead letter: %w", err)
	}
	defer f.Close()

	now := time.Now().UTC()
	enc := json.NewEncoder(f)
	for _, it := range items {
		if err := enc.Encode(deadLetterLine{
			KeyID:    it.KeyID,
			Received: it.Received,
			Attempts: it.Attempts,
			Expired:  now,
			Doc:      it.Doc,
		}); err != nil {
			return fmt.Errorf("write dead letter: %w", err)
		}
	}
	return f.Sync()
}
