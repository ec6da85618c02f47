// Package repository persists score snapshots and answers the read queries of
// the rate engine and live distribution.
package repository

import (
	"context"
	"time"

	"github.com/okian/livescore/internal/domain/model"
)

// Outcome tags the result of a batch write.
type Outcome int

const (
	// Committed means the batch is durable (or there was nothing to write).
	Committed Outcome = iota
	// Retryable means the engine was busy; the same batch may be tried again.
	Retryable
	// Fatal means the batch failed for another reason.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result reports a batch write. Err is nil only when Outcome is Committed.
type Result struct {
	Outcome    Outcome
	Committed  []model.ScoreSnapshot // inserted rows, IDs assigned
	Duplicates int                   // already stored for the same timestamp
	Unchanged  int                   // identical to the station's last commit
	Coalesced  int                   // same-second resubmissions folded within the batch
	Err        error
}

// CommitHook runs once per committed snapshot after the transaction commits.
type CommitHook func(ctx context.Context, snap model.ScoreSnapshot)

// Standing is a station's latest snapshot in a contest.
type Standing = model.ScoreSnapshot

// Store provides read/write access to contest snapshots.
type Store interface {
	// Parse turns raw document text into snapshots; bad documents are reported, not fatal.
	Parse(ctx context.Context, raw string) ([]model.ScoreSnapshot, []error)

	// Store writes a batch in one transaction.
	Store(ctx context.Context, snaps []model.ScoreSnapshot) Result

	// Latest returns the station's most recent snapshot with bands and QTH.
	Latest(ctx context.Context, contest, callsign string) (model.ScoreSnapshot, bool, error)

	// Series returns snapshots with from <= timestamp <= to, oldest first, with bands.
	Series(ctx context.Context, contest, callsign string, from, to time.Time) ([]model.ScoreSnapshot, error)

	// BandsBefore lists bands with activity in any snapshot earlier than before.
	BandsBefore(ctx context.Context, contest, callsign string, before time.Time) (map[string]bool, error)

	// Standings returns the latest snapshot of every station in the contest, with QTH.
	Standings(ctx context.Context, contest string) ([]Standing, error)

	// Bands loads the breakdown rows of the given snapshots.
	Bands(ctx context.Context, ids []int64) (map[int64][]model.BandBreakdown, error)

	Ping(ctx context.Context) error
	Close() error
}
