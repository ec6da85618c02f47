package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/okian/livescore/internal/domain/model"
	"github.com/okian/livescore/pkg/logger"
	"github.com/okian/livescore/pkg/metrics"
)

const (
	existsSQL = `SELECT id FROM contest_scores WHERE callsign = ? AND contest = ? AND "timestamp" = ?`

	insertScoreSQL = `INSERT INTO contest_scores (
		"timestamp", contest, callsign, power, assisted, transmitter, ops, bands, mode, overlay,
		club, section, score, qsos, multipliers, points
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`

	insertBandSQL = `INSERT INTO band_breakdown (contest_score_id, band, mode, qsos, points, multipliers)
		VALUES (?, ?, ?, ?, ?, ?)`

	insertQTHSQL = `INSERT INTO qth_info (
		contest_score_id, dxcc_country, country, continent, cq_zone, iaru_zone, arrl_section, state_province, grid6
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// Store writes the batch in a single transaction. Within the batch the last
// snapshot for a (callsign, contest, timestamp) wins; a key already in the
// database is left as stored and counted as a duplicate.
func (s *DuckDBStore) Store(ctx context.Context, snaps []model.ScoreSnapshot) Result {
	if s.closed.Load() {
		return Result{Outcome: Fatal, Err: ErrClosed}
	}

	pending, coalesced := coalesce(snaps)
	res := Result{Outcome: Committed, Coalesced: coalesced}

	fresh := pending[:0]
	for _, snap := range pending {
		if s.deduper != nil && s.deduper.Unchanged(ctx, snap.StationKey(), snap.Fingerprint()) {
			res.Unchanged++
			continue
		}
		fresh = append(fresh, snap)
	}
	if len(fresh) == 0 {
		metrics.RecordStoreWrite(0, 0, res.Unchanged)
		return res
	}

	committed, duplicates, err := s.write(ctx, fresh)
	if err != nil {
		outcome := classify(err)
		s.log.Warn(ctx, "batch write failed",
			logger.Int("snapshots", len(fresh)),
			logger.String("outcome", outcome.String()),
			logger.Error(err),
		)
		return Result{Outcome: outcome, Coalesced: coalesced, Err: err}
	}
	res.Committed = committed
	res.Duplicates = duplicates
	metrics.RecordStoreWrite(len(committed), duplicates, res.Unchanged)

	for _, snap := range committed {
		if s.deduper != nil {
			s.deduper.Record(ctx, snap.StationKey(), snap.Fingerprint())
		}
		for _, h := range s.hooks {
			h(ctx, snap)
		}
	}
	return res
}

func (s *DuckDBStore) write(ctx context.Context, snaps []model.ScoreSnapshot) (_ []model.ScoreSnapshot, duplicates int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	committed := make([]model.ScoreSnapshot, 0, len(snaps))
	for _, snap := range snaps {
		var existing int64
		err = tx.QueryRowContext(ctx, existsSQL, snap.Callsign, snap.Contest, snap.Timestamp).Scan(&existing)
		switch {
		case err == nil:
			duplicates++
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return nil, 0, fmt.Errorf("lookup %s: %w", snap.Key(), err)
		}

		id, ierr := insertSnapshot(ctx, tx, snap)
		if ierr != nil {
			err = fmt.Errorf("insert %s: %w", snap.Key(), ierr)
			return nil, 0, err
		}
		snap.ID = id
		committed = append(committed, snap)
	}

	if err = tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit: %w", err)
	}
	return committed, duplicates, nil
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, snap model.ScoreSnapshot) (int64, error) {
	var id int64
	c := snap.Class
	err := tx.QueryRowContext(ctx, insertScoreSQL,
		snap.Timestamp, snap.Contest, snap.Callsign,
		c.Power, c.Assisted, c.Transmitter, c.Ops, c.Bands, c.Mode, c.Overlay,
		snap.Club, snap.Section,
		snap.Score, snap.QSOs, snap.Multipliers, snap.Points,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	for _, b := range snap.Bands {
		if _, err := tx.ExecContext(ctx, insertBandSQL, id, b.Band, b.Mode, b.QSOs, b.Points, b.Multipliers); err != nil {
			return 0, fmt.Errorf("band %s/%s: %w", b.Band, b.Mode, err)
		}
	}

	if q := snap.QTH; q != nil {
		if _, err := tx.ExecContext(ctx, insertQTHSQL, id,
			q.DXCC, q.Country, q.Continent, q.CQZone, q.IARUZone, q.Section, q.State, q.Grid6,
		); err != nil {
			return 0, fmt.Errorf("qth: %w", err)
		}
	}
	return id, nil
}

// coalesce keeps the last snapshot per key and orders the result by timestamp
// so ids grow with time for each station.
func coalesce(snaps []model.ScoreSnapshot) ([]model.ScoreSnapshot, int) {
	index := make(map[string]int, len(snaps))
	out := make([]model.ScoreSnapshot, 0, len(snaps))
	folded := 0
	for _, snap := range snaps {
		snap.Timestamp = snap.Timestamp.UTC().Truncate(time.Second)
		k := snap.Key()
		if i, ok := index[k]; ok {
			out[i] = snap
			folded++
			continue
		}
		index[k] = len(out)
		out = append(out, snap)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, folded
}
