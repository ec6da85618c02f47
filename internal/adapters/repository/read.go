package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/okian/livescore/internal/domain/livexml"
	"github.com/okian/livescore/internal/domain/model"
)

const snapshotColumns = `s.id, s."timestamp", s.contest, s.callsign,
	s.power, s.assisted, s.transmitter, s.ops, s.bands, s.mode, s.overlay,
	s.club, s.section, s.score, s.qsos, s.multipliers, s.points,
	q.contest_score_id, q.dxcc_country, q.country, q.continent, q.cq_zone, q.iaru_zone,
	q.arrl_section, q.state_province, q.grid6`

const (
	latestSQL = `SELECT ` + snapshotColumns + `
		FROM contest_scores s LEFT JOIN qth_info q ON q.contest_score_id = s.id
		WHERE s.contest = ? AND s.callsign = ?
		ORDER BY s."timestamp" DESC, s.id DESC
		LIMIT 1`

	seriesSQL = `SELECT ` + snapshotColumns + `
		FROM contest_scores s LEFT JOIN qth_info q ON q.contest_score_id = s.id
		WHERE s.contest = ? AND s.callsign = ? AND s."timestamp" BETWEEN ? AND ?
		ORDER BY s."timestamp", s.id`

	seriesBandsSQL = `SELECT b.contest_score_id, b.band, b.mode, b.qsos, b.points, b.multipliers
		FROM band_breakdown b JOIN contest_scores s ON s.id = b.contest_score_id
		WHERE s.contest = ? AND s.callsign = ? AND s."timestamp" BETWEEN ? AND ?`

	bandsBeforeSQL = `SELECT DISTINCT b.band
		FROM band_breakdown b JOIN contest_scores s ON s.id = b.contest_score_id
		WHERE s.contest = ? AND s.callsign = ? AND s."timestamp" < ? AND b.qsos > 0`

	standingsSQL = `SELECT ` + snapshotColumns + `
		FROM contest_scores s LEFT JOIN qth_info q ON q.contest_score_id = s.id
		WHERE s.contest = ?
		QUALIFY row_number() OVER (PARTITION BY s.callsign ORDER BY s."timestamp" DESC, s.id DESC) = 1
		ORDER BY s.score DESC, s.callsign`

	bandsByIDSQL = `SELECT contest_score_id, band, mode, qsos, points, multipliers
		FROM band_breakdown WHERE contest_score_id IN (%s)`
)

// Latest returns the station's most recent snapshot.
func (s *DuckDBStore) Latest(ctx context.Context, contest, callsign string) (model.ScoreSnapshot, bool, error) {
	rows, err := s.db.QueryContext(ctx, latestSQL, contest, callsign)
	if err != nil {
		return model.ScoreSnapshot{}, false, fmt.Errorf("latest: %w", err)
	}
	snaps, err := scanSnapshots(rows)
	if err != nil {
		return model.ScoreSnapshot{}, false, fmt.Errorf("latest: %w", err)
	}
	if len(snaps) == 0 {
		return model.ScoreSnapshot{}, false, nil
	}
	snap := snaps[0]
	bands, err := s.Bands(ctx, []int64{snap.ID})
	if err != nil {
		return model.ScoreSnapshot{}, false, err
	}
	snap.Bands = bands[snap.ID]
	return snap, true, nil
}

// Series returns the station's snapshots in [from, to], oldest first.
func (s *DuckDBStore) Series(ctx context.Context, contest, callsign string, from, to time.Time) ([]model.ScoreSnapshot, error) {
	from, to = from.UTC(), to.UTC()
	rows, err := s.db.QueryContext(ctx, seriesSQL, contest, callsign, from, to)
	if err != nil {
		return nil, fmt.Errorf("series: %w", err)
	}
	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, fmt.Errorf("series: %w", err)
	}
	if len(snaps) == 0 {
		return snaps, nil
	}

	rows, err = s.db.QueryContext(ctx, seriesBandsSQL, contest, callsign, from, to)
	if err != nil {
		return nil, fmt.Errorf("series bands: %w", err)
	}
	bands, err := scanBands(rows)
	if err != nil {
		return nil, fmt.Errorf("series bands: %w", err)
	}
	for i := range snaps {
		snaps[i].Bands = bands[snaps[i].ID]
	}
	return snaps, nil
}

// BandsBefore lists bands with at least one QSO in snapshots earlier than before.
func (s *DuckDBStore) BandsBefore(ctx context.Context, contest, callsign string, before time.Time) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, bandsBeforeSQL, contest, callsign, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("bands before: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var band string
		if err := rows.Scan(&band); err != nil {
			return nil, fmt.Errorf("bands before: %w", err)
		}
		out[band] = true
	}
	return out, rows.Err()
}

// Standings returns each station's latest snapshot in the contest, highest score first.
func (s *DuckDBStore) Standings(ctx context.Context, contest string) ([]Standing, error) {
	rows, err := s.db.QueryContext(ctx, standingsSQL, contest)
	if err != nil {
		return nil, fmt.Errorf("standings: %w", err)
	}
	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, fmt.Errorf("standings: %w", err)
	}
	return snaps, nil
}

// Bands loads breakdown rows keyed by snapshot id.
func (s *DuckDBStore) Bands(ctx context.Context, ids []int64) (map[int64][]model.BandBreakdown, error) {
	if len(ids) == 0 {
		return map[int64][]model.BandBreakdown{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(bandsByIDSQL, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("bands: %w", err)
	}
	out, err := scanBands(rows)
	if err != nil {
		return nil, fmt.Errorf("bands: %w", err)
	}
	return out, nil
}

func scanSnapshots(rows *sql.Rows) ([]model.ScoreSnapshot, error) {
	defer rows.Close()

	var out []model.ScoreSnapshot
	for rows.Next() {
		var (
			snap                                        model.ScoreSnapshot
			power, assisted, tx, ops, bands, mode, over sql.NullString
			club, section                               sql.NullString
			qthID                                       sql.NullInt64
			dxcc, country, cont, cqz, iaru              sql.NullString
			arrl, state, grid                           sql.NullString
		)
		if err := rows.Scan(
			&snap.ID, &snap.Timestamp, &snap.Contest, &snap.Callsign,
			&power, &assisted, &tx, &ops, &bands, &mode, &over,
			&club, &section, &snap.Score, &snap.QSOs, &snap.Multipliers, &snap.Points,
			&qthID, &dxcc, &country, &cont, &cqz, &iaru, &arrl, &state, &grid,
		); err != nil {
			return nil, err
		}
		snap.Timestamp = snap.Timestamp.UTC()
		snap.Class = model.Class{
			Power:       power.String,
			Assisted:    assisted.String,
			Transmitter: tx.String,
			Ops:         ops.String,
			Bands:       bands.String,
			Mode:        mode.String,
			Overlay:     over.String,
		}
		snap.Club = club.String
		snap.Section = section.String
		if qthID.Valid {
			snap.QTH = &model.Location{
				DXCC:      dxcc.String,
				Country:   country.String,
				Continent: cont.String,
				CQZone:    cqz.String,
				IARUZone:  iaru.String,
				Section:   arrl.String,
				State:     state.String,
				Grid6:     grid.String,
			}
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func scanBands(rows *sql.Rows) (map[int64][]model.BandBreakdown, error) {
	defer rows.Close()

	out := make(map[int64][]model.BandBreakdown)
	for rows.Next() {
		var (
			id int64
			b  model.BandBreakdown
		)
		if err := rows.Scan(&id, &b.Band, &b.Mode, &b.QSOs, &b.Points, &b.Multipliers); err != nil {
			return nil, err
		}
		out[id] = append(out[id], b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for id := range out {
		livexml.SortBands(out[id])
	}
	return out, nil
}
