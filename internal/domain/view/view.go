// Package view builds the neighbourhood scoreboard pushed to live subscribers:
// a station plus its closest competitors in the same class.
package view

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/okian/livescore/internal/domain/livexml"
	"github.com/okian/livescore/internal/domain/model"
	"github.com/okian/livescore/internal/domain/rate"
)

// Neighbours shown on each side of the station.
const neighbours = 2

// Filter types accepted in a Query.
const (
	FilterDXCC      = "dxcc"
	FilterCQZone    = "cq_zone"
	FilterIARUZone  = "iaru_zone"
	FilterContinent = "continent"
	FilterSection   = "section"
)

// DefaultWindows are the rate windows shown per row, sustained first.
var DefaultWindows = []int{60, 15}

var (
	ErrStationNotFound = errors.New("station not found")
	ErrInvalidFilter   = errors.New("invalid filter type")
	ErrMissingStation  = errors.New("contest and callsign are required")
)

// Query identifies a subscriber's view.
type Query struct {
	Contest     string
	Callsign    string
	FilterType  string
	FilterValue string
}

// Normalize upper-cases identifiers and validates the filter.
func (q Query) Normalize() (Query, error) {
	q.Contest = strings.ToUpper(strings.TrimSpace(q.Contest))
	q.Callsign = strings.ToUpper(strings.TrimSpace(q.Callsign))
	q.FilterType = strings.ToLower(strings.TrimSpace(q.FilterType))
	q.FilterValue = strings.TrimSpace(q.FilterValue)
	if q.Contest == "" || q.Callsign == "" {
		return q, ErrMissingStation
	}
	if q.FilterValue == "" {
		q.FilterType = ""
	}
	switch q.FilterType {
	case "", FilterDXCC, FilterCQZone, FilterIARUZone, FilterContinent, FilterSection:
		return q, nil
	default:
		return q, fmt.Errorf("%w: %q", ErrInvalidFilter, q.FilterType)
	}
}

// View is the serialized unit compared between pushes.
type View struct {
	Contest  string `json:"contest"`
	Callsign string `json:"callsign"`
	Filter   string `json:"filter,omitempty"`
	Stations []Row  `json:"stations"`
}

// Row is one station line.
type Row struct {
	Callsign    string         `json:"callsign"`
	Position    string         `json:"position"` // current, above or below
	Score       int            `json:"score"`
	QSOs        int            `json:"qsos"`
	Multipliers int            `json:"mults"`
	Power       string         `json:"power"`
	Assisted    string         `json:"assisted"`
	Timestamp   time.Time      `json:"ts"`
	Rates       map[string]int `json:"rates"`
	Bands       []BandRow      `json:"bands"`
}

// BandRow is a band's qsos and rates for one station.
type BandRow struct {
	Band  string         `json:"band"`
	QSOs  int            `json:"qsos"`
	Rates map[string]int `json:"rates"`
}

// Source is the store surface the builder reads.
type Source interface {
	Standings(ctx context.Context, contest string) ([]model.ScoreSnapshot, error)
	Bands(ctx context.Context, ids []int64) (map[int64][]model.BandBreakdown, error)
}

// RateSource computes rates for a snapshot in hand.
type RateSource interface {
	RatesFor(ctx context.Context, current model.ScoreSnapshot, windows ...int) (rate.Report, error)
}

// Builder assembles views from current standings.
type Builder struct {
	source  Source
	rates   RateSource
	windows []int
}

// NewBuilder creates a builder. windows defaults to 60 and 15 minutes.
func NewBuilder(source Source, rates RateSource, windows ...int) *Builder {
	if len(windows) == 0 {
		windows = DefaultWindows
	}
	return &Builder{source: source, rates: rates, windows: append([]int(nil), windows...)}
}

// Build computes the view for q.
func (b *Builder) Build(ctx context.Context, q Query) (View, error) {
	q, err := q.Normalize()
	if err != nil {
		return View{}, err
	}
	standings, err := b.source.Standings(ctx, q.Contest)
	if err != nil {
		return View{}, fmt.Errorf("view: standings: %w", err)
	}

	station, ok := find(standings, q.Callsign)
	if !ok {
		return View{}, ErrStationNotFound
	}
	picked := neighbourhood(station, standings, q)

	ids := make([]int64, len(picked))
	for i, p := range picked {
		ids[i] = p.snap.ID
	}
	bands, err := b.source.Bands(ctx, ids)
	if err != nil {
		return View{}, fmt.Errorf("view: bands: %w", err)
	}

	v := View{Contest: q.Contest, Callsign: q.Callsign, Stations: make([]Row, 0, len(picked))}
	if q.FilterType != "" {
		v.Filter = q.FilterType + "=" + q.FilterValue
	}
	for _, p := range picked {
		snap := p.snap
		snap.Bands = bands[snap.ID]
		row, err := b.row(ctx, snap, p.position)
		if err != nil {
			return View{}, err
		}
		v.Stations = append(v.Stations, row)
	}
	return v, nil
}

func (b *Builder) row(ctx context.Context, snap model.ScoreSnapshot, position string) (Row, error) {
	rep, err := b.rates.RatesFor(ctx, snap, b.windows...)
	if err != nil {
		return Row{}, fmt.Errorf("view: rates for %s: %w", snap.Callsign, err)
	}

	row := Row{
		Callsign:    snap.Callsign,
		Position:    position,
		Score:       snap.Score,
		QSOs:        snap.QSOs,
		Multipliers: snap.Multipliers,
		Power:       snap.Class.Power,
		Assisted:    snap.Class.Assisted,
		Timestamp:   snap.Timestamp,
		Rates:       make(map[string]int, len(rep.Rates)),
	}
	for _, r := range rep.Rates {
		row.Rates[strconv.Itoa(r.Window)] = r.Total
	}

	perBand := snap.BandQSOs()
	names := make([]string, 0, len(perBand))
	for band := range perBand {
		names = append(names, band)
	}
	sort.Slice(names, func(i, j int) bool { return livexml.BandLess(names[i], names[j]) })
	for _, band := range names {
		br := BandRow{Band: band, QSOs: perBand[band], Rates: make(map[string]int, len(rep.Rates))}
		for _, r := range rep.Rates {
			br.Rates[strconv.Itoa(r.Window)] = r.Bands[band]
		}
		row.Bands = append(row.Bands, br)
	}
	return row, nil
}

type pick struct {
	snap     model.ScoreSnapshot
	position string
}

func find(standings []model.ScoreSnapshot, call string) (model.ScoreSnapshot, bool) {
	for _, s := range standings {
		if s.Callsign == call {
			return s, true
		}
	}
	return model.ScoreSnapshot{}, false
}

// neighbourhood returns the station and the closest stations above and below
// it in the same power and assisted class, highest score first. Stations tied
// with it are left out.
func neighbourhood(station model.ScoreSnapshot, standings []model.ScoreSnapshot, q Query) []pick {
	var above, below []model.ScoreSnapshot
	for _, s := range standings {
		if s.Callsign == station.Callsign ||
			s.Class.Power != station.Class.Power ||
			s.Class.Assisted != station.Class.Assisted ||
			!matches(s, q) {
			continue
		}
		switch {
		case s.Score > station.Score:
			above = append(above, s)
		case s.Score < station.Score:
			below = append(below, s)
		}
	}
	sort.SliceStable(above, func(i, j int) bool { return above[i].Score < above[j].Score })
	sort.SliceStable(below, func(i, j int) bool { return below[i].Score > below[j].Score })
	if len(above) > neighbours {
		above = above[:neighbours]
	}
	if len(below) > neighbours {
		below = below[:neighbours]
	}

	out := make([]pick, 0, len(above)+len(below)+1)
	for i := len(above) - 1; i >= 0; i-- {
		out = append(out, pick{above[i], "above"})
	}
	out = append(out, pick{station, "current"})
	for _, s := range below {
		out = append(out, pick{s, "below"})
	}
	return out
}

func matches(s model.ScoreSnapshot, q Query) bool {
	if q.FilterType == "" {
		return true
	}
	var loc model.Location
	if s.QTH != nil {
		loc = *s.QTH
	}
	var got string
	switch q.FilterType {
	case FilterDXCC:
		got = loc.DXCC
	case FilterCQZone:
		got = loc.CQZone
	case FilterIARUZone:
		got = loc.IARUZone
	case FilterContinent:
		got = loc.Continent
	case FilterSection:
		got = loc.Section
		if got == "" {
			got = s.Section
		}
	}
	return strings.EqualFold(strings.TrimSpace(got), q.FilterValue)
}
