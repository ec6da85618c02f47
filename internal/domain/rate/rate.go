// Package rate derives QSO-per-hour rates from a station's snapshot series.
package rate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/livescore/internal/domain/model"
	"github.com/okian/livescore/pkg/metrics"
)

// Default rate configuration constants.
const (
	defaultTolerance      = 5 * time.Minute
	defaultFallbackWindow = 60
)

// DefaultWindows are the sprint and sustained windows, in minutes.
var DefaultWindows = []int{15, 60}

// Sentinel errors.
var (
	ErrNoSnapshot    = errors.New("rate: no snapshot for station")
	ErrInvalidWindow = errors.New("rate: window must be positive")
)

// Params drive one computation.
type Params struct {
	Window         int           // minutes
	Tolerance      time.Duration // how far past the window P may lie
	FallbackWindow int           // minutes credited to a band's first activity
}

// Rate is the result for one window.
type Rate struct {
	Window  int                `json:"window_minutes"`
	Total   int                `json:"total"`
	Bands   map[string]int     `json:"bands"`
	Samples []model.RateSample `json:"samples,omitempty"`
}

// Compute evaluates one window. history holds snapshots earlier than current,
// in any order. seen lists bands that appear in any snapshot before current.
func Compute(current model.ScoreSnapshot, history []model.ScoreSnapshot, seen map[string]bool, p Params) Rate {
	out := Rate{Window: p.Window, Bands: map[string]int{}}
	if p.Window <= 0 {
		return out
	}
	if p.FallbackWindow <= 0 {
		p.FallbackWindow = defaultFallbackWindow
	}

	prev, ok := nearest(current, history, p)
	var minutes float64
	if ok {
		minutes = current.Timestamp.Sub(prev.Timestamp).Minutes()
	}

	if ok {
		if s, got := sample(model.TotalBand, current.QSOs-prev.QSOs, minutes); got {
			out.Total = s.PerHour
			out.Samples = append(out.Samples, s)
		}
	}

	var prevBands map[string]int
	if ok {
		prevBands = prev.BandQSOs()
	}
	for band, qsos := range current.BandQSOs() {
		if qsos <= 0 {
			continue
		}
		out.Bands[band] = 0
		switch {
		case ok:
			if s, got := sample(band, qsos-prevBands[band], minutes); got {
				out.Bands[band] = s.PerHour
				out.Samples = append(out.Samples, s)
			}
		case !seen[band]:
			s := model.RateSample{
				Band:     band,
				QSODelta: qsos,
				Minutes:  float64(p.FallbackWindow),
				PerHour:  perHour(qsos, float64(p.FallbackWindow)),
			}
			out.Bands[band] = s.PerHour
			out.Samples = append(out.Samples, s)
		}
	}
	sort.Slice(out.Samples, func(i, j int) bool { return out.Samples[i].Band < out.Samples[j].Band })
	return out
}

// nearest finds the latest snapshot at or before current-window and checks the
// elapsed time stays within window+tolerance.
func nearest(current model.ScoreSnapshot, history []model.ScoreSnapshot, p Params) (model.ScoreSnapshot, bool) {
	target := current.Timestamp.Add(-time.Duration(p.Window) * time.Minute)
	var best model.ScoreSnapshot
	found := false
	for _, h := range history {
		if h.Timestamp.After(target) {
			continue
		}
		if !found || h.Timestamp.After(best.Timestamp) || (h.Timestamp.Equal(best.Timestamp) && h.ID > best.ID) {
			best, found = h, true
		}
	}
	if !found {
		return model.ScoreSnapshot{}, false
	}
	elapsed := current.Timestamp.Sub(best.Timestamp)
	limit := time.Duration(p.Window)*time.Minute + p.Tolerance
	if elapsed <= 0 || elapsed > limit {
		return model.ScoreSnapshot{}, false
	}
	return best, true
}

func sample(band string, delta int, minutes float64) (model.RateSample, bool) {
	if delta <= 0 || minutes <= 0 {
		return model.RateSample{}, false
	}
	return model.RateSample{Band: band, QSODelta: delta, Minutes: minutes, PerHour: perHour(delta, minutes)}, true
}

func perHour(qsos int, minutes float64) int {
	return int(math.Round(float64(qsos) * 60 / minutes))
}

// Reader is the store surface the engine needs.
type Reader interface {
	Latest(ctx context.Context, contest, callsign string) (model.ScoreSnapshot, bool, error)
	Series(ctx context.Context, contest, callsign string, from, to time.Time) ([]model.ScoreSnapshot, error)
	BandsBefore(ctx context.Context, contest, callsign string, before time.Time) (map[string]bool, error)
}

// Engine answers rate queries against a Reader.
type Engine struct {
	reader         Reader
	tolerance      time.Duration
	fallbackWindow int
	windows        []int
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithTolerance sets how far past the window an earlier snapshot may lie.
func WithTolerance(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.tolerance = d
		}
	}
}

// WithFallbackWindow sets the minutes credited to a band's first activity.
func WithFallbackWindow(minutes int) Option {
	return func(e *Engine) {
		if minutes > 0 {
			e.fallbackWindow = minutes
		}
	}
}

// WithWindows sets the windows evaluated by Rates when none are requested.
func WithWindows(windows []int) Option {
	return func(e *Engine) {
		if len(windows) > 0 {
			e.windows = append([]int(nil), windows...)
		}
	}
}

// NewEngine creates an engine.
func NewEngine(reader Reader, opts ...Option) *Engine {
	e := &Engine{
		reader:         reader,
		tolerance:      defaultTolerance,
		fallbackWindow: defaultFallbackWindow,
		windows:        append([]int(nil), DefaultWindows...),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Report holds several windows computed against the same latest snapshot.
type Report struct {
	Contest   string    `json:"contest"`
	Callsign  string    `json:"callsign"`
	Timestamp time.Time `json:"timestamp"`
	QSOs      int       `json:"qsos"`
	Rates     []Rate    `json:"rates"`
}

// Window returns the rate for the given window, if the report has it.
func (r Report) Window(minutes int) (Rate, bool) {
	for _, x := range r.Rates {
		if x.Window == minutes {
			return x, true
		}
	}
	return Rate{}, false
}

// Rate computes one window for the station's latest snapshot.
func (e *Engine) Rate(ctx context.Context, callsign, contest string, window int) (Rate, error) {
	rep, err := e.Rates(ctx, callsign, contest, window)
	if err != nil {
		return Rate{}, err
	}
	return rep.Rates[0], nil
}

// Rates computes every requested window (the configured ones when none given).
func (e *Engine) Rates(ctx context.Context, callsign, contest string, windows ...int) (Report, error) {
	current, found, err := e.reader.Latest(ctx, contest, callsign)
	if err != nil {
		return Report{}, fmt.Errorf("rate: latest: %w", err)
	}
	if !found {
		return Report{}, ErrNoSnapshot
	}
	return e.RatesFor(ctx, current, windows...)
}

// RatesFor computes windows for a snapshot already in hand.
func (e *Engine) RatesFor(ctx context.Context, current model.ScoreSnapshot, windows ...int) (Report, error) {
	if len(windows) == 0 {
		windows = e.windows
	}
	widest := 0
	for _, w := range windows {
		if w <= 0 {
			return Report{}, fmt.Errorf("%w: %d", ErrInvalidWindow, w)
		}
		if w > widest {
			widest = w
		}
	}
	return e.ratesFor(ctx, current, windows, widest)
}

func (e *Engine) ratesFor(ctx context.Context, current model.ScoreSnapshot, windows []int, widest int) (Report, error) {
	from := current.Timestamp.Add(-time.Duration(widest)*time.Minute - e.tolerance)
	history, err := e.reader.Series(ctx, current.Contest, current.Callsign, from, current.Timestamp.Add(-time.Second))
	if err != nil {
		return Report{}, fmt.Errorf("rate: series: %w", err)
	}
	seen, err := e.reader.BandsBefore(ctx, current.Contest, current.Callsign, current.Timestamp)
	if err != nil {
		return Report{}, fmt.Errorf("rate: bands: %w", err)
	}

	rep := Report{
		Contest:   current.Contest,
		Callsign:  current.Callsign,
		Timestamp: current.Timestamp,
		QSOs:      current.QSOs,
		Rates:     make([]Rate, 0, len(windows)),
	}
	for _, w := range windows {
		rep.Rates = append(rep.Rates, Compute(current, history, seen, Params{
			Window:         w,
			Tolerance:      e.tolerance,
			FallbackWindow: e.fallbackWindow,
		}))
	}
	metrics.RecordRateComputation()
	return rep, nil
}
