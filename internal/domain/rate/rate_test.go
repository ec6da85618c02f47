package rate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/livescore/internal/domain/model"
	"github.com/okian/livescore/internal/domain/rate"
	. "github.com/smartystreets/goconvey/convey"
)

var base = time.Date(2024, 11, 23, 12, 0, 0, 0, time.UTC)

func snap(id int64, minutes int, qsos int, bands ...model.BandBreakdown) model.ScoreSnapshot {
	return model.ScoreSnapshot{
		ID:        id,
		Timestamp: base.Add(time.Duration(minutes) * time.Minute),
		Contest:   "CQ-WW-CW",
		Callsign:  "K1ABC",
		QSOs:      qsos,
		Bands:     bands,
	}
}

func band(name string, qsos int) model.BandBreakdown {
	return model.BandBreakdown{Band: name, Mode: "CW", QSOs: qsos}
}

func params(window int) rate.Params {
	return rate.Params{Window: window, Tolerance: 5 * time.Minute, FallbackWindow: 60}
}

func TestCompute(t *testing.T) {
	Convey("Given two snapshots 60 minutes apart", t, func() {
		prev := snap(1, 0, 100)

		Convey("When the qso delta is 30", func() {
			r := rate.Compute(snap(2, 60, 130), []model.ScoreSnapshot{prev}, nil, params(60))

			Convey("Then the hourly rate is 30", func() {
				So(r.Total, ShouldEqual, 30)
				So(r.Window, ShouldEqual, 60)
				So(r.Samples, ShouldHaveLength, 1)
				So(r.Samples[0].QSODelta, ShouldEqual, 30)
				So(r.Samples[0].Minutes, ShouldEqual, 60)
			})
		})

		Convey("When the qso delta is zero", func() {
			r := rate.Compute(snap(2, 60, 100), []model.ScoreSnapshot{prev}, nil, params(60))
			So(r.Total, ShouldEqual, 0)
		})

		Convey("When the counter went backwards", func() {
			r := rate.Compute(snap(2, 60, 90), []model.ScoreSnapshot{prev}, nil, params(60))
			So(r.Total, ShouldEqual, 0)
			So(r.Samples, ShouldBeEmpty)
		})
	})

	Convey("Given no earlier snapshot within tolerance", t, func() {
		cur := snap(3, 80, 200)

		Convey("When the only candidate is too old", func() {
			r := rate.Compute(cur, []model.ScoreSnapshot{snap(1, 0, 100)}, nil, params(60))
			So(r.Total, ShouldEqual, 0)
		})

		Convey("When the only candidate is too recent", func() {
			r := rate.Compute(cur, []model.ScoreSnapshot{snap(2, 50, 150)}, nil, params(60))
			So(r.Total, ShouldEqual, 0)
		})

		Convey("When there is no history at all", func() {
			r := rate.Compute(cur, nil, nil, params(60))
			So(r.Total, ShouldEqual, 0)
		})
	})

	Convey("Given several candidates around the window edge", t, func() {
		cur := snap(9, 120, 300)
		history := []model.ScoreSnapshot{
			snap(5, 55, 200),
			snap(6, 59, 210), // nearest at or before the 60 minute edge
			snap(7, 105, 260),
			snap(4, 40, 150),
		}

		Convey("Then the latest snapshot at or before the edge is used", func() {
			r := rate.Compute(cur, history, nil, params(60))
			So(r.Samples[0].QSODelta, ShouldEqual, 90)
			So(r.Total, ShouldEqual, 89) // 90 * 60 / 61 = 88.52
		})

		Convey("Then a 15 minute window picks a different snapshot", func() {
			r := rate.Compute(cur, history, nil, params(15))
			So(r.Samples[0].QSODelta, ShouldEqual, 40)
			So(r.Total, ShouldEqual, 160)
		})
	})

	Convey("Given an elapsed time that exceeds the window by less than the tolerance", t, func() {
		r := rate.Compute(snap(2, 64, 132), []model.ScoreSnapshot{snap(1, 0, 100)}, nil, params(60))
		So(r.Total, ShouldEqual, 30)
	})

	Convey("Given rounding of fractional rates", t, func() {
		r := rate.Compute(snap(2, 16, 107), []model.ScoreSnapshot{snap(1, 0, 100)}, nil, params(15))
		So(r.Total, ShouldEqual, 26) // 7 * 60 / 16 = 26.25
	})

	Convey("Given per-band counters", t, func() {
		prev := snap(1, 0, 40, band("20", 30), band("40", 10))

		Convey("When bands advance independently", func() {
			cur := snap(2, 60, 80, band("20", 45), band("40", 10), band("15", 25))
			r := rate.Compute(cur, []model.ScoreSnapshot{prev}, map[string]bool{"20": true, "40": true}, params(60))

			Convey("Then each band uses its own counter", func() {
				So(r.Bands["20"], ShouldEqual, 15)
				So(r.Bands["40"], ShouldEqual, 0)
			})

			Convey("Then a band missing at the earlier snapshot counts from zero", func() {
				So(r.Bands["15"], ShouldEqual, 25)
			})
		})

		Convey("When modes share a band", func() {
			cur := snap(2, 60, 70, band("20", 40), model.BandBreakdown{Band: "20", Mode: "SSB", QSOs: 20}, band("40", 10))
			r := rate.Compute(cur, []model.ScoreSnapshot{prev}, nil, params(60))
			So(r.Bands["20"], ShouldEqual, 30)
		})
	})

	Convey("Given a band with activity and no earlier record at all", t, func() {
		cur := snap(1, 0, 20, band("10", 20))

		Convey("Then the first-hour fallback credits the whole count", func() {
			r := rate.Compute(cur, nil, map[string]bool{}, params(15))
			So(r.Total, ShouldEqual, 0)
			So(r.Bands["10"], ShouldEqual, 20)
		})

		Convey("Then a band seen before but out of range reports zero", func() {
			r := rate.Compute(cur, nil, map[string]bool{"10": true}, params(15))
			So(r.Bands["10"], ShouldEqual, 0)
		})
	})
}

type fakeReader struct {
	snaps   []model.ScoreSnapshot
	err     error
	queries int
}

func (f *fakeReader) Latest(_ context.Context, contest, callsign string) (model.ScoreSnapshot, bool, error) {
	if f.err != nil {
		return model.ScoreSnapshot{}, false, f.err
	}
	var best model.ScoreSnapshot
	found := false
	for _, s := range f.snaps {
		if s.Contest != contest || s.Callsign != callsign {
			continue
		}
		if !found || s.Timestamp.After(best.Timestamp) {
			best, found = s, true
		}
	}
	return best, found, nil
}

func (f *fakeReader) Series(_ context.Context, contest, callsign string, from, to time.Time) ([]model.ScoreSnapshot, error) {
	f.queries++
	var out []model.ScoreSnapshot
	for _, s := range f.snaps {
		if s.Contest == contest && s.Callsign == callsign && !s.Timestamp.Before(from) && !s.Timestamp.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeReader) BandsBefore(_ context.Context, contest, callsign string, before time.Time) (map[string]bool, error) {
	out := map[string]bool{}
	for _, s := range f.snaps {
		if s.Contest == contest && s.Callsign == callsign && s.Timestamp.Before(before) {
			for b := range s.BandQSOs() {
				out[b] = true
			}
		}
	}
	return out, nil
}

func TestEngine(t *testing.T) {
	Convey("Given an engine over a snapshot series", t, func() {
		reader := &fakeReader{snaps: []model.ScoreSnapshot{
			snap(1, 0, 100, band("20", 100)),
			snap(2, 45, 120, band("20", 120)),
			snap(3, 60, 130, band("20", 125), band("40", 5)),
		}}
		engine := rate.NewEngine(reader, rate.WithTolerance(5*time.Minute))

		Convey("When asking for one window", func() {
			r, err := engine.Rate(context.Background(), "K1ABC", "CQ-WW-CW", 60)
			So(err, ShouldBeNil)
			So(r.Total, ShouldEqual, 30)
			So(r.Bands["20"], ShouldEqual, 25)
			So(r.Bands["40"], ShouldEqual, 5)
		})

		Convey("When asking for the default windows", func() {
			rep, err := engine.Rates(context.Background(), "K1ABC", "CQ-WW-CW")
			So(err, ShouldBeNil)
			So(rep.Rates, ShouldHaveLength, 2)
			So(reader.queries, ShouldEqual, 1)

			sprint, ok := rep.Window(15)
			So(ok, ShouldBeTrue)
			So(sprint.Total, ShouldEqual, 40)
			sustained, ok := rep.Window(60)
			So(ok, ShouldBeTrue)
			So(sustained.Total, ShouldEqual, 30)
		})

		Convey("When asking for a custom window", func() {
			rep, err := engine.Rates(context.Background(), "K1ABC", "CQ-WW-CW", 55)
			So(err, ShouldBeNil)
			So(rep.Rates[0].Window, ShouldEqual, 55)
			So(rep.Rates[0].Total, ShouldEqual, 30)
		})

		Convey("When the station is unknown", func() {
			_, err := engine.Rate(context.Background(), "W1AW", "CQ-WW-CW", 60)
			So(errors.Is(err, rate.ErrNoSnapshot), ShouldBeTrue)
		})

		Convey("When the window is not positive", func() {
			_, err := engine.Rate(context.Background(), "K1ABC", "CQ-WW-CW", 0)
			So(errors.Is(err, rate.ErrInvalidWindow), ShouldBeTrue)
		})

		Convey("When the store fails", func() {
			reader.err = errors.New("boom")
			_, err := engine.Rate(context.Background(), "K1ABC", "CQ-WW-CW", 60)
			So(err, ShouldNotBeNil)
		})
	})
}
