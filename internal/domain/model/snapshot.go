// Package model contains domain models passed between layers.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TotalBand labels rate samples and breakdown rows that cover all bands.
const TotalBand = "total"

// ScoreSnapshot is one timestamped cumulative-score observation for a station in a contest.
// ID is zero until the store assigns one.
type ScoreSnapshot struct {
	ID          int64
	Timestamp   time.Time // UTC, second precision
	Contest     string
	Callsign    string
	Score       int
	QSOs        int
	Multipliers int
	Points      int
	Class       Class
	Club        string
	Section     string
	Bands       []BandBreakdown
	QTH         *Location
}

// Class holds the operating-class attributes.
type Class struct {
	Power       string
	Assisted    string
	Transmitter string
	Ops         string
	Bands       string
	Mode        string
	Overlay     string
}

// BandBreakdown is a per-band, per-mode slice of a snapshot's cumulative totals.
type BandBreakdown struct {
	Band        string
	Mode        string
	QSOs        int
	Points      int
	Multipliers int
}

// Location is the station's QTH metadata.
type Location struct {
	DXCC      string // entity prefix
	Country   string
	Continent string
	CQZone    string
	IARUZone  string
	Section   string
	State     string
	Grid6     string
}

// RateSample is a derived rate over one band (or TotalBand). Never persisted.
type RateSample struct {
	Band     string  `json:"band"`
	QSODelta int     `json:"qso_delta"`
	Minutes  float64 `json:"minutes_elapsed"`
	PerHour  int     `json:"rate_per_hour"`
}

// Key identifies a snapshot: no two snapshots share it.
func (s ScoreSnapshot) Key() string {
	return s.Callsign + "|" + s.Contest + "|" + s.Timestamp.UTC().Format(time.RFC3339)
}

// StationKey identifies the station's history within a contest.
func (s ScoreSnapshot) StationKey() string {
	return s.Callsign + "|" + s.Contest
}

// BandQSOs sums qsos per band across modes.
func (s ScoreSnapshot) BandQSOs() map[string]int {
	out := make(map[string]int, len(s.Bands))
	for _, b := range s.Bands {
		out[b.Band] += b.QSOs
	}
	return out
}

// Fingerprint hashes the snapshot's content, timestamp included, ID excluded.
func (s ScoreSnapshot) Fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d|%d|%d|%d|%+v|%s|%s|", s.Key(), s.Score, s.QSOs, s.Multipliers, s.Points, s.Class, s.Club, s.Section)
	bands := append([]BandBreakdown(nil), s.Bands...)
	sort.Slice(bands, func(i, j int) bool {
		if bands[i].Band != bands[j].Band {
			return bands[i].Band < bands[j].Band
		}
		return bands[i].Mode < bands[j].Mode
	})
	for _, bb := range bands {
		fmt.Fprintf(&b, "%+v;", bb)
	}
	if s.QTH != nil {
		fmt.Fprintf(&b, "|%+v", *s.QTH)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// BaseCallsign strips portable and operator suffixes after the first '/'.
func BaseCallsign(call string) string {
	call = strings.ToUpper(strings.TrimSpace(call))
	if i := strings.IndexByte(call, '/'); i >= 0 {
		return call[:i]
	}
	return call
}
