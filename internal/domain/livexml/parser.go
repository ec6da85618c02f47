package livexml

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/okian/livescore/internal/domain/geo"
	"github.com/okian/livescore/internal/domain/model"
)

const (
	totalBand = "total"
	allModes  = "ALL"
)

// Parser turns raw livescore text into snapshots, completing geography on the way.
type Parser struct {
	locator geo.Locator
	max     int
}

// NewParser creates a parser. A nil locator disables geography completion.
func NewParser(locator geo.Locator, maxDocuments int) *Parser {
	if locator == nil {
		locator = geo.Nop{}
	}
	return &Parser{locator: locator, max: maxDocuments}
}

// DocumentError ties a parse failure to the document's position in the text.
type DocumentError struct {
	Index int
	Err   error
}

func (e *DocumentError) Error() string { return fmt.Sprintf("document %d: %v", e.Index, e.Err) }
func (e *DocumentError) Unwrap() error { return e.Err }

// Parse extracts every document in text and converts the valid ones. A bad
// document never hides its siblings; its error is returned alongside.
func (p *Parser) Parse(text string) ([]model.ScoreSnapshot, []error) {
	docs := Extract(text, p.limit(text))
	out := make([]model.ScoreSnapshot, 0, len(docs))
	var errs []error
	for i, doc := range docs {
		snap, err := p.ParseDocument(doc)
		if err != nil {
			errs = append(errs, &DocumentError{Index: i, Err: err})
			continue
		}
		out = append(out, snap)
	}
	return out, errs
}

// limit lets batch text through whole: a drained batch may hold more
// documents than a single payload is allowed.
func (p *Parser) limit(text string) int {
	n := strings.Count(text, closingTag)
	if n < p.max {
		return p.max
	}
	return n
}

// ParseDocument converts one document.
func (p *Parser) ParseDocument(doc string) (model.ScoreSnapshot, error) {
	d, ts, err := decode(Sanitize(doc))
	if err != nil {
		return model.ScoreSnapshot{}, err
	}

	snap := model.ScoreSnapshot{
		Timestamp: ts,
		Contest:   strings.ToUpper(strings.TrimSpace(d.Contest)),
		Callsign:  strings.ToUpper(strings.TrimSpace(d.Call)),
		Score:     atoi(d.Score),
		Club:      strings.TrimSpace(d.Club),
	}
	if d.Class != nil {
		snap.Class = model.Class{
			Power:       strings.TrimSpace(d.Class.Power),
			Assisted:    strings.TrimSpace(d.Class.Assisted),
			Transmitter: strings.TrimSpace(d.Class.Transmitter),
			Ops:         strings.TrimSpace(d.Class.Ops),
			Bands:       strings.TrimSpace(d.Class.Bands),
			Mode:        strings.TrimSpace(d.Class.Mode),
			Overlay:     strings.TrimSpace(d.Class.Overlay),
		}
	}
	if d.Breakdown != nil {
		snap.QSOs = total(d.Breakdown.QSO)
		snap.Points = total(d.Breakdown.Point)
		snap.Multipliers = total(d.Breakdown.Mult)
		snap.Bands = bands(d.Breakdown)
	}

	var loc model.Location
	if d.QTH != nil {
		loc = model.Location{
			DXCC:     strings.TrimSpace(d.QTH.DXCC),
			CQZone:   strings.TrimSpace(d.QTH.CQZone),
			IARUZone: strings.TrimSpace(d.QTH.IARUZone),
			Section:  strings.TrimSpace(d.QTH.Section),
			State:    strings.TrimSpace(d.QTH.State),
			Grid6:    strings.TrimSpace(d.QTH.Grid6),
		}
		snap.Section = loc.Section
	}
	if p.complete(snap.Callsign, &loc) || d.QTH != nil {
		snap.QTH = &loc
	}
	return snap, nil
}

// complete fills zones that are missing or zero, and entity fields that are
// empty, from the locator. It reports whether anything was found.
func (p *Parser) complete(call string, loc *model.Location) bool {
	info, ok := p.locator.Lookup(call)
	if !ok {
		return false
	}
	if loc.DXCC == "" {
		loc.DXCC = info.Prefix
	}
	if loc.Country == "" {
		loc.Country = info.Country
	}
	if loc.Continent == "" {
		loc.Continent = info.Continent
	}
	if placeholder(loc.CQZone) && info.CQZone > 0 {
		loc.CQZone = strconv.Itoa(info.CQZone)
	}
	if placeholder(loc.IARUZone) && info.ITUZone > 0 {
		loc.IARUZone = strconv.Itoa(info.ITUZone)
	}
	return true
}

func placeholder(zone string) bool {
	zone = strings.TrimSpace(zone)
	return zone == "" || zone == "0"
}

// total prefers the band="total" mode="ALL" entry, then the sum of every
// band="total" entry, then the sum of per-band entries. A non-zero reported
// total is kept even when the bands disagree.
func total(entries []countElem) int {
	sumTotal, sumBands := 0, 0
	for _, e := range entries {
		band := strings.TrimSpace(e.Band)
		if strings.EqualFold(band, totalBand) {
			if strings.EqualFold(strings.TrimSpace(e.Mode), allModes) {
				if v := atoi(e.Value); v != 0 {
					return v
				}
			}
			sumTotal += atoi(e.Value)
			continue
		}
		sumBands += atoi(e.Value)
	}
	if sumTotal != 0 {
		return sumTotal
	}
	return sumBands
}

type bandMode struct{ band, mode string }

// bands builds one row per (band, mode) with any activity.
func bands(b *breakdownElem) []model.BandBreakdown {
	rows := map[bandMode]*model.BandBreakdown{}
	row := func(e countElem) *model.BandBreakdown {
		band := strings.TrimSpace(e.Band)
		if band == "" || strings.EqualFold(band, totalBand) {
			return nil
		}
		mode := strings.ToUpper(strings.TrimSpace(e.Mode))
		if mode == "" {
			mode = allModes
		}
		k := bandMode{band, mode}
		r, ok := rows[k]
		if !ok {
			r = &model.BandBreakdown{Band: band, Mode: mode}
			rows[k] = r
		}
		return r
	}
	for _, e := range b.QSO {
		if r := row(e); r != nil {
			r.QSOs += atoi(e.Value)
		}
	}
	for _, e := range b.Point {
		if r := row(e); r != nil {
			r.Points += atoi(e.Value)
		}
	}
	for _, e := range b.Mult {
		if r := row(e); r != nil {
			r.Multipliers += atoi(e.Value)
		}
	}

	out := make([]model.BandBreakdown, 0, len(rows))
	for _, r := range rows {
		if r.QSOs == 0 && r.Points == 0 && r.Multipliers == 0 {
			continue
		}
		out = append(out, *r)
	}
	SortBands(out)
	return out
}

// SortBands orders rows from the longest wavelength down, then by mode.
func SortBands(rows []model.BandBreakdown) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Band != rows[j].Band {
			return BandLess(rows[i].Band, rows[j].Band)
		}
		return rows[i].Mode < rows[j].Mode
	})
}

// BandLess orders band names: numeric meters descending, others after, by name.
func BandLess(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	switch {
	case errA == nil && errB == nil:
		return fa > fb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
