package livexml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

type document struct {
	XMLName   xml.Name       `xml:"dynamicresults"`
	Contest   string         `xml:"contest"`
	Call      string         `xml:"call"`
	Timestamp string         `xml:"timestamp"`
	Club      string         `xml:"club"`
	Score     string         `xml:"score"`
	Class     *classElem     `xml:"class"`
	QTH       *qthElem       `xml:"qth"`
	Breakdown *breakdownElem `xml:"breakdown"`
}

type classElem struct {
	Power       string `xml:"power,attr"`
	Assisted    string `xml:"assisted,attr"`
	Transmitter string `xml:"transmitter,attr"`
	Ops         string `xml:"ops,attr"`
	Bands       string `xml:"bands,attr"`
	Mode        string `xml:"mode,attr"`
	Overlay     string `xml:"overlay,attr"`
}

type qthElem struct {
	DXCC     string `xml:"dxcccountry"`
	CQZone   string `xml:"cqzone"`
	IARUZone string `xml:"iaruzone"`
	Section  string `xml:"arrlsection"`
	State    string `xml:"stprvoth"`
	Grid6    string `xml:"grid6"`
}

type breakdownElem struct {
	QSO   []countElem `xml:"qso"`
	Point []countElem `xml:"point"`
	Mult  []countElem `xml:"mult"`
}

type countElem struct {
	Band  string `xml:"band,attr"`
	Mode  string `xml:"mode,attr"`
	Value string `xml:",chardata"`
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	time.RFC3339,
	"2006-01-02 15:04",
}

// decode parses one sanitized document strictly and checks mandatory fields.
func decode(doc string) (*document, time.Time, error) {
	var d document
	dec := xml.NewDecoder(strings.NewReader(doc))
	dec.Strict = true
	dec.CharsetReader = charsetReader
	if err := dec.Decode(&d); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	switch {
	case strings.TrimSpace(d.Contest) == "":
		return nil, time.Time{}, fmt.Errorf("%w: contest", ErrMissingField)
	case strings.TrimSpace(d.Call) == "":
		return nil, time.Time{}, fmt.Errorf("%w: call", ErrMissingField)
	case strings.TrimSpace(d.Timestamp) == "":
		return nil, time.Time{}, fmt.Errorf("%w: timestamp", ErrMissingField)
	}

	ts, err := parseTimestamp(d.Timestamp)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &d, ts, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return ts.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, raw)
}

// Validate reports whether a sanitized document parses and carries the mandatory fields.
func Validate(doc string) error {
	_, _, err := decode(doc)
	return err
}

// Callsign returns the upper-cased call of a valid document, or "".
func Callsign(doc string) string {
	d, _, err := decode(doc)
	if err != nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(d.Call))
}

// charsetReader accepts the single-byte encodings logging clients declare.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return input, nil
	case "iso-8859-1", "latin1", "latin-1", "windows-1252", "cp1252":
		raw, err := io.ReadAll(input)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		buf.Grow(len(raw))
		for _, b := range raw {
			if b < utf8.RuneSelf {
				buf.WriteByte(b)
				continue
			}
			buf.WriteRune(rune(b))
		}
		return &buf, nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
