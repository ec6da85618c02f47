package livexml_test

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/okian/livescore/internal/domain/geo"
	"github.com/okian/livescore/internal/domain/livexml"
	. "github.com/smartystreets/goconvey/convey"
)

const fullDoc = `<?xml version="1.0" encoding="UTF-8"?>
<dynamicresults>
  <contest>cq-ww-cw</contest>
  <call>k1abc</call>
  <ops>K1ABC</ops>
  <class power="HIGH" assisted="ASSISTED" transmitter="ONE" ops="SINGLE-OP" bands="ALL" mode="CW" overlay="CLASSIC"/>
  <club>Yankee Clipper Contest Club</club>
  <qth>
    <cqzone>5</cqzone>
    <iaruzone>0</iaruzone>
    <arrlsection>CT</arrlsection>
    <stprvoth>CT</stprvoth>
    <grid6>FN31pr</grid6>
  </qth>
  <breakdown>
    <qso band="total" mode="ALL">100</qso>
    <point band="total" mode="ALL">300</point>
    <mult band="total" mode="ALL">50</mult>
    <qso band="20" mode="CW">60</qso>
    <qso band="40" mode="CW">30</qso>
    <point band="20" mode="CW">180</point>
    <mult band="20" mode="CW">30</mult>
  </breakdown>
  <score>15000</score>
  <timestamp>2024-11-23 14:05:11</timestamp>
</dynamicresults>`

const bandsOnlyDoc = `<?xml version="1.0"?>
<dynamicresults>
  <contest>CQ-WW-SSB</contest>
  <call>DL1XYZ</call>
  <breakdown>
    <qso band="80" mode="SSB">12</qso>
    <qso band="40" mode="SSB">20</qso>
    <qso band="20" mode="SSB">8</qso>
    <mult band="40" mode="SSB">5</mult>
  </breakdown>
  <score>400</score>
  <timestamp>2024-10-26 01:00:00</timestamp>
</dynamicresults>`

func locator() geo.Locator {
	table, err := geo.NewTable(map[string]geo.Info{
		"K":  {Country: "United States", Continent: "NA", CQZone: 5, ITUZone: 8},
		"DL": {Country: "Germany", Continent: "EU", CQZone: 14, ITUZone: 28},
	}, 16)
	if err != nil {
		panic(err)
	}
	return table
}

func TestDecodeAndExtract(t *testing.T) {
	Convey("Given a percent-encoded form payload with two documents", t, func() {
		body := "xml=" + url.QueryEscape(fullDoc+"\r\n"+bandsOnlyDoc)
		text := livexml.Decode([]byte(body))

		Convey("Then both documents are extracted in order", func() {
			docs := livexml.Extract(text, 10)
			So(docs, ShouldHaveLength, 2)
			So(docs[0], ShouldStartWith, "<?xml")
			So(docs[0], ShouldEndWith, "</dynamicresults>")
			So(docs[1], ShouldContainSubstring, "DL1XYZ")
		})

		Convey("Then the scan is bounded", func() {
			So(livexml.Extract(text, 1), ShouldHaveLength, 1)
		})
	})

	Convey("Given a raw body that is not valid percent-encoding", t, func() {
		raw := strings.Replace(fullDoc, "Yankee", "100% Yankee", 1)
		So(livexml.Decode([]byte(raw)), ShouldEqual, raw)
	})

	Convey("Given an unterminated trailing document", t, func() {
		docs := livexml.Extract(fullDoc+"<?xml version=\"1.0\"?><dynamicresults><call>X", 10)
		So(docs, ShouldHaveLength, 1)
	})
}

func TestSanitize(t *testing.T) {
	Convey("Given a document with an external entity", t, func() {
		evil := `<?xml version="1.0"?>
<!DOCTYPE dynamicresults [
  <!ENTITY xxe SYSTEM "file:///etc/passwd">
]>
<dynamicresults><contest>CQ-WW-CW</contest><call>K1ABC</call><club>&xxe;</club><timestamp>2024-11-23 14:05:11</timestamp></dynamicresults>`

		clean := livexml.Sanitize(evil)

		Convey("Then the declarations are gone", func() {
			So(clean, ShouldNotContainSubstring, "DOCTYPE")
			So(clean, ShouldNotContainSubstring, "ENTITY")
			So(clean, ShouldNotContainSubstring, "/etc/passwd")
		})

		Convey("Then the dangling reference fails validation", func() {
			err := livexml.Validate(clean)
			So(errors.Is(err, livexml.ErrMalformed), ShouldBeTrue)
		})
	})

	Convey("Given a stray entity declaration", t, func() {
		So(livexml.Sanitize(`<!ENTITY a "b"><x/>`), ShouldEqual, "<x/>")
	})
}

func TestValidate(t *testing.T) {
	Convey("Given documents missing mandatory fields", t, func() {
		for field, doc := range map[string]string{
			"contest":   strings.Replace(fullDoc, "<contest>cq-ww-cw</contest>", "", 1),
			"call":      strings.Replace(fullDoc, "<call>k1abc</call>", "", 1),
			"timestamp": strings.Replace(fullDoc, "<timestamp>2024-11-23 14:05:11</timestamp>", "", 1),
		} {
			err := livexml.Validate(doc)
			So(errors.Is(err, livexml.ErrMissingField), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, field)
		}
	})

	Convey("Given a malformed document", t, func() {
		So(errors.Is(livexml.Validate("<?xml version=\"1.0\"?><dynamicresults><call>"), livexml.ErrMalformed), ShouldBeTrue)
	})

	Convey("Given a bad timestamp", t, func() {
		doc := strings.Replace(fullDoc, "2024-11-23 14:05:11", "yesterday", 1)
		So(errors.Is(livexml.Validate(doc), livexml.ErrBadTimestamp), ShouldBeTrue)
	})

	Convey("Given a latin-1 declaration", t, func() {
		doc := strings.Replace(fullDoc, `encoding="UTF-8"`, `encoding="ISO-8859-1"`, 1)
		So(livexml.Validate(doc), ShouldBeNil)
		So(livexml.Callsign(doc), ShouldEqual, "K1ABC")
	})
}

func TestParse(t *testing.T) {
	Convey("Given a parser with a geography table", t, func() {
		p := livexml.NewParser(locator(), 10)

		Convey("When parsing a complete document", func() {
			snaps, errs := p.Parse(fullDoc)
			So(errs, ShouldBeEmpty)
			So(snaps, ShouldHaveLength, 1)
			s := snaps[0]

			Convey("Then identity fields are normalized", func() {
				So(s.Contest, ShouldEqual, "CQ-WW-CW")
				So(s.Callsign, ShouldEqual, "K1ABC")
				So(s.Timestamp, ShouldEqual, time.Date(2024, 11, 23, 14, 5, 11, 0, time.UTC))
				So(s.Score, ShouldEqual, 15000)
				So(s.Club, ShouldEqual, "Yankee Clipper Contest Club")
				So(s.Section, ShouldEqual, "CT")
			})

			Convey("Then class attributes are kept", func() {
				So(s.Class.Power, ShouldEqual, "HIGH")
				So(s.Class.Assisted, ShouldEqual, "ASSISTED")
				So(s.Class.Overlay, ShouldEqual, "CLASSIC")
			})

			Convey("Then the reported totals are stored as-is", func() {
				So(s.QSOs, ShouldEqual, 100) // bands sum to 90
				So(s.Points, ShouldEqual, 300)
				So(s.Multipliers, ShouldEqual, 50)
			})

			Convey("Then band rows are ordered by wavelength", func() {
				So(s.Bands, ShouldHaveLength, 2)
				So(s.Bands[0].Band, ShouldEqual, "40")
				So(s.Bands[1].Band, ShouldEqual, "20")
				So(s.Bands[1].Points, ShouldEqual, 180)
				So(s.Bands[1].Multipliers, ShouldEqual, 30)
			})

			Convey("Then placeholder zones are completed, reported zones kept", func() {
				So(s.QTH, ShouldNotBeNil)
				So(s.QTH.CQZone, ShouldEqual, "5")
				So(s.QTH.IARUZone, ShouldEqual, "8")
				So(s.QTH.DXCC, ShouldEqual, "K")
				So(s.QTH.Continent, ShouldEqual, "NA")
				So(s.QTH.Grid6, ShouldEqual, "FN31pr")
			})
		})

		Convey("When a document has only per-band qso entries", func() {
			snaps, errs := p.Parse(bandsOnlyDoc)
			So(errs, ShouldBeEmpty)

			Convey("Then the stored total is the band sum", func() {
				So(snaps[0].QSOs, ShouldEqual, 40)
				So(snaps[0].Multipliers, ShouldEqual, 5)
			})

			Convey("Then geography is filled without a qth block", func() {
				So(snaps[0].QTH, ShouldNotBeNil)
				So(snaps[0].QTH.CQZone, ShouldEqual, "14")
				So(snaps[0].QTH.Country, ShouldEqual, "Germany")
			})
		})

		Convey("When total entries exist only per mode", func() {
			doc := strings.Replace(bandsOnlyDoc, "<breakdown>", `<breakdown><qso band="total" mode="SSB">41</qso><qso band="total" mode="CW">2</qso>`, 1)
			snaps, _ := p.Parse(doc)
			So(snaps[0].QSOs, ShouldEqual, 43)
		})

		Convey("When one document in a batch is invalid", func() {
			bad := strings.Replace(fullDoc, "<call>k1abc</call>", "", 1)
			snaps, errs := p.Parse(bad + "\n" + bandsOnlyDoc)

			Convey("Then its sibling still parses", func() {
				So(snaps, ShouldHaveLength, 1)
				So(snaps[0].Callsign, ShouldEqual, "DL1XYZ")
				So(errs, ShouldHaveLength, 1)
				var de *livexml.DocumentError
				So(errors.As(errs[0], &de), ShouldBeTrue)
				So(de.Index, ShouldEqual, 0)
			})
		})

		Convey("When the batch holds more documents than one payload may", func() {
			small := livexml.NewParser(nil, 1)
			snaps, errs := small.Parse(fullDoc + bandsOnlyDoc + fullDoc)
			So(errs, ShouldBeEmpty)
			So(snaps, ShouldHaveLength, 3)
		})
	})
}

func TestBandLess(t *testing.T) {
	Convey("Given band names", t, func() {
		So(livexml.BandLess("160", "80"), ShouldBeTrue)
		So(livexml.BandLess("10", "6"), ShouldBeTrue)
		So(livexml.BandLess("2", "SAT"), ShouldBeTrue)
		So(livexml.BandLess("SAT", "2"), ShouldBeFalse)
	})
}
