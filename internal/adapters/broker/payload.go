package broker

import (
	"github.com/okian/livescore/internal/domain/model"
)

// Payload is the JSON body published per committed snapshot.
type Payload struct {
	Seq         int64                  `json:"sq"`
	Time        int64                  `json:"t"`
	Contest     string                 `json:"contest"`
	Callsign    string                 `json:"callsign"`
	Score       int                    `json:"score"`
	QSOs        int                    `json:"qsos"`
	Multipliers int                    `json:"mults"`
	Points      int                    `json:"points"`
	Power       string                 `json:"power"`
	Assisted    string                 `json:"assisted"`
	Transmitter string                 `json:"tx"`
	Ops         string                 `json:"ops"`
	Club        string                 `json:"club,omitempty"`
	Bands       map[string]BandPayload `json:"bands"`
	QTH         *QTHPayload            `json:"qth,omitempty"`
}

// BandPayload summarizes one band. Bands worked in several modes report "MIXED".
type BandPayload struct {
	Mode        string `json:"mode"`
	QSOs        int    `json:"qsos"`
	Points      int    `json:"points"`
	Multipliers int    `json:"mults"`
}

// QTHPayload is the location summary.
type QTHPayload struct {
	DXCC      string `json:"dxcc"`
	Country   string `json:"country"`
	Continent string `json:"continent"`
	CQZone    string `json:"cqz"`
	ITUZone   string `json:"ituz"`
	Section   string `json:"section"`
	State     string `json:"state"`
	Grid      string `json:"grid"`
}

// NewPayload builds the body for s. Band keys carry an "m" suffix ("20m").
func NewPayload(s model.ScoreSnapshot) Payload {
	p := Payload{
		Seq:         s.ID,
		Time:        s.Timestamp.Unix(),
		Contest:     s.Contest,
		Callsign:    s.Callsign,
		Score:       s.Score,
		QSOs:        s.QSOs,
		Multipliers: s.Multipliers,
		Points:      s.Points,
		Power:       s.Class.Power,
		Assisted:    s.Class.Assisted,
		Transmitter: s.Class.Transmitter,
		Ops:         s.Class.Ops,
		Club:        s.Club,
		Bands:       make(map[string]BandPayload, len(s.Bands)),
	}
	for _, b := range s.Bands {
		key := b.Band + "m"
		cur, seen := p.Bands[key]
		if seen && cur.Mode != b.Mode {
			cur.Mode = "MIXED"
		} else {
			cur.Mode = b.Mode
		}
		cur.QSOs += b.QSOs
		cur.Points += b.Points
		cur.Multipliers += b.Multipliers
		p.Bands[key] = cur
	}
	if q := s.QTH; q != nil {
		p.QTH = &QTHPayload{
			DXCC:      q.DXCC,
			Country:   q.Country,
			Continent: q.Continent,
			CQZone:    q.CQZone,
			ITUZone:   q.IARUZone,
			Section:   q.Section,
			State:     q.State,
			Grid:      q.Grid6,
		}
	}
	return p
}
