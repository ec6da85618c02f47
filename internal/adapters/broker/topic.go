// Package broker republishes committed snapshots to an external message
// broker on a topic derived from the station's identity and class.
package broker

import (
	"strings"

	"github.com/okian/livescore/internal/domain/model"
)

// TopicRoot prefixes every topic.
const TopicRoot = "contest/live/v1"

// Unknown replaces absent fields.
const Unknown = "unknown"

// Topic builds contest/live/v1/{contest}/{dxcc}/{cq_zone}/{grid2}/{power}/{assisted}/{callsign}.
func Topic(s model.ScoreSnapshot) string {
	var loc model.Location
	if s.QTH != nil {
		loc = *s.QTH
	}
	grid2 := loc.Grid6
	if len(grid2) > 2 {
		grid2 = grid2[:2]
	}
	parts := []string{
		TopicRoot,
		Token(s.Contest),
		Token(loc.DXCC),
		Token(loc.CQZone),
		Token(grid2),
		Token(s.Class.Power),
		Token(s.Class.Assisted),
		Token(s.Callsign),
	}
	return strings.Join(parts, "/")
}

// Token upper-cases v and replaces anything outside [A-Za-z0-9_-] with '_'.
// Empty and "0" become Unknown.
func Token(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "0" {
		return Unknown
	}
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range strings.ToUpper(v) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Subject maps a topic onto a NATS subject under prefix.
func Subject(prefix, topic string) string {
	subject := strings.ReplaceAll(topic, "/", ".")
	if prefix = strings.Trim(prefix, "."); prefix != "" {
		subject = prefix + "." + subject
	}
	return subject
}
