// Package geo resolves callsigns to entity, continent and zones.
package geo

import (
	"errors"
	"fmt"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/okian/livescore/internal/domain/model"
)

// ErrEmptyTable is returned when a prefix file holds no entries.
var ErrEmptyTable = errors.New("geo: prefix table is empty")

// Info is what a lookup yields for a callsign.
type Info struct {
	Prefix    string `yaml:"prefix"`
	Country   string `yaml:"country"`
	Continent string `yaml:"continent"`
	CQZone    int    `yaml:"cq_zone"`
	ITUZone   int    `yaml:"itu_zone"`
}

// Locator looks up geography for a callsign.
type Locator interface {
	Lookup(callsign string) (Info, bool)
}

// Nop never finds anything.
type Nop struct{}

// Lookup implements Locator.
func (Nop) Lookup(string) (Info, bool) { return Info{}, false }

// Table is an exact-call and longest-prefix table with a result cache.
type Table struct {
	entries map[string]Info
	maxLen  int
	cache   *lru.Cache[string, cached]
}

type cached struct {
	info Info
	ok   bool
}

type tableFile struct {
	Prefixes map[string]Info `yaml:"prefixes"`
}

// NewTable builds a table from prefix entries. Keys are prefixes, or "=CALL"
// for an exact callsign. cacheSize bounds memoized lookups.
func NewTable(entries map[string]Info, cacheSize int) (*Table, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyTable
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, cached](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("geo: cache: %w", err)
	}
	t := &Table{entries: make(map[string]Info, len(entries)), cache: cache}
	for k, v := range entries {
		k = strings.ToUpper(strings.TrimSpace(k))
		if v.Prefix == "" {
			v.Prefix = strings.TrimPrefix(k, "=")
		}
		t.entries[k] = v
		if n := len(k); n > t.maxLen {
			t.maxLen = n
		}
	}
	return t, nil
}

// LoadTable reads a YAML prefix file:
//
//	prefixes:
//	  K:      {country: United States, continent: NA, cq_zone: 5, itu_zone: 8}
//	  =K1ABC: {prefix: K, country: United States, continent: NA, cq_zone: 5, itu_zone: 8}
func LoadTable(path string, cacheSize int) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("geo: read %s: %w", path, err)
	}
	var f tableFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("geo: parse %s: %w", path, err)
	}
	return NewTable(f.Prefixes, cacheSize)
}

// Lookup implements Locator on the base callsign.
func (t *Table) Lookup(callsign string) (Info, bool) {
	base := model.BaseCallsign(callsign)
	if base == "" {
		return Info{}, false
	}
	if c, ok := t.cache.Get(base); ok {
		return c.info, c.ok
	}
	info, ok := t.resolve(base)
	t.cache.Add(base, cached{info: info, ok: ok})
	return info, ok
}

func (t *Table) resolve(base string) (Info, bool) {
	if info, ok := t.entries["="+base]; ok {
		return info, true
	}
	n := len(base)
	if n > t.maxLen {
		n = t.maxLen
	}
	for i := n; i > 0; i-- {
		if info, ok := t.entries[base[:i]]; ok {
			return info, true
		}
	}
	return Info{}, false
}
