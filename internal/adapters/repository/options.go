package repository

import (
	"github.com/okian/livescore/internal/domain/dedupe"
	"github.com/okian/livescore/internal/domain/livexml"
	"github.com/okian/livescore/pkg/logger"
)

// Option applies a configuration option to the DuckDBStore.
type Option func(*DuckDBStore)

// WithCommitHook adds a hook fired once per committed snapshot.
func WithCommitHook(h CommitHook) Option {
	return func(s *DuckDBStore) {
		if h != nil {
			s.hooks = append(s.hooks, h)
		}
	}
}

// WithParser sets the document parser used by Parse.
func WithParser(p *livexml.Parser) Option {
	return func(s *DuckDBStore) {
		if p != nil {
			s.parser = p
		}
	}
}

// WithDeduper skips snapshots identical to the station's last commit.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *DuckDBStore) {
		s.deduper = d
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *DuckDBStore) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(s *DuckDBStore) {
		if n > 0 {
			s.maxOpenConns = n
		}
	}
}
