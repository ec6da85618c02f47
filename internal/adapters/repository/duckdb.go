package repository

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/okian/livescore/internal/domain/dedupe"
	"github.com/okian/livescore/internal/domain/geo"
	"github.com/okian/livescore/internal/domain/livexml"
	"github.com/okian/livescore/internal/domain/model"
	"github.com/okian/livescore/pkg/logger"
)

const dsnParams = "autoinstall_known_extensions=false&autoload_known_extensions=false"

// DuckDBStore is the Store backed by an embedded DuckDB database.
type DuckDBStore struct {
	db           *sql.DB
	parser       *livexml.Parser
	deduper      dedupe.Deduper
	hooks        []CommitHook
	log          logger.Logger
	maxOpenConns int
	closed       atomic.Bool
}

var _ Store = (*DuckDBStore)(nil)

// Open opens (or creates) the database at path and applies the schema.
// An empty path opens an in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*DuckDBStore, error) {
	s := &DuckDBStore{
		parser:       livexml.NewParser(geo.Nop{}, livexml.DefaultMaxDocuments),
		log:          logger.Named("repository"),
		maxOpenConns: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(s)
	}

	target := path
	if target == "" {
		target = ":memory:"
	}
	db, err := sql.Open("duckdb", target+"?"+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", target, err)
	}
	db.SetMaxOpenConns(s.maxOpenConns)
	db.SetMaxIdleConns(s.maxOpenConns)
	db.SetConnMaxLifetime(time.Hour)
	s.db = db

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Info(ctx, "contest store opened", logger.String("path", target))
	return s, nil
}

func (s *DuckDBStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Parse splits raw text into snapshots using the configured parser.
func (s *DuckDBStore) Parse(_ context.Context, raw string) ([]model.ScoreSnapshot, []error) {
	if s.parser == nil {
		return nil, []error{ErrNoParser}
	}
	return s.parser.Parse(raw)
}

// Ping checks that the database answers.
func (s *DuckDBStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close releases the database. It is safe to call more than once.
func (s *DuckDBStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
