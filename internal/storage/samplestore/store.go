// Package samplestore provides the durable windowed sample store.
//
// Every active source has its own table holding one row per second. All
// tables are kept at the same row count and time-aligned: rows at the same
// position share the same time value. Once a table reaches the row limit,
// the oldest rows of every table are evicted before new rows are inserted.
//
// The store uses DuckDB as the backing database. One coarse mutex
// serializes every operation on a Store.
package samplestore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/qoslog/config"
	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/logging"
	"github.com/xtxerr/qoslog/internal/storage/types"
)

// =============================================================================
// Options
// =============================================================================

// Options holds store configuration options.
type Options struct {
	// Path is the database file. Empty opens an in-memory database.
	Path string

	// Recreate drops all source tables on open.
	Recreate bool

	// Sources is the set of active sources, one table each.
	Sources types.SourceSet

	// RowLimit is the maximum number of rows per source table.
	RowLimit int

	// BatchSize is the number of samples per transaction in AddBatched.
	BatchSize int

	// PageSize caps the rows read per source in one page fetch.
	PageSize int

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Sources:      types.NewSourceSet(false),
		RowLimit:     config.DefaultRowLimit,
		BatchSize:    config.DefaultBatchSize,
		PageSize:     config.DefaultPageSize,
		MaxOpenConns: config.DefaultMaxOpenConns,
	}
}

func (o Options) validate() error {
	var errs []error
	if err := o.Sources.Validate(); err != nil {
		errs = append(errs, err)
	}
	if o.RowLimit <= 0 {
		errs = append(errs, errors.NewValidation("row_limit", "must be > 0"))
	}
	if o.BatchSize <= 0 {
		errs = append(errs, errors.NewValidation("batch_size", "must be > 0"))
	} else if o.BatchSize > o.RowLimit {
		errs = append(errs, errors.NewValidation("batch_size", "must not exceed row_limit"))
	}
	if o.PageSize <= 0 {
		errs = append(errs, errors.NewValidation("page_size", "must be > 0"))
	}
	return errors.Join(errs...)
}

// =============================================================================
// Store
// =============================================================================

// Store is the windowed sample store.
//
// Store is safe for concurrent use.
type Store struct {
	db      *sql.DB
	opts    Options
	sources []types.Source
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	halted bool

	stats storeStats
}

type storeStats struct {
	addCalls          atomic.Int64
	rowsInserted      atomic.Int64
	rowsEvicted       atomic.Int64
	batches           atomic.Int64
	pageFetches       atomic.Int64
	inconsistentPages atomic.Int64
	integrityFailures atomic.Int64
}

// Open opens the database at opts.Path and creates missing source tables.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", opts.Path)
	if err != nil {
		return nil, errors.NewStorage("open", "", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.NewStorage("ping", "", err)
	}

	s := &Store{
		db:      db,
		opts:    opts,
		sources: opts.Sources.Sources(),
		logger:  logging.Component("samplestore"),
	}

	err = s.transaction(ctx, func(tx *sql.Tx) error {
		if opts.Recreate {
			if err := dropTables(ctx, tx, types.AllSources()); err != nil {
				return err
			}
		}
		return createTables(ctx, tx, s.sources)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("store opened",
		"path", opts.Path,
		"sources", len(s.sources),
		"row_limit", opts.RowLimit,
		"recreate", opts.Recreate)

	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// Sources returns the active sources in canonical order.
func (s *Store) Sources() types.SourceSet {
	return s.opts.Sources
}

// =============================================================================
// Transaction Support
// =============================================================================

// transaction executes fn within a database transaction.
//
// If fn returns an error, the transaction is rolled back.
// If fn returns nil, the transaction is committed.
func (s *Store) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorage("begin", "", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorage("commit", "", err)
	}

	return nil
}

// checkOpen returns ErrClosed after Close. Callers hold s.mu.
func (s *Store) checkOpen() error {
	if s.closed {
		return errors.ErrClosed
	}
	return nil
}

// checkWritable additionally rejects writes after a failed integrity check.
func (s *Store) checkWritable() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.halted {
		return errors.ErrWritesHalted
	}
	return nil
}

// Halted reports whether writes are halted by a failed integrity check.
func (s *Store) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// ResumeWrites lifts a halt set by VerifyIntegrity. It is the operator's
// acknowledgement that the inconsistency was inspected.
func (s *Store) ResumeWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		s.logger.Warn("writes resumed by operator")
	}
	s.halted = false
}

// =============================================================================
// Stats
// =============================================================================

// Stats contains store statistics.
type Stats struct {
	AddCalls          int64 // Add invocations in this session
	RowsInserted      int64 // Samples inserted (per source)
	RowsEvicted       int64 // Samples evicted (per source)
	Batches           int64 // Committed AddBatched transactions
	PageFetches       int64
	InconsistentPages int64 // Page fetches rejected for misalignment
	IntegrityFailures int64
	Halted            bool
	FileBytes         int64 // Size of the database file
}

// Stats returns store statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	halted := s.halted
	s.mu.Unlock()

	return Stats{
		AddCalls:          s.stats.addCalls.Load(),
		RowsInserted:      s.stats.rowsInserted.Load(),
		RowsEvicted:       s.stats.rowsEvicted.Load(),
		Batches:           s.stats.batches.Load(),
		PageFetches:       s.stats.pageFetches.Load(),
		InconsistentPages: s.stats.inconsistentPages.Load(),
		IntegrityFailures: s.stats.integrityFailures.Load(),
		Halted:            halted,
		FileBytes:         s.fileSize(),
	}
}

// fileSize returns the size of the database file, 0 for in-memory stores.
func (s *Store) fileSize() int64 {
	if s.opts.Path == "" {
		return 0
	}
	fi, err := os.Stat(s.opts.Path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
