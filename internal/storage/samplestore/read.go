package samplestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/storage/types"
)

// Get fills out with consecutive samples at or after startTime, one page
// at a time, until out is full or a page fetch returns nothing. It
// returns the number of samples filled. A page whose sources disagree
// ends the read; the samples filled before it are still valid.
//
// The store does not persist the active input; filled samples report
// the primary input.
func (s *Store) Get(ctx context.Context, out []types.Measurement, startTime int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	filled := 0
	next := startTime
	for filled < len(out) {
		want := min(len(out)-filled, s.opts.PageSize)
		n, err := s.fetchPage(ctx, out[filled:filled+want], &next)
		if err != nil {
			return filled, err
		}
		if n == 0 {
			break
		}
		filled += n
	}
	return filled, nil
}

// fetchPage reads up to len(out) rows at or after *start from every
// source. Each source must be contiguous in time, and all sources must
// return the same number of rows starting at the same time; otherwise
// the page is unusable and 0 is returned. On success *start advances
// past the last row read.
func (s *Store) fetchPage(ctx context.Context, out []types.Measurement, start *int64) (int, error) {
	s.stats.pageFetches.Add(1)

	count, first := -1, int64(0)
	for _, src := range s.sources {
		n, t, err := s.readSource(ctx, src, out, *start)
		if err != nil {
			return 0, err
		}
		if count < 0 {
			count, first = n, t
			continue
		}
		if n != count || (n > 0 && t != first) {
			s.stats.inconsistentPages.Add(1)
			s.logger.Warn("sources disagree, page dropped",
				"start", *start,
				"source", src.String(),
				"rows", n,
				"first", t,
				"expected_rows", count,
				"expected_first", first)
			return 0, nil
		}
	}
	if count <= 0 {
		return 0, nil
	}

	for i := 0; i < count; i++ {
		out[i].ActiveInput = 1
	}
	*start = first + int64(count)
	return count, nil
}

// readSource reads up to len(out) contiguous rows of src into out. A gap
// in time makes the whole read report 0 rows.
func (s *Store) readSource(ctx context.Context, src types.Source, out []types.Measurement, start int64) (n int, first int64, err error) {
	table := src.Table()
	err = withStmt(ctx, s.db, table, selectSQL(src), func(stmt *sql.Stmt) error {
		rows, err := stmt.QueryContext(ctx, start, len(out))
		if err != nil {
			return errors.NewStorage("query", table, err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				df                 float32
				mlr, rate, cnt, ts int64
				blob               []byte
			)
			if err := rows.Scan(&df, &mlr, &rate, &blob, &cnt, &ts); err != nil {
				return errors.NewStorage("scan", table, err)
			}

			if n == 0 {
				first = ts
			} else if ts != first+int64(n) {
				s.logger.Debug("time gap in source",
					"source", src.String(),
					"expected", first+int64(n),
					"got", ts)
				n = 0
				return nil
			}

			var clock types.ClockSamples
			if err := clock.UnmarshalBinary(blob); err != nil {
				return errors.NewStorage("decode", table, err)
			}
			if int64(clock.Count) != cnt {
				return errors.NewStorage("decode", table,
					fmt.Errorf("clock blob holds %d values, sample_count is %d at time %d", clock.Count, cnt, ts))
			}

			src.SetRow(&out[n], types.Row{
				DelayFactor:   df,
				MediaLossRate: uint32(mlr),
				Rate:          uint32(rate),
				Clock:         clock,
			})
			n++
		}
		if err := rows.Err(); err != nil {
			return errors.NewStorage("query", table, err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return n, first, nil
}

// StartTime returns the time of the oldest retained row, 0 when empty.
func (s *Store) StartTime(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.startTime(ctx)
}

func (s *Store) startTime(ctx context.Context) (int64, error) {
	var t sql.NullInt64
	table := s.sources[0].Table()
	if err := s.db.QueryRowContext(ctx, "SELECT MIN(time) FROM "+table).Scan(&t); err != nil {
		return 0, errors.NewStorage("query", table, err)
	}
	return t.Int64, nil
}

// TotalSamples returns the number of samples retained.
func (s *Store) TotalSamples(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.count(ctx, s.db, s.sources[0])
}

// =============================================================================
// Integrity
// =============================================================================

// TableState describes the extent of one source table.
type TableState struct {
	Source types.Source
	Rows   int
	First  int64 // 0 when empty
	Last   int64 // 0 when empty
}

func (t TableState) String() string {
	return fmt.Sprintf("%s: %d rows [%d, %d]", t.Source, t.Rows, t.First, t.Last)
}

// Tables returns the extent of every source table.
func (s *Store) Tables(ctx context.Context) ([]TableState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.tables(ctx)
}

func (s *Store) tables(ctx context.Context) ([]TableState, error) {
	states := make([]TableState, 0, len(s.sources))
	for _, src := range s.sources {
		var (
			n           int64
			first, last sql.NullInt64
		)
		q := "SELECT COUNT(*), MIN(time), MAX(time) FROM " + src.Table()
		if err := s.db.QueryRowContext(ctx, q).Scan(&n, &first, &last); err != nil {
			return nil, errors.NewStorage("query", src.Table(), err)
		}
		states = append(states, TableState{
			Source: src,
			Rows:   int(n),
			First:  first.Int64,
			Last:   last.Int64,
		})
	}
	return states, nil
}

// VerifyIntegrity checks that every source table holds the same number
// of rows spanning the same time range. On failure writes are halted
// until Clear or ResumeWrites, and an error matching ErrInconsistent is
// returned.
func (s *Store) VerifyIntegrity(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	states, err := s.tables(ctx)
	if err != nil {
		return err
	}

	ref := states[0]
	for _, st := range states[1:] {
		if st.Rows != ref.Rows || st.First != ref.First || st.Last != ref.Last {
			s.halted = true
			s.stats.integrityFailures.Add(1)
			s.logger.Error("integrity check failed, writes halted",
				"reference", ref.String(),
				"mismatch", st.String())
			if st.Rows == ref.Rows {
				return fmt.Errorf("%s vs %s: %w: %w", ref, st, errors.ErrInconsistent, errors.ErrMisaligned)
			}
			return fmt.Errorf("%s vs %s: %w", ref, st, errors.ErrInconsistent)
		}
	}
	return nil
}
