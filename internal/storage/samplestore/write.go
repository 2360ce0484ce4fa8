package samplestore

import (
	"context"
	"database/sql"

	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/storage/types"
)

// Add inserts samples one row per statement, the i-th at startTime+i.
// Before each sample, if the tables are full, the oldest row of every
// table is evicted. Add is not wrapped in a transaction and suits
// low-rate, real-time arrival.
func (s *Store) Add(ctx context.Context, startTime int64, samples []types.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable(); err != nil {
		return err
	}
	s.stats.addCalls.Add(1)

	for i := range samples {
		n, err := s.count(ctx, s.db, s.sources[0])
		if err != nil {
			return err
		}
		if n >= s.opts.RowLimit {
			if err := s.evict(ctx, s.db, n-s.opts.RowLimit+1); err != nil {
				return err
			}
		}
		if err := s.insert(ctx, s.db, startTime+int64(i), samples[i:i+1]); err != nil {
			return err
		}
	}
	return nil
}

// AddBatched inserts samples in transactions of BatchSize samples, the
// i-th at startTime+i. Each transaction first evicts as many of the
// oldest rows as the batch would overflow, then inserts the batch into
// every table. On return no table exceeds the row limit.
func (s *Store) AddBatched(ctx context.Context, startTime int64, samples []types.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable(); err != nil {
		return err
	}

	limit := s.opts.RowLimit
	for off := 0; off < len(samples); off += s.opts.BatchSize {
		end := min(off+s.opts.BatchSize, len(samples))
		batch := samples[off:end]

		err := s.transaction(ctx, func(tx *sql.Tx) error {
			n, err := s.count(ctx, tx, s.sources[0])
			if err != nil {
				return err
			}
			if excess := n + len(batch) - limit; excess > 0 {
				if err := s.evict(ctx, tx, excess); err != nil {
					return err
				}
			}
			return s.insert(ctx, tx, startTime+int64(off), batch)
		})
		if err != nil {
			return errors.Wrapf(err, "batch at %d", startTime+int64(off))
		}
		s.stats.batches.Add(1)
	}
	return nil
}

// insert writes samples into every source table, the i-th at start+i.
func (s *Store) insert(ctx context.Context, q querier, start int64, samples []types.Measurement) error {
	for _, src := range s.sources {
		err := withStmt(ctx, q, src.Table(), insertSQL(src), func(stmt *sql.Stmt) error {
			for i := range samples {
				args, err := rowArgs(src, &samples[i], start+int64(i))
				if err != nil {
					return err
				}
				if _, err := stmt.ExecContext(ctx, args...); err != nil {
					return errors.NewStorage("exec", src.Table(), err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	s.stats.rowsInserted.Add(int64(len(samples)))
	return nil
}

func rowArgs(src types.Source, m *types.Measurement, ts int64) ([]any, error) {
	row := src.Row(m)
	blob, err := row.Clock.MarshalBinary()
	if err != nil {
		return nil, err
	}
	count := int64(len(row.Clock.Valid()))

	if src.Kind() == types.KindOutput {
		return []any{float64(row.DelayFactor), int64(row.Rate), blob, count, ts}, nil
	}
	return []any{float64(row.DelayFactor), int64(row.MediaLossRate), int64(row.Rate), blob, count, ts}, nil
}

// evict deletes the n oldest rows of every source table.
func (s *Store) evict(ctx context.Context, q querier, n int) error {
	for _, src := range s.sources {
		if _, err := q.ExecContext(ctx, evictSQL(src), n); err != nil {
			return errors.NewStorage("evict", src.Table(), err)
		}
	}
	s.stats.rowsEvicted.Add(int64(n))
	s.logger.Debug("evicted oldest rows", "rows", n)
	return nil
}

// count returns the row count of one source table.
func (s *Store) count(ctx context.Context, q querier, src types.Source) (int, error) {
	var n int64
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+src.Table()).Scan(&n); err != nil {
		return 0, errors.NewStorage("count", src.Table(), err)
	}
	return int(n), nil
}
