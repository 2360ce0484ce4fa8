package samplestore

import (
	"context"
	"os"

	"github.com/xtxerr/qoslog/internal/clock"
	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/storage/csvfmt"
	"github.com/xtxerr/qoslog/internal/storage/parquet"
	"github.com/xtxerr/qoslog/internal/storage/types"
)

// Dump streams the whole store, oldest first, to a fixed-width CSV file
// with one header row. Times are written as Unix seconds.
func (s *Store) Dump(ctx context.Context, fileName string) (err error) {
	sw := clock.StartStopwatch()

	f, err := os.Create(fileName)
	if err != nil {
		return errors.NewFileCreate(fileName, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := csvfmt.NewWriter(f, csvfmt.New(s.opts.Sources, csvfmt.UnixSeconds))
	if err := w.WriteHeader(); err != nil {
		return err
	}

	err = s.scan(ctx, func(start int64, page []types.Measurement) error {
		for i := range page {
			if err := w.Write(start+int64(i), &page[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	s.logger.Info("store dumped",
		"file", fileName,
		"rows", w.Rows(),
		"elapsed", sw.Stop())
	return nil
}

// DumpParquet streams the whole store, oldest first, to a Parquet file.
func (s *Store) DumpParquet(ctx context.Context, fileName string, opts parquet.Options) error {
	w, err := parquet.NewMeasurementWriter(fileName, s.opts.Sources, opts)
	if err != nil {
		return err
	}

	err = s.scan(ctx, func(start int64, page []types.Measurement) error {
		return w.Write(start, page)
	})
	if err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// scan calls fn for every page of the store, starting at the oldest row,
// until a page fetch returns nothing. The store lock is held throughout.
func (s *Store) scan(ctx context.Context, fn func(start int64, page []types.Measurement) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	next, err := s.startTime(ctx)
	if err != nil {
		return err
	}

	page := make([]types.Measurement, s.opts.PageSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.fetchPage(ctx, page, &next)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		// A page starts at its first row, which may lie after the
		// requested start when the store has a gap.
		if err := fn(next-int64(n), page[:n]); err != nil {
			return err
		}
	}
}
