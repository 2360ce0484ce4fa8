package samplestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/storage/types"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func createTableSQL(src types.Source) string {
	if src.Kind() == types.KindOutput {
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			delay_factor  FLOAT,
			rate          BIGINT,
			clock_samples BLOB,
			sample_count  INTEGER,
			time          BIGINT
		)`, src.Table())
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		delay_factor    FLOAT,
		media_loss_rate BIGINT,
		rate            BIGINT,
		clock_samples   BLOB,
		sample_count    INTEGER,
		time            BIGINT
	)`, src.Table())
}

func insertSQL(src types.Source) string {
	if src.Kind() == types.KindOutput {
		return fmt.Sprintf(`INSERT INTO %s (delay_factor, rate, clock_samples, sample_count, time)
			VALUES (?, ?, ?, ?, ?)`, src.Table())
	}
	return fmt.Sprintf(`INSERT INTO %s (delay_factor, media_loss_rate, rate, clock_samples, sample_count, time)
		VALUES (?, ?, ?, ?, ?, ?)`, src.Table())
}

func selectSQL(src types.Source) string {
	mlr := "media_loss_rate"
	if src.Kind() == types.KindOutput {
		mlr = "0"
	}
	return fmt.Sprintf(`SELECT delay_factor, %s, rate, clock_samples, sample_count, time
		FROM %s WHERE time >= ? ORDER BY time LIMIT ?`, mlr, src.Table())
}

func evictSQL(src types.Source) string {
	t := src.Table()
	return fmt.Sprintf(`DELETE FROM %s WHERE time IN (SELECT time FROM %s ORDER BY time LIMIT ?)`, t, t)
}

func createTables(ctx context.Context, q querier, sources []types.Source) error {
	for _, src := range sources {
		if _, err := q.ExecContext(ctx, createTableSQL(src)); err != nil {
			return errors.NewStorage("create", src.Table(), err)
		}
	}
	return nil
}

func dropTables(ctx context.Context, q querier, sources []types.Source) error {
	for _, src := range sources {
		if _, err := q.ExecContext(ctx, "DROP TABLE IF EXISTS "+src.Table()); err != nil {
			return errors.NewStorage("drop", src.Table(), err)
		}
	}
	return nil
}

// Clear drops and recreates every source table in one transaction.
// A cleared store accepts writes again.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.transaction(ctx, func(tx *sql.Tx) error {
		if err := dropTables(ctx, tx, s.sources); err != nil {
			return err
		}
		return createTables(ctx, tx, s.sources)
	})
	if err != nil {
		return err
	}

	s.halted = false
	s.logger.Info("store cleared")
	return nil
}
