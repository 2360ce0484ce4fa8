package samplestore

import (
	"context"
	"database/sql"

	"github.com/xtxerr/qoslog/internal/errors"
)

// withStmt prepares query on q and runs fn with the statement. The
// statement is closed on every exit path, panics included.
func withStmt(ctx context.Context, q querier, table, query string, fn func(*sql.Stmt) error) error {
	stmt, err := q.PrepareContext(ctx, query)
	if err != nil {
		return errors.NewStorage("prepare", table, err)
	}
	defer stmt.Close()

	return fn(stmt)
}
