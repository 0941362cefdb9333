package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/approval-coordinator/internal/infrastructure/persistence/sqlite"
	"github.com/jmoiron/sqlx"
)

// sqlxGet runs a single-row query on the executor carried by ctx
func sqlxGet(ctx context.Context, db *sqlite.DB, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, db.Executor(ctx), dest, query, args...)
}

// sqlxSelect runs a multi-row query on the executor carried by ctx
func sqlxSelect(ctx context.Context, db *sqlite.DB, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, db.Executor(ctx), dest, query, args...)
}

// affected reports whether a conditional write touched at least one row
func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n > 0, nil
}
