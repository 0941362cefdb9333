// Package sqlite carries the unit-of-work transaction through context so
// repositories join it without threading *sqlx.Tx through every call.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/approval-coordinator/internal/application/port"
	"github.com/garyjia/approval-coordinator/internal/domain/apperr"
)

type txKey struct{}

// DB is the transaction manager over one SQLite handle
type DB struct {
	*sqlx.DB
	logger *zap.Logger
}

// NewDB wraps an open handle. A nil logger discards output.
func NewDB(db *sqlx.DB, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{DB: db, logger: logger.Named("tx")}
}

// WithTransaction runs fn inside a transaction and commits when fn returns nil.
// A context that already carries a transaction joins it; the outermost call
// owns commit and rollback. SQLITE_BUSY at begin or commit is reported as
// lock_timeout so the caller may retry.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return db.classify("begin", err)
	}
	started := time.Now()

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			db.logger.Error("Transaction panicked, rolled back",
				zap.Any("panic", p),
				zap.Duration("elapsed", time.Since(started)))
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, context.Canceled) {
			db.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return db.classify("commit", err)
	}
	return nil
}

func (db *DB) classify(stage string, err error) error {
	if IsBusy(err) {
		db.logger.Info("Database busy", zap.String("stage", stage), zap.Error(err))
		return apperr.LockTimeout("tx."+stage, "database busy: %v", err)
	}
	db.logger.Error("Transaction failed", zap.String("stage", stage), zap.Error(err))
	return apperr.DB("tx."+stage, fmt.Errorf("failed to %s transaction: %w", stage, err))
}

// Executor returns the transaction carried by ctx, or the handle itself
func (db *DB) Executor(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db.DB
}

// InTransaction reports whether ctx carries a transaction
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return ok
}

// IsBusy reports whether err is SQLite refusing the write lock
func IsBusy(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}

var _ port.TransactionManager = (*DB)(nil)
