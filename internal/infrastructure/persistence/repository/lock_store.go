package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/approval-coordinator/internal/application/port"
	"github.com/garyjia/approval-coordinator/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// LockStore persists request locks in the locked_by/locked_at columns of
// approval_requests. locked_at holds unix nanoseconds.
type LockStore struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewLockStore creates a lock store backed by approval_requests
func NewLockStore(db *sqlite.DB, logger *zap.Logger) *LockStore {
	return &LockStore{
		db:     db,
		logger: logger,
	}
}

// TryAcquire claims the lock in one conditional update
func (s *LockStore) TryAcquire(ctx context.Context, resourceID int64, holderID string, now, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE approval_requests
		SET locked_by = ?, locked_at = ?
		WHERE id = ? AND (locked_by IS NULL OR locked_at IS NULL OR locked_at < ?)
	`

	result, err := s.db.Executor(ctx).ExecContext(ctx, query,
		holderID, now.UnixNano(), resourceID, staleBefore.UnixNano())
	if err != nil {
		s.logger.Error("Failed to acquire lock",
			zap.Int64("resource_id", resourceID),
			zap.String("holder_id", holderID),
			zap.Error(err))
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	return affected(result)
}

// Get returns the current lock state, or nil when the request does not exist
func (s *LockStore) Get(ctx context.Context, resourceID int64) (*port.LockState, error) {
	query := `SELECT locked_by, locked_at FROM approval_requests WHERE id = ?`

	var row struct {
		LockedBy sql.NullString `db:"locked_by"`
		LockedAt sql.NullInt64  `db:"locked_at"`
	}
	err := sqlxGet(ctx, s.db, &row, query, resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("Failed to read lock state", zap.Int64("resource_id", resourceID), zap.Error(err))
		return nil, fmt.Errorf("failed to read lock state: %w", err)
	}

	state := &port.LockState{ResourceID: resourceID}
	if row.LockedBy.Valid {
		state.HolderID = row.LockedBy.String
	}
	if row.LockedAt.Valid {
		at := time.Unix(0, row.LockedAt.Int64).UTC()
		state.LockedAt = &at
	}
	return state, nil
}

// Release clears the lock whoever holds it
func (s *LockStore) Release(ctx context.Context, resourceID int64) (bool, error) {
	query := `UPDATE approval_requests SET locked_by = NULL, locked_at = NULL WHERE id = ?`

	result, err := s.db.Executor(ctx).ExecContext(ctx, query, resourceID)
	if err != nil {
		s.logger.Error("Failed to release lock", zap.Int64("resource_id", resourceID), zap.Error(err))
		return false, fmt.Errorf("failed to release lock: %w", err)
	}

	return affected(result)
}

// ReleaseIfHeld clears the lock only while holderID owns it
func (s *LockStore) ReleaseIfHeld(ctx context.Context, resourceID int64, holderID string) (bool, error) {
	query := `
		UPDATE approval_requests
		SET locked_by = NULL, locked_at = NULL
		WHERE id = ? AND locked_by = ?
	`

	result, err := s.db.Executor(ctx).ExecContext(ctx, query, resourceID, holderID)
	if err != nil {
		s.logger.Error("Failed to release lock",
			zap.Int64("resource_id", resourceID),
			zap.String("holder_id", holderID),
			zap.Error(err))
		return false, fmt.Errorf("failed to release lock: %w", err)
	}

	return affected(result)
}

// ReleaseStale clears every lock taken before staleBefore
func (s *LockStore) ReleaseStale(ctx context.Context, staleBefore time.Time) (int64, error) {
	query := `
		UPDATE approval_requests
		SET locked_by = NULL, locked_at = NULL
		WHERE locked_by IS NOT NULL AND locked_at < ?
	`

	result, err := s.db.Executor(ctx).ExecContext(ctx, query, staleBefore.UnixNano())
	if err != nil {
		s.logger.Error("Failed to release stale locks", zap.Error(err))
		return 0, fmt.Errorf("failed to release stale locks: %w", err)
	}

	return result.RowsAffected()
}

// Verify interface compliance
var _ port.LockStore = (*LockStore)(nil)
