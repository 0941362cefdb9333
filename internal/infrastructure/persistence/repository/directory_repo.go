package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/approval-coordinator/internal/application/port"
	"github.com/garyjia/approval-coordinator/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// DirectoryRepository answers existence lookups against the users and
// business_requests tables, which are owned by other services
type DirectoryRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(db *sqlite.DB, logger *zap.Logger) *DirectoryRepository {
	return &DirectoryRepository{
		db:     db,
		logger: logger,
	}
}

// UserExists reports whether a user row exists
func (r *DirectoryRepository) UserExists(ctx context.Context, id int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`, id)
}

// BusinessRequestExists reports whether the guarded business request exists
func (r *DirectoryRepository) BusinessRequestExists(ctx context.Context, id int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM business_requests WHERE id = ?)`, id)
}

// IsAdmin reports whether the user carries the admin flag
func (r *DirectoryRepository) IsAdmin(ctx context.Context, id int64) (bool, error) {
	var isAdmin bool
	err := sqlxGet(ctx, r.db, &isAdmin, `SELECT is_admin FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		r.logger.Error("Failed to read admin flag", zap.Int64("user_id", id), zap.Error(err))
		return false, fmt.Errorf("failed to read admin flag: %w", err)
	}
	return isAdmin, nil
}

// UpsertUser registers a user. Used by seeding and tests.
func (r *DirectoryRepository) UpsertUser(ctx context.Context, id int64, name string, isAdmin bool) error {
	query := `
		INSERT INTO users (id, name, is_admin) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, is_admin = excluded.is_admin
	`
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, id, name, isAdmin); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// UpsertBusinessRequest registers a business request. Used by seeding and tests.
func (r *DirectoryRepository) UpsertBusinessRequest(ctx context.Context, id int64, kind string, requesterID int64) error {
	query := `
		INSERT INTO business_requests (id, kind, requester_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, requester_id = excluded.requester_id
	`
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, id, kind, requesterID); err != nil {
		return fmt.Errorf("failed to upsert business request: %w", err)
	}
	return nil
}

func (r *DirectoryRepository) exists(ctx context.Context, query string, id int64) (bool, error) {
	var found bool
	if err := sqlxGet(ctx, r.db, &found, query, id); err != nil {
		r.logger.Error("Failed existence lookup", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed existence lookup: %w", err)
	}
	return found, nil
}

// Verify interface compliance
var (
	_ port.UserDirectory         = (*DirectoryRepository)(nil)
	_ port.BusinessRequestLookup = (*DirectoryRepository)(nil)
)
