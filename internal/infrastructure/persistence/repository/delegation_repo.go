package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/approval-coordinator/internal/application/port"
	"github.com/garyjia/approval-coordinator/internal/domain/entity"
	"github.com/garyjia/approval-coordinator/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const delegationColumns = `
	id, from_user_id, to_user_id, start_date, end_date, status, reason,
	include_pending_only, auto_approve, created_by, created_at, updated_at, revoked_at`

// delegationRow keeps window dates as YYYY-MM-DD text so range predicates
// compare lexicographically
type delegationRow struct {
	ID                 int64        `db:"id"`
	FromUserID         int64        `db:"from_user_id"`
	ToUserID           int64        `db:"to_user_id"`
	StartDate          string       `db:"start_date"`
	EndDate            string       `db:"end_date"`
	Status             string       `db:"status"`
	Reason             string       `db:"reason"`
	IncludePendingOnly bool         `db:"include_pending_only"`
	AutoApprove        bool         `db:"auto_approve"`
	CreatedBy          int64        `db:"created_by"`
	CreatedAt          time.Time    `db:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at"`
	RevokedAt          sql.NullTime `db:"revoked_at"`
}

func (r *delegationRow) toEntity() (*entity.Delegation, error) {
	start, err := entity.ParseDate(r.StartDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start_date %q on delegation %d: %w", r.StartDate, r.ID, err)
	}
	end, err := entity.ParseDate(r.EndDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end_date %q on delegation %d: %w", r.EndDate, r.ID, err)
	}

	d := &entity.Delegation{
		ID:                 r.ID,
		FromUserID:         r.FromUserID,
		ToUserID:           r.ToUserID,
		StartDate:          start,
		EndDate:            end,
		Status:             entity.DelegationStatus(r.Status),
		Reason:             r.Reason,
		IncludePendingOnly: r.IncludePendingOnly,
		AutoApprove:        r.AutoApprove,
		CreatedBy:          r.CreatedBy,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.RevokedAt.Valid {
		at := r.RevokedAt.Time
		d.RevokedAt = &at
	}
	return d, nil
}

func toDelegations(rows []delegationRow) ([]*entity.Delegation, error) {
	result := make([]*entity.Delegation, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

func formatDay(t time.Time) string {
	return entity.TruncateDay(t).Format(entity.DateLayout)
}

// DelegationRepository implements port.DelegationRepository
type DelegationRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewDelegationRepository creates a new delegation repository
func NewDelegationRepository(db *sqlite.DB, logger *zap.Logger) *DelegationRepository {
	return &DelegationRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new delegation
func (r *DelegationRepository) Create(ctx context.Context, d *entity.Delegation) error {
	query := `
		INSERT INTO delegations (
			from_user_id, to_user_id, start_date, end_date, status, reason,
			include_pending_only, auto_approve, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		d.FromUserID,
		d.ToUserID,
		formatDay(d.StartDate),
		formatDay(d.EndDate),
		d.Status,
		d.Reason,
		d.IncludePendingOnly,
		d.AutoApprove,
		d.CreatedBy,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create delegation",
			zap.Int64("from_user_id", d.FromUserID),
			zap.Int64("to_user_id", d.ToUserID),
			zap.Error(err))
		return fmt.Errorf("failed to create delegation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	d.ID = id
	return nil
}

// GetByID retrieves a delegation by ID
func (r *DelegationRepository) GetByID(ctx context.Context, id int64) (*entity.Delegation, error) {
	query := `SELECT ` + delegationColumns + ` FROM delegations WHERE id = ?`

	var row delegationRow
	err := sqlxGet(ctx, r.db, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get delegation", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get delegation: %w", err)
	}

	return row.toEntity()
}

// FindOverlappingActive returns active delegations of fromUserID sharing a day with [start, end]
func (r *DelegationRepository) FindOverlappingActive(ctx context.Context, fromUserID int64, start, end time.Time) ([]*entity.Delegation, error) {
	query := `SELECT ` + delegationColumns + `
		FROM delegations
		WHERE from_user_id = ? AND status = 'active'
			AND NOT (end_date < ? OR start_date > ?)
		ORDER BY start_date`

	var rows []delegationRow
	if err := sqlxSelect(ctx, r.db, &rows, query, fromUserID, formatDay(start), formatDay(end)); err != nil {
		r.logger.Error("Failed to find overlapping delegations",
			zap.Int64("from_user_id", fromUserID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to find overlapping delegations: %w", err)
	}

	return toDelegations(rows)
}

// ListActiveFrom returns active delegations granted by fromUserID covering day
func (r *DelegationRepository) ListActiveFrom(ctx context.Context, fromUserID int64, day time.Time) ([]*entity.Delegation, error) {
	return r.listActive(ctx, "from_user_id", fromUserID, day)
}

// ListActiveTo returns active delegations received by toUserID covering day
func (r *DelegationRepository) ListActiveTo(ctx context.Context, toUserID int64, day time.Time) ([]*entity.Delegation, error) {
	return r.listActive(ctx, "to_user_id", toUserID, day)
}

func (r *DelegationRepository) listActive(ctx context.Context, column string, userID int64, day time.Time) ([]*entity.Delegation, error) {
	query := `SELECT ` + delegationColumns + `
		FROM delegations
		WHERE ` + column + ` = ? AND status = 'active'
			AND start_date <= ? AND end_date >= ?
		ORDER BY start_date, id`

	d := formatDay(day)
	var rows []delegationRow
	if err := sqlxSelect(ctx, r.db, &rows, query, userID, d, d); err != nil {
		r.logger.Error("Failed to list active delegations",
			zap.String("by", column),
			zap.Int64("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list active delegations: %w", err)
	}

	return toDelegations(rows)
}

// UpdateStatus moves a delegation from one status to another
func (r *DelegationRepository) UpdateStatus(ctx context.Context, id int64, from, to entity.DelegationStatus, at time.Time) (bool, error) {
	query := `
		UPDATE delegations
		SET status = ?, updated_at = ?,
			revoked_at = CASE WHEN ? = 'revoked' THEN ? ELSE revoked_at END
		WHERE id = ? AND status = ?
	`

	at = at.UTC()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, to, at, to, at, id, from)
	if err != nil {
		r.logger.Error("Failed to update delegation status",
			zap.Int64("id", id),
			zap.String("to", string(to)),
			zap.Error(err))
		return false, fmt.Errorf("failed to update delegation status: %w", err)
	}

	return affected(result)
}

// ExpireEndedBefore marks active delegations whose window ended before day as expired
func (r *DelegationRepository) ExpireEndedBefore(ctx context.Context, day time.Time) (int64, error) {
	query := `
		UPDATE delegations
		SET status = 'expired', updated_at = ?
		WHERE status = 'active' AND end_date < ?
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, time.Now().UTC(), formatDay(day))
	if err != nil {
		r.logger.Error("Failed to expire delegations", zap.Error(err))
		return 0, fmt.Errorf("failed to expire delegations: %w", err)
	}

	return result.RowsAffected()
}

// Verify interface compliance
var _ port.DelegationRepository = (*DelegationRepository)(nil)
