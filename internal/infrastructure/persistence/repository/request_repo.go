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

const requestColumns = `
	id, business_request_id, approval_type, status, priority,
	require_comments, auto_approve_on_all, auto_reject_on_any, escalation_days,
	locked_by, locked_at, created_at, updated_at, completed_at`

// requestRow mirrors approval_requests; locked_at is stored as unix nanoseconds
type requestRow struct {
	ID                int64          `db:"id"`
	BusinessRequestID int64          `db:"business_request_id"`
	ApprovalType      string         `db:"approval_type"`
	Status            string         `db:"status"`
	Priority          string         `db:"priority"`
	RequireComments   bool           `db:"require_comments"`
	AutoApproveOnAll  bool           `db:"auto_approve_on_all"`
	AutoRejectOnAny   bool           `db:"auto_reject_on_any"`
	EscalationDays    int            `db:"escalation_days"`
	LockedBy          sql.NullString `db:"locked_by"`
	LockedAt          sql.NullInt64  `db:"locked_at"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
}

func (r *requestRow) toEntity() *entity.ApprovalRequest {
	req := &entity.ApprovalRequest{
		ID:                r.ID,
		BusinessRequestID: r.BusinessRequestID,
		ApprovalType:      entity.ApprovalType(r.ApprovalType),
		Status:            entity.RequestStatus(r.Status),
		Priority:          entity.Priority(r.Priority),
		RequireComments:   r.RequireComments,
		AutoApproveOnAll:  r.AutoApproveOnAll,
		AutoRejectOnAny:   r.AutoRejectOnAny,
		EscalationDays:    r.EscalationDays,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.LockedBy.Valid {
		holder := r.LockedBy.String
		req.LockedBy = &holder
	}
	if r.LockedAt.Valid {
		at := time.Unix(0, r.LockedAt.Int64).UTC()
		req.LockedAt = &at
	}
	if r.CompletedAt.Valid {
		at := r.CompletedAt.Time
		req.CompletedAt = &at
	}
	return req
}

// RequestRepository implements port.RequestRepository
type RequestRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sqlite.DB, logger *zap.Logger) *RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new approval request
func (r *RequestRepository) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	query := `
		INSERT INTO approval_requests (
			business_request_id, approval_type, status, priority,
			require_comments, auto_approve_on_all, auto_reject_on_any, escalation_days,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		req.BusinessRequestID,
		req.ApprovalType,
		req.Status,
		req.Priority,
		req.RequireComments,
		req.AutoApproveOnAll,
		req.AutoRejectOnAny,
		req.EscalationDays,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create approval request",
			zap.Int64("business_request_id", req.BusinessRequestID),
			zap.Error(err))
		return fmt.Errorf("failed to create approval request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	req.ID = id
	return nil
}

// GetByID retrieves an approval request by ID
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = ?`

	var row requestRow
	err := sqlxGet(ctx, r.db, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval request", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}

	return row.toEntity(), nil
}

// TransitionStatus moves a request from one status to another
func (r *RequestRepository) TransitionStatus(ctx context.Context, id int64, from, to entity.RequestStatus, completedAt *time.Time) (bool, error) {
	query := `
		UPDATE approval_requests
		SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	var completed sql.NullTime
	if completedAt != nil {
		completed = sql.NullTime{Time: completedAt.UTC(), Valid: true}
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, to, completed, time.Now().UTC(), id, from)
	if err != nil {
		r.logger.Error("Failed to transition request status",
			zap.Int64("id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err))
		return false, fmt.Errorf("failed to transition request status: %w", err)
	}

	return affected(result)
}

// ListPendingWithEscalation returns pending requests with an escalation deadline
func (r *RequestRepository) ListPendingWithEscalation(ctx context.Context) ([]*entity.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE status = 'pending' AND escalation_days > 0
		ORDER BY created_at`

	var rows []requestRow
	if err := sqlxSelect(ctx, r.db, &rows, query); err != nil {
		r.logger.Error("Failed to list escalatable requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list escalatable requests: %w", err)
	}

	requests := make([]*entity.ApprovalRequest, 0, len(rows))
	for i := range rows {
		requests = append(requests, rows[i].toEntity())
	}
	return requests, nil
}

// Verify interface compliance
var _ port.RequestRepository = (*RequestRepository)(nil)
