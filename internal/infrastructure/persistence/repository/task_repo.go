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

const taskColumns = `
	id, request_id, approver_id, sequence_order, status, comments,
	decided_at, created_at, updated_at`

// TaskRepository implements port.TaskRepository
type TaskRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new approval task repository
func NewTaskRepository(db *sqlite.DB, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new approval task
func (r *TaskRepository) Create(ctx context.Context, task *entity.ApprovalTask) error {
	query := `
		INSERT INTO approval_tasks (
			request_id, approver_id, sequence_order, status, comments, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		task.RequestID,
		task.ApproverID,
		task.SequenceOrder,
		task.Status,
		task.Comments,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create approval task",
			zap.Int64("request_id", task.RequestID),
			zap.Int64("approver_id", task.ApproverID),
			zap.Error(err))
		return fmt.Errorf("failed to create approval task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	task.ID = id
	return nil
}

// GetByID retrieves a task by its ID
func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalTask, error) {
	query := `SELECT ` + taskColumns + ` FROM approval_tasks WHERE id = ?`

	var task entity.ApprovalTask
	err := sqlxGet(ctx, r.db, &task, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval task", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval task: %w", err)
	}

	return &task, nil
}

// GetByRequestID retrieves all tasks for a request ordered by sequence
func (r *TaskRepository) GetByRequestID(ctx context.Context, requestID int64) ([]*entity.ApprovalTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM approval_tasks
		WHERE request_id = ?
		ORDER BY sequence_order`

	var tasks []*entity.ApprovalTask
	if err := sqlxSelect(ctx, r.db, &tasks, query, requestID); err != nil {
		r.logger.Error("Failed to get approval tasks by request",
			zap.Int64("request_id", requestID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get approval tasks: %w", err)
	}

	return tasks, nil
}

// Decide moves a pending task to a terminal status
func (r *TaskRepository) Decide(ctx context.Context, id int64, status entity.TaskStatus, comments string, decidedAt time.Time) (bool, error) {
	query := `
		UPDATE approval_tasks
		SET status = ?, comments = ?, decided_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`

	decidedAt = decidedAt.UTC()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, status, comments, decidedAt, decidedAt, id)
	if err != nil {
		r.logger.Error("Failed to decide approval task",
			zap.Int64("id", id),
			zap.String("status", string(status)),
			zap.Error(err))
		return false, fmt.Errorf("failed to decide approval task: %w", err)
	}

	return affected(result)
}

// Reassign changes the approver of a pending task
func (r *TaskRepository) Reassign(ctx context.Context, id int64, newApproverID int64) (bool, error) {
	query := `
		UPDATE approval_tasks
		SET approver_id = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, newApproverID, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to reassign approval task",
			zap.Int64("id", id),
			zap.Int64("new_approver_id", newApproverID),
			zap.Error(err))
		return false, fmt.Errorf("failed to reassign approval task: %w", err)
	}

	return affected(result)
}

// CancelPending cancels all pending tasks of a request
func (r *TaskRepository) CancelPending(ctx context.Context, requestID int64, at time.Time) (int64, error) {
	query := `
		UPDATE approval_tasks
		SET status = 'cancelled', decided_at = ?, updated_at = ?
		WHERE request_id = ? AND status = 'pending'
	`

	at = at.UTC()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, at, at, requestID)
	if err != nil {
		r.logger.Error("Failed to cancel pending tasks", zap.Int64("request_id", requestID), zap.Error(err))
		return 0, fmt.Errorf("failed to cancel pending tasks: %w", err)
	}

	return result.RowsAffected()
}

// CountByRequest aggregates task statuses for a request
func (r *TaskRepository) CountByRequest(ctx context.Context, requestID int64) (*entity.TaskCounts, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = 'approved' THEN 1 ELSE 0 END), 0) AS approved,
			COALESCE(SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END), 0) AS rejected,
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0) AS cancelled
		FROM approval_tasks
		WHERE request_id = ?
	`

	var counts entity.TaskCounts
	if err := sqlxGet(ctx, r.db, &counts, query, requestID); err != nil {
		r.logger.Error("Failed to count tasks", zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	return &counts, nil
}

// ListPendingByApprover returns pending tasks of pending requests for an approver
func (r *TaskRepository) ListPendingByApprover(ctx context.Context, approverID int64, createdSince *time.Time) ([]*entity.ApprovalTask, error) {
	query := `
		SELECT t.id, t.request_id, t.approver_id, t.sequence_order, t.status, t.comments,
			t.decided_at, t.created_at, t.updated_at
		FROM approval_tasks t
		JOIN approval_requests r ON r.id = t.request_id
		WHERE t.approver_id = ? AND t.status = 'pending' AND r.status = 'pending'
	`
	args := []interface{}{approverID}
	if createdSince != nil {
		query += ` AND t.created_at >= ?`
		args = append(args, createdSince.UTC())
	}
	query += ` ORDER BY t.created_at, t.id`

	var tasks []*entity.ApprovalTask
	if err := sqlxSelect(ctx, r.db, &tasks, query, args...); err != nil {
		r.logger.Error("Failed to list pending tasks", zap.Int64("approver_id", approverID), zap.Error(err))
		return nil, fmt.Errorf("failed to list pending tasks: %w", err)
	}

	return tasks, nil
}

// Verify interface compliance
var _ port.TaskRepository = (*TaskRepository)(nil)
