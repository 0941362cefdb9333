package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/approval-coordinator/internal/application/port"
	"github.com/garyjia/approval-coordinator/internal/domain/entity"
	"github.com/garyjia/approval-coordinator/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// AuditRepository implements port.AuditRepository over approval_audit_log
type AuditRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sqlite.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append writes one audit record
func (r *AuditRepository) Append(ctx context.Context, record *entity.AuditRecord) error {
	query := `
		INSERT INTO approval_audit_log (
			request_id, task_id, actor_id, action, from_status, to_status, comments, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		record.RequestID,
		record.TaskID,
		record.ActorID,
		record.Action,
		record.FromStatus,
		record.ToStatus,
		record.Comments,
		record.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append audit record",
			zap.Int64("request_id", record.RequestID),
			zap.String("action", string(record.Action)),
			zap.Error(err))
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	record.ID = id
	return nil
}

// ListByRequest returns the audit trail of a request in insertion order
func (r *AuditRepository) ListByRequest(ctx context.Context, requestID int64) ([]*entity.AuditRecord, error) {
	query := `
		SELECT id, request_id, task_id, actor_id, action, from_status, to_status, comments, created_at
		FROM approval_audit_log
		WHERE request_id = ?
		ORDER BY id
	`

	var records []*entity.AuditRecord
	if err := sqlxSelect(ctx, r.db, &records, query, requestID); err != nil {
		r.logger.Error("Failed to list audit records", zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}

	return records, nil
}

// Verify interface compliance
var _ port.AuditRepository = (*AuditRepository)(nil)
