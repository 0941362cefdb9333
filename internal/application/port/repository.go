package port

import (
	"context"
	"time"

	"github.com/garyjia/approval-coordinator/internal/domain/entity"
)

// RequestRepository defines persistence operations for ApprovalRequest.
// Lookups return (nil, nil) when the row does not exist.
type RequestRepository interface {
	// Create inserts the request and sets its ID
	Create(ctx context.Context, req *entity.ApprovalRequest) error

	// GetByID retrieves a request by its ID
	GetByID(ctx context.Context, id int64) (*entity.ApprovalRequest, error)

	// TransitionStatus moves a request from one status to another.
	// Returns false when the request was not in status from.
	TransitionStatus(ctx context.Context, id int64, from, to entity.RequestStatus, completedAt *time.Time) (bool, error)

	// ListPendingWithEscalation returns pending requests that have escalation_days > 0
	ListPendingWithEscalation(ctx context.Context) ([]*entity.ApprovalRequest, error)
}

// TaskRepository defines persistence operations for ApprovalTask
type TaskRepository interface {
	// Create inserts the task and sets its ID
	Create(ctx context.Context, task *entity.ApprovalTask) error

	// GetByID retrieves a task by its ID
	GetByID(ctx context.Context, id int64) (*entity.ApprovalTask, error)

	// GetByRequestID retrieves all tasks of a request ordered by sequence
	GetByRequestID(ctx context.Context, requestID int64) ([]*entity.ApprovalTask, error)

	// Decide moves a pending task to status. Returns false when the task was not pending.
	Decide(ctx context.Context, id int64, status entity.TaskStatus, comments string, decidedAt time.Time) (bool, error)

	// Reassign changes the approver of a pending task. Returns false when the task was not pending.
	Reassign(ctx context.Context, id int64, newApproverID int64) (bool, error)

	// CancelPending cancels every pending task of a request
	CancelPending(ctx context.Context, requestID int64, at time.Time) (int64, error)

	// CountByRequest aggregates task statuses for a request
	CountByRequest(ctx context.Context, requestID int64) (*entity.TaskCounts, error)

	// ListPendingByApprover returns pending tasks of pending requests assigned to approverID.
	// A non-nil createdSince keeps only tasks created at or after it.
	ListPendingByApprover(ctx context.Context, approverID int64, createdSince *time.Time) ([]*entity.ApprovalTask, error)
}

// DelegationRepository defines persistence operations for Delegation
type DelegationRepository interface {
	// Create inserts the delegation and sets its ID
	Create(ctx context.Context, d *entity.Delegation) error

	// GetByID retrieves a delegation by its ID
	GetByID(ctx context.Context, id int64) (*entity.Delegation, error)

	// FindOverlappingActive returns active delegations of fromUserID whose window
	// overlaps [start, end]
	FindOverlappingActive(ctx context.Context, fromUserID int64, start, end time.Time) ([]*entity.Delegation, error)

	// ListActiveFrom returns active delegations granted by fromUserID covering day
	ListActiveFrom(ctx context.Context, fromUserID int64, day time.Time) ([]*entity.Delegation, error)

	// ListActiveTo returns active delegations received by toUserID covering day
	ListActiveTo(ctx context.Context, toUserID int64, day time.Time) ([]*entity.Delegation, error)

	// UpdateStatus moves a delegation between statuses. Returns false when it was not in status from.
	UpdateStatus(ctx context.Context, id int64, from, to entity.DelegationStatus, at time.Time) (bool, error)

	// ExpireEndedBefore marks active delegations whose end date is before day as expired
	ExpireEndedBefore(ctx context.Context, day time.Time) (int64, error)
}

// AuditRepository is the append-only approval audit log
type AuditRepository interface {
	Append(ctx context.Context, record *entity.AuditRecord) error
	ListByRequest(ctx context.Context, requestID int64) ([]*entity.AuditRecord, error)
}

// LockState is the persisted mutual-exclusion state of a resource
type LockState struct {
	ResourceID int64
	HolderID   string
	LockedAt   *time.Time
}

// Held reports whether some holder owns the lock
func (s *LockState) Held() bool {
	return s.HolderID != ""
}

// LockStore persists lock ownership. TryAcquire must be a single atomic
// conditional write so that two acquirers can never both succeed.
type LockStore interface {
	// TryAcquire sets the holder when the resource is unlocked or its lock
	// was taken before staleBefore. Returns false when another holder keeps it.
	TryAcquire(ctx context.Context, resourceID int64, holderID string, now, staleBefore time.Time) (bool, error)

	// Get returns the lock state, or nil when the resource does not exist
	Get(ctx context.Context, resourceID int64) (*LockState, error)

	// Release clears the holder unconditionally. Returns false when the resource does not exist.
	Release(ctx context.Context, resourceID int64) (bool, error)

	// ReleaseIfHeld clears the holder only while holderID still owns the lock
	ReleaseIfHeld(ctx context.Context, resourceID int64, holderID string) (bool, error)

	// ReleaseStale clears every lock taken before staleBefore
	ReleaseStale(ctx context.Context, staleBefore time.Time) (int64, error)
}

// TransactionManager handles database transactions. A context returned to fn
// carries the transaction; repositories called with it join the transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
