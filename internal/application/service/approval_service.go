package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/approval-coordinator/internal/application/port"
	"github.com/garyjia/approval-coordinator/internal/application/uow"
	"github.com/garyjia/approval-coordinator/internal/domain/apperr"
	"github.com/garyjia/approval-coordinator/internal/domain/entity"
	"github.com/garyjia/approval-coordinator/internal/domain/event"
	"github.com/garyjia/approval-coordinator/internal/domain/workflow"
)

// ApprovalService drives approval requests and their tasks
type ApprovalService interface {
	CreateRequest(ctx context.Context, businessRequestID int64, approverIDs []int64, cfg entity.RequestConfig) (*entity.ApprovalRequest, error)
	ApproveTask(ctx context.Context, taskID, approverID int64, comments string) error
	RejectTask(ctx context.Context, taskID, approverID int64, reason string) error
	ReassignTask(ctx context.Context, taskID, newApproverID, actorID int64) error
	CancelRequest(ctx context.Context, requestID, actorID int64, reason string) error
	GetRequest(ctx context.Context, id int64) (*entity.ApprovalRequest, error)
	GetTasks(ctx context.Context, requestID int64) ([]*entity.ApprovalTask, error)
	GetAuditTrail(ctx context.Context, requestID int64) ([]*entity.AuditRecord, error)
	ListPendingTasks(ctx context.Context, approverID int64) ([]*entity.ApprovalTask, error)
	EscalateOverdue(ctx context.Context) (int, error)
}

// ApprovalDeps are the collaborators of the approval service
type ApprovalDeps struct {
	Requests   port.RequestRepository
	Tasks      port.TaskRepository
	Audit      port.AuditRepository
	Business   port.BusinessRequestLookup
	Users      port.UserDirectory
	Authorizer port.Authorizer
	Locker     Locker
	UoW        *uow.Coordinator
	Publisher  port.EventPublisher
	Logger     Logger

	// RetryAttempts bounds ExecuteWithRetry for decisions; defaults to 1.
	// Retries run while the request lock is held.
	RetryAttempts int
	// HoldLimit caps the time a decision spends inside the request lock,
	// retries and their delays included. It must stay below the lock timeout
	// or another caller may reclaim the lock as stale. Zero means no cap.
	HoldLimit time.Duration
	// Clock defaults to time.Now
	Clock func() time.Time
}

type approvalServiceImpl struct {
	requests      port.RequestRepository
	tasks         port.TaskRepository
	audit         port.AuditRepository
	business      port.BusinessRequestLookup
	users         port.UserDirectory
	authorizer    port.Authorizer
	locker        Locker
	uow           *uow.Coordinator
	events        emitter
	logger        Logger
	retryAttempts int
	holdLimit     time.Duration
	clock         func() time.Time
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(deps ApprovalDeps) ApprovalService {
	attempts := deps.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &approvalServiceImpl{
		requests:      deps.Requests,
		tasks:         deps.Tasks,
		audit:         deps.Audit,
		business:      deps.Business,
		users:         deps.Users,
		authorizer:    deps.Authorizer,
		locker:        deps.Locker,
		uow:           deps.UoW,
		events:        emitter{publisher: deps.Publisher},
		logger:        deps.Logger,
		retryAttempts: attempts,
		holdLimit:     deps.HoldLimit,
		clock:         deps.Clock,
	}
}

// CreateRequest opens a request with one pending task per approver, in list order
func (s *approvalServiceImpl) CreateRequest(ctx context.Context, businessRequestID int64, approverIDs []int64, cfg entity.RequestConfig) (*entity.ApprovalRequest, error) {
	const op = "create_request"

	cfg = cfg.WithDefaults()
	if err := s.validateCreate(ctx, businessRequestID, approverIDs, cfg); err != nil {
		return nil, err
	}

	now := nowUTC(s.clock)
	req := &entity.ApprovalRequest{
		BusinessRequestID: businessRequestID,
		ApprovalType:      cfg.ApprovalType,
		Status:            entity.RequestStatusPending,
		Priority:          cfg.Priority,
		RequireComments:   cfg.RequireComments,
		AutoApproveOnAll:  *cfg.AutoApproveOnAll,
		AutoRejectOnAny:   *cfg.AutoRejectOnAny,
		EscalationDays:    cfg.EscalationDays,
		CreatedAt:         now,
	}

	err := s.uow.Run(ctx, func(ctx context.Context) error {
		if err := s.requests.Create(ctx, req); err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		for i, approverID := range approverIDs {
			task := &entity.ApprovalTask{
				RequestID:     req.ID,
				ApproverID:    approverID,
				SequenceOrder: i,
				Status:        entity.TaskStatusPending,
				CreatedAt:     now,
			}
			if err := s.tasks.Create(ctx, task); err != nil {
				return fmt.Errorf("create task for approver %d: %w", approverID, err)
			}
		}

		return s.audit.Append(ctx, &entity.AuditRecord{
			RequestID: req.ID,
			ActorID:   SystemActorID,
			Action:    entity.AuditActionCreate,
			ToStatus:  string(entity.RequestStatusPending),
			CreatedAt: now,
		})
	})
	if err != nil {
		s.logger.Error("Failed to create approval request", "business_request_id", businessRequestID, "error", err)
		return nil, apperr.Wrap(apperr.KindDBError, op, err)
	}

	s.logger.Info("Approval request created",
		"id", req.ID,
		"business_request_id", businessRequestID,
		"approval_type", req.ApprovalType,
		"approvers", len(approverIDs),
	)
	s.events.emit(ctx, event.NewEvent(event.TypeRequestCreated, holderID(SystemActorID), map[string]interface{}{
		"business_request_id": businessRequestID,
		"approval_type":       string(req.ApprovalType),
		"approver_ids":        approverIDs,
	}).ForRequest(req.ID))

	return req, nil
}

func (s *approvalServiceImpl) validateCreate(ctx context.Context, businessRequestID int64, approverIDs []int64, cfg entity.RequestConfig) error {
	const op = "create_request"

	if businessRequestID <= 0 {
		return apperr.Validation(op, "business request id is required")
	}
	if len(approverIDs) == 0 {
		return apperr.Validation(op, "at least one approver is required")
	}
	if !cfg.ApprovalType.IsValid() {
		return apperr.Validation(op, "unknown approval type %q", cfg.ApprovalType)
	}
	if !cfg.Priority.IsValid() {
		return apperr.Validation(op, "unknown priority %q", cfg.Priority)
	}
	if cfg.EscalationDays < 0 {
		return apperr.Validation(op, "escalation days must not be negative")
	}

	seen := make(map[int64]bool, len(approverIDs))
	for _, id := range approverIDs {
		if id <= 0 {
			return apperr.Validation(op, "approver id must be positive")
		}
		if seen[id] {
			return apperr.Validation(op, "approver %d listed twice", id)
		}
		seen[id] = true
	}

	exists, err := s.business.BusinessRequestExists(ctx, businessRequestID)
	if err != nil {
		return apperr.DB(op, err)
	}
	if !exists {
		return apperr.Validation(op, "business request %d does not exist", businessRequestID)
	}

	for _, id := range approverIDs {
		exists, err := s.users.UserExists(ctx, id)
		if err != nil {
			return apperr.DB(op, err)
		}
		if !exists {
			return apperr.Validation(op, "approver %d does not exist", id)
		}
	}
	return nil
}

// ApproveTask records an approval and completes the request when its policy is met
func (s *approvalServiceImpl) ApproveTask(ctx context.Context, taskID, approverID int64, comments string) error {
	return s.decide(ctx, "approve_task", taskID, approverID, entity.TaskStatusApproved, comments)
}

// RejectTask records a rejection; with auto_reject_on_any the request is rejected at once
func (s *approvalServiceImpl) RejectTask(ctx context.Context, taskID, approverID int64, reason string) error {
	return s.decide(ctx, "reject_task", taskID, approverID, entity.TaskStatusRejected, reason)
}

// decision is what a committed approve/reject changed
type decision struct {
	task          *entity.ApprovalTask
	requestStatus entity.RequestStatus
}

func (s *approvalServiceImpl) decide(ctx context.Context, op string, taskID, approverID int64, status entity.TaskStatus, comments string) error {
	task, req, err := s.loadTask(ctx, op, taskID)
	if err != nil {
		return err
	}
	if !task.IsPending() {
		return apperr.InvalidStatus(op, "task %d is already %s", taskID, task.Status)
	}
	if req.RequireComments && blank(comments) {
		return apperr.Validation(op, "comments are required for request %d", req.ID)
	}
	if err := s.checkApprover(ctx, op, task, approverID); err != nil {
		return err
	}

	var result decision
	err = s.locker.WithLock(ctx, task.RequestID, holderID(approverID), func(ctx context.Context) error {
		if s.holdLimit > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.holdLimit)
			defer cancel()
		}
		var err error
		result, err = uow.ExecuteWithRetry(ctx, s.uow, s.retryAttempts, func(ctx context.Context) (decision, error) {
			return s.applyDecision(ctx, op, taskID, approverID, status, comments)
		})
		return err
	})
	if err != nil {
		s.logger.Error("Task decision failed",
			"op", op,
			"task_id", taskID,
			"approver_id", approverID,
			"kind", apperr.KindOf(err),
			"error", err,
		)
		return err
	}

	s.logger.Info("Task decided",
		"task_id", taskID,
		"request_id", result.task.RequestID,
		"status", status,
		"request_status", result.requestStatus,
	)

	taskEvent := event.TypeTaskApproved
	if status == entity.TaskStatusRejected {
		taskEvent = event.TypeTaskRejected
	}
	first := event.NewEvent(taskEvent, holderID(approverID), map[string]interface{}{
		"approver_id": result.task.ApproverID,
		"comments":    comments,
	}).ForRequest(result.task.RequestID).ForTask(taskID)
	s.events.emit(ctx, first)

	if result.requestStatus != "" {
		reqEvent := event.TypeRequestApproved
		if result.requestStatus == entity.RequestStatusRejected {
			reqEvent = event.TypeRequestRejected
		}
		s.events.emit(ctx, event.NewEvent(reqEvent, holderID(approverID), nil).
			ForRequest(result.task.RequestID).
			ForTask(taskID).
			Correlate(first.CorrelationID))
	}
	return nil
}

// applyDecision runs inside the request lock and one unit of work. Task and
// request are re-read so decisions made while waiting for the lock are seen.
func (s *approvalServiceImpl) applyDecision(ctx context.Context, op string, taskID, approverID int64, status entity.TaskStatus, comments string) (decision, error) {
	task, req, err := s.loadTask(ctx, op, taskID)
	if err != nil {
		return decision{}, err
	}
	if req.IsTerminal() {
		return decision{}, apperr.InvalidStatus(op, "request %d is already %s", req.ID, req.Status)
	}

	trigger := workflow.TriggerApprove
	if status == entity.TaskStatusRejected {
		trigger = workflow.TriggerReject
	}
	if _, err := workflow.TaskLifecycle.Fire(workflow.State(task.Status), trigger); err != nil {
		return decision{}, apperr.InvalidStatus(op, "task %d is already %s", taskID, task.Status)
	}

	now := nowUTC(s.clock)
	ok, err := s.tasks.Decide(ctx, taskID, status, comments, now)
	if err != nil {
		return decision{}, err
	}
	if !ok {
		return decision{}, apperr.InvalidStatus(op, "task %d is no longer pending", taskID)
	}

	action := entity.AuditActionApprove
	if status == entity.TaskStatusRejected {
		action = entity.AuditActionReject
	}
	if err := s.audit.Append(ctx, &entity.AuditRecord{
		RequestID:  req.ID,
		TaskID:     &taskID,
		ActorID:    approverID,
		Action:     action,
		FromStatus: string(entity.TaskStatusPending),
		ToStatus:   string(status),
		Comments:   comments,
		CreatedAt:  now,
	}); err != nil {
		return decision{}, err
	}

	counts, err := s.tasks.CountByRequest(ctx, req.ID)
	if err != nil {
		return decision{}, err
	}

	task.Status = status
	result := decision{task: task}

	next := completionStatus(req, counts, status)
	if next == "" {
		return result, nil
	}
	if err := s.transitionRequest(ctx, op, req, next, approverID, now, ""); err != nil {
		return decision{}, err
	}
	result.requestStatus = next
	return result, nil
}

// transitionRequest moves a pending request to a terminal status and audits it
func (s *approvalServiceImpl) transitionRequest(ctx context.Context, op string, req *entity.ApprovalRequest, to entity.RequestStatus, actorID int64, now time.Time, comments string) error {
	trigger := map[entity.RequestStatus]workflow.Trigger{
		entity.RequestStatusApproved:  workflow.TriggerApprove,
		entity.RequestStatusRejected:  workflow.TriggerReject,
		entity.RequestStatusCancelled: workflow.TriggerCancel,
		entity.RequestStatusEscalated: workflow.TriggerEscalate,
	}[to]
	if _, err := workflow.RequestLifecycle.Fire(workflow.State(req.Status), trigger); err != nil {
		return apperr.InvalidStatus(op, "request %d cannot move from %s to %s", req.ID, req.Status, to)
	}

	completedAt := now
	ok, err := s.requests.TransitionStatus(ctx, req.ID, entity.RequestStatusPending, to, &completedAt)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.InvalidStatus(op, "request %d is no longer pending", req.ID)
	}

	action := entity.AuditActionComplete
	switch to {
	case entity.RequestStatusCancelled:
		action = entity.AuditActionCancel
	case entity.RequestStatusEscalated:
		action = entity.AuditActionEscalate
	}
	return s.audit.Append(ctx, &entity.AuditRecord{
		RequestID:  req.ID,
		ActorID:    actorID,
		Action:     action,
		FromStatus: string(req.Status),
		ToStatus:   string(to),
		Comments:   comments,
		CreatedAt:  now,
	})
}

func (s *approvalServiceImpl) loadTask(ctx context.Context, op string, taskID int64) (*entity.ApprovalTask, *entity.ApprovalRequest, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, nil, apperr.DB(op, err)
	}
	if task == nil {
		return nil, nil, apperr.NotFound(op, "task %d not found", taskID)
	}

	req, err := s.requests.GetByID(ctx, task.RequestID)
	if err != nil {
		return nil, nil, apperr.DB(op, err)
	}
	if req == nil {
		return nil, nil, apperr.NotFound(op, "request %d not found", task.RequestID)
	}
	return task, req, nil
}

// checkApprover requires approval rights on the request and, for a task
// assigned to someone else, the right to act for that approver
func (s *approvalServiceImpl) checkApprover(ctx context.Context, op string, task *entity.ApprovalTask, approverID int64) error {
	allowed, err := s.authorizer.CanApprove(ctx, approverID, task.RequestID)
	if err != nil {
		return apperr.DB(op, err)
	}
	if !allowed {
		return apperr.PermissionDenied(op, "user %d may not approve request %d", approverID, task.RequestID)
	}
	if task.ApproverID == approverID {
		return nil
	}

	allowed, err = s.authorizer.ActsFor(ctx, approverID, task.ApproverID)
	if err != nil {
		return apperr.DB(op, err)
	}
	if !allowed {
		return apperr.PermissionDenied(op, "user %d may not decide task %d assigned to %d", approverID, task.ID, task.ApproverID)
	}
	return nil
}

// ReassignTask hands a pending task to another approver. Administrators only.
func (s *approvalServiceImpl) ReassignTask(ctx context.Context, taskID, newApproverID, actorID int64) error {
	const op = "reassign_task"

	admin, err := s.authorizer.IsAdmin(ctx, actorID)
	if err != nil {
		return apperr.DB(op, err)
	}
	if !admin {
		return apperr.PermissionDenied(op, "user %d may not reassign tasks", actorID)
	}
	if newApproverID <= 0 {
		return apperr.Validation(op, "new approver id must be positive")
	}

	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return apperr.DB(op, err)
	}
	if task == nil {
		return apperr.NotFound(op, "task %d not found", taskID)
	}
	if !task.IsPending() {
		return apperr.InvalidStatus(op, "task %d is already %s", taskID, task.Status)
	}
	if task.ApproverID == newApproverID {
		return apperr.Validation(op, "task %d is already assigned to %d", taskID, newApproverID)
	}

	exists, err := s.users.UserExists(ctx, newApproverID)
	if err != nil {
		return apperr.DB(op, err)
	}
	if !exists {
		return apperr.Validation(op, "approver %d does not exist", newApproverID)
	}

	previous := task.ApproverID
	err = s.uow.Run(ctx, func(ctx context.Context) error {
		ok, err := s.tasks.Reassign(ctx, taskID, newApproverID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidStatus(op, "task %d is no longer pending", taskID)
		}
		return s.audit.Append(ctx, &entity.AuditRecord{
			RequestID:  task.RequestID,
			TaskID:     &taskID,
			ActorID:    actorID,
			Action:     entity.AuditActionReassign,
			FromStatus: string(entity.TaskStatusPending),
			ToStatus:   string(entity.TaskStatusPending),
			Comments:   fmt.Sprintf("approver %d -> %d", previous, newApproverID),
			CreatedAt:  nowUTC(s.clock),
		})
	})
	if err != nil {
		s.logger.Error("Failed to reassign task", "task_id", taskID, "error", err)
		return err
	}

	s.logger.Info("Task reassigned", "task_id", taskID, "from", previous, "to", newApproverID, "actor_id", actorID)
	s.events.emit(ctx, event.NewEvent(event.TypeTaskReassigned, holderID(actorID), map[string]interface{}{
		"from_approver_id": previous,
		"to_approver_id":   newApproverID,
	}).ForRequest(task.RequestID).ForTask(taskID))
	return nil
}

// CancelRequest withdraws a pending request and cancels its pending tasks.
// Administrators only.
func (s *approvalServiceImpl) CancelRequest(ctx context.Context, requestID, actorID int64, reason string) error {
	const op = "cancel_request"

	admin, err := s.authorizer.IsAdmin(ctx, actorID)
	if err != nil {
		return apperr.DB(op, err)
	}
	if !admin {
		return apperr.PermissionDenied(op, "user %d may not cancel requests", actorID)
	}

	var cancelled int64
	err = s.locker.WithLock(ctx, requestID, holderID(actorID), func(ctx context.Context) error {
		return s.uow.Run(ctx, func(ctx context.Context) error {
			req, err := s.requests.GetByID(ctx, requestID)
			if err != nil {
				return err
			}
			if req == nil {
				return apperr.NotFound(op, "request %d not found", requestID)
			}

			now := nowUTC(s.clock)
			if err := s.transitionRequest(ctx, op, req, entity.RequestStatusCancelled, actorID, now, reason); err != nil {
				return err
			}
			cancelled, err = s.tasks.CancelPending(ctx, requestID, now)
			return err
		})
	})
	if err != nil {
		s.logger.Error("Failed to cancel request", "request_id", requestID, "error", err)
		return err
	}

	s.logger.Info("Approval request cancelled", "request_id", requestID, "tasks_cancelled", cancelled)
	s.events.emit(ctx, event.NewEvent(event.TypeRequestCancelled, holderID(actorID), map[string]interface{}{
		"reason":          reason,
		"tasks_cancelled": cancelled,
	}).ForRequest(requestID))
	return nil
}

// GetRequest retrieves a request by ID
func (s *approvalServiceImpl) GetRequest(ctx context.Context, id int64) (*entity.ApprovalRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.DB("get_request", err)
	}
	if req == nil {
		return nil, apperr.NotFound("get_request", "request %d not found", id)
	}
	return req, nil
}

// GetTasks lists the tasks of a request in sequence order
func (s *approvalServiceImpl) GetTasks(ctx context.Context, requestID int64) ([]*entity.ApprovalTask, error) {
	if _, err := s.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	tasks, err := s.tasks.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, apperr.DB("get_tasks", err)
	}
	return tasks, nil
}

// GetAuditTrail lists the audit records of a request
func (s *approvalServiceImpl) GetAuditTrail(ctx context.Context, requestID int64) ([]*entity.AuditRecord, error) {
	records, err := s.audit.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, apperr.DB("get_audit_trail", err)
	}
	return records, nil
}

// ListPendingTasks lists tasks awaiting approverID
func (s *approvalServiceImpl) ListPendingTasks(ctx context.Context, approverID int64) ([]*entity.ApprovalTask, error) {
	tasks, err := s.tasks.ListPendingByApprover(ctx, approverID, nil)
	if err != nil {
		return nil, apperr.DB("list_pending_tasks", err)
	}
	return tasks, nil
}

// EscalateOverdue moves pending requests older than their escalation_days to
// escalated. A request that cannot be locked is skipped until the next sweep.
func (s *approvalServiceImpl) EscalateOverdue(ctx context.Context) (int, error) {
	const op = "escalate_overdue"

	candidates, err := s.requests.ListPendingWithEscalation(ctx)
	if err != nil {
		return 0, apperr.DB(op, err)
	}

	now := nowUTC(s.clock)
	escalated := 0
	for _, candidate := range candidates {
		deadline := candidate.CreatedAt.Add(time.Duration(candidate.EscalationDays) * 24 * time.Hour)
		if now.Before(deadline) {
			continue
		}

		requestID := candidate.ID
		moved := false
		err := s.locker.WithLock(ctx, requestID, holderID(SystemActorID), func(ctx context.Context) error {
			return s.uow.Run(ctx, func(ctx context.Context) error {
				req, err := s.requests.GetByID(ctx, requestID)
				if err != nil {
					return err
				}
				if req == nil || req.IsTerminal() {
					return nil
				}
				if err := s.transitionRequest(ctx, op, req, entity.RequestStatusEscalated, SystemActorID, now,
					fmt.Sprintf("pending for more than %d days", req.EscalationDays)); err != nil {
					return err
				}
				moved = true
				return nil
			})
		})
		if err != nil {
			s.logger.Error("Failed to escalate request", "request_id", requestID, "error", err)
			continue
		}
		if !moved {
			continue
		}

		escalated++
		s.events.emit(ctx, event.NewEvent(event.TypeRequestEscalated, holderID(SystemActorID), map[string]interface{}{
			"escalation_days": candidate.EscalationDays,
		}).ForRequest(requestID))
	}

	if escalated > 0 {
		s.logger.Info("Overdue requests escalated", "count", escalated)
	}
	return escalated, nil
}
