package service

import (
	"context"
	"time"

	"github.com/garyjia/approval-coordinator/internal/application/port"
	"github.com/garyjia/approval-coordinator/internal/application/uow"
	"github.com/garyjia/approval-coordinator/internal/domain/apperr"
	"github.com/garyjia/approval-coordinator/internal/domain/entity"
	"github.com/garyjia/approval-coordinator/internal/domain/event"
)

// DelegationService manages time-bounded transfers of approval authority
type DelegationService interface {
	CreateDelegation(ctx context.Context, callerID int64, in entity.DelegationInput) (*entity.Delegation, error)
	GetActiveDelegationsForUser(ctx context.Context, userID int64) ([]*entity.Delegation, error)
	GetDelegatedApprovalsForUser(ctx context.Context, delegateID int64) ([]*entity.DelegatedTask, error)
	RevokeDelegation(ctx context.Context, id, callerID int64) error
	CleanupExpiredDelegations(ctx context.Context) (int64, error)
}

type delegationServiceImpl struct {
	delegations port.DelegationRepository
	tasks       port.TaskRepository
	users       port.UserDirectory
	authorizer  port.Authorizer
	uow         *uow.Coordinator
	events      emitter
	logger      Logger
	clock       func() time.Time
}

// NewDelegationService creates a new DelegationService. A nil clock uses time.Now.
func NewDelegationService(
	delegations port.DelegationRepository,
	tasks port.TaskRepository,
	users port.UserDirectory,
	authorizer port.Authorizer,
	coordinator *uow.Coordinator,
	publisher port.EventPublisher,
	logger Logger,
	clock func() time.Time,
) DelegationService {
	return &delegationServiceImpl{
		delegations: delegations,
		tasks:       tasks,
		users:       users,
		authorizer:  authorizer,
		uow:         coordinator,
		events:      emitter{publisher: publisher},
		logger:      logger,
		clock:       clock,
	}
}

func (s *delegationServiceImpl) today() time.Time {
	return entity.TruncateDay(nowUTC(s.clock))
}

// CreateDelegation validates the window and inserts it unless an active
// delegation of the same delegator overlaps it
func (s *delegationServiceImpl) CreateDelegation(ctx context.Context, callerID int64, in entity.DelegationInput) (*entity.Delegation, error) {
	const op = "create_delegation"

	if in.FromUserID <= 0 || in.ToUserID <= 0 {
		return nil, apperr.Validation(op, "from and to users are required")
	}
	if in.FromUserID == in.ToUserID {
		return nil, apperr.Validation(op, "cannot delegate to oneself")
	}
	start, err := entity.ParseDate(in.StartDate)
	if err != nil {
		return nil, apperr.Validation(op, "invalid start date %q, want YYYY-MM-DD", in.StartDate)
	}
	end, err := entity.ParseDate(in.EndDate)
	if err != nil {
		return nil, apperr.Validation(op, "invalid end date %q, want YYYY-MM-DD", in.EndDate)
	}
	if start.After(end) {
		return nil, apperr.Validation(op, "start date %s is after end date %s", in.StartDate, in.EndDate)
	}

	for _, id := range []int64{in.FromUserID, in.ToUserID} {
		exists, err := s.users.UserExists(ctx, id)
		if err != nil {
			return nil, apperr.DB(op, err)
		}
		if !exists {
			return nil, apperr.Validation(op, "user %d does not exist", id)
		}
	}

	if callerID != in.FromUserID {
		admin, err := s.authorizer.IsAdmin(ctx, callerID)
		if err != nil {
			return nil, apperr.DB(op, err)
		}
		if !admin {
			return nil, apperr.PermissionDenied(op, "user %d may not delegate for user %d", callerID, in.FromUserID)
		}
	}

	d := &entity.Delegation{
		FromUserID:         in.FromUserID,
		ToUserID:           in.ToUserID,
		StartDate:          start,
		EndDate:            end,
		Status:             entity.DelegationStatusActive,
		Reason:             in.Reason,
		IncludePendingOnly: in.IncludePendingOnly,
		AutoApprove:        in.AutoApprove,
		CreatedBy:          callerID,
		CreatedAt:          nowUTC(s.clock),
	}

	err = s.uow.Run(ctx, func(ctx context.Context) error {
		overlapping, err := s.delegations.FindOverlappingActive(ctx, in.FromUserID, start, end)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			o := overlapping[0]
			return apperr.Conflict(op, "user %d already delegates from %s to %s (delegation %d)",
				in.FromUserID, o.StartDate.Format(entity.DateLayout), o.EndDate.Format(entity.DateLayout), o.ID)
		}
		return s.delegations.Create(ctx, d)
	})
	if err != nil {
		s.logger.Error("Failed to create delegation",
			"from_user_id", in.FromUserID,
			"to_user_id", in.ToUserID,
			"kind", apperr.KindOf(err),
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("Delegation created",
		"id", d.ID,
		"from_user_id", d.FromUserID,
		"to_user_id", d.ToUserID,
		"start_date", in.StartDate,
		"end_date", in.EndDate,
	)
	s.events.emit(ctx, event.NewEvent(event.TypeDelegationCreated, holderID(callerID), map[string]interface{}{
		"from_user_id": d.FromUserID,
		"to_user_id":   d.ToUserID,
		"start_date":   in.StartDate,
		"end_date":     in.EndDate,
	}).ForDelegation(d.ID))

	return d, nil
}

// GetActiveDelegationsForUser lists active delegations granted by userID that cover today
func (s *delegationServiceImpl) GetActiveDelegationsForUser(ctx context.Context, userID int64) ([]*entity.Delegation, error) {
	delegations, err := s.delegations.ListActiveFrom(ctx, userID, s.today())
	if err != nil {
		return nil, apperr.DB("get_active_delegations", err)
	}
	return delegations, nil
}

// GetDelegatedApprovalsForUser collects the pending tasks of every delegator
// currently delegating to delegateID
func (s *delegationServiceImpl) GetDelegatedApprovalsForUser(ctx context.Context, delegateID int64) ([]*entity.DelegatedTask, error) {
	const op = "get_delegated_approvals"

	delegations, err := s.delegations.ListActiveTo(ctx, delegateID, s.today())
	if err != nil {
		return nil, apperr.DB(op, err)
	}

	var result []*entity.DelegatedTask
	for _, d := range delegations {
		var since *time.Time
		if d.IncludePendingOnly {
			start := d.StartDate
			since = &start
		}

		tasks, err := s.tasks.ListPendingByApprover(ctx, d.FromUserID, since)
		if err != nil {
			return nil, apperr.DB(op, err)
		}
		for _, task := range tasks {
			result = append(result, &entity.DelegatedTask{
				ApprovalTask: *task,
				DelegationID: d.ID,
				DelegatorID:  d.FromUserID,
			})
		}
	}
	return result, nil
}

// RevokeDelegation ends an active delegation early. The delegator, its
// creator or an administrator may revoke.
func (s *delegationServiceImpl) RevokeDelegation(ctx context.Context, id, callerID int64) error {
	const op = "revoke_delegation"

	d, err := s.delegations.GetByID(ctx, id)
	if err != nil {
		return apperr.DB(op, err)
	}
	if d == nil {
		return apperr.NotFound(op, "delegation %d not found", id)
	}

	if callerID != d.FromUserID && callerID != d.CreatedBy {
		admin, err := s.authorizer.IsAdmin(ctx, callerID)
		if err != nil {
			return apperr.DB(op, err)
		}
		if !admin {
			return apperr.PermissionDenied(op, "user %d may not revoke delegation %d", callerID, id)
		}
	}
	if d.Status != entity.DelegationStatusActive {
		return apperr.InvalidStatus(op, "delegation %d is %s", id, d.Status)
	}

	err = s.uow.Run(ctx, func(ctx context.Context) error {
		ok, err := s.delegations.UpdateStatus(ctx, id, entity.DelegationStatusActive, entity.DelegationStatusRevoked, nowUTC(s.clock))
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidStatus(op, "delegation %d is no longer active", id)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to revoke delegation", "id", id, "error", err)
		return err
	}

	s.logger.Info("Delegation revoked", "id", id, "caller_id", callerID)
	s.events.emit(ctx, event.NewEvent(event.TypeDelegationRevoked, holderID(callerID), map[string]interface{}{
		"from_user_id": d.FromUserID,
		"to_user_id":   d.ToUserID,
	}).ForDelegation(id))
	return nil
}

// CleanupExpiredDelegations marks active delegations that ended before today as expired
func (s *delegationServiceImpl) CleanupExpiredDelegations(ctx context.Context) (int64, error) {
	today := s.today()

	var n int64
	err := s.uow.Run(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.delegations.ExpireEndedBefore(ctx, today)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to expire delegations", "error", err)
		return 0, err
	}

	if n > 0 {
		s.logger.Info("Delegations expired", "count", n)
		s.events.emit(ctx, event.NewEvent(event.TypeDelegationExpired, holderID(SystemActorID), map[string]interface{}{
			"count":  n,
			"before": today.Format(entity.DateLayout),
		}))
	}
	return n, nil
}
