package service

import (
	"context"
	"time"

	"github.com/garyjia/approval-coordinator/internal/application/port"
	"github.com/garyjia/approval-coordinator/internal/domain/entity"
)

// AdminDirectory reports stored admin flags
type AdminDirectory interface {
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

// AssignmentAuthorizer grants approval rights from task assignments and
// active delegations. Administrators may act on anything.
type AssignmentAuthorizer struct {
	tasks       port.TaskRepository
	delegations port.DelegationRepository
	directory   AdminDirectory
	admins      map[int64]bool
	clock       func() time.Time
}

// NewAssignmentAuthorizer creates an authorizer. adminIDs are always treated
// as administrators; directory may be nil.
func NewAssignmentAuthorizer(tasks port.TaskRepository, delegations port.DelegationRepository, directory AdminDirectory, adminIDs []int64, clock func() time.Time) *AssignmentAuthorizer {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &AssignmentAuthorizer{
		tasks:       tasks,
		delegations: delegations,
		directory:   directory,
		admins:      admins,
		clock:       clock,
	}
}

// IsAdmin implements port.Authorizer
func (a *AssignmentAuthorizer) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	if a.admins[userID] {
		return true, nil
	}
	if a.directory == nil {
		return false, nil
	}
	return a.directory.IsAdmin(ctx, userID)
}

// CanApprove implements port.Authorizer
func (a *AssignmentAuthorizer) CanApprove(ctx context.Context, userID, requestID int64) (bool, error) {
	if admin, err := a.IsAdmin(ctx, userID); err != nil || admin {
		return admin, err
	}

	tasks, err := a.tasks.GetByRequestID(ctx, requestID)
	if err != nil {
		return false, err
	}

	approvers := make(map[int64]bool, len(tasks))
	for _, task := range tasks {
		if task.ApproverID == userID {
			return true, nil
		}
		approvers[task.ApproverID] = true
	}

	delegations, err := a.delegations.ListActiveTo(ctx, userID, entity.TruncateDay(nowUTC(a.clock)))
	if err != nil {
		return false, err
	}
	for _, d := range delegations {
		if approvers[d.FromUserID] {
			return true, nil
		}
	}
	return false, nil
}

// ActsFor implements port.Authorizer
func (a *AssignmentAuthorizer) ActsFor(ctx context.Context, userID, approverID int64) (bool, error) {
	if userID == approverID {
		return true, nil
	}
	if admin, err := a.IsAdmin(ctx, userID); err != nil || admin {
		return admin, err
	}

	delegations, err := a.delegations.ListActiveTo(ctx, userID, entity.TruncateDay(nowUTC(a.clock)))
	if err != nil {
		return false, err
	}
	for _, d := range delegations {
		if d.FromUserID == approverID {
			return true, nil
		}
	}
	return false, nil
}

// Verify interface compliance
var _ port.Authorizer = (*AssignmentAuthorizer)(nil)
