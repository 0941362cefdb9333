package repository

import (
	"context"
	"testing"
	"time"

	"github.com/garyjia/approval-coordinator/internal/domain/entity"
	"github.com/garyjia/approval-coordinator/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRequest(businessID int64, approvalType entity.ApprovalType) *entity.ApprovalRequest {
	return &entity.ApprovalRequest{
		BusinessRequestID: businessID,
		ApprovalType:      approvalType,
		Status:            entity.RequestStatusPending,
		Priority:          entity.PriorityNormal,
		AutoApproveOnAll:  true,
		AutoRejectOnAny:   true,
	}
}

func TestRequestRepository_CreateAndTransition(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewRequestRepository(db, zap.NewNop())

	req := newRequest(5, entity.ApprovalTypeParallel)
	req.EscalationDays = 3
	require.NoError(t, repo.Create(ctx, req))
	require.NotZero(t, req.ID)

	got, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entity.ApprovalTypeParallel, got.ApprovalType)
	assert.Equal(t, entity.RequestStatusPending, got.Status)
	assert.Equal(t, 3, got.EscalationDays)
	assert.True(t, got.AutoRejectOnAny)
	assert.Nil(t, got.CompletedAt)
	assert.False(t, got.IsLocked())

	completed := time.Now().UTC()
	ok, err := repo.TransitionStatus(ctx, req.ID, entity.RequestStatusPending, entity.RequestStatusApproved, &completed)
	require.NoError(t, err)
	assert.True(t, ok)

	// a second transition from pending no longer matches
	ok, err = repo.TransitionStatus(ctx, req.ID, entity.RequestStatusPending, entity.RequestStatusRejected, &completed)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusApproved, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, completed, *got.CompletedAt, time.Second)

	missing, err := repo.GetByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRequestRepository_ListPendingWithEscalation(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewRequestRepository(db, zap.NewNop())

	withEscalation := newRequest(1, entity.ApprovalTypeSequential)
	withEscalation.EscalationDays = 2
	without := newRequest(2, entity.ApprovalTypeSequential)
	require.NoError(t, repo.Create(ctx, withEscalation))
	require.NoError(t, repo.Create(ctx, without))

	list, err := repo.ListPendingWithEscalation(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, withEscalation.ID, list[0].ID)
}

func TestTaskRepository_DecideOnce(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	requests := NewRequestRepository(db, zap.NewNop())
	tasks := NewTaskRepository(db, zap.NewNop())

	req := newRequest(5, entity.ApprovalTypeParallel)
	require.NoError(t, requests.Create(ctx, req))

	for i, approver := range []int64{10, 20} {
		task := &entity.ApprovalTask{
			RequestID:     req.ID,
			ApproverID:    approver,
			SequenceOrder: i,
			Status:        entity.TaskStatusPending,
		}
		require.NoError(t, tasks.Create(ctx, task))
	}

	list, err := tasks.GetByRequestID(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(10), list[0].ApproverID)
	assert.Nil(t, list[0].DecidedAt)

	ok, err := tasks.Decide(ctx, list[0].ID, entity.TaskStatusApproved, "fine", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tasks.Decide(ctx, list[0].ID, entity.TaskStatusRejected, "changed my mind", time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "a decided task must not be decided again")

	decided, err := tasks.GetByID(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatusApproved, decided.Status)
	assert.Equal(t, "fine", decided.Comments)
	assert.NotNil(t, decided.DecidedAt)

	counts, err := tasks.CountByRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TaskCounts{Total: 2, Pending: 1, Approved: 1}, *counts)

	pending, err := tasks.ListPendingByApprover(ctx, 20, nil)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, list[1].ID, pending[0].ID)

	future := time.Now().Add(time.Hour)
	pending, err = tasks.ListPendingByApprover(ctx, 20, &future)
	require.NoError(t, err)
	assert.Empty(t, pending)

	ok, err = tasks.Reassign(ctx, list[1].ID, 30)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := tasks.CancelPending(ctx, req.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err = tasks.Reassign(ctx, list[1].ID, 40)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTaskRepository_SequenceOrderUnique(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	requests := NewRequestRepository(db, zap.NewNop())
	tasks := NewTaskRepository(db, zap.NewNop())

	req := newRequest(5, entity.ApprovalTypeSequential)
	require.NoError(t, requests.Create(ctx, req))

	first := &entity.ApprovalTask{RequestID: req.ID, ApproverID: 10, Status: entity.TaskStatusPending}
	dup := &entity.ApprovalTask{RequestID: req.ID, ApproverID: 20, Status: entity.TaskStatusPending}
	require.NoError(t, tasks.Create(ctx, first))
	assert.Error(t, tasks.Create(ctx, dup))
}

func TestDelegationRepository_Overlap(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewDelegationRepository(db, zap.NewNop())

	day := func(s string) time.Time {
		d, err := entity.ParseDate(s)
		require.NoError(t, err)
		return d
	}

	existing := &entity.Delegation{
		FromUserID: 1,
		ToUserID:   2,
		StartDate:  day("2024-01-01"),
		EndDate:    day("2024-01-10"),
		Status:     entity.DelegationStatusActive,
		CreatedBy:  1,
	}
	require.NoError(t, repo.Create(ctx, existing))

	tests := []struct {
		name       string
		start, end string
		overlaps   bool
	}{
		{"inside", "2024-01-03", "2024-01-04", true},
		{"straddles end", "2024-01-05", "2024-01-15", true},
		{"touches start", "2023-12-25", "2024-01-01", true},
		{"touches end", "2024-01-10", "2024-01-12", true},
		{"after", "2024-01-11", "2024-01-20", false},
		{"before", "2023-12-01", "2023-12-31", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := repo.FindOverlappingActive(ctx, 1, day(tt.start), day(tt.end))
			require.NoError(t, err)
			assert.Equal(t, tt.overlaps, len(found) > 0)
		})
	}

	other, err := repo.FindOverlappingActive(ctx, 2, day("2024-01-01"), day("2024-01-10"))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestDelegationRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewDelegationRepository(db, zap.NewNop())

	start, _ := entity.ParseDate("2024-03-01")
	end, _ := entity.ParseDate("2024-03-05")
	d := &entity.Delegation{
		FromUserID:         1,
		ToUserID:           2,
		StartDate:          start,
		EndDate:            end,
		Status:             entity.DelegationStatusActive,
		IncludePendingOnly: true,
		CreatedBy:          1,
	}
	require.NoError(t, repo.Create(ctx, d))

	got, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.StartDate.Equal(start))
	assert.True(t, got.EndDate.Equal(end))
	assert.True(t, got.IncludePendingOnly)

	within, _ := entity.ParseDate("2024-03-03")
	from, err := repo.ListActiveFrom(ctx, 1, within)
	require.NoError(t, err)
	assert.Len(t, from, 1)
	to, err := repo.ListActiveTo(ctx, 2, within)
	require.NoError(t, err)
	assert.Len(t, to, 1)

	outside, _ := entity.ParseDate("2024-03-06")
	to, err = repo.ListActiveTo(ctx, 2, outside)
	require.NoError(t, err)
	assert.Empty(t, to)

	n, err := repo.ExpireEndedBefore(ctx, within)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.ExpireEndedBefore(ctx, outside)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err := repo.UpdateStatus(ctx, d.ID, entity.DelegationStatusActive, entity.DelegationStatusRevoked, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "expired delegations cannot be revoked")

	got, err = repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DelegationStatusExpired, got.Status)
	assert.Nil(t, got.RevokedAt)
}

func TestAuditRepository_AppendAndList(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	taskID := int64(7)
	require.NoError(t, repo.Append(ctx, &entity.AuditRecord{
		RequestID: 1,
		ActorID:   10,
		Action:    entity.AuditActionCreate,
		ToStatus:  string(entity.RequestStatusPending),
	}))
	require.NoError(t, repo.Append(ctx, &entity.AuditRecord{
		RequestID:  1,
		TaskID:     &taskID,
		ActorID:    10,
		Action:     entity.AuditActionApprove,
		FromStatus: string(entity.TaskStatusPending),
		ToStatus:   string(entity.TaskStatusApproved),
		Comments:   "ok",
	}))

	records, err := repo.ListByRequest(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, entity.AuditActionCreate, records[0].Action)
	assert.Nil(t, records[0].TaskID)
	require.NotNil(t, records[1].TaskID)
	assert.Equal(t, taskID, *records[1].TaskID)
}

func TestLockStore_ConditionalAcquire(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	requests := NewRequestRepository(db, zap.NewNop())
	store := NewLockStore(db, zap.NewNop())

	req := newRequest(5, entity.ApprovalTypeParallel)
	require.NoError(t, requests.Create(ctx, req))

	now := time.Now()
	staleBefore := now.Add(-30 * time.Second)

	ok, err := store.TryAcquire(ctx, req.ID, "10", now, staleBefore)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryAcquire(ctx, req.ID, "20", now, staleBefore)
	require.NoError(t, err)
	assert.False(t, ok, "a fresh lock must not be taken over")

	state, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "10", state.HolderID)
	require.NotNil(t, state.LockedAt)
	assert.Equal(t, now.UnixNano(), state.LockedAt.UnixNano())

	// once the lock is older than the staleness bound another holder may claim it
	later := now.Add(time.Minute)
	ok, err = store.TryAcquire(ctx, req.ID, "20", later, later.Add(-30*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ReleaseIfHeld(ctx, req.ID, "10")
	require.NoError(t, err)
	assert.False(t, ok, "former holder must not clear the new holder's lock")

	ok, err = store.ReleaseIfHeld(ctx, req.ID, "20")
	require.NoError(t, err)
	assert.True(t, ok)

	state, err = store.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, state.Held())

	missing, err := store.Get(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	ok, err = store.Release(ctx, 999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockStore_ReleaseStale(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	requests := NewRequestRepository(db, zap.NewNop())
	store := NewLockStore(db, zap.NewNop())

	old := newRequest(1, entity.ApprovalTypeParallel)
	fresh := newRequest(2, entity.ApprovalTypeParallel)
	require.NoError(t, requests.Create(ctx, old))
	require.NoError(t, requests.Create(ctx, fresh))

	now := time.Now()
	_, err := store.TryAcquire(ctx, old.ID, "a", now.Add(-time.Hour), now.Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = store.TryAcquire(ctx, fresh.ID, "b", now, now.Add(-time.Minute))
	require.NoError(t, err)

	n, err := store.ReleaseStale(ctx, now.Add(-30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	state, err := store.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", state.HolderID)
}

func TestDirectoryRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewDirectoryRepository(db, zap.NewNop())

	require.NoError(t, repo.UpsertUser(ctx, 1, "alice", true))
	require.NoError(t, repo.UpsertUser(ctx, 2, "bob", false))
	require.NoError(t, repo.UpsertBusinessRequest(ctx, 5, "leave", 2))

	exists, err := repo.UserExists(ctx, 1)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.UserExists(ctx, 3)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = repo.BusinessRequestExists(ctx, 5)
	require.NoError(t, err)
	assert.True(t, exists)

	admin, err := repo.IsAdmin(ctx, 1)
	require.NoError(t, err)
	assert.True(t, admin)

	admin, err = repo.IsAdmin(ctx, 2)
	require.NoError(t, err)
	assert.False(t, admin)

	admin, err = repo.IsAdmin(ctx, 3)
	require.NoError(t, err)
	assert.False(t, admin)
}
