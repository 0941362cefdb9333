package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/approval-coordinator/internal/application/lock"
	"github.com/garyjia/approval-coordinator/internal/application/port"
	"github.com/garyjia/approval-coordinator/internal/application/uow"
	"github.com/garyjia/approval-coordinator/internal/domain/entity"
	"github.com/garyjia/approval-coordinator/internal/domain/event"
	"github.com/garyjia/approval-coordinator/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-coordinator/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-coordinator/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	adminID    int64 = 1
	leaveID    int64 = 5
	approverA  int64 = 10
	approverB  int64 = 20
	outsiderID int64 = 30
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type capturePublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *capturePublisher) Publish(_ context.Context, evt *event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *capturePublisher) ofType(t event.Type) []*event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*event.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	db          *sqlite.DB
	clock       *fakeClock
	pub         *capturePublisher
	requests    *repository.RequestRepository
	tasks       *repository.TaskRepository
	audit       port.AuditRepository
	delegations *repository.DelegationRepository
	locks       *lock.Manager
	approvals   ApprovalService
	delegation  DelegationService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	lockCfg lock.Config
	audit   func(port.AuditRepository) port.AuditRepository
	locker    func(Locker) Locker
	holdLimit time.Duration
}

func withLockConfig(cfg lock.Config) harnessOption {
	return func(c *harnessConfig) { c.lockCfg = cfg }
}

func withAudit(wrap func(port.AuditRepository) port.AuditRepository) harnessOption {
	return func(c *harnessConfig) { c.audit = wrap }
}

func withLocker(wrap func(Locker) Locker) harnessOption {
	return func(c *harnessConfig) { c.locker = wrap }
}

func withHoldLimit(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.holdLimit = d }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{
		lockCfg: lock.Config{
			Timeout:       30 * time.Second,
			CheckInterval: 2 * time.Millisecond,
			MaxWait:       10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	db := testutil.NewDB(t)
	testutil.Seed(t, db, []int64{leaveID}, adminID, approverA, approverB, outsiderID)

	logger := zap.NewNop()
	clock := &fakeClock{now: time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)}
	pub := &capturePublisher{}

	requests := repository.NewRequestRepository(db, logger)
	tasks := repository.NewTaskRepository(db, logger)
	delegations := repository.NewDelegationRepository(db, logger)
	directory := repository.NewDirectoryRepository(db, logger)

	var audit port.AuditRepository = repository.NewAuditRepository(db, logger)
	if cfg.audit != nil {
		audit = cfg.audit(audit)
	}

	locks := lock.NewManager(repository.NewLockStore(db, logger), cfg.lockCfg, lock.WithPublisher(pub))
	var locker Locker = locks
	if cfg.locker != nil {
		locker = cfg.locker(locks)
	}

	coordinator := uow.New(db, uow.WithRetryDelay(time.Millisecond))
	authorizer := NewAssignmentAuthorizer(tasks, delegations, directory, []int64{adminID}, clock.Now)

	approvals := NewApprovalService(ApprovalDeps{
		Requests:      requests,
		Tasks:         tasks,
		Audit:         audit,
		Business:      directory,
		Users:         directory,
		Authorizer:    authorizer,
		Locker:        locker,
		UoW:           coordinator,
		Publisher:     pub,
		Logger:        nopLogger{},
		RetryAttempts: 3,
		HoldLimit:     cfg.holdLimit,
		Clock:         clock.Now,
	})
	delegation := NewDelegationService(delegations, tasks, directory, authorizer, coordinator, pub, nopLogger{}, clock.Now)

	return &harness{
		db:          db,
		clock:       clock,
		pub:         pub,
		requests:    requests,
		tasks:       tasks,
		audit:       audit,
		delegations: delegations,
		locks:       locks,
		approvals:   approvals,
		delegation:  delegation,
	}
}

// createRequest opens a request for leaveID and returns it with its tasks
func (h *harness) createRequest(t *testing.T, cfg entity.RequestConfig, approvers ...int64) (*entity.ApprovalRequest, []*entity.ApprovalTask) {
	t.Helper()
	ctx := context.Background()

	req, err := h.approvals.CreateRequest(ctx, leaveID, approvers, cfg)
	require.NoError(t, err)

	tasks, err := h.approvals.GetTasks(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, tasks, len(approvers))
	return req, tasks
}

func (h *harness) request(t *testing.T, id int64) *entity.ApprovalRequest {
	t.Helper()
	req, err := h.approvals.GetRequest(context.Background(), id)
	require.NoError(t, err)
	return req
}

func (h *harness) task(t *testing.T, id int64) *entity.ApprovalTask {
	t.Helper()
	task, err := h.tasks.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, task)
	return task
}

func (h *harness) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, h.db.Get(&n, `SELECT COUNT(*) FROM `+table))
	return n
}

func boolPtr(b bool) *bool {
	return &b
}
