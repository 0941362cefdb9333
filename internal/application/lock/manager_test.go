package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/approval-coordinator/internal/domain/apperr"
	"github.com/garyjia/approval-coordinator/internal/domain/event"
	"github.com/garyjia/approval-coordinator/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-coordinator/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-coordinator/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *capturePublisher) Publish(_ context.Context, evt *event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *capturePublisher) types() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]event.Type, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

func setup(t *testing.T, cfg Config, opts ...Option) (*Manager, *sqlite.DB, int64) {
	t.Helper()

	db := testutil.NewDB(t)
	res, err := db.Exec(`
		INSERT INTO approval_requests (business_request_id, approval_type, created_at, updated_at)
		VALUES (1, 'parallel', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)

	store := repository.NewLockStore(db, zap.NewNop())
	return NewManager(store, cfg, opts...), db, id
}

func TestManager_AcquireAndRelease(t *testing.T) {
	pub := &capturePublisher{}
	m, _, id := setup(t, Config{}, WithPublisher(pub))
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, id, "10"))

	holder, locked, err := m.IsLocked(ctx, id)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, "10", holder)

	// re-entry by the same holder is idempotent
	require.NoError(t, m.Acquire(ctx, id, "10"))

	require.NoError(t, m.Release(ctx, id))
	_, locked, err = m.IsLocked(ctx, id)
	require.NoError(t, err)
	assert.False(t, locked)

	assert.Equal(t, []event.Type{event.TypeLockAcquired, event.TypeLockReleased}, pub.types())
}

func TestManager_DefaultsApplied(t *testing.T) {
	m := NewManager(nil, Config{})
	assert.Equal(t, DefaultConfig(), m.Config())
}

func TestManager_NotFound(t *testing.T) {
	m, _, _ := setup(t, Config{})
	ctx := context.Background()

	err := m.Acquire(ctx, 999, "10")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	err = m.Release(ctx, 999)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	err = m.WithLock(ctx, 999, "10", func(ctx context.Context) error {
		t.Fatal("fn must not run without the lock")
		return nil
	})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestManager_Timeout(t *testing.T) {
	m, _, id := setup(t, Config{
		Timeout:       time.Minute,
		CheckInterval: 5 * time.Millisecond,
		MaxWait:       50 * time.Millisecond,
	})
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, id, "10"))

	start := time.Now()
	err := m.Acquire(ctx, id, "20")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrLockTimeout))
	assert.False(t, errors.Is(err, apperr.ErrDB))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	holder, _, err := m.IsLocked(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "10", holder)
}

func TestManager_ContextCancelStopsWaiting(t *testing.T) {
	m, _, id := setup(t, Config{
		Timeout:       time.Minute,
		CheckInterval: 5 * time.Millisecond,
		MaxWait:       time.Minute,
	})
	require.NoError(t, m.Acquire(context.Background(), id, "10"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := m.Acquire(ctx, id, "20")
	assert.True(t, errors.Is(err, apperr.ErrLockTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestManager_StaleLockIsReclaimed(t *testing.T) {
	clock := time.Now()
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	m, _, id := setup(t, Config{
		Timeout:       30 * time.Second,
		CheckInterval: time.Millisecond,
		MaxWait:       time.Hour,
	}, WithClock(now))
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, id, "crashed"))

	mu.Lock()
	clock = clock.Add(31 * time.Second)
	mu.Unlock()

	// the second holder gets the lock without waiting for MaxWait
	done := make(chan error, 1)
	go func() { done <- m.Acquire(ctx, id, "20") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stale lock was not reclaimed")
	}

	holder, _, err := m.IsLocked(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "20", holder)
}

func TestManager_WithLockReleasesOnEveryPath(t *testing.T) {
	m, _, id := setup(t, Config{})
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		require.NoError(t, m.WithLock(ctx, id, "10", func(ctx context.Context) error {
			holder, locked, err := m.IsLocked(ctx, id)
			require.NoError(t, err)
			assert.True(t, locked)
			assert.True(t, strings.HasPrefix(holder, "10:"), holder)
			assert.Equal(t, "10", HolderActor(holder))
			return nil
		}))
		_, locked, err := m.IsLocked(ctx, id)
		require.NoError(t, err)
		assert.False(t, locked)
	})

	t.Run("error", func(t *testing.T) {
		sentinel := errors.New("unit failed")
		err := m.WithLock(ctx, id, "10", func(ctx context.Context) error {
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)
		_, locked, err := m.IsLocked(ctx, id)
		require.NoError(t, err)
		assert.False(t, locked)
	})

	t.Run("panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = m.WithLock(ctx, id, "10", func(ctx context.Context) error {
				panic("unexpected")
			})
		})
		_, locked, err := m.IsLocked(ctx, id)
		require.NoError(t, err)
		assert.False(t, locked)
	})

	t.Run("re-entrant call keeps outer lock", func(t *testing.T) {
		require.NoError(t, m.WithLock(ctx, id, "10", func(ctx context.Context) error {
			require.NoError(t, m.WithLock(ctx, id, "10", func(ctx context.Context) error {
				return nil
			}))
			_, locked, err := m.IsLocked(ctx, id)
			require.NoError(t, err)
			assert.True(t, locked)
			return nil
		}))
	})
}

func TestManager_MutualExclusion(t *testing.T) {
	m, _, id := setup(t, Config{
		Timeout:       time.Minute,
		CheckInterval: 2 * time.Millisecond,
		MaxWait:       30 * time.Second,
	})
	ctx := context.Background()

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)

	holders := []string{"10", "20", "30", "40"}
	for _, h := range holders {
		wg.Add(1)
		go func(holder string) {
			defer wg.Done()
			err := m.WithLock(ctx, id, holder, func(ctx context.Context) error {
				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(10 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}(h)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestManager_SameHolderConcurrentCallsExclude(t *testing.T) {
	m, _, id := setup(t, Config{
		Timeout:       time.Minute,
		CheckInterval: 2 * time.Millisecond,
		MaxWait:       30 * time.Second,
	})
	ctx := context.Background()

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock(ctx, id, "1", func(ctx context.Context) error {
				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(10 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	_, locked, err := m.IsLocked(ctx, id)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestManager_ReclaimedLockSurvivesFormerCall(t *testing.T) {
	clock := time.Now()
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	m, _, id := setup(t, Config{
		Timeout:       30 * time.Second,
		CheckInterval: time.Millisecond,
		MaxWait:       time.Hour,
	}, WithClock(now))
	ctx := context.Background()

	var second string
	err := m.WithLock(ctx, id, "1", func(context.Context) error {
		mu.Lock()
		clock = clock.Add(31 * time.Second)
		mu.Unlock()

		// same actor, unrelated call chain: reclaims the stale lock
		return m.WithLock(context.Background(), id, "1", func(ctx context.Context) error {
			holder, _, err := m.IsLocked(ctx, id)
			second = holder
			return err
		})
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(second, "1:"))

	// the inner call released its own token; the outer token no longer owns
	// the lock, so its release is a no-op rather than clearing someone else
	_, locked, err := m.IsLocked(ctx, id)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestManager_WithLockRequiresHolder(t *testing.T) {
	m, _, id := setup(t, Config{})
	err := m.WithLock(context.Background(), id, "", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestManager_ForceReleaseAndCleanup(t *testing.T) {
	pub := &capturePublisher{}
	clock := time.Now()
	m, db, id := setup(t, Config{Timeout: 30 * time.Second}, WithPublisher(pub), WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, id, "10"))
	require.NoError(t, m.ForceRelease(ctx, id, "admin"))

	_, locked, err := m.IsLocked(ctx, id)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Contains(t, pub.types(), event.TypeLockForceReleased)

	_, err = db.Exec(`UPDATE approval_requests SET locked_by = 'ghost', locked_at = ? WHERE id = ?`,
		clock.Add(-time.Minute).UnixNano(), id)
	require.NoError(t, err)

	n, err := m.CleanupExpiredLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, locked, err = m.IsLocked(ctx, id)
	require.NoError(t, err)
	assert.False(t, locked)
}
