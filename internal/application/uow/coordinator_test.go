package uow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/approval-coordinator/internal/domain/apperr"
	"github.com/garyjia/approval-coordinator/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTxManager counts commits and rollbacks without a database
type fakeTxManager struct {
	mu        sync.Mutex
	begins    int
	commits   int
	rollbacks int
}

type fakeTxKey struct{}

func (m *fakeTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}

	m.mu.Lock()
	m.begins++
	m.mu.Unlock()

	err := fn(context.WithValue(ctx, fakeTxKey{}, true))

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.rollbacks++
		return err
	}
	m.commits++
	return nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
	depths []int
}

func (o *recordingObserver) OnStart(depth int) {
	o.record("start", depth)
}

func (o *recordingObserver) OnCommit(depth int, _ time.Duration) {
	o.record("commit", depth)
}

func (o *recordingObserver) OnRollback(depth int, _ time.Duration, _ error) {
	o.record("rollback", depth)
}

func (o *recordingObserver) record(evt string, depth int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, evt)
	o.depths = append(o.depths, depth)
}

func TestExecute_CommitsOnSuccess(t *testing.T) {
	tm := &fakeTxManager{}
	obs := &recordingObserver{}
	c := New(tm, WithObserver(obs))

	got, err := Execute(context.Background(), c, func(ctx context.Context) (int, error) {
		assert.Equal(t, 1, Depth(ctx))
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, tm.commits)
	assert.Equal(t, 0, tm.rollbacks)
	assert.Equal(t, []string{"start", "commit"}, obs.events)
}

func TestExecute_RollsBackOnError(t *testing.T) {
	tm := &fakeTxManager{}
	obs := &recordingObserver{}
	c := New(tm, WithObserver(obs))

	t.Run("plain error becomes db_error", func(t *testing.T) {
		_, err := Execute(context.Background(), c, func(ctx context.Context) (int, error) {
			return 0, errors.New("constraint failed")
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrDB))
	})

	t.Run("classified error keeps its kind", func(t *testing.T) {
		_, err := Execute(context.Background(), c, func(ctx context.Context) (int, error) {
			return 0, apperr.InvalidStatus("approve", "task already decided")
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrInvalidStatus))
	})

	t.Run("panic rolls back", func(t *testing.T) {
		_, err := Execute(context.Background(), c, func(ctx context.Context) (int, error) {
			panic("boom")
		})
		require.Error(t, err)
		assert.Equal(t, apperr.KindDBError, apperr.KindOf(err))
	})

	assert.Equal(t, 0, tm.commits)
	assert.Equal(t, 3, tm.rollbacks)
	assert.Equal(t, []string{"start", "rollback", "start", "rollback", "start", "rollback"}, obs.events)
}

func TestExecute_NestedJoinsOuter(t *testing.T) {
	tm := &fakeTxManager{}
	obs := &recordingObserver{}
	c := New(tm, WithObserver(obs))

	err := c.Run(context.Background(), func(ctx context.Context) error {
		return c.Run(ctx, func(inner context.Context) error {
			assert.Equal(t, 2, Depth(inner))
			return nil
		})
	})

	require.NoError(t, err)
	assert.Equal(t, 1, tm.begins)
	assert.Equal(t, 1, tm.commits)
	assert.Equal(t, []int{1, 2, 2, 1}, obs.depths)
	assert.Equal(t, 0, Depth(context.Background()))
}

func TestExecuteWithRetry(t *testing.T) {
	t.Run("stops at first success", func(t *testing.T) {
		c := New(&fakeTxManager{}, WithRetryDelay(time.Millisecond))
		calls := 0

		got, err := ExecuteWithRetry(context.Background(), c, 3, func(ctx context.Context) (string, error) {
			calls++
			if calls < 2 {
				return "", errors.New("database is locked")
			}
			return "done", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "done", got)
		assert.Equal(t, 2, calls)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		tm := &fakeTxManager{}
		c := New(tm, WithRetryDelay(time.Millisecond))
		calls := 0

		_, err := ExecuteWithRetry(context.Background(), c, 3, func(ctx context.Context) (int, error) {
			calls++
			return 0, apperr.LockTimeout("acquire", "busy")
		})

		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrLockTimeout))
		assert.Equal(t, 3, calls)
		assert.Equal(t, 3, tm.rollbacks)
	})

	t.Run("does not retry validation", func(t *testing.T) {
		c := New(&fakeTxManager{}, WithRetryDelay(time.Millisecond))
		calls := 0

		_, err := ExecuteWithRetry(context.Background(), c, 5, func(ctx context.Context) (int, error) {
			calls++
			return 0, apperr.Validation("create", "empty approvers")
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("at least one attempt", func(t *testing.T) {
		c := New(&fakeTxManager{})
		calls := 0

		_, err := ExecuteWithRetry(context.Background(), c, 0, func(ctx context.Context) (int, error) {
			calls++
			return 1, nil
		})

		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		c := New(&fakeTxManager{}, WithRetryDelay(time.Hour))
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0

		_, err := ExecuteWithRetry(ctx, c, 3, func(ctx context.Context) (int, error) {
			calls++
			cancel()
			return 0, errors.New("database is locked")
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("deadline shorter than the delay stops retrying", func(t *testing.T) {
		c := New(&fakeTxManager{}, WithRetryDelay(time.Hour))
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		calls := 0

		start := time.Now()
		_, err := ExecuteWithRetry(ctx, c, 3, func(ctx context.Context) (int, error) {
			calls++
			return 0, apperr.LockTimeout("acquire", "busy")
		})

		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrLockTimeout), "last unit error is kept")
		assert.Equal(t, 1, calls)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestExecute_SQLiteRollbackLeavesNoRows(t *testing.T) {
	db := testutil.NewDB(t)
	c := New(db)
	ctx := context.Background()

	insert := func(ctx context.Context, id int64) error {
		_, err := db.Executor(ctx).ExecContext(ctx, `INSERT INTO users (id, name) VALUES (?, 'x')`, id)
		return err
	}

	err := c.Run(ctx, func(ctx context.Context) error {
		if err := insert(ctx, 1); err != nil {
			return err
		}
		return insert(ctx, 1) // duplicate primary key
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrDB))

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM users`))
	assert.Zero(t, count)

	require.NoError(t, c.Run(ctx, func(ctx context.Context) error {
		return insert(ctx, 2)
	}))
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM users`))
	assert.Equal(t, 1, count)
}
