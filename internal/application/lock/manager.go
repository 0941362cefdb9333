// Package lock serializes mutations of one approval request across callers
// through a persisted, time-bounded holder record.
package lock

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/approval-coordinator/internal/application/port"
	"github.com/garyjia/approval-coordinator/internal/domain/apperr"
	"github.com/garyjia/approval-coordinator/internal/domain/event"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/garyjia/approval-coordinator/lock"

// Config holds lock tunables
type Config struct {
	// Timeout is the age after which a lock counts as stale and may be reclaimed
	Timeout time.Duration
	// CheckInterval is the pause between acquisition attempts
	CheckInterval time.Duration
	// MaxWait bounds how long Acquire polls before giving up
	MaxWait time.Duration
}

// DefaultConfig returns 30s / 100ms / 300s
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		CheckInterval: 100 * time.Millisecond,
		MaxWait:       300 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = def.CheckInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = def.MaxWait
	}
	return c
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Observer is told how long each acquisition waited
type Observer interface {
	OnAcquire(waited time.Duration, err error)
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets a logger for the manager
func WithLogger(logger Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithPublisher sets the sink for lock events
func WithPublisher(p port.EventPublisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithObserver registers an acquisition observer
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// Manager acquires and releases request locks
type Manager struct {
	store     port.LockStore
	cfg       Config
	logger    Logger
	publisher port.EventPublisher
	observer  Observer
	now       func() time.Time
	tracer    trace.Tracer
}

// NewManager creates a lock manager over store
func NewManager(store port.LockStore, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		cfg:       cfg.withDefaults(),
		publisher: port.NopPublisher{},
		now:       time.Now,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective tunables
func (m *Manager) Config() Config {
	return m.cfg
}

// Acquire blocks until holderID owns the lock on resourceID, the wait
// exceeds MaxWait (lock_timeout) or ctx is done. Acquiring a lock already
// owned by holderID succeeds immediately.
func (m *Manager) Acquire(ctx context.Context, resourceID int64, holderID string) error {
	if holderID == "" {
		return apperr.Validation("lock.acquire", "holder id is required")
	}
	_, err := m.acquire(ctx, resourceID, holderID, holderID)
	return err
}

// acquire reports whether this call took the lock (false when holderID
// already owns it). actorID is reported on events.
func (m *Manager) acquire(ctx context.Context, resourceID int64, holderID, actorID string) (acquired bool, err error) {
	const op = "lock.acquire"

	ctx, span := m.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.Int64("lock.resource_id", resourceID),
		attribute.String("lock.holder_id", holderID),
	))
	start := m.now()
	defer func() {
		waited := m.now().Sub(start)
		span.SetAttributes(attribute.Int64("lock.waited_ms", waited.Milliseconds()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if m.observer != nil {
			m.observer.OnAcquire(waited, err)
		}
	}()

	deadline := start.Add(m.cfg.MaxWait)
	attempts := 0

	for {
		attempts++
		now := m.now()

		ok, err := m.store.TryAcquire(ctx, resourceID, holderID, now, now.Add(-m.cfg.Timeout))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, apperr.Wrap(apperr.KindLockTimeout, op, ctxErr)
			}
			return false, apperr.DB(op, err)
		}
		if ok {
			m.publish(ctx, event.TypeLockAcquired, resourceID, actorID, map[string]interface{}{
				"attempts": attempts,
				"holder":   holderID,
			})
			return true, nil
		}

		state, err := m.store.Get(ctx, resourceID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, apperr.Wrap(apperr.KindLockTimeout, op, ctxErr)
			}
			return false, apperr.DB(op, err)
		}
		if state == nil {
			return false, apperr.NotFound(op, "request %d not found", resourceID)
		}
		if state.HolderID == holderID {
			return false, nil
		}
		if !state.Held() {
			// released between our update and read
			continue
		}
		if state.LockedAt != nil && now.Sub(*state.LockedAt) > m.cfg.Timeout {
			// stale, the next conditional update reclaims it
			if m.logger != nil {
				m.logger.Info("Reclaiming stale lock",
					"resource_id", resourceID,
					"stale_holder", state.HolderID,
					"holder_id", holderID,
				)
			}
			continue
		}

		remaining := deadline.Sub(m.now())
		if remaining <= 0 {
			if m.logger != nil {
				m.logger.Error("Lock wait exceeded",
					"resource_id", resourceID,
					"holder_id", holderID,
					"current_holder", state.HolderID,
					"max_wait", m.cfg.MaxWait,
				)
			}
			return false, apperr.LockTimeout(op, "request %d is locked by %s", resourceID, state.HolderID)
		}

		wait := m.cfg.CheckInterval
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, apperr.Wrap(apperr.KindLockTimeout, op, ctx.Err())
		case <-timer.C:
		}
	}
}

// Release clears the lock on resourceID whoever holds it
func (m *Manager) Release(ctx context.Context, resourceID int64) error {
	ok, err := m.store.Release(ctx, resourceID)
	if err != nil {
		return apperr.DB("lock.release", err)
	}
	if !ok {
		return apperr.NotFound("lock.release", "request %d not found", resourceID)
	}
	m.publish(ctx, event.TypeLockReleased, resourceID, "", nil)
	return nil
}

// WithLock runs fn while holding the lock on resourceID on behalf of
// holderID. Each call takes the lock under its own token "<holderID>:<uuid>",
// so two concurrent calls for the same holder still exclude each other.
// Only a call nested inside fn (same context chain) re-enters. The lock is
// released on every exit path, including a panic in fn, and only while this
// call's token still owns it.
func (m *Manager) WithLock(ctx context.Context, resourceID int64, holderID string, fn func(ctx context.Context) error) error {
	if holderID == "" {
		return apperr.Validation("lock.acquire", "holder id is required")
	}
	if _, ok := heldToken(ctx, resourceID); ok {
		return fn(ctx)
	}

	token := holderID + ":" + uuid.NewString()
	if _, err := m.acquire(ctx, resourceID, token, holderID); err != nil {
		return err
	}
	defer m.releaseHeld(context.WithoutCancel(ctx), resourceID, token, holderID)

	return fn(withHeld(ctx, resourceID, token))
}

// HolderActor strips the per-call token suffix WithLock adds to a holder
func HolderActor(holder string) string {
	actor, _, _ := strings.Cut(holder, ":")
	return actor
}

type heldKey struct{}

// heldLocks maps resource ids to the token this call chain holds them with.
// It is copied on write so sibling goroutines never share a mutation.
type heldLocks map[int64]string

func heldToken(ctx context.Context, resourceID int64) (string, bool) {
	held, _ := ctx.Value(heldKey{}).(heldLocks)
	token, ok := held[resourceID]
	return token, ok
}

func withHeld(ctx context.Context, resourceID int64, token string) context.Context {
	prev, _ := ctx.Value(heldKey{}).(heldLocks)
	next := make(heldLocks, len(prev)+1)
	for k, v := range prev {
		next[k] = v
	}
	next[resourceID] = token
	return context.WithValue(ctx, heldKey{}, next)
}

func (m *Manager) releaseHeld(ctx context.Context, resourceID int64, holderID, actorID string) {
	ok, err := m.store.ReleaseIfHeld(ctx, resourceID, holderID)
	if err != nil {
		if m.logger != nil {
			m.logger.Error("Failed to release lock",
				"resource_id", resourceID,
				"holder_id", holderID,
				"error", err,
			)
		}
		return
	}
	if !ok {
		if m.logger != nil {
			m.logger.Info("Lock was reclaimed before release",
				"resource_id", resourceID,
				"holder_id", holderID,
			)
		}
		return
	}
	m.publish(ctx, event.TypeLockReleased, resourceID, actorID, map[string]interface{}{
		"holder": holderID,
	})
}

// ForceRelease clears a lock regardless of holder. Callers must check that
// actorID is privileged.
func (m *Manager) ForceRelease(ctx context.Context, resourceID int64, actorID string) error {
	state, err := m.store.Get(ctx, resourceID)
	if err != nil {
		return apperr.DB("lock.force_release", err)
	}
	if state == nil {
		return apperr.NotFound("lock.force_release", "request %d not found", resourceID)
	}

	if _, err := m.store.Release(ctx, resourceID); err != nil {
		return apperr.DB("lock.force_release", err)
	}

	if m.logger != nil {
		m.logger.Info("Lock force released",
			"resource_id", resourceID,
			"previous_holder", state.HolderID,
			"actor_id", actorID,
		)
	}
	m.publish(ctx, event.TypeLockForceReleased, resourceID, actorID, map[string]interface{}{
		"previous_holder": state.HolderID,
	})
	return nil
}

// CleanupExpiredLocks clears every lock older than the configured timeout
func (m *Manager) CleanupExpiredLocks(ctx context.Context) (int64, error) {
	n, err := m.store.ReleaseStale(ctx, m.now().Add(-m.cfg.Timeout))
	if err != nil {
		return 0, apperr.DB("lock.cleanup", err)
	}
	if n > 0 && m.logger != nil {
		m.logger.Info("Expired locks cleared", "count", n)
	}
	return n, nil
}

// IsLocked reports the current holder of resourceID. A stale lock still
// counts as held until it is reclaimed or swept.
func (m *Manager) IsLocked(ctx context.Context, resourceID int64) (string, bool, error) {
	state, err := m.store.Get(ctx, resourceID)
	if err != nil {
		return "", false, apperr.DB("lock.state", err)
	}
	if state == nil {
		return "", false, apperr.NotFound("lock.state", "request %d not found", resourceID)
	}
	return state.HolderID, state.Held(), nil
}

func (m *Manager) publish(ctx context.Context, t event.Type, resourceID int64, actorID string, payload map[string]interface{}) {
	m.publisher.Publish(ctx, event.NewEvent(t, actorID, payload).ForRequest(resourceID))
}
