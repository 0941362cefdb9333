// Package uow runs units of work atomically. A unit commits when it returns
// a nil error and rolls back on any error or panic; a unit never commits partially.
package uow

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/approval-coordinator/internal/application/port"
	"github.com/garyjia/approval-coordinator/internal/domain/apperr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName = "github.com/garyjia/approval-coordinator/uow"

	// DefaultRetryDelay is the fixed pause between ExecuteWithRetry attempts
	DefaultRetryDelay = 100 * time.Millisecond
)

// Observer receives unit-of-work lifecycle notifications
type Observer interface {
	OnStart(depth int)
	OnCommit(depth int, elapsed time.Duration)
	OnRollback(depth int, elapsed time.Duration, err error)
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithRetryDelay sets the delay between retry attempts
func WithRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithObserver registers a lifecycle observer
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer sets the tracer used for unit spans
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// Coordinator wraps functions in transactions obtained from a TransactionManager
type Coordinator struct {
	tm         port.TransactionManager
	retryDelay time.Duration
	observers  []Observer
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New creates a Coordinator
func New(tm port.TransactionManager, opts ...Option) *Coordinator {
	c := &Coordinator{
		tm:         tm,
		retryDelay: DefaultRetryDelay,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type depthKey struct{}

// Depth returns how many units enclose ctx. Zero outside any unit.
func Depth(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

// Run executes unit atomically when no result value is needed
func (c *Coordinator) Run(ctx context.Context, unit func(ctx context.Context) error) error {
	_, err := Execute(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, unit(ctx)
	})
	return err
}

// RunWithRetry is the result-less form of ExecuteWithRetry
func (c *Coordinator) RunWithRetry(ctx context.Context, maxAttempts int, unit func(ctx context.Context) error) error {
	_, err := ExecuteWithRetry(ctx, c, maxAttempts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, unit(ctx)
	})
	return err
}

// Execute runs unit inside a transaction. A nested call joins the enclosing
// transaction; only the outermost unit commits. Errors without a kind are
// reported as db_error.
func Execute[T any](ctx context.Context, c *Coordinator, unit func(ctx context.Context) (T, error)) (result T, err error) {
	depth := Depth(ctx) + 1
	ctx = context.WithValue(ctx, depthKey{}, depth)

	ctx, span := c.tracer.Start(ctx, "uow.execute", trace.WithAttributes(attribute.Int("uow.depth", depth)))
	defer span.End()

	start := time.Now()
	c.notifyStart(depth)

	err = c.tm.WithTransaction(ctx, func(txCtx context.Context) (unitErr error) {
		defer func() {
			if p := recover(); p != nil {
				unitErr = apperr.Wrap(apperr.KindDBError, "uow", fmt.Errorf("unit panicked: %v", p))
			}
		}()
		result, unitErr = unit(txCtx)
		return unitErr
	})

	elapsed := time.Since(start)
	if err != nil {
		var zero T
		err = apperr.DB("uow", err)

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("Unit of work rolled back",
			zap.Int("depth", depth),
			zap.Duration("elapsed", elapsed),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err))
		c.notifyRollback(depth, elapsed, err)
		return zero, err
	}

	span.SetStatus(codes.Ok, "")
	c.notifyCommit(depth, elapsed)
	return result, nil
}

// ExecuteWithRetry calls Execute up to maxAttempts times with a fixed delay,
// stopping at the first success. Errors that cannot succeed on retry are
// returned immediately. When ctx has a deadline that the next delay would
// reach, the last error is returned without another attempt.
func ExecuteWithRetry[T any](ctx context.Context, c *Coordinator, maxAttempts int, unit func(ctx context.Context) (T, error)) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = Execute(ctx, c, unit)
		if err == nil {
			return result, nil
		}
		if !apperr.Retryable(err) || attempt == maxAttempts {
			break
		}

		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= c.retryDelay {
			c.logger.Info("Retry budget exhausted",
				zap.Int("attempt", attempt),
				zap.Time("deadline", deadline),
				zap.Error(err))
			break
		}

		c.logger.Info("Retrying unit of work",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))

		select {
		case <-ctx.Done():
			var zero T
			return zero, apperr.DB("uow", ctx.Err())
		case <-time.After(c.retryDelay):
		}
	}

	var zero T
	return zero, err
}

func (c *Coordinator) notifyStart(depth int) {
	for _, o := range c.observers {
		o.OnStart(depth)
	}
}

func (c *Coordinator) notifyCommit(depth int, elapsed time.Duration) {
	for _, o := range c.observers {
		o.OnCommit(depth, elapsed)
	}
}

func (c *Coordinator) notifyRollback(depth int, elapsed time.Duration, err error) {
	for _, o := range c.observers {
		o.OnRollback(depth, elapsed, err)
	}
}
