package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LockJanitor clears request locks whose holders went away
type LockJanitor interface {
	CleanupExpiredLocks(ctx context.Context) (int64, error)
}

// DelegationJanitor moves lapsed delegations to expired
type DelegationJanitor interface {
	CleanupExpiredDelegations(ctx context.Context) (int64, error)
}

// Escalator escalates requests whose deadline passed
type Escalator interface {
	EscalateOverdue(ctx context.Context) (int, error)
}

// SweeperConfig holds configuration for the maintenance sweeper
type SweeperConfig struct {
	Interval time.Duration
	// RunTimeout bounds a single sweep
	RunTimeout time.Duration
}

// DefaultSweeperConfig returns default configuration
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   time.Minute,
		RunTimeout: 30 * time.Second,
	}
}

// SweepResult summarizes one sweep
type SweepResult struct {
	LocksCleared       int64
	DelegationsExpired int64
	RequestsEscalated  int
	Errors             []error
}

// Err returns the first error of the sweep, if any
func (r SweepResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// SweeperStats is a snapshot of sweeper runtime state
type SweeperStats struct {
	IsRunning bool
	Runs      int
	Failures  int
	LastRun   time.Time
	LastError string
}

// Sweeper periodically performs housekeeping that no request-path operation
// triggers on its own: stale lock cleanup, delegation expiry and deadline
// escalation. Any janitor may be nil.
type Sweeper struct {
	config      SweeperConfig
	locks       LockJanitor
	delegations DelegationJanitor
	escalator   Escalator
	logger      *zap.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	runs      int
	failures  int
	lastRun   time.Time
	lastError error
}

// NewSweeper creates a new sweeper
func NewSweeper(config SweeperConfig, locks LockJanitor, delegations DelegationJanitor, escalator Escalator, logger *zap.Logger) *Sweeper {
	def := DefaultSweeperConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = def.RunTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		config:      config,
		locks:       locks,
		delegations: delegations,
		escalator:   escalator,
		logger:      logger,
	}
}

// Name returns the worker name for identification
func (s *Sweeper) Name() string {
	return "Sweeper"
}

// Start begins the sweep loop
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.isRunning = true
	s.mu.Unlock()

	s.logger.Info("Sweeper started", zap.Duration("interval", s.config.Interval))

	go s.loop(runCtx, s.done)
	return nil
}

// Stop terminates the loop and waits for an in-flight sweep to finish
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	stats := s.Stats()
	s.logger.Info("Sweeper stopped",
		zap.Int("runs", stats.Runs),
		zap.Int("failures", stats.Failures))
	return nil
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. Each step runs even when an earlier one
// failed.
func (s *Sweeper) RunOnce(ctx context.Context) SweepResult {
	ctx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	var res SweepResult

	if s.locks != nil {
		n, err := s.locks.CleanupExpiredLocks(ctx)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("cleanup locks: %w", err))
		}
		res.LocksCleared = n
	}

	if s.delegations != nil {
		n, err := s.delegations.CleanupExpiredDelegations(ctx)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("expire delegations: %w", err))
		}
		res.DelegationsExpired = n
	}

	if s.escalator != nil {
		n, err := s.escalator.EscalateOverdue(ctx)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("escalate overdue: %w", err))
		}
		res.RequestsEscalated = n
	}

	s.mu.Lock()
	s.runs++
	s.lastRun = time.Now()
	s.lastError = res.Err()
	if s.lastError != nil {
		s.failures++
	}
	s.mu.Unlock()

	if err := res.Err(); err != nil {
		s.logger.Error("Sweep finished with errors",
			zap.Int("error_count", len(res.Errors)),
			zap.Error(err))
	} else if res.LocksCleared > 0 || res.DelegationsExpired > 0 || res.RequestsEscalated > 0 {
		s.logger.Info("Sweep finished",
			zap.Int64("locks_cleared", res.LocksCleared),
			zap.Int64("delegations_expired", res.DelegationsExpired),
			zap.Int("requests_escalated", res.RequestsEscalated))
	}

	return res
}

// Stats returns a snapshot of the sweeper state
func (s *Sweeper) Stats() SweeperStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := SweeperStats{
		IsRunning: s.isRunning,
		Runs:      s.runs,
		Failures:  s.failures,
		LastRun:   s.lastRun,
	}
	if s.lastError != nil {
		stats.LastError = s.lastError.Error()
	}
	return stats
}
