package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garyjia/approval-coordinator/internal/application/dispatcher"
	"github.com/garyjia/approval-coordinator/internal/application/lock"
	"github.com/garyjia/approval-coordinator/internal/application/port"
	"github.com/garyjia/approval-coordinator/internal/application/service"
	"github.com/garyjia/approval-coordinator/internal/application/uow"
	"github.com/garyjia/approval-coordinator/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-coordinator/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-coordinator/internal/infrastructure/worker"
	"github.com/garyjia/approval-coordinator/internal/interfaces/http"
	"github.com/garyjia/approval-coordinator/internal/metrics"
	"github.com/garyjia/approval-coordinator/pkg/database"
	"github.com/garyjia/approval-coordinator/pkg/utils"
	"go.uber.org/zap"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger
	clock  func() time.Time

	// Infrastructure - Data
	conn         *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Events
	events *EventBundle

	// Application
	services *ServiceBundle

	// Workers
	workers *worker.WorkerManager
	sweeper *worker.Sweeper

	// Lifecycle
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Requests    *repository.RequestRepository
	Tasks       *repository.TaskRepository
	Delegations *repository.DelegationRepository
	Audit       *repository.AuditRepository
	Locks       *repository.LockStore
	Directory   *repository.DirectoryRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	UoW        *uow.Coordinator
	Locks      *lock.Manager
	Authorizer port.Authorizer
	Approval   service.ApprovalService
	Delegation service.DelegationService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Option configures a Container
type Option func(*Container)

// WithClock replaces time.Now for every time-dependent component
func WithClock(clock func() time.Time) Option {
	return func(c *Container) {
		c.clock = clock
	}
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start initializes all components and begins background work.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Event dispatcher, metrics and subscribers
// 3. Application services
// 4. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initEvents(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize events: %w", err)
	}
	c.logger.Info("Event dispatcher initialized")

	if err := c.initServices(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	if err := c.initWorkers(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return errors.Join(errs...)
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever has been initialized so far
func (c *Container) teardown() []error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
		c.workers = nil
	}

	if c.events != nil {
		if err := c.events.Dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
		if c.events.Redis != nil {
			if err := c.events.Redis.Close(); err != nil {
				c.logger.Error("Failed to close redis client", zap.Error(err))
				errs = append(errs, fmt.Errorf("close redis: %w", err))
			}
		}
		c.events = nil
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.conn = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	mark := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	if c.conn != nil {
		if err := c.conn.PingContext(ctx); err != nil {
			mark("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			mark("database", true, "")
		}
		if c.events != nil {
			c.events.Metrics.UpdateDatabaseStats(c.conn.Stats())
		}
	} else {
		mark("database", false, "not initialized")
	}

	if c.events != nil {
		mark("dispatcher", true, "")
		if c.events.Redis != nil {
			if err := c.events.Redis.Ping(ctx).Err(); err != nil {
				mark("redis", false, fmt.Sprintf("ping failed: %v", err))
			} else {
				mark("redis", true, "")
			}
		}
	} else {
		mark("dispatcher", false, "not initialized")
	}

	if c.workers != nil {
		started := len(c.workers.Running())
		mark("workers", started == c.workers.GetWorkerCount(),
			fmt.Sprintf("running %d of %d", started, c.workers.GetWorkerCount()))
	} else {
		mark("workers", false, "not initialized")
	}

	return status
}

// HealthCheck reports the first unhealthy component as an error
func (c *Container) HealthCheck(ctx context.Context) error {
	status := c.Health(ctx)
	if status.Overall {
		return nil
	}
	for name, comp := range status.Components {
		if !comp.Healthy {
			return fmt.Errorf("%s: %s", name, comp.Message)
		}
	}
	return fmt.Errorf("unhealthy")
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.conn = bundle.Conn
	c.db = bundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initEvents() error {
	events, err := ProvideEvents(c.ctx, c.config, c.logger)
	if err != nil {
		return err
	}
	c.events = events
	return nil
}

func (c *Container) initServices() error {
	services, err := ProvideServices(&ServiceDeps{
		Repos:     c.repositories,
		TxManager: c.db,
		Events:    c.events,
		Config:    c.config,
		Logger:    c.logger,
		Clock:     c.clock,
	})
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

func (c *Container) initWorkers() error {
	workers, sweeper, err := ProvideWorkers(&c.config.Sweeper, c.services, c.logger)
	if err != nil {
		return err
	}
	c.workers = workers
	c.sweeper = sweeper

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

// NewHTTPServer builds the API server over the container's services
func (c *Container) NewHTTPServer(version string) (*http.Server, error) {
	if !c.ready.Load() {
		return nil, fmt.Errorf("container not started")
	}

	return http.NewServer(http.ServerConfig{
		Host:            c.config.Server.Host,
		Port:            c.config.Server.Port,
		ReadTimeout:     c.config.Server.ReadTimeout,
		WriteTimeout:    c.config.Server.WriteTimeout,
		ShutdownTimeout: c.config.Server.ShutdownTimeout,
		Version:         version,
	}, http.ServerDeps{
		Approvals:      c.services.Approval,
		Delegations:    c.services.Delegation,
		Authorizer:     c.services.Authorizer,
		Locks:          c.services.Locks,
		Recorder:       c.events.Metrics,
		MetricsHandler: c.events.Metrics.Handler(),
		Health:         c.HealthCheck,
		Logger:         utils.NewKVLogger(c.logger.Named("http")),
	}), nil
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// DB returns the transaction manager.
func (c *Container) DB() *sqlite.DB {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	if c.events == nil {
		return nil
	}
	return c.events.Dispatcher
}

// Metrics returns the Prometheus collectors.
func (c *Container) Metrics() *metrics.Metrics {
	if c.events == nil {
		return nil
	}
	return c.events.Metrics
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Sweeper returns the maintenance sweeper, registered or not.
func (c *Container) Sweeper() *worker.Sweeper {
	return c.sweeper
}
