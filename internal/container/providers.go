package container

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/approval-coordinator/internal/application/dispatcher"
	"github.com/garyjia/approval-coordinator/internal/application/lock"
	"github.com/garyjia/approval-coordinator/internal/application/service"
	"github.com/garyjia/approval-coordinator/internal/application/uow"
	"github.com/garyjia/approval-coordinator/internal/infrastructure/notify"
	"github.com/garyjia/approval-coordinator/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-coordinator/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-coordinator/internal/infrastructure/worker"
	"github.com/garyjia/approval-coordinator/internal/metrics"
	"github.com/garyjia/approval-coordinator/pkg/database"
	"github.com/garyjia/approval-coordinator/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn           *database.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase opens the database and, when configured, applies pending
// migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	conn, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if _, err := database.NewMigrator(conn, logger).Run(); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		Conn:           conn,
		TransactionMgr: sqlite.NewDB(conn.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories over one transaction manager.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Requests:    repository.NewRequestRepository(db, logger),
		Tasks:       repository.NewTaskRepository(db, logger),
		Delegations: repository.NewDelegationRepository(db, logger),
		Audit:       repository.NewAuditRepository(db, logger),
		Locks:       repository.NewLockStore(db, logger),
		Directory:   repository.NewDirectoryRepository(db, logger),
	}, nil
}

// EventBundle holds the event fan-out and its subscribers.
type EventBundle struct {
	Dispatcher dispatcher.Dispatcher
	Metrics    *metrics.Metrics
	Redis      *redis.Client
	Forwarder  *notify.RedisForwarder
}

// ProvideEvents creates the dispatcher and attaches the metrics, logging and
// optional Redis subscribers.
func ProvideEvents(ctx context.Context, cfg *Config, logger *zap.Logger) (*EventBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	opts := []dispatcher.Option{dispatcher.WithLogger(utils.NewKVLogger(logger))}
	if cfg.Events.Sync {
		opts = append(opts, dispatcher.WithSyncPublish())
	}
	disp := dispatcher.NewDispatcher(opts...)

	m := metrics.New()
	disp.SubscribeAll(m)

	if cfg.Events.LogEvents {
		disp.SubscribeAll(notify.NewLogSubscriber(logger))
	}

	bundle := &EventBundle{Dispatcher: disp, Metrics: m}

	if cfg.Redis.Enabled {
		rcfg := notify.RedisConfig{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			ChannelPrefix: cfg.Redis.ChannelPrefix,
			RecentLimit:   cfg.Redis.RecentLimit,
			RecentTTL:     cfg.Redis.RecentTTL,
		}
		client, err := notify.NewRedisClient(ctx, rcfg)
		if err != nil {
			_ = disp.Close()
			return nil, err
		}
		bundle.Redis = client
		bundle.Forwarder = notify.NewRedisForwarder(client, rcfg)
		disp.SubscribeAll(bundle.Forwarder)
		logger.Info("Redis event forwarding enabled",
			zap.String("addr", cfg.Redis.Addr),
			zap.String("channel_prefix", cfg.Redis.ChannelPrefix))
	}

	return bundle, nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	TxManager *sqlite.DB
	Events    *EventBundle
	Config    *Config
	Logger    *zap.Logger
	Clock     func() time.Time
}

// ProvideServices creates the unit of work coordinator, the lock manager,
// the authorizer and both application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Events == nil {
		return nil, fmt.Errorf("events are required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	kv := utils.NewKVLogger(deps.Logger)
	publisher := deps.Events.Dispatcher

	coordinator := uow.New(deps.TxManager,
		uow.WithRetryDelay(deps.Config.UoW.RetryDelay),
		uow.WithObserver(deps.Events.Metrics),
		uow.WithLogger(deps.Logger.Named("uow")),
	)

	lockOpts := []lock.Option{
		lock.WithLogger(kv),
		lock.WithPublisher(publisher),
		lock.WithObserver(deps.Events.Metrics),
	}
	if deps.Clock != nil {
		lockOpts = append(lockOpts, lock.WithClock(deps.Clock))
	}
	locks := lock.NewManager(deps.Repos.Locks, lock.Config{
		Timeout:       deps.Config.Lock.Timeout,
		CheckInterval: deps.Config.Lock.CheckInterval,
		MaxWait:       deps.Config.Lock.MaxWait,
	}, lockOpts...)

	authorizer := service.NewAssignmentAuthorizer(
		deps.Repos.Tasks,
		deps.Repos.Delegations,
		deps.Repos.Directory,
		deps.Config.Auth.AdminIDs,
		deps.Clock,
	)

	approvals := service.NewApprovalService(service.ApprovalDeps{
		Requests:      deps.Repos.Requests,
		Tasks:         deps.Repos.Tasks,
		Audit:         deps.Repos.Audit,
		Business:      deps.Repos.Directory,
		Users:         deps.Repos.Directory,
		Authorizer:    authorizer,
		Locker:        locks,
		UoW:           coordinator,
		Publisher:     publisher,
		Logger:        kv,
		RetryAttempts: deps.Config.UoW.RetryAttempts,
		HoldLimit:     deps.Config.HoldLimit(),
		Clock:         deps.Clock,
	})

	delegations := service.NewDelegationService(
		deps.Repos.Delegations,
		deps.Repos.Tasks,
		deps.Repos.Directory,
		authorizer,
		coordinator,
		publisher,
		kv,
		deps.Clock,
	)

	return &ServiceBundle{
		UoW:        coordinator,
		Locks:      locks,
		Authorizer: authorizer,
		Approval:   approvals,
		Delegation: delegations,
	}, nil
}

// ProvideWorkers creates the worker manager with the sweeper registered
// when enabled. Workers are not started.
func ProvideWorkers(cfg *SweeperConfig, services *ServiceBundle, logger *zap.Logger) (*worker.WorkerManager, *worker.Sweeper, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("sweeper config is required")
	}
	if services == nil {
		return nil, nil, fmt.Errorf("services are required")
	}
	if logger == nil {
		return nil, nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(logger)
	sweeper := worker.NewSweeper(worker.SweeperConfig{
		Interval:   cfg.Interval,
		RunTimeout: cfg.RunTimeout,
	}, services.Locks, services.Delegation, services.Approval, logger.Named("sweeper"))

	if cfg.Enabled {
		manager.Register(sweeper)
	}

	return manager, sweeper, nil
}
