// Package container provides dependency injection and lifecycle management
// for the approval coordinator.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Lock     LockConfig
	UoW      UoWConfig
	Sweeper  SweeperConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Events   EventsConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// AutoMigrate applies pending migrations on start
	AutoMigrate bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LockConfig holds request lock settings.
type LockConfig struct {
	// Timeout is the age after which a lock is stale
	Timeout time.Duration

	// CheckInterval is the pause between acquisition attempts
	CheckInterval time.Duration

	// MaxWait bounds a single acquisition
	MaxWait time.Duration
}

// UoWConfig holds unit of work retry settings.
type UoWConfig struct {
	// RetryAttempts bounds decision retries. Retries run inside the request
	// lock, so their delays must fit within half of lock.timeout.
	RetryAttempts int
	RetryDelay    time.Duration
}

// HoldLimit is the longest a decision may keep a request locked: half the
// lock timeout, leaving the rest as margin before the lock reads as stale.
func (c *Config) HoldLimit() time.Duration {
	return c.Lock.Timeout / 2
}

// SweeperConfig holds the maintenance sweeper settings.
type SweeperConfig struct {
	Enabled    bool
	Interval   time.Duration
	RunTimeout time.Duration
}

// RedisConfig holds the optional event forwarding settings.
type RedisConfig struct {
	Enabled       bool
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
	RecentLimit   int64
	RecentTTL     time.Duration
}

// AuthConfig lists users that are always administrators.
type AuthConfig struct {
	AdminIDs []int64
}

// EventsConfig controls event delivery.
type EventsConfig struct {
	// Sync delivers events on the publishing goroutine
	Sync bool

	// LogEvents attaches the logging subscriber
	LogEvents bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/approval.db",
			MaxOpenConns:    8,
			MaxIdleConns:    4,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Lock: LockConfig{
			Timeout:       30 * time.Second,
			CheckInterval: 100 * time.Millisecond,
			MaxWait:       300 * time.Second,
		},
		UoW: UoWConfig{
			RetryAttempts: 3,
			RetryDelay:    100 * time.Millisecond,
		},
		Sweeper: SweeperConfig{
			Enabled:    true,
			Interval:   time.Minute,
			RunTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			ChannelPrefix: "approval",
			RecentLimit:   50,
			RecentTTL:     7 * 24 * time.Hour,
		},
		Events: EventsConfig{
			LogEvents: true,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("lock.timeout must be positive")
	}
	if c.Lock.CheckInterval <= 0 {
		return fmt.Errorf("lock.check_interval must be positive")
	}
	if c.Lock.MaxWait < c.Lock.CheckInterval {
		return fmt.Errorf("lock.max_wait must be at least lock.check_interval")
	}

	if c.UoW.RetryAttempts < 1 {
		return fmt.Errorf("uow.retry_attempts must be at least 1")
	}
	if delays := time.Duration(c.UoW.RetryAttempts-1) * c.UoW.RetryDelay; delays >= c.HoldLimit() {
		return fmt.Errorf("uow retry delays (%s) must be shorter than half of lock.timeout (%s)", delays, c.Lock.Timeout)
	}

	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be positive when the sweeper is enabled")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	return nil
}
