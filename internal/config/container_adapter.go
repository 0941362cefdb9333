package config

import (
	"github.com/garyjia/approval-coordinator/internal/container"
	"github.com/garyjia/approval-coordinator/pkg/utils"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			AutoMigrate:     c.Database.AutoMigrate,
		},
		Server: container.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			ReadTimeout:     c.Server.ReadTimeout,
			WriteTimeout:    c.Server.WriteTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
		},
		Lock: container.LockConfig{
			Timeout:       c.Lock.Timeout,
			CheckInterval: c.Lock.CheckInterval,
			MaxWait:       c.Lock.MaxWait,
		},
		UoW: container.UoWConfig{
			RetryAttempts: c.UoW.RetryAttempts,
			RetryDelay:    c.UoW.RetryDelay,
		},
		Sweeper: container.SweeperConfig{
			Enabled:    c.Sweeper.Enabled,
			Interval:   c.Sweeper.Interval,
			RunTimeout: c.Sweeper.RunTimeout,
		},
		Redis: container.RedisConfig{
			Enabled:       c.Redis.Enabled,
			Addr:          c.Redis.Addr,
			Password:      c.Redis.Password,
			DB:            c.Redis.DB,
			ChannelPrefix: c.Redis.ChannelPrefix,
			RecentLimit:   c.Redis.RecentLimit,
			RecentTTL:     c.Redis.RecentTTL,
		},
		Auth: container.AuthConfig{
			AdminIDs: append([]int64(nil), c.Auth.AdminIDs...),
		},
		Events: container.EventsConfig{
			Sync:      c.Events.Sync,
			LogEvents: c.Events.LogEvents,
		},
	}
}

// LoggerSettings returns the settings for utils.NewLogger
func (c *Config) LoggerSettings() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
	}
}
