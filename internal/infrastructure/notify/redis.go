package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/approval-coordinator/internal/domain/event"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection settings for the event channel
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
	// RecentLimit caps the per-request event history list; 0 disables it
	RecentLimit int64
	RecentTTL   time.Duration
}

// NewRedisClient connects and pings the server
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisClient is the subset of *redis.Client the forwarder uses
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisForwarder publishes each event as JSON on "<prefix>.<type>" and,
// for request-scoped events, keeps a capped history list per request.
type RedisForwarder struct {
	client RedisClient
	cfg    RedisConfig
}

// NewRedisForwarder creates a forwarder
func NewRedisForwarder(client RedisClient, cfg RedisConfig) *RedisForwarder {
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "approval"
	}
	return &RedisForwarder{client: client, cfg: cfg}
}

func (f *RedisForwarder) Name() string {
	return "redis"
}

// Channel returns the pub/sub channel for an event type
func (f *RedisForwarder) Channel(t event.Type) string {
	return f.cfg.ChannelPrefix + "." + t.String()
}

func (f *RedisForwarder) historyKey(requestID int64) string {
	return fmt.Sprintf("%s:request:%d:events", f.cfg.ChannelPrefix, requestID)
}

func (f *RedisForwarder) Handle(ctx context.Context, evt *event.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}

	if err := f.client.Publish(ctx, f.Channel(evt.Type), body).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", evt.ID, err)
	}

	if f.cfg.RecentLimit <= 0 || evt.RequestID == 0 {
		return nil
	}

	key := f.historyKey(evt.RequestID)
	if err := f.client.LPush(ctx, key, body).Err(); err != nil {
		return fmt.Errorf("record event %s: %w", evt.ID, err)
	}
	if err := f.client.LTrim(ctx, key, 0, f.cfg.RecentLimit-1).Err(); err != nil {
		return fmt.Errorf("trim history %s: %w", key, err)
	}
	if f.cfg.RecentTTL > 0 {
		if err := f.client.Expire(ctx, key, f.cfg.RecentTTL).Err(); err != nil {
			return fmt.Errorf("expire history %s: %w", key, err)
		}
	}
	return nil
}

// Recent returns the newest-first event history of a request
func (f *RedisForwarder) Recent(ctx context.Context, requestID int64) ([]*event.Event, error) {
	raw, err := f.client.LRange(ctx, f.historyKey(requestID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	events := make([]*event.Event, 0, len(raw))
	for _, item := range raw {
		var evt event.Event
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		events = append(events, &evt)
	}
	return events, nil
}
