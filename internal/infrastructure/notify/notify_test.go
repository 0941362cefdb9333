package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/approval-coordinator/internal/domain/event"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeRedis struct {
	mu         sync.Mutex
	published  map[string][]string
	lists      map[string][]string
	ttl        map[string]time.Duration
	publishErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		published: make(map[string][]string),
		lists:     make(map[string][]string),
		ttl:       make(map[string]time.Duration),
	}
}

func asString(v interface{}) string {
	switch m := v.(type) {
	case []byte:
		return string(m)
	case string:
		return m
	}
	return ""
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return redis.NewIntResult(0, f.publishErr)
	}
	f.published[channel] = append(f.published[channel], asString(message))
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.lists[key] = append([]string{asString(v)}, f.lists[key]...)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) LTrim(_ context.Context, key string, start, stop int64) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lists[key]
	if stop+1 < int64(len(list)) {
		f.lists[key] = list[start : stop+1]
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) LRange(_ context.Context, key string, _, _ int64) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewStringSliceResult(append([]string(nil), f.lists[key]...), nil)
}

func (f *fakeRedis) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttl[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func TestRedisForwarder_PublishesJSON(t *testing.T) {
	fake := newFakeRedis()
	fwd := NewRedisForwarder(fake, RedisConfig{})

	evt := event.NewEvent(event.TypeTaskApproved, "user:10", map[string]interface{}{"status": "approved"}).
		ForRequest(3).ForTask(9)
	require.NoError(t, fwd.Handle(context.Background(), evt))

	msgs := fake.published["approval.task.approved"]
	require.Len(t, msgs, 1)

	var decoded event.Event
	require.NoError(t, json.Unmarshal([]byte(msgs[0]), &decoded))
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, int64(3), decoded.RequestID)
	assert.Equal(t, int64(9), decoded.TaskID)
	assert.Equal(t, "approved", decoded.GetPayloadString("status"))

	assert.Empty(t, fake.lists, "history disabled by default")
}

func TestRedisForwarder_History(t *testing.T) {
	fake := newFakeRedis()
	fwd := NewRedisForwarder(fake, RedisConfig{ChannelPrefix: "ac", RecentLimit: 2, RecentTTL: time.Hour})
	ctx := context.Background()

	for _, typ := range []event.Type{event.TypeRequestCreated, event.TypeTaskApproved, event.TypeRequestApproved} {
		require.NoError(t, fwd.Handle(ctx, event.NewEvent(typ, "system", nil).ForRequest(5)))
	}
	// not request scoped
	require.NoError(t, fwd.Handle(ctx, event.NewEvent(event.TypeDelegationCreated, "user:1", nil).ForDelegation(2)))

	recent, err := fwd.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, event.TypeRequestApproved, recent[0].Type)
	assert.Equal(t, event.TypeTaskApproved, recent[1].Type)
	assert.Equal(t, time.Hour, fake.ttl["ac:request:5:events"])
	assert.Len(t, fake.published["ac.delegation.created"], 1)
}

func TestRedisForwarder_PublishError(t *testing.T) {
	fake := newFakeRedis()
	fake.publishErr = errors.New("connection refused")
	fwd := NewRedisForwarder(fake, RedisConfig{RecentLimit: 10})

	err := fwd.Handle(context.Background(), event.NewEvent(event.TypeRequestCreated, "system", nil).ForRequest(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, fake.lists)
}

func TestLogSubscriber(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sub := NewLogSubscriber(zap.New(core))

	assert.Equal(t, "log", sub.Name())
	evt := event.NewEvent(event.TypeDelegationRevoked, "user:5", map[string]interface{}{"reason": "back early"}).
		ForDelegation(4)
	require.NoError(t, sub.Handle(context.Background(), evt))

	entries := logs.FilterMessage("Lifecycle event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "delegation.revoked", fields["event_type"])
	assert.Equal(t, int64(4), fields["delegation_id"])
	assert.Equal(t, "user:5", fields["actor_id"])
	assert.NotContains(t, fields, "request_id")
	assert.Equal(t, "events", entries[0].LoggerName)
}
