package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	allowed, count, err := client.FixedWindowAllow(ctx, "orders:ip:10.0.0.1", 2, time.Second)
	require.NoError(t, err)
	require.True(t, allowed)
	require.EqualValues(t, 1, count)
	require.Len(t, mock.expireCalls, 1, "expire set on first increment")

	allowed, count, err = client.FixedWindowAllow(ctx, "orders:ip:10.0.0.1", 2, time.Second)
	require.NoError(t, err)
	require.True(t, allowed)
	require.EqualValues(t, 2, count)
	require.Len(t, mock.expireCalls, 1, "expire should not be set again")

	allowed, _, err = client.FixedWindowAllow(ctx, "orders:ip:10.0.0.1", 2, time.Second)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestDelIfValue(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	ok, err := client.SetNX(ctx, "km:lock:sweeper", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := client.DelIfValue(ctx, "km:lock:sweeper", "owner-b")
	require.NoError(t, err)
	require.False(t, removed, "foreign owner must not release")

	removed, err = client.DelIfValue(ctx, "km:lock:sweeper", "owner-a")
	require.NoError(t, err)
	require.True(t, removed)

	_, err = client.Get(ctx, "km:lock:sweeper")
	require.True(t, IsNil(err))
}

func TestZeroClientReportsNotInitialized(t *testing.T) {
	client := &Client{}
	require.ErrorIs(t, client.Ping(context.Background()), ErrNotInitialized)
	_, err := client.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	require.Equal(t, "km:idempotency:webhook:tx-1", client.IdempotencyKey("webhook", "tx-1"))
	require.Equal(t, "km:rate_limit:orders", client.RateLimitKey("orders"))
	require.Equal(t, "km:lock:cron-worker", client.LockKey("cron-worker"))
	require.Equal(t, "km:gateway:tx:abc", client.GatewayKey("tx", "abc"))
	require.Equal(t, "km:idempotency:scope", client.IdempotencyKey("scope", ""), "empty parts are skipped")
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	expireCalls []expireCall
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(_ context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: ttl})
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

// The only script the client runs is compare-and-delete.
func (m *mockCmdable) compareAndDelete(keys []string, args []any) *redis.Cmd {
	if v, ok := m.data[keys[0]]; ok && v == fmt.Sprint(args[0]) {
		delete(m.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (m *mockCmdable) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return m.compareAndDelete(keys, args)
}

func (m *mockCmdable) EvalSha(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return m.compareAndDelete(keys, args)
}

func (m *mockCmdable) EvalRO(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return m.compareAndDelete(keys, args)
}

func (m *mockCmdable) EvalShaRO(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return m.compareAndDelete(keys, args)
}

func (m *mockCmdable) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (m *mockCmdable) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}
