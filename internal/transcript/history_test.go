package transcript

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crtlab/crtchat/internal/session"
)

func newTestCache(t *testing.T, ttl time.Duration) (*HistoryCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewHistoryCacheFromClient(client, "", ttl)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestHistoryCacheAppendAndLoad(t *testing.T) {
	cache, _ := newTestCache(t, 0)
	ctx := context.Background()

	turns := []session.Turn{
		{SessionID: "111111111111111", Seq: 0, Role: session.RoleUser, Content: "q1", Timestamp: time.Now().UTC().Truncate(time.Second)},
		{SessionID: "111111111111111", Seq: 1, Role: session.RoleAssistant, Content: "a1", Timestamp: time.Now().UTC().Truncate(time.Second)},
	}
	require.NoError(t, cache.Append(ctx, "111111111111111", turns...))

	got, err := cache.Load(ctx, "111111111111111")
	require.NoError(t, err)
	assert.Equal(t, turns, got)
}

func TestHistoryCacheMissReturnsEmpty(t *testing.T) {
	cache, _ := newTestCache(t, 0)

	got, err := cache.Load(context.Background(), "999999999999999")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHistoryCacheTTL(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	turn := session.Turn{SessionID: "111111111111111", Seq: 0, Role: session.RoleUser, Content: "q1"}
	require.NoError(t, cache.Append(ctx, "111111111111111", turn))

	mr.FastForward(2 * time.Minute)

	got, err := cache.Load(ctx, "111111111111111")
	require.NoError(t, err)
	assert.Empty(t, got, "expired history should read as a miss")
}

func TestHistoryCacheReplace(t *testing.T) {
	cache, _ := newTestCache(t, 0)
	ctx := context.Background()

	require.NoError(t, cache.Append(ctx, "111111111111111",
		session.Turn{SessionID: "111111111111111", Seq: 0, Role: session.RoleUser, Content: "stale"}))

	fresh := []session.Turn{
		{SessionID: "111111111111111", Seq: 0, Role: session.RoleUser, Content: "q1"},
		{SessionID: "111111111111111", Seq: 1, Role: session.RoleAssistant, Content: "a1"},
	}
	require.NoError(t, cache.Replace(ctx, "111111111111111", fresh))

	got, err := cache.Load(ctx, "111111111111111")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "q1", got[0].Content)
}

func TestHistoryCacheOutage(t *testing.T) {
	cache, mr := newTestCache(t, 0)
	mr.Close()

	_, err := cache.Load(context.Background(), "111111111111111")
	assert.Error(t, err)
}
