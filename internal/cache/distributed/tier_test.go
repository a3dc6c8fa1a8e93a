package distributed

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/graphcache/internal/config"
)

func setupTestTier(t *testing.T) (*Tier, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Distributed.Host = mr.Host()
	cfg.Distributed.Port = port
	cfg.Distributed.ConnectTimeout = time.Second
	cfg.Distributed.SocketTimeout = time.Second
	cfg.Resilience.BreakerFailures = 2

	tier, err := New(NewClient(cfg.Distributed), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tier.Close() })

	return tier, mr
}

func TestTier_SetGetDelete(t *testing.T) {
	tier, mr := setupTestTier(t)
	ctx := context.Background()

	require.NoError(t, tier.Ping(ctx))
	require.NoError(t, tier.SetWithExpiry(ctx, "friends:@alice", []byte("payload"), time.Hour))

	data, err := tier.Get(ctx, "friends:@alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, time.Hour, mr.TTL("friends:@alice"))

	ttl, err := tier.TTL(ctx, "friends:@alice")
	require.NoError(t, err)
	assert.InDelta(t, float64(time.Hour), float64(ttl), float64(time.Second))

	require.NoError(t, tier.Delete(ctx, "friends:@alice"))
	_, err = tier.Get(ctx, "friends:@alice")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = tier.TTL(ctx, "friends:@alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTier_GetWithTTL(t *testing.T) {
	tier, mr := setupTestTier(t)
	ctx := context.Background()

	require.NoError(t, tier.SetWithExpiry(ctx, "presence:@bob", []byte("online"), 10*time.Second))
	data, ttl, err := tier.GetWithTTL(ctx, "presence:@bob")
	require.NoError(t, err)
	assert.Equal(t, []byte("online"), data)
	assert.InDelta(t, float64(10*time.Second), float64(ttl), float64(time.Second))

	require.NoError(t, mr.Set("presence:@carol", "away"))
	_, ttl, err = tier.GetWithTTL(ctx, "presence:@carol")
	require.NoError(t, err)
	assert.Zero(t, ttl)

	_, _, err = tier.GetWithTTL(ctx, "presence:@nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTier_BackendExpiry(t *testing.T) {
	tier, mr := setupTestTier(t)
	ctx := context.Background()

	require.NoError(t, tier.SetWithExpiry(ctx, "presence:@bob", []byte("online"), 30*time.Second))
	mr.FastForward(31 * time.Second)

	_, err := tier.Get(ctx, "presence:@bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTier_DeleteByPrefix(t *testing.T) {
	tier, mr := setupTestTier(t)
	ctx := context.Background()

	for i := 0; i < 1200; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("friends:%d", i), "x"))
	}
	require.NoError(t, mr.Set("friend_requests:1", "y"))
	require.NoError(t, mr.Set("presence:1", "z"))

	n, err := tier.DeleteByPrefix(ctx, "friends:")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), n)

	assert.True(t, mr.Exists("friend_requests:1"))
	assert.True(t, mr.Exists("presence:1"))
	assert.Len(t, mr.Keys(), 2)
}

func TestTier_UnavailableOpensBreaker(t *testing.T) {
	tier, mr := setupTestTier(t)
	ctx := context.Background()
	mr.Close()

	for i := 0; i < 3; i++ {
		_, err := tier.Get(ctx, "friends:@alice")
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, tier.State())

	err := tier.SetWithExpiry(ctx, "friends:@alice", []byte("x"), time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	assert.ErrorIs(t, tier.Ping(ctx), ErrUnavailable)
}

func TestNew_BackoffStrategy(t *testing.T) {
	cfg := config.Default()
	for _, backoff := range []string{"", "linear", "fibonacci"} {
		cfg.Resilience.Backoff = backoff
		_, err := New(NewClient(cfg.Distributed), cfg)
		assert.NoError(t, err, backoff)
	}

	cfg.Resilience.Backoff = "quadratic"
	_, err := New(NewClient(cfg.Distributed), cfg)
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "friends:@alice", Key("friends:", "@alice"))
	assert.Equal(t, "cache:@alice", Key("", "@alice"))
}

func TestEscapePattern(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]e\\f`, EscapePattern(`a*b?c[d]e\f`))
	assert.Equal(t, "friends:", EscapePattern("friends:"))
}
