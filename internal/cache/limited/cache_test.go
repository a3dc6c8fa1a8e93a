package limited

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/graphcache/internal/models"
	"goflare.io/graphcache/internal/utils"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T, capacities map[string]int) (*Cache, *utils.FakeClock, *models.Metrics) {
	t.Helper()
	clock := utils.NewFakeClock(epoch)
	metrics := models.NewMetrics()
	c, err := New(capacities, clock, metrics, zap.NewNop())
	require.NoError(t, err)
	return c, clock, metrics
}

func entry(clock utils.Clock, data string, ttl time.Duration) *models.Entry {
	return models.NewEntry([]byte(data), false, ttl, clock.Now())
}

func TestCache_SetGet(t *testing.T) {
	c, clock, _ := newTestCache(t, map[string]int{"friends": 10})

	require.NoError(t, c.Set("friends", "@alice", entry(clock, "bob", time.Minute)))

	e, status := c.Get("friends", "@alice")
	require.Equal(t, Hit, status)
	assert.Equal(t, []byte("bob"), e.Data)
	assert.Equal(t, int64(1), e.AccessCount.Load())

	_, status = c.Get("friends", "@nobody")
	assert.Equal(t, Miss, status)
}

func TestCache_UnknownNamespace(t *testing.T) {
	c, clock, _ := newTestCache(t, map[string]int{"friends": 10})

	err := c.Set("presence", "@alice", entry(clock, "online", time.Minute))
	assert.ErrorIs(t, err, ErrUnknownNamespace)

	_, status := c.Get("presence", "@alice")
	assert.Equal(t, Miss, status)

	_, err = c.Clear("presence")
	assert.ErrorIs(t, err, ErrUnknownNamespace)
}

func TestCache_ExpiredEntryIsRemovedOnRead(t *testing.T) {
	c, clock, metrics := newTestCache(t, map[string]int{"friends": 10})
	require.NoError(t, c.Set("friends", "@alice", entry(clock, "bob", time.Minute)))

	clock.Advance(time.Minute + time.Second)

	_, status := c.Get("friends", "@alice")
	assert.Equal(t, Expired, status)
	assert.Equal(t, 0, c.Len("friends"))
	assert.Equal(t, int64(1), metrics.Evictions.Load())

	_, status = c.Get("friends", "@alice")
	assert.Equal(t, Miss, status)
}

func TestCache_LRUEvictionIsNamespaceScoped(t *testing.T) {
	c, clock, metrics := newTestCache(t, map[string]int{"friends": 2, "presence": 2})

	require.NoError(t, c.Set("presence", "@zed", entry(clock, "online", time.Minute)))
	require.NoError(t, c.Set("friends", "a", entry(clock, "1", time.Minute)))
	require.NoError(t, c.Set("friends", "b", entry(clock, "2", time.Minute)))

	// touch "a" so "b" becomes least recently used
	_, status := c.Get("friends", "a")
	require.Equal(t, Hit, status)

	require.NoError(t, c.Set("friends", "c", entry(clock, "3", time.Minute)))

	assert.Equal(t, 2, c.Len("friends"))
	_, status = c.Get("friends", "b")
	assert.Equal(t, Miss, status)
	_, status = c.Get("friends", "a")
	assert.Equal(t, Hit, status)
	_, status = c.Get("presence", "@zed")
	assert.Equal(t, Hit, status)
	assert.Equal(t, int64(1), metrics.Evictions.Load())
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	c, clock, metrics := newTestCache(t, map[string]int{"friends": 1})

	require.NoError(t, c.Set("friends", "a", entry(clock, "1", time.Minute)))
	require.NoError(t, c.Set("friends", "a", entry(clock, "2", time.Minute)))

	e, status := c.Get("friends", "a")
	require.Equal(t, Hit, status)
	assert.Equal(t, []byte("2"), e.Data)
	assert.Equal(t, int64(0), metrics.Evictions.Load())
}

func TestCache_Sweep(t *testing.T) {
	c, clock, metrics := newTestCache(t, map[string]int{"friends": 10, "presence": 10})

	require.NoError(t, c.Set("friends", "short", entry(clock, "x", time.Second)))
	require.NoError(t, c.Set("friends", "long", entry(clock, "y", time.Hour)))
	require.NoError(t, c.Set("presence", "short", entry(clock, "z", time.Second)))

	clock.Advance(2 * time.Second)

	assert.Equal(t, 2, c.Sweep(context.Background()))
	assert.Equal(t, int64(2), metrics.Evictions.Load())
	assert.Equal(t, 1, c.Len("friends"))
	assert.Equal(t, 0, c.Len("presence"))
}

func TestCache_ClearLeavesOtherNamespaces(t *testing.T) {
	c, clock, _ := newTestCache(t, map[string]int{"friends": 10, "presence": 10})

	require.NoError(t, c.Set("friends", "a", entry(clock, "1", time.Minute)))
	require.NoError(t, c.Set("presence", "a", entry(clock, "2", time.Minute)))

	n, err := c.Clear("friends")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, c.Len("friends"))
	assert.Equal(t, 1, c.Len("presence"))
}

func TestCache_HotKeys(t *testing.T) {
	c, clock, _ := newTestCache(t, map[string]int{"friends": 10})

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Set("friends", fmt.Sprintf("k%d", i), entry(clock, "v", time.Minute)))
	}
	for i := 0; i < 5; i++ {
		c.Get("friends", "k2")
	}
	for i := 0; i < 3; i++ {
		c.Get("friends", "k1")
	}
	c.Get("friends", "k0")

	assert.Equal(t, []string{"k2", "k1"}, c.HotKeys("friends", 2, 0))
	assert.Equal(t, []string{"k2"}, c.HotKeys("friends", 2, 1))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c, clock, _ := newTestCache(t, map[string]int{"friends": 64})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%100)
				_ = c.Set("friends", key, entry(clock, fmt.Sprintf("w%d", w), time.Minute))
				c.Get("friends", key)
				if i%50 == 0 {
					c.Sweep(context.Background())
				}
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len("friends"), 64)
	ns := c.Namespaces()["friends"]
	assert.Equal(t, 64, ns.MaxSize)
}
