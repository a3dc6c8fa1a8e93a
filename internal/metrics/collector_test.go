package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/graphcache/internal/models"
)

func TestCollector(t *testing.T) {
	snapshot := models.Snapshot{
		Hits:      3,
		Misses:    1,
		HitRate:   0.75,
		Sets:      4,
		Deletes:   2,
		Evictions: 5,
		Namespaces: map[string]models.NamespaceSnapshot{
			"user_presence": {Size: 7, MaxSize: 20000},
		},
	}
	c := NewCollector(func() models.Snapshot { return snapshot }, nil)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP graphcache_hits_total Lookups answered by either tier.
# TYPE graphcache_hits_total counter
graphcache_hits_total 3
# HELP graphcache_hit_rate hits / (hits + misses), 0 before any lookup.
# TYPE graphcache_hit_rate gauge
graphcache_hit_rate 0.75
# HELP graphcache_local_entries Entries held in the local tier.
# TYPE graphcache_local_entries gauge
graphcache_local_entries{namespace="user_presence"} 7
# HELP graphcache_local_capacity Maximum local entries.
# TYPE graphcache_local_capacity gauge
graphcache_local_capacity{namespace="user_presence"} 20000
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"graphcache_hits_total", "graphcache_hit_rate", "graphcache_local_entries", "graphcache_local_capacity")
	assert.NoError(t, err)

	assert.Equal(t, 8, testutil.CollectAndCount(c))
}

func TestCollector_ReadsFreshSnapshot(t *testing.T) {
	var calls int
	c := NewCollector(func() models.Snapshot {
		calls++
		return models.Snapshot{Misses: int64(calls)}
	}, prometheus.Labels{"service": "social"})

	assert.Equal(t, 6, testutil.CollectAndCount(c))
	assert.Equal(t, 6, testutil.CollectAndCount(c))
	assert.Equal(t, 2, calls)
}
