package models

import "go.uber.org/atomic"

// Metrics 定義指標統計
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Sets      atomic.Int64
	Deletes   atomic.Int64
	Evictions atomic.Int64
}

// NewMetrics 創建新的 Metrics 實例
func NewMetrics() *Metrics {
	return &Metrics{}
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (m *Metrics) HitRate() float64 {
	return hitRate(m.Hits.Load(), m.Misses.Load())
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total <= 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Snapshot copies the counters at one point in time.
func (m *Metrics) Snapshot() Snapshot {
	hits, misses := m.Hits.Load(), m.Misses.Load()
	return Snapshot{
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate(hits, misses),
		Sets:      m.Sets.Load(),
		Deletes:   m.Deletes.Load(),
		Evictions: m.Evictions.Load(),
	}
}
