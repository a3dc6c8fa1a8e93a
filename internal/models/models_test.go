package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntry_IsExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	e := NewEntry([]byte("x"), false, time.Hour, now)

	assert.False(t, e.IsExpired(now))
	assert.False(t, e.IsExpired(now.Add(59*time.Minute)))
	assert.True(t, e.IsExpired(now.Add(time.Hour)))
	assert.True(t, e.IsExpired(now.Add(time.Hour+time.Second)))
	assert.Equal(t, 30*time.Minute, e.Remaining(now.Add(30*time.Minute)))
	assert.Equal(t, time.Duration(0), e.Remaining(now.Add(2*time.Hour)))
}

func TestEntry_Touch(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	e := NewEntry(nil, false, time.Minute, now)

	later := now.Add(10 * time.Second)
	e.Touch(later)
	e.Touch(later)

	assert.Equal(t, int64(2), e.AccessCount.Load())
	assert.Equal(t, later, e.LastAccessTime.Load())
}

func TestMetrics_HitRate(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, 0.0, m.HitRate())

	m.Misses.Inc()
	assert.Equal(t, 0.0, m.HitRate())

	m.Hits.Add(3)
	assert.InDelta(t, 0.75, m.HitRate(), 1e-9)

	s := m.Snapshot()
	assert.Equal(t, int64(3), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.GreaterOrEqual(t, s.HitRate, 0.0)
	assert.LessOrEqual(t, s.HitRate, 1.0)
}
