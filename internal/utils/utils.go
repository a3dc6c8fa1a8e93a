package utils

import (
	"sync"
	"time"
)

// Clock 提供當前時間，讓過期判斷可以在測試中被模擬
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns the wall clock.
func RealClock() Clock {
	return realClock{}
}

// FakeClock is a manually advanced Clock.
type FakeClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFakeClock creates a FakeClock starting at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// GetExpirationTime 取得有效的 TTL，未指定時回傳預設值
func GetExpirationTime(defaultTTL time.Duration, ttl ...time.Duration) time.Duration {
	if len(ttl) > 0 {
		return ttl[0]
	}
	return defaultTTL
}
