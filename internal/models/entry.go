package models

import (
	"time"

	"go.uber.org/atomic"
)

// Entry represents a cache entry held by the local tier.
type Entry struct {
	Data           []byte
	CreatedAt      time.Time
	TTL            time.Duration
	Compressed     bool
	AccessCount    *atomic.Int64
	LastAccessTime *atomic.Time
	// Replicated is set once the payload is known to be in the distributed tier.
	Replicated *atomic.Bool
}

// NewEntry creates a new Entry created at now.
func NewEntry(data []byte, compressed bool, ttl time.Duration, now time.Time) *Entry {
	return &Entry{
		Data:           data,
		CreatedAt:      now,
		TTL:            ttl,
		Compressed:     compressed,
		AccessCount:    atomic.NewInt64(0),
		LastAccessTime: atomic.NewTime(now),
		Replicated:     atomic.NewBool(false),
	}
}

// ExpiresAt returns the instant the entry stops being valid.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// IsExpired checks if the entry has expired at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// Remaining returns the TTL left at now, never negative.
func (e *Entry) Remaining(now time.Time) time.Duration {
	if d := e.ExpiresAt().Sub(now); d > 0 {
		return d
	}
	return 0
}

// Touch increments the access count and updates the last access time.
func (e *Entry) Touch(now time.Time) {
	e.AccessCount.Inc()
	e.LastAccessTime.Store(now)
}
