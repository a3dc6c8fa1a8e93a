package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_Advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())
}

func TestGetExpirationTime(t *testing.T) {
	assert.Equal(t, time.Minute, GetExpirationTime(time.Minute))
	assert.Equal(t, time.Second, GetExpirationTime(time.Minute, time.Second))
}
