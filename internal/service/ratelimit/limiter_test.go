package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	l := NewWithClock(func() time.Time { return now })

	assert.True(t, l.Allow("acc", 2, 1))
	assert.True(t, l.Allow("acc", 2, 1))
	assert.False(t, l.Allow("acc", 2, 1))
	assert.True(t, l.Allow("other", 2, 1), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("acc", 2, 1))
	assert.False(t, l.Allow("acc", 2, 1))

	l.Reset("acc")
	assert.True(t, l.Allow("acc", 2, 1))
}
