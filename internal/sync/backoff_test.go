package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := newBackoff(time.Second, 8*time.Second)

	prevCeiling := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := b.next()
		// jitter keeps every delay within [0.75x, 1.25x] of the nominal value
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 10*time.Second)
		if d > prevCeiling {
			prevCeiling = d
		}
	}
	// after enough attempts the nominal delay is pinned at max
	d := b.next()
	assert.GreaterOrEqual(t, d, 6*time.Second)
}

func TestBackoff_ZeroScheduleDoesNotPanic(t *testing.T) {
	b := newBackoff(0, 0)
	for i := 0; i < 3; i++ {
		assert.Equal(t, time.Duration(0), b.next())
	}

	// a 1ns delay is below the jitter granularity and passes through as-is
	b = newBackoff(1, 1)
	assert.Equal(t, time.Duration(1), b.next())
}

func TestBackoff_Reset(t *testing.T) {
	b := newBackoff(time.Second, time.Minute)
	for i := 0; i < 5; i++ {
		b.next()
	}
	b.reset()

	d := b.next()
	assert.LessOrEqual(t, d, 1250*time.Millisecond)
}
