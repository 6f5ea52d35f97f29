package sync

import (
	"math/rand"
	stdsync "sync"
	"time"
)

// backoff computes the cool-down between retry passes: exponential with
// jitter, capped at max. Reset on a pass that leaves no retryable work so a
// healthy queue always reschedules quickly.
type backoff struct {
	base time.Duration
	max  time.Duration

	mu      stdsync.Mutex
	attempt int
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max}
}

func (b *backoff) next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.base << b.attempt
	if d > b.max || d <= 0 {
		d = b.max
	} else {
		b.attempt++
	}

	// +-25% jitter so many clients retrying against a failing endpoint
	// do not storm it in lockstep; sub-2ns delays carry no jitter
	if d < 2 {
		return d
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d - d/4 + jitter
}

func (b *backoff) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}
