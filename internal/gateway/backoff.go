package gateway

import (
	"math/rand/v2"
	"time"
)

// Backoff computes the wait before reconnect attempt n (zero-based).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// RandFunc returns a pseudo-random value in [0, n).
type RandFunc func(n int64) int64

func defaultRand(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return rand.Int64N(n)
}

// ExponentialBackoff doubles from Base up to Max and adds up to Jitter.
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
	Rand   RandFunc
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := b.Base
	for i := 0; i < attempt && delay < b.Max; i++ {
		delay *= 2
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay + jitter(b.Rand, b.Jitter)
}

// FixedBackoff always waits the same duration.
type FixedBackoff struct {
	Wait time.Duration
}

func (b FixedBackoff) Delay(int) time.Duration {
	return b.Wait
}

func jitter(r RandFunc, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	if r == nil {
		r = defaultRand
	}
	return time.Duration(r(int64(max)))
}

// between returns a value in [lo, hi].
func between(r RandFunc, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	if r == nil {
		r = defaultRand
	}
	return lo + time.Duration(r(int64(hi-lo)+1))
}
