package outbox

import (
	"math"
	"time"
)

// DelayFunc returns how long to wait after the given number of consecutive
// failed attempts, starting at 0.
type DelayFunc func(attempt int) time.Duration

// Fixed returns a DelayFunc that always waits delay.
func Fixed(delay time.Duration) DelayFunc {
	return func(int) time.Duration {
		return delay
	}
}

// Exponential returns a DelayFunc that doubles delay on every attempt, capped
// at maxDelay. With 1s and 1m: 1s, 2s, 4s, ... 32s, 1m, 1m.
func Exponential(delay time.Duration, maxDelay time.Duration) DelayFunc {
	// Largest shift that cannot overflow int64.
	var maxShifts uint
	if delay > 0 {
		if logDelay := math.Floor(math.Log2(float64(delay))); logDelay < 62 {
			maxShifts = 62 - uint(logDelay)
		}
	}

	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return min(delay, maxDelay)
		}

		// nolint:gosec
		n := min(uint(attempt), maxShifts)
		return min(delay<<n, maxDelay)
	}
}
