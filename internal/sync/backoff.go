package sync

import (
	"math"
	"time"
)

// Backoff returns min(base * 2^failures, max). failures counts the failed
// attempts before the one being scheduled, so the first retry waits base.
// A max <= 0 means no ceiling.
func Backoff(base, max time.Duration, failures int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < failures; i++ {
		if max > 0 && d >= max {
			break
		}
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
