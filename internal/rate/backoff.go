package rate

import "time"

// Backoff returns min(base*2^failures + jitter, max). Overflow saturates at max.
func Backoff(base time.Duration, failures int, max, jitter time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if failures < 0 {
		failures = 0
	}

	d := base
	for i := 0; i < failures; i++ {
		if max > 0 && d >= max {
			return max
		}
		next := d * 2
		if next < d {
			if max > 0 {
				return max
			}
			return d
		}
		d = next
	}

	d += jitter
	if max > 0 && d > max {
		return max
	}
	return d
}
