package redisqueue

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryDelay is the wait before retry number attempt (1-based): base, 2*base,
// 4*base and so on, capped at limit when limit is positive.
func RetryDelay(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt < 1 {
		return 0
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         limit,
	}
	if limit <= 0 {
		b.MaxInterval = time.Duration(1<<62 - 1)
	}
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
