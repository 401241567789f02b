package executor

import (
	"math/rand"
	"time"
)

// backoff is exponential with jitter: base * 2^(attempt-1), plus up to 20%
// jitter so retried tasks across a run don't all wake at once.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := base

	for i := 1; i < attempt; i++ {
		d *= 2
	}

	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1)) //nolint:gosec // jitter, not security sensitive

	return d + jitter
}
