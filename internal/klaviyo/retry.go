package klaviyo

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff waits n*step before the nth retry and gives up after max retries.
type linearBackOff struct {
	step time.Duration
	max  int
	n    int
}

func newLinearBackOff(step time.Duration, maxRetries int) *linearBackOff {
	return &linearBackOff{step: step, max: maxRetries}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	if b.n >= b.max {
		return backoff.Stop
	}
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }
