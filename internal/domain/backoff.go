package domain

import (
	"math"
	"math/rand"
	"time"
)

// Delay computes the retry delay for the given (zero-based) retry count.
// Grounded on the teacher's internal/scheduler.retryDelay: exponential
// backoff doubles per attempt with +-25% jitter, capped at MaxBackoff;
// linear backoff grows by a fixed increment; fixed never changes.
func (p BackoffPolicy) Delay(retryCount int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 30 * time.Second
	}
	cap := p.MaxBackoff
	if cap <= 0 {
		cap = time.Hour
	}

	switch p.Kind {
	case BackoffLinear:
		d := base * time.Duration(retryCount+1)
		if d > cap {
			d = cap
		}
		return d
	case BackoffFixed:
		return base
	default: // BackoffExponential
		d := time.Duration(float64(base) * math.Pow(2, float64(retryCount)))
		if d > cap || d <= 0 {
			d = cap
		}
		jitter := time.Duration(rand.Int63n(int64(d/2+1))) - d/4
		d += jitter
		if d > cap {
			d = cap
		}
		return d
	}
}

// ExhaustedRetries reports whether retryCount has used up the policy's
// budget, at which point the caller must Fail the row instead of
// rescheduling it (spec §4.1: "After MaxAttempts retries, the dispatcher
// invokes Fail").
func (p BackoffPolicy) ExhaustedRetries(retryCount int) bool {
	max := p.MaxAttempts
	if max <= 0 {
		max = 8
	}
	return retryCount >= max
}
