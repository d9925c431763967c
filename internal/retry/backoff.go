package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with jitter. The delay for the
// nth retry is BaseDelay * Factor^n, clamped to MaxDelay, then spread by
// +/- Jitter so a burst of failures does not retry in lockstep.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	Jitter    float64 // fraction of the delay, 0.0-1.0
}

// DefaultBackoff returns the delivery retry schedule: 10s, 20s, 40s, ...
// capped at 15 minutes, each spread by 20%.
func DefaultBackoff() *Backoff {
	return &Backoff{
		BaseDelay: 10 * time.Second,
		MaxDelay:  15 * time.Minute,
		Factor:    2.0,
		Jitter:    0.2,
	}
}

// NextDelay returns the delay before the next attempt given how many
// attempts have already failed. Jitter is applied after the cap so the
// ceiling itself stays spread.
func (b *Backoff) NextDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	delay := float64(b.BaseDelay) * math.Pow(b.Factor, float64(retryCount))
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	if b.Jitter > 0 {
		span := delay * b.Jitter
		delay += (rand.Float64() * 2 * span) - span
	}
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// NextRetryAt returns the wall-clock time of the next attempt.
func (b *Backoff) NextRetryAt(now time.Time, retryCount int) time.Time {
	return now.Add(b.NextDelay(retryCount))
}
