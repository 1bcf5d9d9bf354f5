package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffPolicy computes exponential retry delays with an optional additive
// uniform jitter, so retries across connectors do not synchronize.
type BackoffPolicy struct {
	// Initial is the delay before the first retry. Default: 1s.
	Initial time.Duration

	// Max caps the computed delay before jitter. Default: 60s.
	Max time.Duration

	// Multiplier scales the delay per attempt. Default: 2.0.
	Multiplier float64

	// JitterEnabled adds a uniform random delay in [0, JitterMax).
	JitterEnabled bool

	// JitterMax bounds the additive jitter. Default: 500ms.
	JitterMax time.Duration
}

// DefaultBackoffPolicy returns the documented defaults.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:       1000 * time.Millisecond,
		Max:           60000 * time.Millisecond,
		Multiplier:    2.0,
		JitterEnabled: true,
		JitterMax:     500 * time.Millisecond,
	}
}

func (p BackoffPolicy) withDefaults() BackoffPolicy {
	if p.Initial <= 0 {
		p.Initial = 1000 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 60000 * time.Millisecond
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.JitterMax < 0 {
		p.JitterMax = 0
	}
	return p
}

// Base returns the delay before attempt (1-based) without jitter:
// min(Max, Initial * Multiplier^(attempt-1)). Monotonically non-decreasing
// and capped at Max.
func (p BackoffPolicy) Base(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.Max) {
		d = float64(p.Max)
	}
	return time.Duration(d)
}

// Delay returns the delay before attempt including jitter when enabled.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := p.Base(attempt)
	if p.JitterEnabled && p.JitterMax > 0 {
		d += time.Duration(rand.Int64N(int64(p.JitterMax)))
	}
	return d
}
