// Package resilience provides the circuit breaker, backoff policy, and
// transport error taxonomy shared by the fetch and remediation paths.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state; requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitHalfOpen means the connector is degraded (elevated error rate)
	// but still callable.
	CircuitHalfOpen
	// CircuitOpen means too many consecutive failures. Regular fetches are
	// rejected; only remediation probes reach the provider.
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half-open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a fetch is rejected because the circuit
// is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default: 5.
	FailureThreshold int

	// ErrorRateThreshold is the rolling error rate (0..1) over the
	// measurement window that moves a closed circuit to half-open.
	// Default: 0.30.
	ErrorRateThreshold float64

	// Window is the measurement window for the rolling error rate.
	// Default: 10m.
	Window time.Duration

	// MinSamples is the minimum number of calls in the window before the
	// error rate is meaningful. Default: 5.
	MinSamples int

	// OnStateChange is called (outside the lock) when the circuit
	// transitions between states.
	OnStateChange func(from, to CircuitState)
}

// DefaultBreakerConfig returns the documented defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:   5,
		ErrorRateThreshold: 0.30,
		Window:             10 * time.Minute,
		MinSamples:         5,
	}
}

type outcome struct {
	at time.Time
	ok bool
}

// Breaker implements the three-state circuit breaker for one connector.
// closed -> open after FailureThreshold consecutive failures; closed ->
// half-open when the rolling error rate exceeds ErrorRateThreshold; open or
// half-open -> closed on the next successful call.
type Breaker struct {
	cfg BreakerConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	outcomes            []outcome

	nowFunc func() time.Time
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = 0.30
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 5
	}
	return &Breaker{
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// SetClock injects a time source for deterministic tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nowFunc = now
}

// Allow reports whether a regular fetch may proceed. Open circuits reject;
// closed and half-open circuits admit. Remediation probes bypass Allow and
// call Record directly.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Record feeds one call outcome into the breaker and applies any state
// transition. Success resets the consecutive-failure counter and closes an
// open or half-open circuit.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	now := b.nowFunc()
	b.outcomes = append(b.outcomes, outcome{at: now, ok: success})
	b.prune(now)

	from := b.state
	if success {
		b.consecutiveFailures = 0
		b.state = CircuitClosed
	} else {
		b.consecutiveFailures++
		switch b.state {
		case CircuitClosed, CircuitHalfOpen:
			if b.consecutiveFailures >= b.cfg.FailureThreshold {
				b.state = CircuitOpen
			} else if b.errorRateLocked() > b.cfg.ErrorRateThreshold {
				// Stays half-open until a success or the failure
				// threshold opens it fully.
				b.state = CircuitHalfOpen
			}
		}
	}
	to := b.state
	cb := b.cfg.OnStateChange
	b.mu.Unlock()

	if from != to && cb != nil {
		cb(from, to)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counters returns the consecutive failure count and rolling error rate
// for observability.
func (b *Breaker) Counters() (consecutiveFailures int, errorRate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.nowFunc())
	return b.consecutiveFailures, b.errorRateLocked()
}

// Reset forces the circuit back to closed. Used on manual recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = CircuitClosed
	b.consecutiveFailures = 0
	b.outcomes = nil
	cb := b.cfg.OnStateChange
	b.mu.Unlock()

	if from != CircuitClosed && cb != nil {
		cb(from, CircuitClosed)
	}
}

// errorRateLocked computes the rolling error rate over the pruned window.
// Returns 0 when there are fewer than MinSamples calls.
func (b *Breaker) errorRateLocked() float64 {
	if len(b.outcomes) < b.cfg.MinSamples {
		return 0
	}
	var errs int
	for _, o := range b.outcomes {
		if !o.ok {
			errs++
		}
	}
	return float64(errs) / float64(len(b.outcomes))
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for ; i < len(b.outcomes); i++ {
		if !b.outcomes[i].at.Before(cutoff) {
			break
		}
	}
	if i > 0 {
		b.outcomes = append(b.outcomes[:0], b.outcomes[i:]...)
	}
}
