package resilience

import (
	"testing"
	"time"
)

func TestBackoff_BaseSequence(t *testing.T) {
	p := BackoffPolicy{
		Initial:    1000 * time.Millisecond,
		Max:        60000 * time.Millisecond,
		Multiplier: 2.0,
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		32000 * time.Millisecond,
		60000 * time.Millisecond,
		60000 * time.Millisecond,
	}
	for i, w := range want {
		got := p.Base(i + 1)
		if got != w {
			t.Errorf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestBackoff_MonotonicNonDecreasing(t *testing.T) {
	p := DefaultBackoffPolicy()
	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := p.Base(attempt)
		if d < prev {
			t.Fatalf("attempt %d: delay %v decreased from %v", attempt, d, prev)
		}
		if d > p.Max {
			t.Fatalf("attempt %d: delay %v exceeds cap %v", attempt, d, p.Max)
		}
		prev = d
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	p := DefaultBackoffPolicy()
	base := p.Base(3)
	for i := 0; i < 100; i++ {
		d := p.Delay(3)
		if d < base || d >= base+p.JitterMax {
			t.Fatalf("jittered delay %v outside [%v, %v)", d, base, base+p.JitterMax)
		}
	}
}

func TestBackoff_JitterDisabled(t *testing.T) {
	p := DefaultBackoffPolicy()
	p.JitterEnabled = false
	if p.Delay(2) != p.Base(2) {
		t.Errorf("expected no jitter when disabled")
	}
}

func TestBackoff_ZeroValuesUseDefaults(t *testing.T) {
	var p BackoffPolicy
	if p.Base(1) != 1000*time.Millisecond {
		t.Errorf("expected default initial 1s, got %v", p.Base(1))
	}
}
