package backoff

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		code int
		want Outcome
	}{
		{CodeNormalClosure, Stop},
		{CodeAbnormalClosure, Retry},
		{CodeTryAgainLater, Retry},
		{CodeAuthFailed, FailAuth},
		{1001, Retry},
		{1011, Retry},
		{4000, Retry},
	}

	for _, tc := range cases {
		if got := Classify(tc.code); got != tc.want {
			t.Errorf("Classify(%d) = %s, want %s", tc.code, got, tc.want)
		}
	}
}

func TestDelayWithinJitterBounds(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Max: 2 * time.Second, MaxAttempts: 5}

	for attempt := 0; attempt < 8; attempt++ {
		raw := p.Base * (1 << attempt)
		if raw > p.Max {
			raw = p.Max
		}
		lo := time.Duration(float64(raw) * 0.8)
		hi := time.Duration(float64(raw) * 1.2)

		// Jitter is random, sample repeatedly.
		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			if d < lo || d > hi {
				t.Fatalf("Delay(%d) = %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestDelayCapped(t *testing.T) {
	p := Policy{Base: 1 * time.Second, Max: 4 * time.Second, MaxAttempts: 5}

	// Attempt high enough to overflow without the cap.
	d := p.Delay(40)
	if d > time.Duration(float64(p.Max)*1.2) {
		t.Errorf("Delay(40) = %v exceeds jittered cap", d)
	}
	if d < time.Duration(float64(p.Max)*0.8) {
		t.Errorf("Delay(40) = %v below jittered cap floor", d)
	}
}

func TestExhausted(t *testing.T) {
	p := DefaultPolicy()
	if p.Exhausted(p.MaxAttempts) {
		t.Error("attempt count equal to ceiling should not be exhausted")
	}
	if !p.Exhausted(p.MaxAttempts + 1) {
		t.Error("attempt count past ceiling should be exhausted")
	}
}
