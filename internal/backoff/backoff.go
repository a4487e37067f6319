// Package backoff holds the reconnect arithmetic for the assistant channel:
// exponential delays with jitter, the retry ceiling, and the close-code
// classification table. It is pure computation so the state machine in
// internal/channel can be tested without a transport.
package backoff

import (
	"math/rand"
	"time"
)

// WebSocket close codes the channel classifies explicitly. Anything not
// listed here is treated as retryable.
const (
	CodeNormalClosure   = 1000
	CodeAbnormalClosure = 1006
	CodeTryAgainLater   = 1013
	CodeAuthFailed      = 4401
)

// Outcome describes what the channel should do after a closure.
type Outcome int

const (
	// Retry means the closure is transient and a reconnect should be scheduled.
	Retry Outcome = iota
	// Stop means the closure was clean; stay down without retrying or erroring.
	Stop
	// FailAuth means the server rejected the credential; terminal, no retry.
	FailAuth
)

func (o Outcome) String() string {
	switch o {
	case Retry:
		return "retry"
	case Stop:
		return "stop"
	case FailAuth:
		return "fail_auth"
	default:
		return "unknown"
	}
}

// Classify maps a close code to an Outcome.
func Classify(code int) Outcome {
	switch code {
	case CodeNormalClosure:
		return Stop
	case CodeAuthFailed:
		return FailAuth
	default:
		// 1006, 1013 and every code not explicitly terminal.
		return Retry
	}
}

// Policy computes reconnect delays. The zero value is not usable; call
// DefaultPolicy or fill in all fields.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Max caps the exponential delay before jitter is applied.
	Max time.Duration
	// MaxAttempts is the retry ceiling; once exceeded the channel fails
	// terminally.
	MaxAttempts int
}

// DefaultPolicy matches the production channel tuning.
func DefaultPolicy() Policy {
	return Policy{
		Base:        1 * time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the delay before retry attempt n (0-based): Base·2ⁿ capped at
// Max, then multiplied by a jitter factor drawn uniformly from [0.8, 1.2].
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			d = p.Max
			break
		}
	}
	if d > p.Max {
		d = p.Max
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * jitter)
}

// Exhausted reports whether attempt count n has passed the retry ceiling.
func (p Policy) Exhausted(attempts int) bool {
	return attempts > p.MaxAttempts
}
