package retry

import (
	"time"

	"github.com/matheus3301/wallchat/internal/neterr"
)

// Policy decides whether a failed network operation is retried and how long to
// wait before the next attempt. It is an immutable value.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default retries three times starting at 500ms, capped at 5s.
var Default = NewPolicy(3, 500*time.Millisecond, 5*time.Second)

// None never retries.
var None = NewPolicy(0, 0, 0)

// NewPolicy builds a policy, clamping negative inputs to zero.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) Policy {
	return Policy{
		MaxAttempts: max(maxAttempts, 0),
		BaseDelay:   max(baseDelay, 0),
		MaxDelay:    max(maxDelay, 0),
	}
}

// Delay returns min(BaseDelay * 2^attempt, MaxDelay). attempt counts the prior
// failed retries, so the wait before the first retry is Delay(0).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if d > p.MaxDelay/2 {
			return p.MaxDelay
		}
		d *= 2
	}
	return min(d, p.MaxDelay)
}

// ShouldRetry reports whether err is transient: a timeout, a lost connection
// or a 5xx response. Everything else, including errors outside the taxonomy,
// fails fast.
func (p Policy) ShouldRetry(err error) bool {
	return neterr.Classify(err) == neterr.Retriable
}
