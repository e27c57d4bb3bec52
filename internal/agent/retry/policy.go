package retry

import "time"

// Policy bounds how often and how slowly a capability is retried.
type Policy struct {
	// MaxAttempts counts the initial call. Values below 1 are treated as 1.
	MaxAttempts int
	// BaseDelay is the wait after the first failure; zero disables backoff.
	BaseDelay time.Duration
	// MaxDelay caps any single wait.
	MaxDelay time.Duration
}

// DefaultPolicy makes three immediate attempts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   0,
		MaxDelay:    200 * time.Millisecond,
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff is the wait after failed attempt n (1-based): BaseDelay*2^(n-1),
// capped at MaxDelay.
func (p Policy) Backoff(n int) time.Duration {
	if p.BaseDelay <= 0 || n < 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
