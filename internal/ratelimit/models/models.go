package models

import (
	"fmt"
	"time"
)

// Mode selects the admission algorithm.
type Mode string

const (
	// ModeFixed resets a customer's allowance once more than a window has
	// passed since their last admitted request.
	ModeFixed Mode = "fixed"
	// ModeBucket refills tokens continuously at limit per window.
	ModeBucket Mode = "bucket"
)

func (m Mode) IsValid() bool {
	return m == ModeFixed || m == ModeBucket
}

// ParseMode validates a configured mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("unknown rate limit mode %q", s)
	}
	return m, nil
}

// RateLimitResult represents the outcome of one admission check.
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"` // only set when not allowed
	Degraded   bool          `json:"degraded,omitempty"`    // decided by the fallback limiter
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the Retry-After header.
func (r *RateLimitResult) RetryAfterSeconds() int {
	if r.RetryAfter <= 0 {
		return 0
	}
	return int((r.RetryAfter + time.Second - 1) / time.Second)
}

// RateLimitExceededResponse is the body returned with a 429.
type RateLimitExceededResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"`
}
