package ratelimit

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GetLastResponseStatus() int
	GetLastResponseHeader(name string) string
}

// RegisterSteps registers per-customer admission step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^"([^"]*)" sends (\d+) payments to "([^"]*)" in quick succession$`, steps.sendBurst)
	ctx.Step(`^"([^"]*)" sends a payment with no amount to "([^"]*)"$`, steps.sendInvalid)
	ctx.Step(`^the (\d+)(?:st|nd|rd|th) attempt should return (\d+)$`, steps.nthAttemptShouldReturn)
	ctx.Step(`^the response should carry a Retry-After header$`, steps.retryAfterPresent)
}

type ratelimitSteps struct {
	tc       TestContext
	statuses []int
}

// sendBurst posts n payments under distinct idempotency keys.
func (s *ratelimitSteps) sendBurst(_ context.Context, customerID string, n int, payeeID string) error {
	s.statuses = s.statuses[:0]
	for i := range n {
		err := s.tc.POST("/payments/decide", map[string]any{
			"customerId":     customerID,
			"amount":         1,
			"currency":       "USD",
			"payeeId":        payeeID,
			"idempotencyKey": fmt.Sprintf("burst-%d", i+1),
		})
		if err != nil {
			return err
		}
		s.statuses = append(s.statuses, s.tc.GetLastResponseStatus())
	}
	return nil
}

// sendInvalid posts a payment that fails validation before admission.
func (s *ratelimitSteps) sendInvalid(_ context.Context, customerID, payeeID string) error {
	return s.tc.POST("/payments/decide", map[string]any{
		"customerId":     customerID,
		"amount":         0,
		"currency":       "USD",
		"payeeId":        payeeID,
		"idempotencyKey": "invalid-1",
	})
}

func (s *ratelimitSteps) nthAttemptShouldReturn(_ context.Context, n, expectedStatus int) error {
	if n < 1 || n > len(s.statuses) {
		return fmt.Errorf("attempt %d was not sent (%d attempts)", n, len(s.statuses))
	}
	if got := s.statuses[n-1]; got != expectedStatus {
		return fmt.Errorf("attempt %d: expected %d, got %d", n, expectedStatus, got)
	}
	return nil
}

func (s *ratelimitSteps) retryAfterPresent(context.Context) error {
	if s.tc.GetLastResponseHeader("Retry-After") == "" {
		return fmt.Errorf("expected a Retry-After header")
	}
	return nil
}
