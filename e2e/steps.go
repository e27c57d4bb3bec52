package e2e

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cucumber/godog"

	"payguard/e2e/steps/payments"
	"payguard/e2e/steps/ratelimit"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, tc.Start(ctx)
	})
	ctx.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		tc.Stop()
		return ctx, err
	})

	ctx.Step(`^the response status should be (\d+)$`, func(status int) error {
		if got := tc.GetLastResponseStatus(); got != status {
			return fmt.Errorf("expected status %d, got %d: %s", status, got, tc.GetLastResponseBody())
		}
		return nil
	})
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, func(field, want string) error {
		v, err := tc.GetResponseField(field)
		if err != nil {
			return err
		}
		got := fmt.Sprint(v)
		if f, ok := v.(float64); ok {
			got = strconv.FormatFloat(f, 'f', -1, 64)
		}
		if got != want {
			return fmt.Errorf("expected %s=%q, got %q", field, want, got)
		}
		return nil
	})

	payments.RegisterSteps(ctx, tc)
	ratelimit.RegisterSteps(ctx, tc)
}
