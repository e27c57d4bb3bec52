package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string) error
	SeedCustomer(ctx context.Context, customerID string, balance float64) error
	SetAPIKey(key string)
	GetResponseField(field string) (any, error)
	GetLastResponseBody() []byte
	GetLastResponseHeader(name string) string
}

// RegisterSteps registers decide and metrics step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &paymentSteps{tc: tc}

	ctx.Step(`^customer "([^"]*)" has a balance of (\d+(?:\.\d+)?)$`, steps.customerHasBalance)
	ctx.Step(`^I send no API key$`, steps.sendNoAPIKey)
	ctx.Step(`^"([^"]*)" pays (\d+(?:\.\d+)?) USD to "([^"]*)" with key "([^"]*)"$`, steps.decide)
	ctx.Step(`^the decision should be "([^"]*)"$`, steps.decisionShouldBe)
	ctx.Step(`^the reasons should include "([^"]*)"$`, steps.reasonsShouldInclude)
	ctx.Step(`^the reasons should be empty$`, steps.reasonsShouldBeEmpty)
	ctx.Step(`^the response should be marked as replayed$`, steps.markedReplayed)
	ctx.Step(`^the response should match the saved decision$`, steps.matchSavedDecision)
	ctx.Step(`^I save the decision$`, steps.saveDecision)
	ctx.Step(`^I fetch the metrics snapshot$`, steps.fetchMetrics)
	ctx.Step(`^the snapshot should count (\d+) "([^"]*)" decisions?$`, steps.snapshotCounts)
}

type paymentSteps struct {
	tc    TestContext
	saved []byte
}

func (s *paymentSteps) customerHasBalance(ctx context.Context, customerID string, balance float64) error {
	return s.tc.SeedCustomer(ctx, customerID, balance)
}

func (s *paymentSteps) sendNoAPIKey(context.Context) error {
	s.tc.SetAPIKey("")
	return nil
}

func (s *paymentSteps) decide(_ context.Context, customerID string, amount float64, payeeID, key string) error {
	return s.tc.POST("/payments/decide", map[string]any{
		"customerId":     customerID,
		"amount":         amount,
		"currency":       "USD",
		"payeeId":        payeeID,
		"idempotencyKey": key,
	})
}

func (s *paymentSteps) decisionShouldBe(_ context.Context, want string) error {
	got, err := s.tc.GetResponseField("decision")
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected decision %q, got %v", want, got)
	}
	return nil
}

func (s *paymentSteps) reasons() ([]string, error) {
	v, err := s.tc.GetResponseField("reasons")
	if err != nil {
		return nil, err
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("reasons is not a list: %v", v)
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		out = append(out, fmt.Sprint(r))
	}
	return out, nil
}

func (s *paymentSteps) reasonsShouldInclude(_ context.Context, want string) error {
	reasons, err := s.reasons()
	if err != nil {
		return err
	}
	if !slices.Contains(reasons, want) {
		return fmt.Errorf("expected reasons to include %q, got %v", want, reasons)
	}
	return nil
}

func (s *paymentSteps) reasonsShouldBeEmpty(context.Context) error {
	reasons, err := s.reasons()
	if err != nil {
		return err
	}
	if len(reasons) != 0 {
		return fmt.Errorf("expected no reasons, got %v", reasons)
	}
	return nil
}

func (s *paymentSteps) markedReplayed(context.Context) error {
	if got := s.tc.GetLastResponseHeader("Idempotent-Replayed"); got != "true" {
		return fmt.Errorf("expected Idempotent-Replayed: true, got %q", got)
	}
	return nil
}

func (s *paymentSteps) saveDecision(context.Context) error {
	s.saved = append([]byte(nil), s.tc.GetLastResponseBody()...)
	return nil
}

func (s *paymentSteps) matchSavedDecision(context.Context) error {
	var want, got map[string]any
	if err := json.Unmarshal(s.saved, &want); err != nil {
		return fmt.Errorf("saved decision: %w", err)
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &got); err != nil {
		return fmt.Errorf("last response: %w", err)
	}
	wantRaw, _ := json.Marshal(want)
	gotRaw, _ := json.Marshal(got)
	if string(wantRaw) != string(gotRaw) {
		return fmt.Errorf("expected %s, got %s", wantRaw, gotRaw)
	}
	return nil
}

func (s *paymentSteps) fetchMetrics(context.Context) error {
	return s.tc.GET("/metrics")
}

func (s *paymentSteps) snapshotCounts(_ context.Context, n int, decision string) error {
	v, err := s.tc.GetResponseField("decisionCounts")
	if err != nil {
		return err
	}
	counts, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("decisionCounts is not an object: %v", v)
	}
	if got, _ := counts[decision].(float64); int(got) != n {
		return fmt.Errorf("expected %d %s decisions, got %v", n, decision, counts[decision])
	}
	return nil
}
