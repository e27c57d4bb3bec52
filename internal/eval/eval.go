// Package eval replays scripted payment scenarios against a running API and
// scores the decisions it returns.
package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"

	"payguard/internal/domain"
	"payguard/internal/payments/handler"
	"payguard/internal/platform/middleware"
	"payguard/internal/stats"
)

// DefaultPayee is seeded before every scenario so payee checks pass.
const DefaultPayee = "merchant-1"

// Payload is the decide request body.
type Payload struct {
	CustomerID     string  `json:"customerId"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	PayeeID        string  `json:"payeeId"`
	IdempotencyKey string  `json:"idempotencyKey"`
}

// Case is one scenario. Balances are seeded before it runs when the runner
// can seed. With Attempts > 1 the payload is sent that many times under
// distinct keys and only the last response is judged.
type Case struct {
	Description      string             `json:"description"`
	Balances         map[string]float64 `json:"balances,omitempty"`
	Payload          Payload            `json:"payload"`
	Attempts         int                `json:"attempts,omitempty"`
	ExpectedStatus   int                `json:"expectedStatus,omitempty"`
	ExpectedDecision domain.Decision    `json:"expectedDecision,omitempty"`
	ExpectedReason   string             `json:"expectedReason,omitempty"`
	ExpectReplay     bool               `json:"expectReplay,omitempty"`
}

// Result is the verdict for one case.
type Result struct {
	Case   Case
	Passed bool
	Detail string
}

// Report summarises a run.
type Report struct {
	Results []Result
	Metrics *stats.Snapshot
}

func (r Report) Passed() int {
	n := 0
	for _, res := range r.Results {
		if res.Passed {
			n++
		}
	}
	return n
}

// Accuracy is the share of passing cases, in percent.
func (r Report) Accuracy() float64 {
	if len(r.Results) == 0 {
		return 0
	}
	return float64(r.Passed()) * 100 / float64(len(r.Results))
}

// Seeder creates customers with a balance.
type Seeder interface {
	SeedCustomer(ctx context.Context, customerID string, balance float64) error
}

// Runner posts cases to BaseURL.
type Runner struct {
	Client  *http.Client
	BaseURL string
	APIKey  string
	// Token, when set, is sent as a bearer token instead of APIKey.
	Token string
	// Seeder is nil against a remote server; balances must then exist already.
	Seeder Seeder
}

type decideResponse struct {
	Decision domain.Decision `json:"decision"`
	Reasons  []string        `json:"reasons"`
	Error    string          `json:"error"`
}

// Run executes cases in order and fetches the metrics snapshot at the end.
func (r *Runner) Run(ctx context.Context, cases []Case) (Report, error) {
	var report Report
	for _, c := range cases {
		res, err := r.runCase(ctx, c)
		if err != nil {
			return report, fmt.Errorf("%s: %w", c.Description, err)
		}
		report.Results = append(report.Results, res)
	}
	snap, err := r.metrics(ctx)
	if err != nil {
		return report, err
	}
	report.Metrics = snap
	return report, nil
}

func (r *Runner) runCase(ctx context.Context, c Case) (Result, error) {
	if r.Seeder != nil {
		if err := r.Seeder.SeedCustomer(ctx, DefaultPayee, 0); err != nil {
			return Result{}, fmt.Errorf("seed payee: %w", err)
		}
		for id, balance := range c.Balances {
			if err := r.Seeder.SeedCustomer(ctx, id, balance); err != nil {
				return Result{}, fmt.Errorf("seed %s: %w", id, err)
			}
		}
	}

	attempts := max(c.Attempts, 1)
	var (
		status   int
		replayed bool
		body     decideResponse
	)
	for i := range attempts {
		payload := c.Payload
		if attempts > 1 {
			payload.IdempotencyKey = fmt.Sprintf("%s-%d", payload.IdempotencyKey, i+1)
		}
		var err error
		status, replayed, body, err = r.decide(ctx, payload)
		if err != nil {
			return Result{}, err
		}
	}
	return judge(c, status, replayed, body), nil
}

func judge(c Case, status int, replayed bool, body decideResponse) Result {
	wantStatus := c.ExpectedStatus
	if wantStatus == 0 {
		wantStatus = http.StatusOK
	}
	fail := func(format string, args ...any) Result {
		return Result{Case: c, Detail: fmt.Sprintf(format, args...)}
	}
	if status != wantStatus {
		return fail("expected status %d, got %d (%s)", wantStatus, status, body.Error)
	}
	if status != http.StatusOK {
		return Result{Case: c, Passed: true, Detail: fmt.Sprintf("status %d", status)}
	}
	if body.Decision != c.ExpectedDecision {
		return fail("expected %s, got %s", c.ExpectedDecision, body.Decision)
	}
	if c.ExpectedReason != "" && !slices.Contains(body.Reasons, c.ExpectedReason) {
		return fail("expected reason %q, got %q", c.ExpectedReason, strings.Join(body.Reasons, "; "))
	}
	if c.ExpectReplay && !replayed {
		return fail("expected a replayed response")
	}
	return Result{Case: c, Passed: true, Detail: fmt.Sprintf("expected %s, got %s", c.ExpectedDecision, body.Decision)}
}

func (r *Runner) decide(ctx context.Context, p Payload) (int, bool, decideResponse, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return 0, false, decideResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/payments/decide", bytes.NewReader(raw))
	if err != nil {
		return 0, false, decideResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	r.authorize(req)

	resp, err := r.client().Do(req)
	if err != nil {
		return 0, false, decideResponse{}, fmt.Errorf("post decide: %w", err)
	}
	defer resp.Body.Close()

	var body decideResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return 0, false, decideResponse{}, fmt.Errorf("decode decide response: %w", err)
	}
	return resp.StatusCode, resp.Header.Get(handler.ReplayedHeader) == "true", body, nil
}

func (r *Runner) authorize(req *http.Request) {
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
		return
	}
	req.Header.Set(middleware.APIKeyHeader, r.APIKey)
}

func (r *Runner) metrics(ctx context.Context) (*stats.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"/metrics", nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("get metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get metrics: status %d", resp.StatusCode)
	}
	var snap stats.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	return &snap, nil
}

func (r *Runner) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

// LoadCases reads a JSON array of cases.
func LoadCases(path string) ([]Case, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cases []Case
	if err := json.Unmarshal(raw, &cases); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, c := range cases {
		if c.ExpectedDecision == "" {
			continue
		}
		if _, err := domain.ParseDecision(string(c.ExpectedDecision)); err != nil {
			return nil, fmt.Errorf("case %d (%s): %w", i, c.Description, err)
		}
	}
	return cases, nil
}

func payload(customerID string, amount float64, key string) Payload {
	return Payload{
		CustomerID:     customerID,
		Amount:         amount,
		Currency:       "USD",
		PayeeID:        DefaultPayee,
		IdempotencyKey: key,
	}
}

// DefaultCases covers the decision rules, replay, payee lookup and admission.
func DefaultCases() []Case {
	return []Case{
		{
			Description:      "sufficient balance and low risk is allowed",
			Balances:         map[string]float64{"cust-allow": 500},
			Payload:          payload("cust-allow", 100, "eval-allow"),
			ExpectedDecision: domain.DecisionAllow,
		},
		{
			Description:      "insufficient balance is blocked",
			Balances:         map[string]float64{"cust-poor": 50},
			Payload:          payload("cust-poor", 100, "eval-poor"),
			ExpectedDecision: domain.DecisionBlock,
			ExpectedReason:   "Insufficient funds.",
		},
		{
			Description:      "high risk amount is sent to review",
			Balances:         map[string]float64{"cust-rich": 5000},
			Payload:          payload("cust-rich", 2000, "eval-rich"),
			ExpectedDecision: domain.DecisionReview,
			ExpectedReason:   "High risk transaction.",
		},
		{
			Description:      "unreadable balance is blocked",
			Payload:          payload("cust-missing", 100, "eval-missing"),
			ExpectedDecision: domain.DecisionBlock,
		},
		{
			Description:      "same key with a new amount replays the first decision",
			Payload:          payload("cust-allow", 250, "eval-allow"),
			ExpectedDecision: domain.DecisionAllow,
			ExpectReplay:     true,
		},
		{
			Description: "unknown payee is rejected",
			Balances:    map[string]float64{"cust-payee": 500},
			Payload: Payload{
				CustomerID:     "cust-payee",
				Amount:         10,
				Currency:       "USD",
				PayeeID:        "nobody",
				IdempotencyKey: "eval-payee",
			},
			ExpectedStatus: http.StatusNotFound,
		},
		{
			Description:    "sixth request inside one window is rate limited",
			Balances:       map[string]float64{"cust-burst": 1000},
			Payload:        payload("cust-burst", 1, "eval-burst"),
			Attempts:       6,
			ExpectedStatus: http.StatusTooManyRequests,
		},
	}
}
