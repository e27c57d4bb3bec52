package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	"github.com/prometheus/client_golang/prometheus"

	"payguard/internal/app"
	"payguard/internal/platform/config"
)

// APIKey is the credential every scenario sends unless it removes it.
const APIKey = "e2e-key"

// TestContext holds one scenario's server and last response.
type TestContext struct {
	app    *app.App
	server *httptest.Server
	apiKey string

	lastStatus  int
	lastHeaders http.Header
	lastBody    []byte
}

// Start builds a fresh in-memory service for the scenario.
func (tc *TestContext) Start(ctx context.Context) error {
	cfg := config.Defaults()
	cfg.APIKey = APIKey
	a, err := app.New(ctx, &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
	if err != nil {
		return err
	}
	tc.app = a
	tc.server = httptest.NewServer(a.Handler)
	tc.apiKey = APIKey
	return nil
}

// Stop releases the scenario's server.
func (tc *TestContext) Stop() {
	if tc.server != nil {
		tc.server.Close()
	}
	if tc.app != nil {
		tc.app.Close()
	}
	*tc = TestContext{}
}

func (tc *TestContext) SeedCustomer(ctx context.Context, customerID string, balance float64) error {
	return tc.app.SeedCustomer(ctx, customerID, balance)
}

func (tc *TestContext) SetAPIKey(key string) {
	tc.apiKey = key
}

// POST sends body as JSON.
func (tc *TestContext) POST(path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, tc.server.URL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequest(http.MethodGet, tc.server.URL+path, nil)
	if err != nil {
		return err
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	if tc.apiKey != "" {
		req.Header.Set("X-API-Key", tc.apiKey)
	}
	resp, err := tc.server.Client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.lastStatus = resp.StatusCode
	tc.lastHeaders = resp.Header
	return nil
}

func (tc *TestContext) GetLastResponseStatus() int {
	return tc.lastStatus
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.lastBody
}

func (tc *TestContext) GetLastResponseHeader(name string) string {
	return tc.lastHeaders.Get(name)
}

// GetResponseField reads a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	v, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response %s", field, tc.lastBody)
	}
	return v, nil
}
