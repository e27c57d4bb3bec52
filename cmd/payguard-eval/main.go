package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"payguard/internal/app"
	"payguard/internal/eval"
	jwttoken "payguard/internal/jwt_token"
	"payguard/internal/platform/config"
)

const evalMerchant = "payguard-eval"

type options struct {
	url       string
	apiKey    string
	jwtSecret string
	casesPath string
	timeout   time.Duration
}

// main runs the evaluation scenarios, in process by default or against a
// running server with --url, and exits 1 unless every case passes.
func main() {
	var opts options
	pflag.StringVar(&opts.url, "url", "", "base URL of a running server; empty runs an in-memory instance")
	pflag.StringVar(&opts.apiKey, "api-key", os.Getenv("PAYGUARD_API_KEY"), "API key sent as X-API-Key")
	pflag.StringVar(&opts.jwtSecret, "jwt-secret", os.Getenv("PAYGUARD_JWT_SECRET"), "sign a bearer token with this secret instead of sending the API key")
	pflag.StringVar(&opts.casesPath, "cases", "", "JSON file of cases; empty uses the built-in scenarios")
	pflag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline")
	pflag.Parse()

	ok, err := run(opts, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "payguard-eval: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}

func run(opts options, out io.Writer) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	cases := eval.DefaultCases()
	if opts.casesPath != "" {
		loaded, err := eval.LoadCases(opts.casesPath)
		if err != nil {
			return false, err
		}
		cases = loaded
	}

	runner := &eval.Runner{BaseURL: opts.url, APIKey: opts.apiKey}
	if opts.url == "" {
		cfg := config.Defaults()
		if opts.apiKey == "" {
			opts.apiKey = "eval-key"
		}
		cfg.APIKey = opts.apiKey
		cfg.JWTSecret = opts.jwtSecret
		a, err := app.New(ctx, &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
		if err != nil {
			return false, err
		}
		defer a.Close()
		srv := httptest.NewServer(a.Handler)
		defer srv.Close()
		runner = &eval.Runner{Client: srv.Client(), BaseURL: srv.URL, APIKey: opts.apiKey, Seeder: a}
	}

	if opts.jwtSecret != "" {
		signer, err := jwttoken.NewSigner(opts.jwtSecret)
		if err != nil {
			return false, err
		}
		token, err := signer.Issue(evalMerchant, opts.timeout)
		if err != nil {
			return false, fmt.Errorf("issue token: %w", err)
		}
		runner.Token = token
	}

	report, err := runner.Run(ctx, cases)
	for _, res := range report.Results {
		verdict := "PASS"
		if !res.Passed {
			verdict = "FAIL"
		}
		fmt.Fprintf(out, "[%s] %s: %s\n", verdict, res.Case.Description, res.Detail)
	}
	if err != nil {
		return false, err
	}

	fmt.Fprintf(out, "\nAccuracy: %d/%d (%.2f%%)\n", report.Passed(), len(report.Results), report.Accuracy())
	if m := report.Metrics; m != nil {
		fmt.Fprintf(out, "Requests: %d  allow=%d review=%d block=%d  p95=%.2fms\n",
			m.TotalRequests, m.DecisionCounts["allow"], m.DecisionCounts["review"], m.DecisionCounts["block"], m.P95Latency)
	}
	return report.Passed() == len(report.Results), nil
}
