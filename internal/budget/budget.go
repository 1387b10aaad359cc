// Package budget asks an external quota collaborator whether a pipeline
// stage may take on more work.
package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shuttle/internal/config"
)

const userAgent = "Shuttle-Go/0.1.0"

// Gate answers whether a stage is currently within budget. Implementations
// must be safe for concurrent use.
type Gate interface {
	Allow(ctx context.Context, stage string) (bool, error)
}

// NewGate builds a Gate from configuration. Without an endpoint every stage
// is allowed. With one, collaborator failures fall back to the configured
// policy: "open" admits the stage, "closed" holds it back.
func NewGate(cfg *config.Config) Gate {
	endpoint := strings.TrimSpace(cfg.Budget.Endpoint)
	if endpoint == "" {
		return AllowAll{}
	}

	timeout := time.Duration(cfg.Budget.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &httpGate{
		endpoint: strings.TrimRight(endpoint, "/"),
		failOpen: cfg.Budget.Policy != config.BudgetPolicyClosed,
		client:   &http.Client{Timeout: timeout},
	}
}

// AllowAll is a Gate that admits every stage.
type AllowAll struct{}

// Allow implements Gate.
func (AllowAll) Allow(context.Context, string) (bool, error) { return true, nil }

type httpGate struct {
	endpoint string
	failOpen bool
	client   *http.Client
}

type decision struct {
	Allowed bool `json:"allowed"`
}

func (g *httpGate) Allow(ctx context.Context, stage string) (bool, error) {
	allowed, err := g.query(ctx, stage)
	if err != nil {
		return g.failOpen, err
	}
	return allowed, nil
}

func (g *httpGate) query(ctx context.Context, stage string) (bool, error) {
	target := g.endpoint + "/budget/" + url.PathEscape(stage)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, fmt.Errorf("build budget request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("query budget for %s: %w", stage, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return false, fmt.Errorf("budget collaborator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result decision
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&result); err != nil {
		return false, fmt.Errorf("decode budget response: %w", err)
	}
	return result.Allowed, nil
}
