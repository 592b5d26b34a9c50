package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tradeflow-ai/tradeflow/internal/domain"
)

// HTTPClient talks JSON over HTTP to the planning service.
type HTTPClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
	tools   ToolCredentials
	waitTTL time.Duration
	logger  *slog.Logger
}

// ToolCredentials are forwarded to the planner so its tool registry can act
// on the user's behalf.
type ToolCredentials struct {
	XeroClientID     string `json:"xero_client_id,omitempty"`
	XeroClientSecret string `json:"xero_client_secret,omitempty"`
}

// ClientConfig holds configuration for the planner client.
type ClientConfig struct {
	BaseURL          string
	APIKey           string
	Tools            ToolCredentials
	RequestTimeout   time.Duration
	WaitReadyTimeout time.Duration
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RequestTimeout:   60 * time.Second,
		WaitReadyTimeout: 2 * time.Minute,
	}
}

// NewHTTPClient creates a planner client for the given service endpoint.
func NewHTTPClient(cfg ClientConfig, logger *slog.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("planner base URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultClientConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.WaitReadyTimeout <= 0 {
		cfg.WaitReadyTimeout = defaults.WaitReadyTimeout
	}

	return &HTTPClient{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			// Per-call deadlines come from the request context. WaitForReady
			// legitimately outlives any fixed client timeout.
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		tools:   cfg.Tools,
		waitTTL: cfg.WaitReadyTimeout,
		logger:  logger,
	}, nil
}

type createRunRequest struct {
	Query     string          `json:"query"`
	EndUserID string          `json:"end_user_id"`
	Tools     ToolCredentials `json:"tools"`
}

type resolveRequest struct {
	Response string          `json:"response"`
	Run      *domain.PlanRun `json:"run"`
}

type runEnvelope struct {
	Run *domain.PlanRun `json:"run"`
}

// CreateRun generates a plan from the query and starts a run for the user.
func (c *HTTPClient) CreateRun(ctx context.Context, query, endUserID string) (*domain.PlanRun, error) {
	c.logger.Info("creating plan run", "end_user_id", endUserID)
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	req := createRunRequest{Query: query, EndUserID: endUserID, Tools: c.tools}
	run, err := c.postRun(ctx, "/v1/plan-runs", req)
	if err != nil {
		return nil, fmt.Errorf("create plan run: %w", err)
	}
	c.logger.Info("plan run started", "run_id", run.ID, "state", run.State)
	return run, nil
}

// ResolveClarification submits an answer for one clarification.
func (c *HTTPClient) ResolveClarification(ctx context.Context, run *domain.PlanRun, clarificationID, response string) (*domain.PlanRun, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	path := fmt.Sprintf("/v1/plan-runs/%s/clarifications/%s/resolve", run.ID, clarificationID)
	updated, err := c.postRun(ctx, path, resolveRequest{Response: response, Run: run})
	if err != nil {
		return nil, fmt.Errorf("resolve clarification: %w", err)
	}
	return updated, nil
}

// WaitForReady blocks until the outstanding action clarification is observed
// complete, bounded by the configured wait timeout.
func (c *HTTPClient) WaitForReady(ctx context.Context, run *domain.PlanRun) (*domain.PlanRun, error) {
	ctx, cancel := context.WithTimeout(ctx, c.waitTTL)
	defer cancel()

	path := fmt.Sprintf("/v1/plan-runs/%s/wait-ready", run.ID)
	updated, err := c.postRun(ctx, path, runEnvelope{Run: run})
	if err != nil {
		return nil, fmt.Errorf("wait for ready: %w", err)
	}
	return updated, nil
}

// Resume continues execution of a paused run.
func (c *HTTPClient) Resume(ctx context.Context, run *domain.PlanRun) (*domain.PlanRun, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	path := fmt.Sprintf("/v1/plan-runs/%s/resume", run.ID)
	updated, err := c.postRun(ctx, path, runEnvelope{Run: run})
	if err != nil {
		return nil, fmt.Errorf("resume plan run: %w", err)
	}
	return updated, nil
}

func (c *HTTPClient) postRun(ctx context.Context, path string, body interface{}) (*domain.PlanRun, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Api-Key "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("planner request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close planner response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read planner response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("planner returned %d: %s", resp.StatusCode, truncate(string(data), 512))
	}

	var run domain.PlanRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode plan run: %w", err)
	}
	return &run, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
