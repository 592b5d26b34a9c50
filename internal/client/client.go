// Package client is a small HTTP client for the TradeFlow backend API,
// used by the terminal chat frontend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tradeflow-ai/tradeflow/internal/domain"
)

// maxResponseSize caps response bodies read from the backend.
const maxResponseSize = 10 << 20

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Detail)
}

// Client talks to the TradeFlow backend.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// New creates a client for the backend at baseURL.
func New(baseURL string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: 5 * time.Minute,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Token returns the current bearer token, empty before login.
func (c *Client) Token() string { return c.token }

// Signup registers a new account.
func (c *Client) Signup(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	return c.postJSON(ctx, "/signup", body, nil)
}

// Login exchanges credentials for a bearer token and stores it on the client.
func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(req, &out); err != nil {
		return err
	}
	c.token = out.AccessToken
	return nil
}

// Chat posts a new conversation turn.
func (c *Client) Chat(ctx context.Context, sessionID, message string) (*domain.TurnResult, error) {
	return c.turn(ctx, "/chat", sessionID, message)
}

// Resume advances a paused plan.
func (c *Client) Resume(ctx context.Context, sessionID, message string) (*domain.TurnResult, error) {
	return c.turn(ctx, "/resume_flow", sessionID, message)
}

// History fetches the session's recent chat log.
func (c *Client) History(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	u := c.baseURL + "/history?session_id=" + url.QueryEscape(sessionID) + "&limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}

	var out struct {
		Messages []domain.ChatMessage `json:"messages"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) turn(ctx context.Context, path, sessionID, message string) (*domain.TurnResult, error) {
	body := map[string]string{"user_message": message, "session_id": sessionID}
	var result domain.TurnResult
	if err := c.postJSON(ctx, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read backend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := string(data)
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			detail = errBody.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Detail: detail}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode backend response: %w", err)
	}
	return nil
}
