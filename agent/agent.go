// Package agent forwards chat input to the hosted conversational agent and
// hands the upstream response back verbatim.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInput is sent when the caller supplies no text.
const DefaultInput = "Example user input"

// maxResponseBytes caps how much of an upstream body is relayed.
const maxResponseBytes = 4 << 20

// ErrNotConfigured is returned by Chat when no endpoint or API key is set.
var ErrNotConfigured = errors.New("agent endpoint not configured")

// Config describes the upstream agent.
type Config struct {
	Endpoint string
	APIKey   string
	UserID   string
	// RPS throttles outbound calls. Zero disables throttling.
	RPS     float64
	Timeout time.Duration
}

// Response is the upstream reply, relayed without interpretation.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

type chatRequest struct {
	UserID      *string `json:"userId"`
	UserInput   string  `json:"userInput"`
	AsyncOutput bool    `json:"asyncOutput"`
}

// Client calls the agent endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient returns a Client for cfg. An unconfigured client is valid; its
// Chat calls fail with ErrNotConfigured.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether both endpoint and API key are present.
func (c *Client) Configured() bool {
	return c.cfg.Endpoint != "" && c.cfg.APIKey != ""
}

// Chat posts text to the agent. Non-2xx upstream statuses are not errors;
// they are returned in the Response for the caller to relay.
func (c *Client) Chat(ctx context.Context, text string) (*Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if text == "" {
		text = DefaultInput
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for agent rate limit: %w", err)
		}
	}

	payload := chatRequest{UserInput: text}
	if c.cfg.UserID != "" {
		uid := c.cfg.UserID
		payload.UserID = &uid
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling agent: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading agent response: %w", err)
	}
	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}
