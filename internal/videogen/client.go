// Package videogen requests placeholder patient videos and tracks their runs.
package videogen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultStubDelay is how long the stub renderer pretends to work.
const DefaultStubDelay = 2 * time.Second

// Request is sent to the renderer for one run.
type Request struct {
	RunID          string                 `json:"run_id"`
	Template       string                 `json:"template"`
	PatientEmail   string                 `json:"patient_email"`
	PatientName    string                 `json:"patient_name"`
	Prompt         string                 `json:"prompt"`
	Parameters     map[string]interface{} `json:"parameters"`
	PlaceholderURL string                 `json:"placeholder_url"`
}

// Result is the renderer's answer.
type Result struct {
	VideoURL        string  `json:"video_url"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Client talks to the external video renderer
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	stubMode   bool
	stubDelay  time.Duration
}

// NewClient creates a renderer client. In stub mode no HTTP calls are made
// and the template placeholder is returned after a short delay.
func NewClient(baseURL, secret string, stubMode bool) *Client {
	return &Client{
		baseURL:    baseURL,
		secret:     secret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		stubMode:   stubMode,
		stubDelay:  DefaultStubDelay,
	}
}

// WithStubDelay returns the client with a different stub delay.
func (c *Client) WithStubDelay(d time.Duration) *Client {
	c.stubDelay = d
	return c
}

// Generate asks the renderer for a video.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	if c.stubMode {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.stubDelay):
		}
		return &Result{VideoURL: req.PlaceholderURL}, nil
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("X-Renderer-Secret", c.secret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("renderer returned status %d: %s", resp.StatusCode, string(body))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.VideoURL == "" {
		result.VideoURL = req.PlaceholderURL
	}

	return &result, nil
}
