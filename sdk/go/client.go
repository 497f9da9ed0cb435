// Package certlinesdk is a minimal Certline HTTP API client.
package certlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a running `certline serve` instance.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// Recipient mirrors the API roster model.
type Recipient struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Certificate string `json:"certificate,omitempty"`
}

// Event mirrors a run-log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	RunID      string `json:"run_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// RunSummary is the result of a batch run.
type RunSummary struct {
	RunID      string `json:"run_id"`
	Recipients int    `json:"recipients"`
}

// RunRequest configures a batch run.
type RunRequest struct {
	Notify     bool   `json:"notify,omitempty"`
	Subject    string `json:"subject,omitempty"`
	HTMLBody   string `json:"html_body,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health checks the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "v0/health", nil, nil)
}

// Roster loads and returns the roster recipients.
func (c *Client) Roster(ctx context.Context) ([]Recipient, error) {
	var resp struct {
		Items []Recipient `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/roster", nil, &resp)
	return resp.Items, err
}

// StartRun runs a full certificate batch.
func (c *Client) StartRun(ctx context.Context, req RunRequest) (RunSummary, error) {
	var resp RunSummary
	err := c.do(ctx, http.MethodPost, "v0/runs", req, &resp)
	return resp, err
}

// Events returns recent run-log events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
