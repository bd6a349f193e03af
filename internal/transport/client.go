package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/stockroom/internal/inventory"
	"github.com/roach88/stockroom/internal/queue"
)

// RetryConfig controls retries of transient failures.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
}

// DefaultRetryConfig returns two retries starting at 500ms and doubling.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

// Client talks to the inventory backend. All calls go to a single endpoint
// distinguished by the action parameter.
type Client struct {
	endpoint string
	http     *http.Client
	retry    RetryConfig
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry replaces the retry policy.
func WithRetry(rc RetryConfig) Option {
	return func(c *Client) { c.retry = rc }
}

// New returns a client for endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		retry:    DefaultRetryConfig(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CommandResult is the backend's verdict on one command of a batch.
type CommandResult struct {
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// BatchResponse is the reply to a batch submission.
type BatchResponse struct {
	Success bool            `json:"success"`
	Results []CommandResult `json:"results,omitempty"`
	Message string          `json:"message,omitempty"`
}

// DeltaResponse is the reply to a delta fetch.
type DeltaResponse struct {
	Data            []inventory.RawRow `json:"data"`
	ServerTimestamp int64              `json:"serverTimestamp"`
	Error           string             `json:"error,omitempty"`
}

type batchRequest struct {
	Action   string          `json:"action"`
	Commands []queue.Command `json:"commands"`
}

// SubmitBatch posts every command as one batch.
func (c *Client) SubmitBatch(ctx context.Context, cmds []queue.Command) (*BatchResponse, error) {
	if cmds == nil {
		cmds = []queue.Command{}
	}
	var resp BatchResponse
	if err := c.Post(ctx, batchRequest{Action: "batch", Commands: cmds}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchDelta returns the rows changed after since (unix ms; 0 for all).
func (c *Client) FetchDelta(ctx context.Context, since int64) (*DeltaResponse, error) {
	params := url.Values{}
	params.Set("action", "getInventory")
	params.Set("lastUpdated", strconv.FormatInt(since, 10))

	var resp DeltaResponse
	if err := c.Get(ctx, params, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &ServerError{Message: resp.Error}
	}
	return &resp, nil
}

// Ping checks that the backend answers at all. Any HTTP response counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// Post sends body as JSON and decodes the JSON reply into out.
func (c *Client) Post(ctx context.Context, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

// Get sends params as the query string and decodes the JSON reply into out.
func (c *Client) Get(ctx context.Context, params url.Values, out any) error {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	target := u.String()

	return c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	}, out)
}

// do runs one logical request with retries. Config errors, non-retryable
// statuses, and context cancellation end the loop at once.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error), out any) error {
	backoff := c.retry.InitialBackoff
	attempts := c.retry.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.jitter(backoff)); err != nil {
				return err
			}
			backoff = c.next(backoff)
		}

		req, err := build()
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		err = c.once(req, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		slog.Debug("backend request failed, will retry",
			"attempt", attempt+1,
			"max_attempts", attempts,
			"error", err,
		)
	}
	if errors.Is(lastErr, ErrTransport) {
		return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrTransport, attempts, lastErr)
}

func (c *Client) once(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return &ConfigError{
			ContentType: contentType,
			Status:      resp.StatusCode,
			Message:     "endpoint returned an HTML page instead of JSON",
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, ErrTransport) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}

func (c *Client) next(d time.Duration) time.Duration {
	mult := c.retry.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d = time.Duration(float64(d) * mult)
	if c.retry.MaxBackoff > 0 && d > c.retry.MaxBackoff {
		d = c.retry.MaxBackoff
	}
	return d
}

func (c *Client) jitter(d time.Duration) time.Duration {
	if c.retry.Jitter <= 0 || d <= 0 {
		return d
	}
	delta := float64(d) * c.retry.Jitter
	return d + time.Duration((rand.Float64()*2-1)*delta)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
