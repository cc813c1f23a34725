package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	submitPath     = "/api/students"
	healthPath     = "/api/health"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// ErrUnhealthy means a probe reached a server but could not verify the
// backend behind it: wrong status code, or a body that is not the expected
// health payload. Captive portals and intercepting proxies produce this.
var ErrUnhealthy = errors.New("backend reachable but not verified healthy")

// APIError is an application-level rejection: the backend was reached and
// answered with a non-2xx status. It is never a reason to queue.
type APIError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend rejected request: status=%d", e.StatusCode)
}

// SubmitResult is the backend's acceptance response, passed through verbatim.
type SubmitResult struct {
	StatusCode int
	Body       json.RawMessage
}

// Client talks to the registration backend.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// NewClient builds a Client for the given base URL. A scheme-less value is
// treated as plain http.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("empty upstream base URL")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base URL %q: %w", baseURL, err)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""

	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// SubmitRecord posts one registration payload. The submission key rides in a
// header so the backend can deduplicate a record whose first delivery was
// acknowledged right as the connection died.
func (c *Client) SubmitRecord(ctx context.Context, payload json.RawMessage, submissionKey string) (*SubmitResult, error) {
	rel := &url.URL{Path: submitPath}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.ResolveReference(rel).String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if submissionKey != "" {
		req.Header.Set("X-Submission-Key", submissionKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode/100 != 2 {
		return nil, &APIError{StatusCode: res.StatusCode, Body: body}
	}

	return &SubmitResult{StatusCode: res.StatusCode, Body: body}, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

// CheckHealth performs one liveness probe. nil means the backend itself
// answered; ErrUnhealthy means something answered that we cannot trust;
// anything else is a transport failure.
func (c *Client) CheckHealth(ctx context.Context) error {
	rel := &url.URL{Path: healthPath}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.ResolveReference(rel).String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode/100 != 2 {
		return fmt.Errorf("%w: status=%d", ErrUnhealthy, res.StatusCode)
	}

	var hr healthResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, maxBodyBytes)).Decode(&hr); err != nil || hr.Status != "ok" {
		return fmt.Errorf("%w: unrecognized health payload", ErrUnhealthy)
	}

	return nil
}

// IsNetworkError reports whether err means the backend was unreachable:
// timeouts, refused or reset connections, DNS failures. Application errors
// and deliberate caller cancellation are not network errors.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	if errors.Is(err, ErrUnhealthy) {
		return false
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
