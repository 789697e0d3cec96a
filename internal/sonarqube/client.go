// Package sonarqube provides a minimal client for the SonarQube projects API:
// paged search, single delete and bulk delete.
package sonarqube

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/13rac1/sqpurge/internal/redactor"
)

const (
	searchPath     = "/api/projects/search"
	deletePath     = "/api/projects/delete"
	bulkDeletePath = "/api/projects/bulk_delete"
)

// Client talks to a single SonarQube server with a fixed user token.
type Client struct {
	token      string
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for request tracing.
// If not provided, nothing is logged.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		c.logger = log
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client for the server at baseURL authenticating with token.
// Trailing slashes on baseURL are dropped.
func NewClient(token, baseURL string, opts ...Option) *Client {
	c := &Client{
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  "sqpurge",
		httpClient: &http.Client{},
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Outcome is the raw result of a mutating call. The caller decides how to report it.
type Outcome struct {
	StatusCode int
	Body       string
}

// Succeeded reports whether the server acknowledged the call with 204 No Content.
func (o *Outcome) Succeeded() bool {
	return o.StatusCode == http.StatusNoContent
}

// StatusError is returned when the search endpoint answers with anything but 200.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

// Delete removes a single project by key.
func (c *Client) Delete(ctx context.Context, projectKey string) (*Outcome, error) {
	if projectKey == "" {
		return nil, fmt.Errorf("project key is required")
	}

	q := url.Values{}
	q.Set("project", projectKey)

	req, err := c.newRequest(ctx, http.MethodPost, deletePath, q, nil)
	if err != nil {
		return nil, err
	}
	return c.doOutcome(req)
}

// BulkDelete removes every project in projectKeys, a comma-joined key list.
func (c *Client) BulkDelete(ctx context.Context, projectKeys string) (*Outcome, error) {
	form := url.Values{}
	form.Set("projects", projectKeys)

	req, err := c.newRequest(ctx, http.MethodPost, bulkDeletePath, nil, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.doOutcome(req)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	// SonarQube user tokens are sent as the basic auth login with an empty password.
	req.SetBasicAuth(c.token, "")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// do executes the request and logs it. The caller owns the response body.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	c.logger.Debug("http request",
		"method", req.Method,
		"url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("http request failed",
			"method", req.Method,
			"url", req.URL.String(),
			"error", err,
			"duration", time.Since(start))
		return nil, fmt.Errorf("making request: %w", err)
	}

	c.logger.Debug("http response",
		"method", req.Method,
		"url", req.URL.String(),
		"status", resp.StatusCode,
		"duration", time.Since(start))
	return resp, nil
}

func (c *Client) doOutcome(req *http.Request) (*Outcome, error) {
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	out := &Outcome{StatusCode: resp.StatusCode, Body: string(body)}
	if !out.Succeeded() {
		c.logger.Warn("delete rejected",
			"url", req.URL.String(),
			"status", out.StatusCode,
			"body", redactor.Redact(out.Body))
	}
	return out, nil
}
