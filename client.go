package strata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestBuilder produces a fresh *http.Request for one attempt. The engine
// calls it once per attempt so request bodies are never replayed from a
// consumed reader.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Option represents a configuration option
type Option func(*Client)

// Client is a resilient client for the Strata management API. It layers
// retries with backoff, error classification, session credential management
// and metrics around the standard net/http Client. It is safe for concurrent
// use; any number of logical calls may be in flight at once, each running
// its own independent retry loop.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	timeout    time.Duration
	scheduler  *Scheduler

	session *SessionManager
	metrics *MetricsCollector
	logger  Logger

	validationError error
}

// maxErrorBodyBytes bounds how much of a failed response body is read while
// looking for a server-supplied error message.
const maxErrorBodyBytes = 64 << 10

// New constructs a Client for the management API rooted at baseURL using the
// provided functional options. A best effort validation is performed; call
// IsValid / ValidationError for errors.
func New(baseURL string, options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRetries: 3,
		baseDelay:  1 * time.Second,
		maxDelay:   60 * time.Second,
		timeout:    30 * time.Second,
	}

	for _, option := range options {
		option(client)
	}

	client.scheduler = NewScheduler(client.maxRetries, client.baseDelay, client.maxDelay)

	if client.session != nil {
		client.session.metrics = client.metrics
		client.session.logger = client.logger
		if client.session.login == nil {
			client.session.login = client.sessionLogin
		}
	}

	if err := client.validateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

func (c *Client) validateConfiguration() error {
	if c.baseURL == "" {
		return fmt.Errorf("strata: base URL is required")
	}
	if _, err := url.Parse(c.baseURL); err != nil {
		return fmt.Errorf("strata: invalid base URL: %w", err)
	}
	if c.maxRetries < 0 {
		return fmt.Errorf("strata: maxRetries must be >= 0, got %d", c.maxRetries)
	}
	if c.baseDelay <= 0 {
		return fmt.Errorf("strata: base delay must be positive, got %v", c.baseDelay)
	}
	if c.session != nil && c.session.strategy == strategySession && c.session.ttl <= c.session.buffer {
		return fmt.Errorf("strata: session TTL (%v) must exceed the expiry buffer (%v)", c.session.ttl, c.session.buffer)
	}
	return nil
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// Session returns the client's session manager, or nil when no auth strategy
// is configured.
func (c *Client) Session() *SessionManager {
	return c.session
}

// URL joins a path onto the client's base URL.
func (c *Client) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Execute runs one logical API call as a sequence of attempts. build is
// invoked per attempt; endpoint and method label metrics and errors. The
// engine retries on transport failures, timeouts, 429 and 502/503/504, waits
// according to the scheduler between attempts (cancellable through ctx) and
// makes at most maxRetries+1 attempts in total.
//
// On success the response is returned with its body unread; the caller owns
// closing it. On a non-retryable failure the classified *RequestError is
// returned immediately. When retries are exhausted the result is a
// *RetryExhaustedError wrapping the last observed failure.
func (c *Client) Execute(ctx context.Context, build RequestBuilder, endpoint, method string) (*http.Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}

	for attempt := 1; ; attempt++ {
		var credential string
		if c.session != nil {
			// Fetched per attempt: the token may have been refreshed while
			// this call was backing off.
			cred, err := c.session.Credential(ctx)
			if err != nil {
				return nil, err
			}
			credential = cred
		}

		resp, failure, retryAfter := c.attempt(ctx, build, endpoint, method, attempt, credential)
		if failure == nil {
			return resp, nil
		}

		decision := c.scheduler.Decide(attempt, failure, retryAfter)
		if !decision.Retry {
			if failure.Retryable() {
				// The failure class permitted a retry but the budget did
				// not; report how many attempts were actually made.
				return nil, &RetryExhaustedError{
					Attempts: attempt,
					Method:   method,
					Endpoint: endpoint,
					Last:     failure,
				}
			}
			return nil, failure
		}

		if c.logger != nil {
			c.logger.Info("scheduling retry",
				"endpoint", endpoint, "method", method,
				"attempt", attempt, "maxRetries", c.maxRetries,
				"wait", decision.Wait, "category", failure.Category)
		}

		timer := time.NewTimer(decision.Wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		c.metrics.RecordRetry(method, endpoint, attempt)
	}
}

// attempt performs a single request attempt and classifies its outcome.
// Exactly one of resp and failure is non-nil. retryAfter carries the failing
// response's Retry-After header, if any.
func (c *Client) attempt(ctx context.Context, build RequestBuilder, endpoint, method string, attempt int, credential string) (resp *http.Response, failure *RequestError, retryAfter string) {
	start := time.Now()
	c.metrics.RecordRequestStart(method, endpoint)
	defer c.metrics.RecordRequestEnd(method, endpoint)

	req, err := build(ctx)
	if err != nil {
		failure = c.newRequestError(CategoryUnknown, "building request failed", err, method, endpoint, 0, attempt)
		c.metrics.RecordRequest(method, endpoint, 0, time.Since(start))
		c.metrics.RecordError(failure.Category, method, endpoint)
		return nil, failure, ""
	}

	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		category := ClassifyError(err)
		failure = c.newRequestError(category, "request failed", err, method, endpoint, 0, attempt)
		c.metrics.RecordRequest(method, endpoint, 0, time.Since(start))
		c.metrics.RecordError(category, method, endpoint)
		if c.logger != nil {
			c.logger.Debug("attempt failed",
				"endpoint", endpoint, "method", method,
				"attempt", attempt, "category", category, "error", err.Error())
		}
		return nil, failure, ""
	}

	c.metrics.RecordRequest(method, endpoint, httpResp.StatusCode, time.Since(start))

	if httpResp.StatusCode >= 400 {
		retryAfter = httpResp.Header.Get("Retry-After")
		message := readErrorMessage(httpResp.Body)
		httpResp.Body.Close()

		category := ClassifyStatus(httpResp.StatusCode)
		failure = c.newRequestError(category, message, nil, method, endpoint, httpResp.StatusCode, attempt)
		c.metrics.RecordError(category, method, endpoint)
		if c.logger != nil {
			c.logger.Debug("attempt failed",
				"endpoint", endpoint, "method", method,
				"attempt", attempt, "category", category, "status", httpResp.StatusCode)
		}
		return nil, failure, retryAfter
	}

	return httpResp, nil, ""
}

func (c *Client) newRequestError(category ErrorCategory, message string, cause error, method, endpoint string, statusCode, attempt int) *RequestError {
	return &RequestError{
		Category:   category,
		Message:    message,
		Cause:      cause,
		Method:     method,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Attempt:    attempt,
		Timestamp:  time.Now(),
	}
}

// apiErrorBody is the management API's error document shape.
type apiErrorBody struct {
	Messages []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"messages"`
}

// readErrorMessage extracts a server-supplied error message from a failed
// response body, falling back to a generic message.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	if err != nil || len(data) == 0 {
		return "request rejected"
	}

	var parsed apiErrorBody
	if err := json.Unmarshal(data, &parsed); err == nil && len(parsed.Messages) > 0 {
		return parsed.Messages[0].Text
	}
	return "request rejected"
}

// ExecuteJSON runs Execute and decodes the successful response body into out.
// Decode failures are never retried: a 2xx body that does not match the
// expected shape is a version or programming mismatch, not a transient
// fault, and is surfaced immediately as a CategoryAPI failure.
func (c *Client) ExecuteJSON(ctx context.Context, build RequestBuilder, endpoint, method string, out any) error {
	resp, err := c.Execute(ctx, build, endpoint, method)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		failure := c.newRequestError(CategoryAPI, "decoding response body failed", err, method, endpoint, resp.StatusCode, 0)
		c.metrics.RecordError(CategoryAPI, method, endpoint)
		return failure
	}
	return nil
}

// Get performs a GET against path, decoding the JSON response into out.
func (c *Client) Get(ctx context.Context, path, endpoint string, out any) error {
	return c.ExecuteJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path), nil)
	}, endpoint, http.MethodGet, out)
}

// PostForm performs a form-encoded POST against path, decoding the JSON
// response into out (out may be nil to discard it).
func (c *Client) PostForm(ctx context.Context, path, endpoint string, form url.Values, out any) error {
	encoded := form.Encode()
	return c.ExecuteJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, endpoint, http.MethodPost, out)
}

// Delete performs a DELETE against path, discarding the response body.
func (c *Client) Delete(ctx context.Context, path, endpoint string) error {
	return c.ExecuteJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodDelete, c.URL(path), nil)
	}, endpoint, http.MethodDelete, nil)
}

// sessionLogin is the default LoginFunc: it posts the session credentials to
// the auth endpoint and returns the issued session key. Login runs outside
// the session manager's credential path so it never recurses, and it is not
// retried: an operator should see auth problems immediately.
func (c *Client) sessionLogin(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("output_mode", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL("/services/auth/login"),
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		message := readErrorMessage(resp.Body)
		return "", fmt.Errorf("login rejected with status %d: %s", resp.StatusCode, message)
	}

	var body struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding login response: %w", err)
	}
	if body.SessionKey == "" {
		return "", fmt.Errorf("login response carried no session key")
	}
	return body.SessionKey, nil
}
