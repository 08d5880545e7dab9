package strata

import (
	"log/slog"
	"net/http"
	"time"
)

// WithMaxRetries sets the maximum number of retry attempts after the initial
// attempt (total attempts = n + 1).
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBaseDelay sets the exponential backoff base delay (default 1s).
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = d
	}
}

// WithMaxDelay caps the computed backoff delay (default 60s). A Retry-After
// signal from the server is not subject to the cap.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithTimeout sets the per-attempt connect/response timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
		if c.timeout != 0 {
			c.httpClient.Timeout = c.timeout
		}
	}
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithAPIToken authenticates every request with a static API token. The
// token never expires from the client's perspective.
func WithAPIToken(token string) Option {
	return func(c *Client) {
		c.session = newAPITokenSession(token)
	}
}

// WithSessionAuth authenticates with username/password, exchanging them for
// a short-lived session token that is cached and refreshed near expiry.
func WithSessionAuth(username, password string) Option {
	return func(c *Client) {
		c.session = newCredentialSession(username, password)
	}
}

// WithSessionTTL sets the configured lifetime of a session token (default
// 1h). Only meaningful together with WithSessionAuth.
func WithSessionTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if c.session != nil {
			c.session.ttl = ttl
		}
	}
}

// WithExpiryBuffer sets how long before nominal expiry a token is treated as
// expired (default 2m). The buffer prevents a token from expiring while a
// request using it is in flight.
func WithExpiryBuffer(buffer time.Duration) Option {
	return func(c *Client) {
		if c.session != nil {
			c.session.buffer = buffer
		}
	}
}

// WithLoginFunc overrides how session credentials are exchanged for a token.
// Mainly useful in tests.
func WithLoginFunc(login LoginFunc) Option {
	return func(c *Client) {
		if c.session != nil {
			c.session.login = login
		}
	}
}

// WithMetrics enables Prometheus metrics collection on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets a custom logger for diagnostic output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSlogLogger routes diagnostic output through a *slog.Logger.
func WithSlogLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = NewSlogLogger(l)
	}
}
