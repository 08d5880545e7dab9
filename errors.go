package strata

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// ErrorCategory is the closed taxonomy every raw failure is mapped into.
// Categories drive the retry decision and the error metrics labels.
type ErrorCategory string

const (
	// CategoryTransport covers connection-level failures: refused
	// connections, DNS failures, resets mid-body.
	CategoryTransport ErrorCategory = "Transport"
	// CategoryHTTP4xx covers client-error status codes (400..499).
	CategoryHTTP4xx ErrorCategory = "Http4xx"
	// CategoryHTTP5xx covers server-error status codes (500..599).
	CategoryHTTP5xx ErrorCategory = "Http5xx"
	// CategoryAPI covers responses the server delivered intact but whose
	// body does not match the expected shape, including error documents
	// returned with a 2xx status.
	CategoryAPI ErrorCategory = "Api"
	// CategoryTimeout covers connect and response deadline expiry.
	CategoryTimeout ErrorCategory = "Timeout"
	// CategoryTLS covers handshake and certificate verification failures.
	CategoryTLS ErrorCategory = "Tls"
	// CategoryUnknown is the fallback when no other category applies.
	CategoryUnknown ErrorCategory = "Unknown"
)

// Sentinel errors for common failure scenarios
var (
	// ErrNoAuthConfigured is returned when a credential is requested but the
	// client was built without an auth strategy.
	ErrNoAuthConfigured = errors.New("strata: no auth strategy configured")

	// ErrSavepointNotFound is returned when rolling a transaction builder
	// back to a savepoint name that was never set.
	ErrSavepointNotFound = errors.New("strata: savepoint not found")

	// ErrPendingNotFound is returned by LoadPending when no interrupted
	// transaction journal exists.
	ErrPendingNotFound = errors.New("strata: no pending transaction")
)

// ClassifyError maps a transport-layer error into an ErrorCategory. It never
// returns a category for HTTP statuses; see ClassifyStatus for those.
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return CategoryTLS
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return CategoryTLS
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return CategoryTLS
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return CategoryTLS
	}
	var certInvalid x509.CertificateInvalidError
	if errors.As(err, &certInvalid) {
		return CategoryTLS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return CategoryTransport
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryTransport
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CategoryTransport
	}

	return CategoryTransport
}

// ClassifyStatus maps an HTTP status code into an ErrorCategory. Statuses
// below 400 are not failures and map to CategoryUnknown.
func ClassifyStatus(statusCode int) ErrorCategory {
	switch {
	case statusCode >= 400 && statusCode < 500:
		return CategoryHTTP4xx
	case statusCode >= 500 && statusCode < 600:
		return CategoryHTTP5xx
	default:
		return CategoryUnknown
	}
}

// retryableStatuses is the closed set of HTTP statuses worth another attempt:
// explicit backpressure plus gateway-transient errors. A plain 500 is treated
// as a server bug, not a transient fault.
var retryableStatuses = map[int]bool{
	429: true,
	502: true,
	503: true,
	504: true,
}

// IsRetryable reports whether a failure with the given category and status
// code may be retried. TLS failures and body/schema mismatches never are.
func IsRetryable(category ErrorCategory, statusCode int) bool {
	switch category {
	case CategoryTimeout, CategoryTransport:
		return true
	case CategoryHTTP4xx, CategoryHTTP5xx:
		return retryableStatuses[statusCode]
	default:
		return false
	}
}

// RequestError is the classified form of a single failed attempt against the
// management API. It carries enough context to render a useful message but
// never any credential material.
type RequestError struct {
	Category   ErrorCategory
	Message    string
	Cause      error
	Method     string
	Endpoint   string
	StatusCode int
	Attempt    int
	Timestamp  time.Time
}

// Error implements error interface.
func (e *RequestError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Category, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Endpoint != "" {
		msg = fmt.Sprintf("%s [%s %s]", msg, e.Method, e.Endpoint)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error categories for errors.Is.
func (e *RequestError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*RequestError); ok {
		return e.Category == targetErr.Category
	}
	return false
}

// Retryable reports the retry verdict for this classified failure.
func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	return IsRetryable(e.Category, e.StatusCode)
}

// RetryExhaustedError signals that every permitted attempt of a logical call
// failed. Attempts is the number actually made (initial attempt included),
// so callers can distinguish "gave up after N tries" from "failed outright".
type RetryExhaustedError struct {
	Attempts int
	Method   string
	Endpoint string
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("strata: retries exhausted after %d attempts [%s %s]: %v",
		e.Attempts, e.Method, e.Endpoint, e.Last)
}

// Unwrap returns the last observed attempt failure.
func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// AuthError signals that the session manager could not obtain or refresh a
// credential. It intentionally carries no usernames, passwords or tokens.
type AuthError struct {
	Strategy string
	Cause    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("strata: authentication failed (%s): %v", e.Strategy, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *AuthError) Unwrap() error { return e.Cause }
