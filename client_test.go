package strata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// statusSequenceServer replies with the given statuses in order, repeating
// the last one forever, and counts requests.
func statusSequenceServer(t *testing.T, statuses []int, headers map[string]string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		idx := int(n) - 1
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		status := statuses[idx]
		if status >= 400 {
			for k, v := range headers {
				w.Header().Set(k, v)
			}
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func fastClient(url string, options ...Option) *Client {
	base := []Option{WithBaseDelay(1 * time.Millisecond), WithMaxDelay(50 * time.Millisecond)}
	return New(url, append(base, options...)...)
}

func getBuilder(url string) RequestBuilder {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	server, calls := statusSequenceServer(t, []int{200}, nil)
	client := fastClient(server.URL, WithMaxRetries(3))

	resp, err := client.Execute(context.Background(), getBuilder(server.URL), "test", "GET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if got := atomic.LoadInt32(calls); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	server, calls := statusSequenceServer(t, []int{503, 200}, nil)
	client := fastClient(server.URL, WithMaxRetries(3))

	resp, err := client.Execute(context.Background(), getBuilder(server.URL), "test", "GET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if got := atomic.LoadInt32(calls); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
}

func TestExecuteRetryExhausted(t *testing.T) {
	server, calls := statusSequenceServer(t, []int{503}, nil)
	client := fastClient(server.URL, WithMaxRetries(2))

	_, err := client.Execute(context.Background(), getBuilder(server.URL), "test", "GET")

	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %T: %v", err, err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", exhausted.Attempts)
	}
	if got := atomic.LoadInt32(calls); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}

	var last *RequestError
	if !errors.As(err, &last) {
		t.Fatal("expected wrapped RequestError")
	}
	if last.StatusCode != 503 || last.Category != CategoryHTTP5xx {
		t.Errorf("last failure = %s/%d, want Http5xx/503", last.Category, last.StatusCode)
	}
}

func TestExecuteZeroRetriesStillReportsExhaustion(t *testing.T) {
	server, calls := statusSequenceServer(t, []int{503}, nil)
	client := fastClient(server.URL, WithMaxRetries(0))

	_, err := client.Execute(context.Background(), getBuilder(server.URL), "test", "GET")

	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %T: %v", err, err)
	}
	if exhausted.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", exhausted.Attempts)
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
}

func TestExecuteDoesNotRetryClientErrors(t *testing.T) {
	for _, status := range []int{400, 404, 500, 501} {
		server, calls := statusSequenceServer(t, []int{status}, nil)
		client := fastClient(server.URL, WithMaxRetries(3))

		_, err := client.Execute(context.Background(), getBuilder(server.URL), "test", "GET")

		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			t.Fatalf("status %d: expected RequestError, got %T", status, err)
		}
		var exhausted *RetryExhaustedError
		if errors.As(err, &exhausted) {
			t.Errorf("status %d: non-retryable failure must not report exhaustion", status)
		}
		if got := atomic.LoadInt32(calls); got != 1 {
			t.Errorf("status %d: server saw %d requests, want 1", status, got)
		}
	}
}

func TestExecuteRetriesRateLimit(t *testing.T) {
	server, calls := statusSequenceServer(t, []int{429, 200}, nil)
	client := fastClient(server.URL, WithMaxRetries(3))

	resp, err := client.Execute(context.Background(), getBuilder(server.URL), "test", "GET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if got := atomic.LoadInt32(calls); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
}

func TestExecuteHonorsRetryAfter(t *testing.T) {
	if testing.Short() {
		t.Skip("waits a full Retry-After second")
	}

	server, calls := statusSequenceServer(t, []int{429, 200}, map[string]string{"Retry-After": "1"})
	client := fastClient(server.URL, WithMaxRetries(3))

	start := time.Now()
	resp, err := client.Execute(context.Background(), getBuilder(server.URL), "test", "GET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if elapsed := time.Since(start); elapsed < 1*time.Second {
		t.Errorf("elapsed %v, want >= 1s from Retry-After despite 1ms backoff base", elapsed)
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	server, calls := statusSequenceServer(t, []int{503}, nil)
	client := New(server.URL, WithMaxRetries(3), WithBaseDelay(10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := client.Execute(ctx, getBuilder(server.URL), "test", "GET")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Errorf("server saw %d requests, want 1 (no attempt after cancellation)", got)
	}
}

func TestExecuteTransportFailureRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close() // connections now refused

	client := fastClient(url, WithMaxRetries(1))
	_, err := client.Execute(context.Background(), getBuilder(url), "test", "GET")

	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %T: %v", err, err)
	}
	if exhausted.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", exhausted.Attempts)
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatal("expected wrapped RequestError")
	}
	if reqErr.Category != CategoryTransport {
		t.Errorf("category = %s, want Transport", reqErr.Category)
	}
}

func TestExecuteJSONDecodeFailureNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": truncat`))
	}))
	t.Cleanup(server.Close)

	client := fastClient(server.URL, WithMaxRetries(3))
	var out struct {
		Status string `json:"status"`
	}
	err := client.ExecuteJSON(context.Background(), getBuilder(server.URL), "test", "GET", &out)

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T: %v", err, err)
	}
	if reqErr.Category != CategoryAPI {
		t.Errorf("category = %s, want Api", reqErr.Category)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server saw %d requests, want 1 (decode failures are never retried)", got)
	}
}

func TestExecuteParsesServerErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"type": "ERROR", "text": "index name contains invalid characters"}},
		})
	}))
	t.Cleanup(server.Close)

	client := fastClient(server.URL, WithMaxRetries(0))
	_, err := client.Execute(context.Background(), getBuilder(server.URL), "test", "GET")

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T: %v", err, err)
	}
	if reqErr.Message != "index name contains invalid characters" {
		t.Errorf("message = %q, want the server-supplied text", reqErr.Message)
	}
}

func TestExecuteAttachesAPIToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	client := fastClient(server.URL, WithAPIToken("tok-123"))
	resp, err := client.Execute(context.Background(), getBuilder(server.URL), "test", "GET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok-123")
	}
}

func TestExecuteAuthFailureSurfacedVerbatim(t *testing.T) {
	var apiCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
	}))
	t.Cleanup(server.Close)

	client := fastClient(server.URL,
		WithSessionAuth("admin", "hunter2"),
		WithLoginFunc(func(ctx context.Context, username, password string) (string, error) {
			return "", errors.New("login rejected with status 401")
		}),
	)

	_, err := client.Execute(context.Background(), getBuilder(server.URL), "test", "GET")

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %T: %v", err, err)
	}
	if got := atomic.LoadInt32(&apiCalls); got != 0 {
		t.Errorf("server saw %d requests, want 0 (no request without a credential)", got)
	}
}

func TestClientValidation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		options []Option
	}{
		{"empty base URL", "", nil},
		{"negative retries", "https://x", []Option{WithMaxRetries(-1)}},
		{"zero base delay", "https://x", []Option{WithBaseDelay(0)}},
		{"buffer exceeds ttl", "https://x", []Option{
			WithSessionAuth("u", "p"), WithSessionTTL(time.Minute), WithExpiryBuffer(2 * time.Minute),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.baseURL, tt.options...)
			if client.IsValid() {
				t.Fatal("expected invalid configuration")
			}
			if _, err := client.Execute(context.Background(), getBuilder("https://x"), "test", "GET"); err == nil {
				t.Error("Execute on invalid client must fail")
			}
		})
	}
}

func TestConvenienceHelpers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			if err := r.ParseForm(); err != nil {
				t.Errorf("parsing form: %v", err)
			}
			if got := r.PostForm.Get("name"); got != "audit" {
				t.Errorf("form name = %q, want audit", got)
			}
		case http.MethodDelete:
			// body-less
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(server.Close)

	client := fastClient(server.URL)
	ctx := context.Background()

	var out struct {
		Status string `json:"status"`
	}
	if err := client.Get(ctx, "/services/cluster/health", "cluster/health", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Status != "ok" {
		t.Errorf("Get decoded %q, want ok", out.Status)
	}

	form := map[string][]string{"name": {"audit"}}
	if err := client.PostForm(ctx, "/services/data/indexes", "data/indexes", form, nil); err != nil {
		t.Fatalf("PostForm: %v", err)
	}

	if err := client.Delete(ctx, "/services/data/indexes/audit", "data/indexes"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestURLJoins(t *testing.T) {
	client := New("https://cluster.example.com:8089/")
	if got := client.URL("services/cluster/health"); got != "https://cluster.example.com:8089/services/cluster/health" {
		t.Errorf("URL = %q", got)
	}
	if got := client.URL("/services/cluster/health"); got != "https://cluster.example.com:8089/services/cluster/health" {
		t.Errorf("URL = %q", got)
	}
}
