package strata

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/strataops/strata-go/internal/backoff"
)

// RetryDecision is the scheduler's verdict for one failed attempt: whether
// to re-issue the request and how long to wait first.
type RetryDecision struct {
	Retry bool
	Wait  time.Duration
}

// Scheduler decides how long to wait before attempt N+1 given attempt N's
// outcome. The wait is the maximum of the client's own exponential schedule
// and the server's Retry-After signal, so explicit backpressure is never
// shortened while a minimum polite delay is guaranteed without it.
type Scheduler struct {
	maxRetries int
	schedule   backoff.Schedule
	now        func() time.Time
}

// NewScheduler creates a scheduler permitting maxRetries retries after the
// initial attempt, with the given exponential base delay.
func NewScheduler(maxRetries int, baseDelay, maxDelay time.Duration) *Scheduler {
	return &Scheduler{
		maxRetries: maxRetries,
		schedule:   backoff.Schedule{Base: baseDelay, Max: maxDelay},
		now:        time.Now,
	}
}

// Decide computes the retry decision after a failed attempt. attempt is the
// number of attempts made so far (1-based); retryAfter is the raw value of
// the failing response's Retry-After header, empty when absent.
func (s *Scheduler) Decide(attempt int, failure *RequestError, retryAfter string) RetryDecision {
	if failure == nil || !failure.Retryable() {
		return RetryDecision{}
	}
	if attempt > s.maxRetries {
		return RetryDecision{}
	}

	wait := s.schedule.Delay(attempt)
	if candidate, ok := s.parseRetryAfter(retryAfter); ok && candidate > wait {
		wait = candidate
	}

	return RetryDecision{Retry: true, Wait: wait}
}

// parseRetryAfter parses a Retry-After header value as either delta-seconds
// (non-negative integer) or an HTTP-date (RFC 7231). A malformed value or a
// date in the past yields no candidate.
func (s *Scheduler) parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(s.now()); d > 0 {
			return d, true
		}
	}

	return 0, false
}
