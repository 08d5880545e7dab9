// Package backoff computes the client's own retry schedule. The schedule is
// deliberately deterministic: its output is combined with the server's
// Retry-After signal by taking the maximum, so it acts as a guaranteed
// minimum polite delay rather than a jittered spread.
package backoff

import "time"

// Schedule is a pure exponential backoff: the wait before retry N is
// Base * 2^(N-1), clamped to Max.
type Schedule struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultSchedule matches the management API's documented client etiquette:
// 1s, 2s, 4s, ... capped at one minute.
var DefaultSchedule = Schedule{
	Base: 1 * time.Second,
	Max:  60 * time.Second,
}

// Delay returns the wait before the given retry. retry is 1-based: 1 for the
// first retry (i.e. before the second attempt). Values below 1 are treated
// as 1.
func (s Schedule) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}

	base := s.Base
	if base <= 0 {
		base = DefaultSchedule.Base
	}
	max := s.Max
	if max <= 0 {
		max = DefaultSchedule.Max
	}

	// Shifting past 62 bits overflows time.Duration long before any real
	// schedule gets there.
	shift := retry - 1
	if shift > 30 {
		return max
	}

	d := base << uint(shift)
	if d <= 0 || d > max {
		return max
	}
	return d
}
