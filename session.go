package strata

import (
	"context"
	"sync"
	"time"

	"github.com/strataops/strata-go/internal/singleflight"
)

// LoginFunc obtains a fresh session token for the given credentials. The
// client installs a default implementation that posts to the management
// API's auth endpoint; tests substitute their own.
type LoginFunc func(ctx context.Context, username, password string) (string, error)

// Auth strategy names, used for labeling only. Credential material never
// appears in errors, logs or metrics.
const (
	strategyAPIToken = "api-token"
	strategySession  = "session"
)

// SessionManager holds the active authentication strategy and hands out the
// credential value requests are signed with. For the session strategy it
// caches the short-lived token and refreshes it near expiry, guaranteeing at
// most one in-flight refresh no matter how many callers need a token at
// once: the owner issues the login request, everyone else waits on it and
// shares the result. Readers observe either the old valid token or the newly
// refreshed one, never a half-updated value.
type SessionManager struct {
	strategy string
	apiToken string
	username string
	password string

	ttl    time.Duration
	buffer time.Duration
	login  LoginFunc

	mu       sync.RWMutex
	token    string
	issuedAt time.Time

	group   *singleflight.Group
	metrics *MetricsCollector
	logger  Logger
	now     func() time.Time
}

// refreshKey is the single singleflight key: there is only one session per
// manager to refresh.
const refreshKey = "session-refresh"

func newAPITokenSession(token string) *SessionManager {
	return &SessionManager{
		strategy: strategyAPIToken,
		apiToken: token,
		now:      time.Now,
	}
}

func newCredentialSession(username, password string) *SessionManager {
	return &SessionManager{
		strategy: strategySession,
		username: username,
		password: password,
		ttl:      1 * time.Hour,
		buffer:   2 * time.Minute,
		group:    singleflight.New(),
		now:      time.Now,
	}
}

// Strategy returns the active strategy name ("api-token" or "session").
func (m *SessionManager) Strategy() string {
	return m.strategy
}

// Credential returns the value to authenticate the next request with,
// refreshing the session token first when it is absent or near expiry.
// Refresh failures surface as *AuthError to every waiting caller; the
// manager never falls back to an expired token.
func (m *SessionManager) Credential(ctx context.Context) (string, error) {
	if m == nil {
		return "", ErrNoAuthConfigured
	}
	if m.strategy == strategyAPIToken {
		return m.apiToken, nil
	}

	m.mu.RLock()
	token, valid := m.token, m.tokenValidLocked()
	m.mu.RUnlock()
	if valid {
		return token, nil
	}

	return m.group.Do(ctx, refreshKey, func() (string, error) {
		return m.refresh(ctx)
	})
}

// tokenValidLocked reports whether the cached token exists and is not yet
// near expiry. Callers hold at least a read lock.
func (m *SessionManager) tokenValidLocked() bool {
	if m.token == "" {
		return false
	}
	age := m.now().Sub(m.issuedAt)
	return age < m.ttl-m.buffer
}

// refresh issues one login request and installs the new token. It runs under
// singleflight ownership; the re-check below catches callers that queued up
// behind a refresh that already finished.
func (m *SessionManager) refresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	token, valid := m.token, m.tokenValidLocked()
	m.mu.RUnlock()
	if valid {
		return token, nil
	}

	fresh, err := m.login(ctx, m.username, m.password)
	if err != nil {
		m.metrics.RecordSessionRefresh("failure")
		if m.logger != nil {
			m.logger.Warn("session refresh failed", "strategy", m.strategy, "error", err.Error())
		}
		return "", &AuthError{Strategy: m.strategy, Cause: err}
	}

	m.mu.Lock()
	m.token = fresh
	m.issuedAt = m.now()
	m.mu.Unlock()

	m.metrics.RecordSessionRefresh("success")
	if m.logger != nil {
		m.logger.Debug("session refreshed", "strategy", m.strategy, "ttl", m.ttl)
	}
	return fresh, nil
}

// Invalidate discards the cached token so the next Credential call performs
// a fresh login. Useful after the server rejects a token early.
func (m *SessionManager) Invalidate() {
	if m == nil || m.strategy != strategySession {
		return
	}
	m.mu.Lock()
	m.token = ""
	m.issuedAt = time.Time{}
	m.mu.Unlock()
}
