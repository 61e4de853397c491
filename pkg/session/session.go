// Package session manages the authenticated platform session: a token plus
// a set of cookies cached on disk. Cached credentials stay usable for a
// bounded number of hours, after which an interactive re-login is needed.
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"mpharvest/pkg/errors"
	"mpharvest/pkg/logger"
	"mpharvest/pkg/retry"
)

// Credential is an authenticated platform session.
type Credential struct {
	Token    string            `json:"token"`
	Cookies  map[string]string `json:"cookies"`
	IssuedAt time.Time         `json:"issued_at"`
}

// CookieHeader renders the cookies as a Cookie request header value.
// Names are sorted so the header is stable across runs.
func (c *Credential) CookieHeader() string {
	names := make([]string, 0, len(c.Cookies))
	for name := range c.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+c.Cookies[name])
	}
	return strings.Join(pairs, "; ")
}

// Age returns how long ago the credential was issued.
func (c *Credential) Age() time.Duration {
	return time.Since(c.IssuedAt)
}

// Expired reports whether the credential is older than maxAge.
func (c *Credential) Expired(maxAge time.Duration) bool {
	return c.Age() > maxAge
}

// AuthProvider obtains fresh credentials and checks live ones.
type AuthProvider interface {
	// InteractiveLogin performs a full login and returns a fresh credential.
	InteractiveLogin(ctx context.Context) (*Credential, error)
	// Validate checks that the credential is still accepted upstream.
	Validate(ctx context.Context, cred *Credential) error
}

// Manager owns the credential lifecycle: cache lookup, freshness check,
// live validation, and re-login when everything else fails.
type Manager struct {
	cache    *Cache
	provider AuthProvider
	maxAge   time.Duration
	attempts int
	backoff  retry.BackoffStrategy
	logger   logger.Logger

	current *Credential
}

// NewManager creates a session manager.
func NewManager(cache *Cache, provider AuthProvider, maxAge time.Duration, attempts int) *Manager {
	if attempts <= 0 {
		attempts = 3
	}
	return &Manager{
		cache:    cache,
		provider: provider,
		maxAge:   maxAge,
		attempts: attempts,
		backoff:  &retry.LinearBackoff{BaseDelay: 5 * time.Second, Increment: 5 * time.Second},
		logger:   logger.GetLogger(),
	}
}

// Current returns the credential established by the last EnsureValid call,
// or nil if none has been established yet.
func (m *Manager) Current() *Credential {
	return m.current
}

// EnsureValid returns a usable credential, preferring the in-memory one,
// then the disk cache, then a fresh login. A cached credential past its
// maximum age is discarded without contacting the platform.
func (m *Manager) EnsureValid(ctx context.Context) (*Credential, error) {
	if m.current != nil && !m.current.Expired(m.maxAge) {
		return m.current, nil
	}

	cred, err := m.cache.Load()
	if err != nil {
		m.logger.WithError(err).Warn("session cache unreadable, discarding")
		_ = m.cache.Delete()
		cred = nil
	}

	if cred != nil {
		if cred.Expired(m.maxAge) {
			m.logger.InfoWithFields("cached session too old", map[string]interface{}{
				"age_hours": int(cred.Age().Hours()),
				"max_hours": int(m.maxAge.Hours()),
			})
		} else if err := m.provider.Validate(ctx, cred); err != nil {
			m.logger.WithError(err).Info("cached session rejected upstream")
		} else {
			m.current = cred
			return cred, nil
		}
	}

	return m.login(ctx)
}

// InvalidateAndReauth discards the current credential and performs a fresh
// login. Callers use it after the platform reports the session invalid
// mid-run.
func (m *Manager) InvalidateAndReauth(ctx context.Context) (*Credential, error) {
	m.current = nil
	if err := m.cache.Delete(); err != nil {
		m.logger.WithError(err).Warn("failed to remove session cache")
	}
	return m.login(ctx)
}

func (m *Manager) login(ctx context.Context) (*Credential, error) {
	cred, err := retry.DoWithResult(func() (*Credential, error) {
		c, err := m.provider.InteractiveLogin(ctx)
		if err != nil {
			return nil, err
		}
		if c.Token == "" {
			return nil, errors.New(errors.ErrorTypeAuth, 0, "login produced no token")
		}
		return c, nil
	}, &retry.Config{
		MaxAttempts: m.attempts,
		Backoff:     m.backoff,
		RetryIf: func(err error) bool {
			// Auth failures during login are worth another attempt; only
			// cancellation stops the loop early.
			return ctx.Err() == nil
		},
		Context: ctx,
		Logger:  m.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("login failed after %d attempts: %w", m.attempts, err)
	}

	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = time.Now()
	}

	if err := m.cache.Save(cred); err != nil {
		m.logger.WithError(err).Warn("failed to persist session cache")
	}

	m.current = cred
	m.logger.InfoWithFields("session established", map[string]interface{}{
		"cookies": len(cred.Cookies),
	})
	return cred, nil
}
