// Package monitor watches the cached session's age against the two
// lifetime clocks: the cookie lifetime and the longer token lifetime.
// Operators get notified before either runs out so they can re-login
// ahead of a scheduled crawl instead of during one.
package monitor

import (
	"context"
	"fmt"
	"time"

	"mpharvest/pkg/logger"
	"mpharvest/pkg/session"
)

// Status is the health of one lifetime clock.
type Status string

const (
	StatusOK       Status = "ok"
	StatusExpiring Status = "expiring"
	StatusExpired  Status = "expired"
	StatusMissing  Status = "missing"
)

// Report is the outcome of one check.
type Report struct {
	CheckedAt     time.Time
	Age           time.Duration
	CookieStatus  Status
	TokenStatus   Status
	CookieRemains time.Duration
	TokenRemains  time.Duration
}

// NeedsAttention reports whether an operator should act.
func (r *Report) NeedsAttention() bool {
	return r.CookieStatus != StatusOK || r.TokenStatus != StatusOK
}

// Notifier delivers attention-worthy reports to an operator.
type Notifier interface {
	Notify(ctx context.Context, subject, message string) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger logger.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, subject, message string) error {
	log := n.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	log.WarnWithFields(subject, map[string]interface{}{"detail": message})
	return nil
}

// Monitor checks the cached credential's age.
type Monitor struct {
	cache        *session.Cache
	cookieMaxAge time.Duration
	tokenMaxAge  time.Duration
	warnWindow   time.Duration
	notifier     Notifier
	logger       logger.Logger

	now func() time.Time
}

// New creates a monitor. warnWindow is how long before expiry a clock
// counts as expiring.
func New(cache *session.Cache, cookieMaxAge, tokenMaxAge, warnWindow time.Duration, notifier Notifier, log logger.Logger) *Monitor {
	if log == nil {
		log = logger.GetLogger()
	}
	if notifier == nil {
		notifier = &LogNotifier{Logger: log}
	}
	return &Monitor{
		cache:        cache,
		cookieMaxAge: cookieMaxAge,
		tokenMaxAge:  tokenMaxAge,
		warnWindow:   warnWindow,
		notifier:     notifier,
		logger:       log,
		now:          time.Now,
	}
}

// Check inspects the cached credential and notifies when attention is
// needed. A missing cache is reported, not an error.
func (m *Monitor) Check(ctx context.Context) (*Report, error) {
	now := m.now()
	report := &Report{CheckedAt: now}

	cred, err := m.cache.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to read session cache: %w", err)
	}
	if cred == nil {
		report.CookieStatus = StatusMissing
		report.TokenStatus = StatusMissing
		if err := m.notifier.Notify(ctx, "no cached session", "no session cache found, run a login before the next crawl"); err != nil {
			m.logger.WithError(err).Warn("notification failed")
		}
		return report, nil
	}

	report.Age = now.Sub(cred.IssuedAt)
	report.CookieStatus, report.CookieRemains = m.classify(report.Age, m.cookieMaxAge)
	report.TokenStatus, report.TokenRemains = m.classify(report.Age, m.tokenMaxAge)

	m.logger.InfoWithFields("session age checked", map[string]interface{}{
		"age_hours":      int(report.Age.Hours()),
		"cookie_status":  string(report.CookieStatus),
		"token_status":   string(report.TokenStatus),
		"cookie_remains": report.CookieRemains.String(),
		"token_remains":  report.TokenRemains.String(),
	})

	if report.NeedsAttention() {
		msg := fmt.Sprintf("session is %dh old: cookies %s (%s left), token %s (%s left)",
			int(report.Age.Hours()),
			report.CookieStatus, formatRemains(report.CookieRemains),
			report.TokenStatus, formatRemains(report.TokenRemains))
		if err := m.notifier.Notify(ctx, "session needs re-login soon", msg); err != nil {
			m.logger.WithError(err).Warn("notification failed")
		}
	}

	return report, nil
}

func (m *Monitor) classify(age, maxAge time.Duration) (Status, time.Duration) {
	remains := maxAge - age
	switch {
	case remains <= 0:
		return StatusExpired, 0
	case remains <= m.warnWindow:
		return StatusExpiring, remains
	default:
		return StatusOK, remains
	}
}

func formatRemains(d time.Duration) string {
	if d <= 0 {
		return "none"
	}
	return d.Truncate(time.Minute).String()
}
