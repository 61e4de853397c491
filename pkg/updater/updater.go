// Package updater backfills and refreshes article reading counts from the
// stats provider. A run combines two selections: articles from the
// trailing window that never got counts, and the articles of one fixed
// past day whose counts are refreshed unconditionally before they go
// stale on the platform.
package updater

import (
	"context"
	"time"

	"mpharvest/pkg/config"
	"mpharvest/pkg/logger"
	"mpharvest/pkg/statsapi"
	"mpharvest/pkg/store"
)

// MetricsStore is the slice of the store the updater needs.
type MetricsStore interface {
	SelectNeedingStats(ctx context.Context, days int, now time.Time) ([]store.Article, error)
	SelectPublishedOn(ctx context.Context, day time.Time) ([]store.Article, error)
	SelectPublishedBetween(ctx context.Context, start, end time.Time) ([]store.Article, error)
	UpdateMetrics(ctx context.Context, url string, views, likes, shares int64, at time.Time) error
	FindThemeEndingOn(ctx context.Context, day time.Time) (*store.Theme, error)
	FindThemeByID(ctx context.Context, id int64) (*store.Theme, error)
}

// StatsClient fetches reading counts in batches.
type StatsClient interface {
	BatchGetStats(ctx context.Context, urls []string, maxAttempts int) map[string]statsapi.BatchResult
}

// Result summarizes one update run.
type Result struct {
	Candidates int
	Updated    int
	Failed     int
}

// Updater drives reading-count updates.
type Updater struct {
	store  MetricsStore
	client StatsClient
	cfg    config.UpdateConfig
	logger logger.Logger

	now func() time.Time
}

// New creates an updater.
func New(st MetricsStore, client StatsClient, cfg config.UpdateConfig, log logger.Logger) *Updater {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Updater{
		store:  st,
		client: client,
		cfg:    cfg,
		logger: log,
		now:    time.Now,
	}
}

// Run performs the daily update: backfill plus the fixed-day refresh.
// dryRun lists the candidates without calling the provider.
func (u *Updater) Run(ctx context.Context, dryRun bool) (*Result, error) {
	now := u.now()

	fill, err := u.store.SelectNeedingStats(ctx, u.cfg.DaysToCheck, now)
	if err != nil {
		return nil, err
	}

	refreshDay := now.AddDate(0, 0, -u.cfg.RefreshAgeDays)
	refresh, err := u.store.SelectPublishedOn(ctx, refreshDay)
	if err != nil {
		return nil, err
	}

	candidates := mergeByURL(fill, refresh)
	u.logger.InfoWithFields("update candidates selected", map[string]interface{}{
		"backfill":    len(fill),
		"refresh":     len(refresh),
		"total":       len(candidates),
		"refresh_day": refreshDay.Format(store.DateLayout),
	})

	if dryRun {
		for _, a := range candidates {
			u.logger.InfoWithFields("would update", map[string]interface{}{
				"title":     a.Title,
				"published": a.PublishedTime().Format(store.DateLayout),
			})
		}
		return &Result{Candidates: len(candidates)}, nil
	}

	return u.update(ctx, candidates)
}

// RunTheme updates every article published inside the theme whose end
// date is tomorrow. It does nothing when no theme ends tomorrow.
func (u *Updater) RunTheme(ctx context.Context, dryRun bool) (*Result, *store.Theme, error) {
	tomorrow := u.now().AddDate(0, 0, 1)
	theme, err := u.store.FindThemeEndingOn(ctx, tomorrow)
	if err != nil {
		return nil, nil, err
	}
	if theme == nil {
		u.logger.Info("no theme ends tomorrow")
		return &Result{}, nil, nil
	}

	result, err := u.runThemeArticles(ctx, theme, dryRun)
	return result, theme, err
}

// RunThemeByID updates the articles of one specific theme regardless of
// its end date.
func (u *Updater) RunThemeByID(ctx context.Context, id int64, dryRun bool) (*Result, *store.Theme, error) {
	theme, err := u.store.FindThemeByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	result, err := u.runThemeArticles(ctx, theme, dryRun)
	return result, theme, err
}

func (u *Updater) runThemeArticles(ctx context.Context, theme *store.Theme, dryRun bool) (*Result, error) {
	start, end, err := theme.Period()
	if err != nil {
		return nil, err
	}

	articles, err := u.store.SelectPublishedBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}

	u.logger.InfoWithFields("theme articles selected", map[string]interface{}{
		"theme":    theme.Name,
		"articles": len(articles),
	})

	if dryRun {
		return &Result{Candidates: len(articles)}, nil
	}
	return u.update(ctx, articles)
}

// update fetches counts in batches and writes them back. The provider's
// read maps to the view count, its "looking" count to likes, and its
// "zan" count to shares, matching the existing report columns.
func (u *Updater) update(ctx context.Context, articles []store.Article) (*Result, error) {
	result := &Result{Candidates: len(articles)}
	now := u.now()

	for start := 0; start < len(articles); start += u.cfg.BatchSize {
		end := start + u.cfg.BatchSize
		if end > len(articles) {
			end = len(articles)
		}
		batch := articles[start:end]

		urls := make([]string, len(batch))
		for i, a := range batch {
			urls[i] = a.URL
		}

		stats := u.client.BatchGetStats(ctx, urls, u.cfg.MaxRetries)

		for _, a := range batch {
			res, ok := stats[a.URL]
			if !ok || res.Err != nil {
				result.Failed++
				if res.Err != nil {
					u.logger.WithError(res.Err).WarnWithFields("stats fetch failed", map[string]interface{}{
						"title": a.Title,
					})
				}
				continue
			}

			err := u.store.UpdateMetrics(ctx, a.URL,
				res.Stats.Reads, res.Stats.Watches, res.Stats.Likes, now)
			if err != nil {
				result.Failed++
				u.logger.WithError(err).WarnWithFields("metrics write failed", map[string]interface{}{
					"title": a.Title,
				})
				continue
			}
			result.Updated++
		}

		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	u.logger.InfoWithFields("update finished", map[string]interface{}{
		"candidates": result.Candidates,
		"updated":    result.Updated,
		"failed":     result.Failed,
	})
	return result, nil
}

// mergeByURL unions the two selections, keeping first occurrence order.
func mergeByURL(lists ...[]store.Article) []store.Article {
	seen := make(map[string]bool)
	var out []store.Article
	for _, list := range lists {
		for _, a := range list {
			if seen[a.URL] {
				continue
			}
			seen[a.URL] = true
			out = append(out, a)
		}
	}
	return out
}
