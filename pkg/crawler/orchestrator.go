// Package crawler collects recently published articles from a set of
// official accounts through the authenticated console listing. A crawl
// survives mid-run session expiry by re-logging in once and restarting
// the affected account from the top of its listing.
package crawler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"mpharvest/pkg/config"
	"mpharvest/pkg/errors"
	"mpharvest/pkg/logger"
	"mpharvest/pkg/retry"
	"mpharvest/pkg/store"
)

// Result summarizes one crawl run.
type Result struct {
	Accounts   int
	Collected  int
	Duplicates int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Orchestrator drives the crawl across accounts.
type Orchestrator struct {
	client   ListClient
	sessions SessionSource
	store    ArticleStore
	dedup    *Deduplicator
	cfg      config.CrawlConfig
	logger   logger.Logger

	// injectable for tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates an orchestrator.
func New(client ListClient, sessions SessionSource, st ArticleStore, cfg config.CrawlConfig, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Orchestrator{
		client:   client,
		sessions: sessions,
		store:    st,
		dedup:    NewDeduplicator(st),
		cfg:      cfg,
		logger:   log,
		sleep:    retry.Wait,
		now:      time.Now,
	}
}

// Run crawls every account and records the completed run. It returns an
// error only when the run cannot continue at all: a failed login, a
// second session expiry after re-login, or context cancellation.
func (o *Orchestrator) Run(ctx context.Context, accounts []string) (*Result, error) {
	started := o.now()

	cred, err := o.sessions.EnsureValid(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to establish session: %w", err)
	}
	o.client.UseCredential(cred)

	cutoff := o.cutoff()
	result := &Result{Accounts: len(accounts), StartedAt: started}

	for i, account := range accounts {
		o.logger.InfoWithFields("crawling account", map[string]interface{}{
			"account": account,
			"index":   i + 1,
			"total":   len(accounts),
		})

		if err := o.crawlAccount(ctx, account, cutoff, result); err != nil {
			if errors.Is(err, errors.ErrorTypeNotFound) {
				o.logger.WarnWithFields("account not found, skipping", map[string]interface{}{
					"account": account,
				})
				continue
			}
			return nil, err
		}

		if i < len(accounts)-1 {
			if err := o.sleep(ctx, o.randomDelay(o.cfg.AccountDelayMin.Std(), o.cfg.AccountDelayMax.Std())); err != nil {
				return nil, err
			}
		}
	}

	result.FinishedAt = o.now()
	run := &store.CrawlRun{
		StartedAt:  result.StartedAt.Unix(),
		FinishedAt: result.FinishedAt.Unix(),
		Accounts:   result.Accounts,
		Collected:  result.Collected,
		Duplicates: result.Duplicates,
		Failed:     result.Failed,
	}
	if err := o.store.RecordCrawlRun(ctx, run); err != nil {
		o.logger.WithError(err).Warn("failed to record crawl run")
	}

	o.logger.InfoWithFields("crawl finished", map[string]interface{}{
		"accounts":   result.Accounts,
		"collected":  result.Collected,
		"duplicates": result.Duplicates,
		"failed":     result.Failed,
		"duration":   result.FinishedAt.Sub(result.StartedAt).String(),
	})
	return result, nil
}

// crawlAccount collects one account's articles. One re-login is allowed;
// a session that dies again right after re-login aborts the run, since
// more logins would not help.
func (o *Orchestrator) crawlAccount(ctx context.Context, account string, cutoff time.Time, result *Result) error {
	reauthed := false

	for {
		err := o.crawlAccountOnce(ctx, account, cutoff, result)
		if err == nil {
			return nil
		}
		if !errors.IsSessionInvalid(err) {
			return fmt.Errorf("account %q: %w", account, err)
		}
		if reauthed {
			return fmt.Errorf("account %q: session invalid again after re-login: %w", account, err)
		}

		o.logger.WarnWithFields("session expired mid-crawl, re-authenticating", map[string]interface{}{
			"account": account,
		})
		cred, authErr := o.sessions.InvalidateAndReauth(ctx)
		if authErr != nil {
			return fmt.Errorf("re-login failed: %w", authErr)
		}
		o.client.UseCredential(cred)
		reauthed = true
		// restart the account from the top of its listing; already stored
		// articles are caught by the duplicate checks
	}
}

func (o *Orchestrator) crawlAccountOnce(ctx context.Context, account string, cutoff time.Time, result *Result) error {
	hit, err := o.client.SearchAccount(ctx, account)
	if err != nil {
		return err
	}

	org, err := o.store.OrgName(ctx, account)
	if err != nil {
		return err
	}

	fetcher := NewFetcher(o.client, o.cfg.PageSize)
	it := fetcher.Articles(hit.FakeID, cutoff)
	collected := 0

	for {
		if o.cfg.MaxArticlesPerAccount > 0 && collected >= o.cfg.MaxArticlesPerAccount {
			o.logger.InfoWithFields("account article cap reached", map[string]interface{}{
				"account": account,
				"cap":     o.cfg.MaxArticlesPerAccount,
			})
			return nil
		}

		item, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if item == nil {
			return nil
		}

		dup, reason, err := o.dedup.IsDuplicate(ctx, item.Link, item.Title, org)
		if err != nil {
			return err
		}
		if dup {
			result.Duplicates++
			o.logger.DebugWithFields("skipping duplicate", map[string]interface{}{
				"title":  item.Title,
				"reason": reason,
			})
			continue
		}

		content, err := o.client.FetchContent(ctx, item.Link)
		if err != nil {
			if errors.IsSessionInvalid(err) {
				return err
			}
			// the listing row alone is still worth keeping
			result.Failed++
			o.logger.WithError(err).WarnWithFields("failed to fetch article content", map[string]interface{}{
				"title": item.Title,
			})
			content = ""
		}

		publishedAt := time.Unix(item.CreateTime, 0)
		article := &store.Article{
			ArticleID:   store.GenerateArticleID(publishedAt),
			Title:       item.Title,
			URL:         item.Link,
			Account:     account,
			Org:         org,
			Digest:      item.Digest,
			Content:     content,
			PublishedAt: item.CreateTime,
		}

		outcome, err := o.store.Insert(ctx, article)
		if err != nil {
			return err
		}
		if outcome == store.AlreadyExists {
			result.Duplicates++
			continue
		}

		result.Collected++
		collected++

		if err := o.sleep(ctx, o.randomDelay(o.cfg.ItemDelayMin.Std(), o.cfg.ItemDelayMax.Std())); err != nil {
			return err
		}
	}
}

// cutoff is the oldest publish time still inside the crawl window:
// CrawlDays full days before the start of today.
func (o *Orchestrator) cutoff() time.Time {
	now := o.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return today.AddDate(0, 0, -o.cfg.CrawlDays)
}

func (o *Orchestrator) randomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
