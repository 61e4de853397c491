package crawler

import (
	"context"

	"mpharvest/pkg/mp"
	"mpharvest/pkg/session"
	"mpharvest/pkg/store"
)

// ListClient is the slice of the console client the crawler needs.
type ListClient interface {
	UseCredential(cred *session.Credential)
	SearchAccount(ctx context.Context, name string) (*mp.AccountHit, error)
	ListArticles(ctx context.Context, fakeID string, begin, count int) (*mp.ArticlePage, error)
	FetchContent(ctx context.Context, articleURL string) (string, error)
}

// SessionSource supplies live credentials and re-login on demand.
type SessionSource interface {
	EnsureValid(ctx context.Context) (*session.Credential, error)
	InvalidateAndReauth(ctx context.Context) (*session.Credential, error)
}

// ArticleStore is the slice of the store the crawler needs.
type ArticleStore interface {
	Exists(ctx context.Context, url string) (bool, error)
	ExistsByTitleOrg(ctx context.Context, title, org string) (bool, error)
	Insert(ctx context.Context, a *store.Article) (store.Outcome, error)
	OrgName(ctx context.Context, account string) (string, error)
	RecordCrawlRun(ctx context.Context, run *store.CrawlRun) error
}
