package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpharvest/pkg/config"
	"mpharvest/pkg/errors"
	"mpharvest/pkg/mp"
	"mpharvest/pkg/session"
	"mpharvest/pkg/store"
)

// memStore is an in-memory ArticleStore.
type memStore struct {
	byURL      map[string]*store.Article
	byTitleOrg map[string]bool
	orgs       map[string]string
	runs       []*store.CrawlRun
}

func newMemStore() *memStore {
	return &memStore{
		byURL:      make(map[string]*store.Article),
		byTitleOrg: make(map[string]bool),
		orgs:       make(map[string]string),
	}
}

func (m *memStore) Exists(ctx context.Context, url string) (bool, error) {
	_, ok := m.byURL[url]
	return ok, nil
}

func (m *memStore) ExistsByTitleOrg(ctx context.Context, title, org string) (bool, error) {
	return m.byTitleOrg[title+"|"+org], nil
}

func (m *memStore) Insert(ctx context.Context, a *store.Article) (store.Outcome, error) {
	if _, ok := m.byURL[a.URL]; ok {
		return store.AlreadyExists, nil
	}
	m.byURL[a.URL] = a
	m.byTitleOrg[a.Title+"|"+a.Org] = true
	return store.Inserted, nil
}

func (m *memStore) OrgName(ctx context.Context, account string) (string, error) {
	if org, ok := m.orgs[account]; ok {
		return org, nil
	}
	return account, nil
}

func (m *memStore) RecordCrawlRun(ctx context.Context, run *store.CrawlRun) error {
	m.runs = append(m.runs, run)
	return nil
}

// fakeSessions counts logins and can be told to fail re-login.
type fakeSessions struct {
	ensures     int
	reauths     int
	reauthErr   error
	lastCredTok string
}

func (f *fakeSessions) EnsureValid(ctx context.Context) (*session.Credential, error) {
	f.ensures++
	f.lastCredTok = "tok-initial"
	return &session.Credential{Token: f.lastCredTok, IssuedAt: time.Now()}, nil
}

func (f *fakeSessions) InvalidateAndReauth(ctx context.Context) (*session.Credential, error) {
	f.reauths++
	if f.reauthErr != nil {
		return nil, f.reauthErr
	}
	f.lastCredTok = "tok-reauth"
	return &session.Credential{Token: f.lastCredTok, IssuedAt: time.Now()}, nil
}

// flakyClient wraps listStub and injects session-invalid failures for the
// first n ListArticles calls made with the initial token.
type flakyClient struct {
	*listStub
	token        string
	failUntil    int
	listAttempts int
	// alwaysFail makes every listing call fail regardless of token
	alwaysFail bool
}

func (f *flakyClient) UseCredential(cred *session.Credential) {
	f.token = cred.Token
}

func (f *flakyClient) ListArticles(ctx context.Context, fakeID string, begin, count int) (*mp.ArticlePage, error) {
	f.listAttempts++
	if f.alwaysFail || (f.token == "tok-initial" && f.listAttempts <= f.failUntil) {
		return nil, errors.New(errors.ErrorTypeSessionInvalid, 200003, "session invalid")
	}
	return f.listStub.ListArticles(ctx, fakeID, begin, count)
}

func testCrawlConfig() config.CrawlConfig {
	return config.CrawlConfig{
		CrawlDays: 7,
		PageSize:  5,
	}
}

func newTestOrchestrator(client ListClient, sessions SessionSource, st ArticleStore) *Orchestrator {
	o := New(client, sessions, st, testCrawlConfig(), nil)
	o.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return o
}

func TestRun_CollectsArticles(t *testing.T) {
	stub := &listStub{items: makeItems(7, time.Now())}
	sessions := &fakeSessions{}
	st := newMemStore()

	o := newTestOrchestrator(stub, sessions, st)
	result, err := o.Run(context.Background(), []string{"city desk"})
	require.NoError(t, err)

	assert.Equal(t, 7, result.Collected)
	assert.Equal(t, 0, result.Duplicates)
	assert.Equal(t, 0, result.Failed)
	assert.Len(t, st.byURL, 7)
	require.Len(t, st.runs, 1)
	assert.Equal(t, 7, st.runs[0].Collected)

	stored := st.byURL["http://example.com/0"]
	require.NotNil(t, stored)
	assert.Equal(t, "city desk", stored.Account)
	assert.Equal(t, "content of http://example.com/0", stored.Content)
	assert.Len(t, stored.ArticleID, 18)
}

func TestRun_SkipsDuplicates(t *testing.T) {
	stub := &listStub{items: makeItems(5, time.Now())}
	sessions := &fakeSessions{}
	st := newMemStore()

	o := newTestOrchestrator(stub, sessions, st)
	_, err := o.Run(context.Background(), []string{"city desk"})
	require.NoError(t, err)

	// crawl again: everything is already stored
	result, err := o.Run(context.Background(), []string{"city desk"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Collected)
	assert.Equal(t, 5, result.Duplicates)
}

func TestRun_TitleOrgDuplicate(t *testing.T) {
	items := makeItems(2, time.Now())
	items[1].Title = items[0].Title // republished under a different URL
	stub := &listStub{items: items}
	sessions := &fakeSessions{}
	st := newMemStore()

	o := newTestOrchestrator(stub, sessions, st)
	result, err := o.Run(context.Background(), []string{"city desk"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Collected)
	assert.Equal(t, 1, result.Duplicates)
}

func TestRun_ReauthOnceAndRestart(t *testing.T) {
	client := &flakyClient{
		listStub:  &listStub{items: makeItems(3, time.Now())},
		failUntil: 1,
	}
	sessions := &fakeSessions{}
	st := newMemStore()

	o := newTestOrchestrator(client, sessions, st)
	result, err := o.Run(context.Background(), []string{"city desk"})
	require.NoError(t, err)

	assert.Equal(t, 1, sessions.reauths)
	assert.Equal(t, 3, result.Collected)
	// after re-login the account restarts from offset 0
	assert.Equal(t, 0, client.listStub.listCalls[0])
}

func TestRun_SecondExpiryAborts(t *testing.T) {
	client := &flakyClient{
		listStub:   &listStub{items: makeItems(3, time.Now())},
		alwaysFail: true,
	}
	sessions := &fakeSessions{}
	st := newMemStore()

	o := newTestOrchestrator(client, sessions, st)
	_, err := o.Run(context.Background(), []string{"city desk"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session invalid again after re-login")
	assert.Equal(t, 1, sessions.reauths, "only one re-login is attempted")
	assert.Empty(t, st.runs, "an aborted run is not recorded")
}

func TestRun_ReauthFailureAborts(t *testing.T) {
	client := &flakyClient{
		listStub:   &listStub{items: makeItems(3, time.Now())},
		alwaysFail: true,
	}
	sessions := &fakeSessions{
		reauthErr: errors.New(errors.ErrorTypeAuth, 0, "login refused"),
	}
	st := newMemStore()

	o := newTestOrchestrator(client, sessions, st)
	_, err := o.Run(context.Background(), []string{"city desk"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "re-login failed")
}

func TestRun_ContentFailureStillStoresListing(t *testing.T) {
	stub := &listStub{
		items:      makeItems(2, time.Now()),
		contentErr: errors.New(errors.ErrorTypeNetwork, 0, "timeout"),
	}
	sessions := &fakeSessions{}
	st := newMemStore()

	o := newTestOrchestrator(stub, sessions, st)
	result, err := o.Run(context.Background(), []string{"city desk"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Collected)
	assert.Equal(t, 2, result.Failed)
	stored := st.byURL["http://example.com/0"]
	require.NotNil(t, stored)
	assert.Empty(t, stored.Content)
}

func TestRun_MaxArticlesPerAccount(t *testing.T) {
	stub := &listStub{items: makeItems(10, time.Now())}
	sessions := &fakeSessions{}
	st := newMemStore()

	o := newTestOrchestrator(stub, sessions, st)
	o.cfg.MaxArticlesPerAccount = 4

	result, err := o.Run(context.Background(), []string{"city desk"})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Collected)
}

// missingAccountClient rejects configured account names during search.
type missingAccountClient struct {
	*listStub
	missing map[string]bool
}

func (m *missingAccountClient) SearchAccount(ctx context.Context, name string) (*mp.AccountHit, error) {
	if m.missing[name] {
		return nil, errors.New(errors.ErrorTypeNotFound, 0, "no account named %q", name)
	}
	return m.listStub.SearchAccount(ctx, name)
}

func TestRun_UnknownAccountSkipped(t *testing.T) {
	client := &missingAccountClient{
		listStub: &listStub{items: makeItems(2, time.Now())},
		missing:  map[string]bool{"ghost desk": true},
	}
	sessions := &fakeSessions{}
	st := newMemStore()

	o := newTestOrchestrator(client, sessions, st)
	result, err := o.Run(context.Background(), []string{"ghost desk", "city desk"})
	require.NoError(t, err)

	// the unknown account is skipped, the rest of the run proceeds
	assert.Equal(t, 2, result.Collected)
	require.Len(t, st.runs, 1)
}

func TestRun_OrgMapping(t *testing.T) {
	stub := &listStub{items: makeItems(1, time.Now())}
	sessions := &fakeSessions{}
	st := newMemStore()
	st.orgs["city desk"] = "City Bureau"

	o := newTestOrchestrator(stub, sessions, st)
	_, err := o.Run(context.Background(), []string{"city desk"})
	require.NoError(t, err)

	stored := st.byURL["http://example.com/0"]
	require.NotNil(t, stored)
	assert.Equal(t, "City Bureau", stored.Org)
}

func TestDeduplicator(t *testing.T) {
	st := newMemStore()
	_, err := st.Insert(context.Background(), &store.Article{
		URL:   "http://example.com/known",
		Title: "Known title",
		Org:   "City Bureau",
	})
	require.NoError(t, err)

	d := NewDeduplicator(st)

	dup, reason, err := d.IsDuplicate(context.Background(), "http://example.com/known", "other", "other")
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, "url", reason)

	dup, reason, err = d.IsDuplicate(context.Background(), "http://example.com/new", "Known title", "City Bureau")
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, "title/org", reason)

	dup, _, err = d.IsDuplicate(context.Background(), "http://example.com/new", "Fresh title", "City Bureau")
	require.NoError(t, err)
	assert.False(t, dup)
}
