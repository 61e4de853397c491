package crawler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpharvest/pkg/errors"
	"mpharvest/pkg/mp"
	"mpharvest/pkg/session"
)

// listStub serves canned listing pages and records requested offsets.
type listStub struct {
	items      []mp.ArticleItem
	listCalls  []int
	listErr    error
	contentErr error
}

func (s *listStub) UseCredential(cred *session.Credential) {}

func (s *listStub) SearchAccount(ctx context.Context, name string) (*mp.AccountHit, error) {
	return &mp.AccountHit{FakeID: "fid-" + name, Nickname: name}, nil
}

func (s *listStub) ListArticles(ctx context.Context, fakeID string, begin, count int) (*mp.ArticlePage, error) {
	s.listCalls = append(s.listCalls, begin)
	if s.listErr != nil {
		return nil, s.listErr
	}
	end := begin + count
	if begin > len(s.items) {
		begin = len(s.items)
	}
	if end > len(s.items) {
		end = len(s.items)
	}
	return &mp.ArticlePage{Items: s.items[begin:end], Total: len(s.items)}, nil
}

func (s *listStub) FetchContent(ctx context.Context, articleURL string) (string, error) {
	if s.contentErr != nil {
		return "", s.contentErr
	}
	return "content of " + articleURL, nil
}

// makeItems builds n listing items, newest first, one hour apart starting
// at base.
func makeItems(n int, base time.Time) []mp.ArticleItem {
	items := make([]mp.ArticleItem, n)
	for i := range items {
		items[i] = mp.ArticleItem{
			AID:        fmt.Sprintf("a%d", i),
			Title:      fmt.Sprintf("Article %d", i),
			Link:       fmt.Sprintf("http://example.com/%d", i),
			CreateTime: base.Add(-time.Duration(i) * time.Hour).Unix(),
		}
	}
	return items
}

func drain(t *testing.T, it *Iterator) []*mp.ArticleItem {
	t.Helper()
	var out []*mp.ArticleItem
	for {
		item, err := it.Next(context.Background())
		require.NoError(t, err)
		if item == nil {
			return out
		}
		out = append(out, item)
	}
}

func TestIterator_StopsAtCutoffMidPage(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)
	stub := &listStub{items: makeItems(15, base)}
	// item 11 (zero-based) is 11 hours before base; cutoff just after it
	cutoff := base.Add(-11*time.Hour + time.Minute)

	it := NewFetcher(stub, 5).Articles("fid", cutoff)
	items := drain(t, it)

	assert.Len(t, items, 11)
	assert.Equal(t, []int{0, 5, 10}, stub.listCalls, "the page after the cutoff hit must not be fetched")
	assert.Equal(t, 11, it.Yielded())
}

func TestIterator_ExhaustsShortLastPage(t *testing.T) {
	base := time.Now()
	stub := &listStub{items: makeItems(7, base)}

	it := NewFetcher(stub, 5).Articles("fid", base.Add(-24*time.Hour))
	items := drain(t, it)

	assert.Len(t, items, 7)
	assert.Equal(t, []int{0, 5}, stub.listCalls)
}

func TestIterator_EmptyListing(t *testing.T) {
	stub := &listStub{}

	it := NewFetcher(stub, 5).Articles("fid", time.Now().Add(-24*time.Hour))
	items := drain(t, it)

	assert.Empty(t, items)
	assert.Equal(t, []int{0}, stub.listCalls)
}

func TestIterator_PropagatesError(t *testing.T) {
	stub := &listStub{listErr: errors.New(errors.ErrorTypeSessionInvalid, 200003, "session invalid")}

	it := NewFetcher(stub, 5).Articles("fid", time.Now().Add(-24*time.Hour))
	_, err := it.Next(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsSessionInvalid(err))
}

func TestIterator_NilAfterDone(t *testing.T) {
	stub := &listStub{items: makeItems(2, time.Now())}

	it := NewFetcher(stub, 5).Articles("fid", time.Now().Add(-24*time.Hour))
	drain(t, it)

	item, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, item, "a finished iterator keeps returning nil")
}
