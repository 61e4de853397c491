package crawler

import (
	"context"
	"time"

	"mpharvest/pkg/mp"
)

// Fetcher walks an account's published-article listing page by page,
// newest first, stopping at the cutoff time. Pages are fetched lazily so
// an early stop never costs an extra request.
type Fetcher struct {
	client   ListClient
	pageSize int
}

// NewFetcher creates a paginated fetcher.
func NewFetcher(client ListClient, pageSize int) *Fetcher {
	if pageSize <= 0 {
		pageSize = 5
	}
	return &Fetcher{client: client, pageSize: pageSize}
}

// Articles returns an iterator over the account's articles published at
// or after cutoff.
func (f *Fetcher) Articles(fakeID string, cutoff time.Time) *Iterator {
	return &Iterator{
		fetcher: f,
		fakeID:  fakeID,
		cutoff:  cutoff.Unix(),
	}
}

// Iterator yields one article per Next call. The listing is newest
// first, so the first item older than the cutoff ends the iteration and
// no further pages are requested.
type Iterator struct {
	fetcher *Fetcher
	fakeID  string
	cutoff  int64

	begin    int
	page     []mp.ArticleItem
	pos      int
	lastPage bool
	done     bool
	yielded  int
}

// Yielded returns how many articles the iterator has produced.
func (it *Iterator) Yielded() int {
	return it.yielded
}

// Next returns the next article within the cutoff window, or nil when
// the listing is exhausted.
func (it *Iterator) Next(ctx context.Context) (*mp.ArticleItem, error) {
	if it.done {
		return nil, nil
	}

	if it.pos >= len(it.page) {
		if it.lastPage {
			it.done = true
			return nil, nil
		}
		page, err := it.fetcher.client.ListArticles(ctx, it.fakeID, it.begin, it.fetcher.pageSize)
		if err != nil {
			return nil, err
		}
		if len(page.Items) == 0 {
			it.done = true
			return nil, nil
		}
		it.page = page.Items
		it.pos = 0
		it.begin += it.fetcher.pageSize
		// a short page is the last one
		if len(page.Items) < it.fetcher.pageSize {
			it.lastPage = true
		}
	}

	item := it.page[it.pos]
	it.pos++

	if item.CreateTime < it.cutoff {
		it.done = true
		return nil, nil
	}

	it.yielded++
	return &item, nil
}
