package crawler

import (
	"context"
)

// Deduplicator decides whether an article has already been stored. The
// URL is the primary identity; when the URL is new the title/org pair
// catches the same article republished under a different link.
type Deduplicator struct {
	store ArticleStore
}

// NewDeduplicator creates a deduplicator backed by the store.
func NewDeduplicator(s ArticleStore) *Deduplicator {
	return &Deduplicator{store: s}
}

// IsDuplicate reports whether the article is already stored and which
// check matched.
func (d *Deduplicator) IsDuplicate(ctx context.Context, url, title, org string) (bool, string, error) {
	exists, err := d.store.Exists(ctx, url)
	if err != nil {
		return false, "", err
	}
	if exists {
		return true, "url", nil
	}

	exists, err = d.store.ExistsByTitleOrg(ctx, title, org)
	if err != nil {
		return false, "", err
	}
	if exists {
		return true, "title/org", nil
	}

	return false, "", nil
}
