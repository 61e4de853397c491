// Package store persists harvested articles, themed campaign periods, and
// crawl run records in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	apperrors "mpharvest/pkg/errors"
	"mpharvest/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	article_id   TEXT NOT NULL,
	title        TEXT NOT NULL,
	url          TEXT NOT NULL,
	account      TEXT NOT NULL,
	org          TEXT NOT NULL DEFAULT '',
	digest       TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	published_at INTEGER NOT NULL,
	view_count   INTEGER,
	like_count   INTEGER,
	share_count  INTEGER,
	stats_at     INTEGER,
	created_at   INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_articles_url ON articles(url);
CREATE INDEX IF NOT EXISTS idx_articles_published_at ON articles(published_at);

CREATE TABLE IF NOT EXISTS account_orgs (
	account TEXT PRIMARY KEY,
	org     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS themes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	year       INTEGER NOT NULL,
	name       TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date   TEXT NOT NULL,
	active     INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	accounts    INTEGER NOT NULL,
	collected   INTEGER NOT NULL,
	duplicates  INTEGER NOT NULL,
	failed      INTEGER NOT NULL
);
`

// Outcome is the result of an article insert.
type Outcome int

const (
	Inserted Outcome = iota
	AlreadyExists
)

// Store wraps the SQLite database.
type Store struct {
	db     *sqlx.DB
	logger logger.Logger
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc sqlite serializes writes itself, a single connection avoids
	// SQLITE_BUSY under concurrent use
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.DebugWithFields("database opened", map[string]interface{}{"path": path})
	return &Store{db: db, logger: log}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Exists reports whether an article with the given URL is already stored.
func (s *Store) Exists(ctx context.Context, url string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(1) FROM articles WHERE url = ?", url)
	if err != nil {
		return false, storeErr("check url", err)
	}
	return n > 0, nil
}

// ExistsByTitleOrg reports whether an article with the same title from the
// same organization is already stored.
func (s *Store) ExistsByTitleOrg(ctx context.Context, title, org string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(1) FROM articles WHERE title = ? AND org = ?", title, org)
	if err != nil {
		return false, storeErr("check title/org", err)
	}
	return n > 0, nil
}

// Insert stores an article. A collision on URL or on (title, org) reports
// AlreadyExists instead of an error so a crawl can treat it as a duplicate.
func (s *Store) Insert(ctx context.Context, a *Article) (Outcome, error) {
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().Unix()
	}

	dup, err := s.ExistsByTitleOrg(ctx, a.Title, a.Org)
	if err != nil {
		return 0, err
	}
	if dup {
		return AlreadyExists, nil
	}

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO articles
			(article_id, title, url, account, org, digest, content, published_at,
			 view_count, like_count, share_count, stats_at, created_at)
		VALUES
			(:article_id, :title, :url, :account, :org, :digest, :content, :published_at,
			 :view_count, :like_count, :share_count, :stats_at, :created_at)
		ON CONFLICT(url) DO NOTHING`, a)
	if err != nil {
		return 0, storeErr("insert article", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("insert article", err)
	}
	if affected == 0 {
		return AlreadyExists, nil
	}

	id, err := res.LastInsertId()
	if err == nil {
		a.ID = id
	}
	return Inserted, nil
}

// GetByURL loads one article by URL.
func (s *Store) GetByURL(ctx context.Context, url string) (*Article, error) {
	var a Article
	err := s.db.GetContext(ctx, &a, "SELECT * FROM articles WHERE url = ?", url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrorTypeNotFound, 0, "article not found: %s", url)
	}
	if err != nil {
		return nil, storeErr("load article", err)
	}
	return &a, nil
}

// SelectNeedingStats returns articles published within the trailing window
// of days whose view count has never been filled in.
func (s *Store) SelectNeedingStats(ctx context.Context, days int, now time.Time) ([]Article, error) {
	since := startOfDay(now).AddDate(0, 0, -(days - 1)).Unix()

	var articles []Article
	err := s.db.SelectContext(ctx, &articles, `
		SELECT * FROM articles
		WHERE published_at >= ? AND view_count IS NULL AND url != ''
		ORDER BY published_at DESC`, since)
	if err != nil {
		return nil, storeErr("select needing stats", err)
	}
	return articles, nil
}

// SelectPublishedOn returns articles published on the given calendar day.
func (s *Store) SelectPublishedOn(ctx context.Context, day time.Time) ([]Article, error) {
	start := startOfDay(day)
	end := start.AddDate(0, 0, 1)

	var articles []Article
	err := s.db.SelectContext(ctx, &articles, `
		SELECT * FROM articles
		WHERE published_at >= ? AND published_at < ? AND url != ''
		ORDER BY published_at DESC`, start.Unix(), end.Unix())
	if err != nil {
		return nil, storeErr("select published on", err)
	}
	return articles, nil
}

// SelectPublishedBetween returns articles published inside [start, end].
func (s *Store) SelectPublishedBetween(ctx context.Context, start, end time.Time) ([]Article, error) {
	var articles []Article
	err := s.db.SelectContext(ctx, &articles, `
		SELECT * FROM articles
		WHERE published_at >= ? AND published_at <= ? AND url != ''
		ORDER BY published_at DESC`, start.Unix(), end.Unix())
	if err != nil {
		return nil, storeErr("select published between", err)
	}
	return articles, nil
}

// UpdateMetrics writes fresh reading counts for the article with the URL.
func (s *Store) UpdateMetrics(ctx context.Context, url string, views, likes, shares int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE articles
		SET view_count = ?, like_count = ?, share_count = ?, stats_at = ?
		WHERE url = ?`, views, likes, shares, at.Unix(), url)
	if err != nil {
		return storeErr("update metrics", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("update metrics", err)
	}
	if affected == 0 {
		return apperrors.New(apperrors.ErrorTypeNotFound, 0, "article not found: %s", url)
	}
	return nil
}

// OrgName returns the organization mapped to the account name. Unmapped
// accounts fall back to the account name itself.
func (s *Store) OrgName(ctx context.Context, account string) (string, error) {
	var org string
	err := s.db.GetContext(ctx, &org, "SELECT org FROM account_orgs WHERE account = ?", account)
	if errors.Is(err, sql.ErrNoRows) {
		return account, nil
	}
	if err != nil {
		return "", storeErr("load org mapping", err)
	}
	return org, nil
}

// SetOrgName maps an account name to its organization.
func (s *Store) SetOrgName(ctx context.Context, account, org string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_orgs (account, org) VALUES (?, ?)
		ON CONFLICT(account) DO UPDATE SET org = excluded.org`, account, org)
	if err != nil {
		return storeErr("save org mapping", err)
	}
	return nil
}

// FindThemeEndingOn returns the active theme whose end date equals day,
// or nil if none does.
func (s *Store) FindThemeEndingOn(ctx context.Context, day time.Time) (*Theme, error) {
	var t Theme
	err := s.db.GetContext(ctx, &t, `
		SELECT * FROM themes WHERE active = 1 AND end_date = ? LIMIT 1`,
		day.Format(DateLayout))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("find theme", err)
	}
	return &t, nil
}

// FindThemeByID loads one theme.
func (s *Store) FindThemeByID(ctx context.Context, id int64) (*Theme, error) {
	var t Theme
	err := s.db.GetContext(ctx, &t, "SELECT * FROM themes WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrorTypeNotFound, 0, "theme %d not found", id)
	}
	if err != nil {
		return nil, storeErr("load theme", err)
	}
	return &t, nil
}

// ListActiveThemes returns every active theme, newest first.
func (s *Store) ListActiveThemes(ctx context.Context) ([]Theme, error) {
	var themes []Theme
	err := s.db.SelectContext(ctx, &themes, `
		SELECT * FROM themes WHERE active = 1 ORDER BY end_date DESC`)
	if err != nil {
		return nil, storeErr("list themes", err)
	}
	return themes, nil
}

// AddTheme stores a theme.
func (s *Store) AddTheme(ctx context.Context, t *Theme) error {
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO themes (year, name, start_date, end_date, active)
		VALUES (:year, :name, :start_date, :end_date, :active)`, t)
	if err != nil {
		return storeErr("insert theme", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		t.ID = id
	}
	return nil
}

// RecordCrawlRun stores one completed crawl run.
func (s *Store) RecordCrawlRun(ctx context.Context, run *CrawlRun) error {
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO crawl_runs (started_at, finished_at, accounts, collected, duplicates, failed)
		VALUES (:started_at, :finished_at, :accounts, :collected, :duplicates, :failed)`, run)
	if err != nil {
		return storeErr("record crawl run", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		run.ID = id
	}
	return nil
}

// LastCrawlRun returns the most recent crawl run, or nil if none exists.
func (s *Store) LastCrawlRun(ctx context.Context) (*CrawlRun, error) {
	var run CrawlRun
	err := s.db.GetContext(ctx, &run, "SELECT * FROM crawl_runs ORDER BY id DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("load crawl run", err)
	}
	return &run, nil
}

func storeErr(op string, err error) error {
	return apperrors.New(apperrors.ErrorTypeStore, 0, "%s: %v", op, err)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
