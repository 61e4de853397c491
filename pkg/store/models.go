package store

import (
	"database/sql"
	"fmt"
	"math/rand"
	"time"
)

// Article is one harvested article row.
type Article struct {
	ID          int64         `db:"id"`
	ArticleID   string        `db:"article_id"`
	Title       string        `db:"title"`
	URL         string        `db:"url"`
	Account     string        `db:"account"`
	Org         string        `db:"org"`
	Digest      string        `db:"digest"`
	Content     string        `db:"content"`
	PublishedAt int64         `db:"published_at"`
	ViewCount   sql.NullInt64 `db:"view_count"`
	LikeCount   sql.NullInt64 `db:"like_count"`
	ShareCount  sql.NullInt64 `db:"share_count"`
	StatsAt     sql.NullInt64 `db:"stats_at"`
	CreatedAt   int64         `db:"created_at"`
}

// PublishedTime returns the publish timestamp in the local zone.
func (a *Article) PublishedTime() time.Time {
	return time.Unix(a.PublishedAt, 0)
}

// Theme is a themed campaign period. Articles published inside the period
// belong to the theme.
type Theme struct {
	ID        int64  `db:"id"`
	Year      int    `db:"year"`
	Name      string `db:"name"`
	StartDate string `db:"start_date"`
	EndDate   string `db:"end_date"`
	Active    bool   `db:"active"`
}

// DateLayout is the storage format for theme dates.
const DateLayout = "2006-01-02"

// Period returns the theme's date range as local-time day bounds.
func (t *Theme) Period() (start, end time.Time, err error) {
	start, err = time.ParseInLocation(DateLayout, t.StartDate, time.Local)
	if err != nil {
		return
	}
	end, err = time.ParseInLocation(DateLayout, t.EndDate, time.Local)
	if err != nil {
		return
	}
	end = end.Add(24*time.Hour - time.Second)
	return
}

// CrawlRun records one completed crawl.
type CrawlRun struct {
	ID         int64 `db:"id"`
	StartedAt  int64 `db:"started_at"`
	FinishedAt int64 `db:"finished_at"`
	Accounts   int   `db:"accounts"`
	Collected  int   `db:"collected"`
	Duplicates int   `db:"duplicates"`
	Failed     int   `db:"failed"`
}

// GenerateArticleID builds a display identifier from the publish time:
// the timestamp digits followed by four random digits. It is not a key,
// rows are keyed by URL.
func GenerateArticleID(publishedAt time.Time) string {
	return fmt.Sprintf("%s%04d", publishedAt.Format("20060102150405"), rand.Intn(10000))
}
