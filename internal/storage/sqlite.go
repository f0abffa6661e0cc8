package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/IshaanNene/ThreadGoat/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS discussions (
	id                    TEXT PRIMARY KEY,
	source_id             TEXT,
	platform              TEXT,
	sub_source            TEXT,
	title                 TEXT,
	author                TEXT,
	publish_date          TEXT,
	content               TEXT,
	url                   TEXT,
	reply_count           INTEGER NOT NULL DEFAULT 0,
	thumbs_up_count       INTEGER NOT NULL DEFAULT 0,
	scraped_at            TEXT,
	complete              INTEGER NOT NULL DEFAULT 1,
	analysis_category     TEXT,
	analysis_product_area TEXT,
	analysis_sentiment    TEXT,
	analysis_pain_points  TEXT,
	analysis_summary      TEXT,
	analyzed_at           TEXT
);

CREATE INDEX IF NOT EXISTS idx_discussions_platform ON discussions(platform, sub_source);
CREATE INDEX IF NOT EXISTS idx_discussions_url ON discussions(url);

CREATE TABLE IF NOT EXISTS replies (
	id              TEXT PRIMARY KEY,
	parent_id       TEXT NOT NULL REFERENCES discussions(id) ON DELETE CASCADE,
	parent_reply_id TEXT,
	author          TEXT,
	publish_date    TEXT,
	content         TEXT,
	thumbs_up_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_replies_parent ON replies(parent_id);

CREATE TABLE IF NOT EXISTS crawl_runs (
	run_id        TEXT PRIMARY KEY,
	source        TEXT,
	started_at    TEXT,
	finished_at   TEXT,
	listing_pages INTEGER,
	discovered    INTEGER,
	skipped       INTEGER,
	fetched       INTEGER,
	failed        INTEGER,
	stored        INTEGER,
	dropped       INTEGER,
	store_errors  INTEGER,
	incomplete    INTEGER,
	replies       INTEGER,
	error         TEXT
);
`

var pragmas = []string{
	`PRAGMA journal_mode = WAL`,
	`PRAGMA synchronous = normal`,
	`PRAGMA busy_timeout = 5000`,
	`PRAGMA foreign_keys = ON`,
}

// SQLiteStore is the relational sink and the read side for reports, the
// dashboard, and enrichment.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("create db dir: %w", err)}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("open database: %w", err)}
	}
	// SQLite allows a single writer; workers share one connection.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("%s: %w", p, err)}
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("apply schema: %w", err)}
	}

	return &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger.With("component", "sqlite_store"),
	}, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Writes ---

// Upsert replaces the discussion row and each reply row by primary key.
// Analysis columns are only written when the thread carries an analysis, so
// a re-crawl keeps earlier enrichment.
func (s *SQLiteStore) Upsert(ctx context.Context, thread *types.Thread) error {
	d := thread.Discussion
	if d == nil || d.ID == "" {
		return &types.StorageError{Backend: "sqlite", Err: errors.New("thread has no discussion id")}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO discussions
			(id, source_id, platform, sub_source, title, author, publish_date, content, url,
			 reply_count, thumbs_up_count, scraped_at, complete)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			source_id       = excluded.source_id,
			platform        = excluded.platform,
			sub_source      = excluded.sub_source,
			title           = excluded.title,
			author          = excluded.author,
			publish_date    = excluded.publish_date,
			content         = excluded.content,
			url             = excluded.url,
			reply_count     = excluded.reply_count,
			thumbs_up_count = excluded.thumbs_up_count,
			scraped_at      = excluded.scraped_at,
			complete        = excluded.complete`,
		d.ID, d.SourceID, d.Platform, d.SubSource, d.Title, d.Author, d.PublishDate, d.Content, d.URL,
		d.ReplyCount, d.ThumbsUpCount, formatTime(d.ScrapedAt), boolInt(thread.Complete),
	)
	if err != nil {
		return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("upsert discussion %s: %w", d.ID, err)}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO replies (id, parent_id, parent_reply_id, author, publish_date, content, thumbs_up_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			parent_id       = excluded.parent_id,
			parent_reply_id = excluded.parent_reply_id,
			author          = excluded.author,
			publish_date    = excluded.publish_date,
			content         = excluded.content,
			thumbs_up_count = excluded.thumbs_up_count`)
	if err != nil {
		return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("prepare reply upsert: %w", err)}
	}
	defer stmt.Close()

	for i := range thread.Replies {
		r := &thread.Replies[i]
		_, err := stmt.ExecContext(ctx,
			r.StorageID(), d.ID, r.ParentReplyID, r.Author, r.PublishDate, r.Content, r.ThumbsUpCount,
		)
		if err != nil {
			return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("upsert reply %s: %w", r.StorageID(), err)}
		}
	}

	if d.Analysis != nil {
		if err := saveAnalysis(ctx, tx, d.ID, d.Analysis); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveAnalysis writes enrichment tags for a discussion.
func (s *SQLiteStore) SaveAnalysis(ctx context.Context, id string, a *types.Analysis) error {
	return saveAnalysis(ctx, s.db, id, a)
}

func saveAnalysis(ctx context.Context, db execer, id string, a *types.Analysis) error {
	painPoints, err := json.Marshal(a.PainPoints)
	if err != nil {
		return &types.StorageError{Backend: "sqlite", Err: err}
	}
	analyzedAt := a.AnalyzedAt
	if analyzedAt.IsZero() {
		analyzedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx, `
		UPDATE discussions SET
			analysis_category     = ?,
			analysis_product_area = ?,
			analysis_sentiment    = ?,
			analysis_pain_points  = ?,
			analysis_summary      = ?,
			analyzed_at           = ?
		WHERE id = ?`,
		a.Category, a.ProductArea, a.Sentiment, string(painPoints), a.Summary, formatTime(analyzedAt), id,
	)
	if err != nil {
		return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("save analysis %s: %w", id, err)}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("save analysis %s: %w", id, types.ErrNotFound)}
	}
	return nil
}

// RecordRun stores a crawl run summary, replacing an earlier record with the
// same run id.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *types.RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO crawl_runs
			(run_id, source, started_at, finished_at, listing_pages, discovered, skipped, fetched,
			 failed, stored, dropped, store_errors, incomplete, replies, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Source, formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.ListingPages, run.Discovered, run.Skipped, run.Fetched,
		run.Failed, run.Stored, run.Dropped, run.StoreErrors, run.Incomplete, run.Replies, run.Error,
	)
	if err != nil {
		return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("record run %s: %w", run.RunID, err)}
	}
	return nil
}

// --- Reads ---

// DiscussionFilter narrows ListDiscussions. Zero values match everything.
type DiscussionFilter struct {
	Platform  string
	SubSource string
	// Search matches title or content, case-insensitively.
	Search string
	Limit  int
	Offset int
}

const discussionColumns = `id, source_id, platform, sub_source, title, author, publish_date, content, url,
	reply_count, thumbs_up_count, scraped_at,
	analysis_category, analysis_product_area, analysis_sentiment, analysis_pain_points, analysis_summary, analyzed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiscussion(row rowScanner) (*types.Discussion, error) {
	var d types.Discussion
	var sourceID, platform, subSource, title, author, publishDate, content, url, scrapedAt sql.NullString
	var category, productArea, sentiment, painPoints, summary, analyzedAt sql.NullString
	err := row.Scan(
		&d.ID, &sourceID, &platform, &subSource, &title, &author, &publishDate, &content, &url,
		&d.ReplyCount, &d.ThumbsUpCount, &scrapedAt,
		&category, &productArea, &sentiment, &painPoints, &summary, &analyzedAt,
	)
	if err != nil {
		return nil, err
	}
	d.SourceID = sourceID.String
	d.Platform = platform.String
	d.SubSource = subSource.String
	d.Title = title.String
	d.Author = author.String
	d.PublishDate = publishDate.String
	d.Content = content.String
	d.URL = url.String
	d.ScrapedAt = parseTime(scrapedAt.String)

	if analyzedAt.Valid {
		a := &types.Analysis{
			Category:    category.String,
			ProductArea: productArea.String,
			Sentiment:   sentiment.String,
			Summary:     summary.String,
			AnalyzedAt:  parseTime(analyzedAt.String),
		}
		if painPoints.String != "" {
			_ = json.Unmarshal([]byte(painPoints.String), &a.PainPoints)
		}
		d.Analysis = a
	}
	return &d, nil
}

// ListDiscussions returns discussions newest first.
func (s *SQLiteStore) ListDiscussions(ctx context.Context, f DiscussionFilter) ([]types.Discussion, error) {
	var (
		where []string
		args  []any
	)
	if f.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, f.Platform)
	}
	if f.SubSource != "" {
		where = append(where, "sub_source = ?")
		args = append(args, f.SubSource)
	}
	if f.Search != "" {
		where = append(where, "(title LIKE ? OR content LIKE ?)")
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}

	query := "SELECT " + discussionColumns + " FROM discussions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY publish_date DESC, id"

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("query discussions: %w", err)}
	}
	defer rows.Close()

	var out []types.Discussion
	for rows.Next() {
		d, err := scanDiscussion(rows)
		if err != nil {
			return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("scan discussion: %w", err)}
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("iterate discussions: %w", err)}
	}
	return out, nil
}

// GetThread loads a discussion and its replies. It returns an error wrapping
// types.ErrNotFound for unknown ids.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*types.Thread, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+discussionColumns+" FROM discussions WHERE id = ?", id)
	d, err := scanDiscussion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("discussion %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("get discussion %s: %w", id, err)}
	}

	var complete int
	if err := s.db.QueryRowContext(ctx, `SELECT complete FROM discussions WHERE id = ?`, id).Scan(&complete); err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, parent_reply_id, author, publish_date, content, thumbs_up_count
		FROM replies WHERE parent_id = ? ORDER BY publish_date, id`, id)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("query replies: %w", err)}
	}
	defer rows.Close()

	thread := types.NewThread(d)
	thread.Complete = complete != 0
	for rows.Next() {
		var r types.Reply
		var parentReply, author, date, content sql.NullString
		if err := rows.Scan(&r.ID, &r.ParentID, &parentReply, &author, &date, &content, &r.ThumbsUpCount); err != nil {
			return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("scan reply: %w", err)}
		}
		r.ParentReplyID = parentReply.String
		r.Author = author.String
		r.PublishDate = date.String
		r.Content = content.String
		thread.Replies = append(thread.Replies, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: err}
	}
	return thread, nil
}

// Unanalyzed returns up to limit discussions without analysis tags.
func (s *SQLiteStore) Unanalyzed(ctx context.Context, limit int) ([]types.Discussion, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+discussionColumns+" FROM discussions WHERE analyzed_at IS NULL ORDER BY scraped_at, id LIMIT ?", limit)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("query unanalyzed: %w", err)}
	}
	defer rows.Close()

	var out []types.Discussion
	for rows.Next() {
		d, err := scanDiscussion(rows)
		if err != nil {
			return nil, &types.StorageError{Backend: "sqlite", Err: err}
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Discrepancy is a discussion whose stored replies fall short of the
// platform-reported count.
type Discrepancy struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Reported int    `json:"reported"`
	Stored   int    `json:"stored"`
}

// Missing returns the shortfall.
func (d Discrepancy) Missing() int { return d.Reported - d.Stored }

// Discrepancies lists discussions with reply_count above the stored reply
// count, largest shortfall first.
func (s *SQLiteStore) Discrepancies(ctx context.Context, limit int) ([]Discrepancy, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, COALESCE(d.url, ''), COALESCE(d.title, ''), d.reply_count, COUNT(r.id) AS stored
		FROM discussions d
		LEFT JOIN replies r ON r.parent_id = d.id
		GROUP BY d.id
		HAVING d.reply_count > stored
		ORDER BY d.reply_count - stored DESC, d.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("query discrepancies: %w", err)}
	}
	defer rows.Close()

	var out []Discrepancy
	for rows.Next() {
		var d Discrepancy
		if err := rows.Scan(&d.ID, &d.URL, &d.Title, &d.Reported, &d.Stored); err != nil {
			return nil, &types.StorageError{Backend: "sqlite", Err: err}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Count is a labelled row count.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Stats summarizes the store contents.
type Stats struct {
	Discussions   int     `json:"discussions"`
	Replies       int     `json:"replies"`
	Analyzed      int     `json:"analyzed"`
	Incomplete    int     `json:"incomplete"`
	ByPlatform    []Count `json:"by_platform"`
	BySubSource   []Count `json:"by_sub_source"`
	BySentiment   []Count `json:"by_sentiment"`
	DuplicateURLs []Count `json:"duplicate_urls"`
}

// Stats computes totals and per-platform, per-sub-source, per-sentiment
// counts, plus URLs stored under more than one id.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM discussions),
			(SELECT COUNT(*) FROM replies),
			(SELECT COUNT(*) FROM discussions WHERE analyzed_at IS NOT NULL),
			(SELECT COUNT(*) FROM discussions WHERE complete = 0)`,
	).Scan(&st.Discussions, &st.Replies, &st.Analyzed, &st.Incomplete)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("query totals: %w", err)}
	}

	groups := []struct {
		dest  *[]Count
		query string
	}{
		{&st.ByPlatform, `SELECT COALESCE(platform, ''), COUNT(*) FROM discussions GROUP BY 1 ORDER BY 2 DESC, 1`},
		{&st.BySubSource, `SELECT COALESCE(sub_source, ''), COUNT(*) FROM discussions GROUP BY 1 ORDER BY 2 DESC, 1`},
		{&st.BySentiment, `SELECT analysis_sentiment, COUNT(*) FROM discussions WHERE analysis_sentiment IS NOT NULL GROUP BY 1 ORDER BY 2 DESC, 1`},
		{&st.DuplicateURLs, `SELECT url, COUNT(*) FROM discussions WHERE url <> '' GROUP BY url HAVING COUNT(*) > 1 ORDER BY 2 DESC, 1`},
	}
	for _, g := range groups {
		counts, err := s.counts(ctx, g.query)
		if err != nil {
			return nil, err
		}
		*g.dest = counts
	}
	return st, nil
}

func (s *SQLiteStore) counts(ctx context.Context, query string) ([]Count, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: err}
	}
	defer rows.Close()

	out := []Count{}
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, &types.StorageError{Backend: "sqlite", Err: err}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentRuns returns the latest crawl runs, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]types.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, COALESCE(source, ''), started_at, finished_at, listing_pages, discovered, skipped,
			fetched, failed, stored, dropped, store_errors, incomplete, replies, COALESCE(error, '')
		FROM crawl_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("query runs: %w", err)}
	}
	defer rows.Close()

	var out []types.RunSummary
	for rows.Next() {
		var r types.RunSummary
		var started, finished sql.NullString
		err := rows.Scan(&r.RunID, &r.Source, &started, &finished, &r.ListingPages, &r.Discovered, &r.Skipped,
			&r.Fetched, &r.Failed, &r.Stored, &r.Dropped, &r.StoreErrors, &r.Incomplete, &r.Replies, &r.Error)
		if err != nil {
			return nil, &types.StorageError{Backend: "sqlite", Err: err}
		}
		r.StartedAt = parseTime(started.String)
		r.FinishedAt = parseTime(finished.String)
		out = append(out, r)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
