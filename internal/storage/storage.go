package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed article store and job ledger.
type Store struct {
	db *sql.DB
}

// Account is a capture target saved locally.
type Account struct {
	ID       string
	FakeID   string
	Biz      string
	Nickname string
	Alias    string
	Avatar   string
	Intro    string

	Enabled    bool
	IsFavorite bool
	UseCount   int
	LastUsedAt *time.Time
	LastSyncAt *time.Time

	AutoSyncEnabled             bool
	AutoSyncIntervalMinutes     int
	AutoSyncLookbackDays        int
	AutoSyncOverlapHours        int
	AutoSyncNextRunAt           *time.Time
	AutoSyncLastSuccessAt       *time.Time
	AutoSyncLastError           string
	AutoSyncConsecutiveFailures int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Article is one captured post belonging to an Account.
type Article struct {
	ID          string
	AID         string
	AccountID   string
	Title       string
	URL         string
	CoverURL    string
	Digest      string
	Author      string
	PublishTS   int64 // unix seconds, 0 = unknown
	ContentHTML string
	ContentText string
	ImagesJSON  string
	RawJSON     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewStore opens the database, applies pragmas, and initializes the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Concurrent readers (API layer) share the file with the single
	// executor writer, so WAL and a generous busy timeout matter.
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// nullable to/from helpers

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func strOf(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}

func timeOf(v sql.NullTime) *time.Time {
	if v.Valid {
		t := v.Time
		return &t
	}
	return nil
}

func int64Of(v sql.NullInt64) int64 {
	if v.Valid {
		return v.Int64
	}
	return 0
}

const articleColumns = `id, aid, account_id, title, url, cover_url, digest, author,
	publish_ts, content_html, content_text, images_json, raw_json, created_at, updated_at`

func scanArticle(row interface{ Scan(...any) error }) (*Article, error) {
	var a Article
	var coverURL, digest, author, html, text, images, raw sql.NullString
	var publishTS sql.NullInt64
	err := row.Scan(
		&a.ID, &a.AID, &a.AccountID, &a.Title, &a.URL,
		&coverURL, &digest, &author, &publishTS,
		&html, &text, &images, &raw,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.CoverURL = strOf(coverURL)
	a.Digest = strOf(digest)
	a.Author = strOf(author)
	a.PublishTS = int64Of(publishTS)
	a.ContentHTML = strOf(html)
	a.ContentText = strOf(text)
	a.ImagesJSON = strOf(images)
	a.RawJSON = strOf(raw)
	return &a, nil
}

// UpsertArticle inserts a new article or refreshes the summary fields of an
// existing one. Identity is the deterministic id (account + upstream post id)
// or the canonical url — a post known by either key is an update, never a
// second row. Content fields are untouched here; see UpdateArticleContent.
func (s *Store) UpsertArticle(a *Article) (created bool, err error) {
	existing, err := s.FindArticle(a.ID, a.URL)
	if err != nil {
		return false, err
	}

	if existing == nil {
		_, err = s.db.Exec(
			`INSERT INTO articles (id, aid, account_id, title, url, cover_url, digest, author, publish_ts, raw_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.AID, a.AccountID, a.Title, a.URL,
			nullStr(a.CoverURL), nullStr(a.Digest), nullStr(a.Author),
			nullInt64(a.PublishTS), nullStr(a.RawJSON),
		)
		if err != nil {
			return false, fmt.Errorf("insert article: %w", err)
		}
		return true, nil
	}

	// Keep previously captured values when the listing omits a field.
	_, err = s.db.Exec(
		`UPDATE articles SET
			aid = ?, account_id = ?,
			title = CASE WHEN ? != '' THEN ? ELSE title END,
			cover_url = CASE WHEN ? != '' THEN ? ELSE cover_url END,
			digest = CASE WHEN ? != '' THEN ? ELSE digest END,
			author = CASE WHEN ? != '' THEN ? ELSE author END,
			publish_ts = CASE WHEN ? != 0 THEN ? ELSE publish_ts END,
			raw_json = CASE WHEN ? != '' THEN ? ELSE raw_json END,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		a.AID, a.AccountID,
		a.Title, a.Title,
		a.CoverURL, a.CoverURL,
		a.Digest, a.Digest,
		a.Author, a.Author,
		a.PublishTS, a.PublishTS,
		a.RawJSON, a.RawJSON,
		existing.ID,
	)
	if err != nil {
		return false, fmt.Errorf("update article: %w", err)
	}
	// Report back the id actually stored, so content updates land on the
	// row found by url even when the derived id differs.
	a.ID = existing.ID
	return false, nil
}

// FindArticle returns the article matching the given id or url, or nil.
func (s *Store) FindArticle(id, url string) (*Article, error) {
	row := s.db.QueryRow(
		`SELECT `+articleColumns+` FROM articles WHERE id = ? OR url = ? LIMIT 1`,
		id, url,
	)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find article: %w", err)
	}
	return a, nil
}

// GetArticle returns an article by id, or nil if absent.
func (s *Store) GetArticle(id string) (*Article, error) {
	row := s.db.QueryRow(`SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	return a, nil
}

// ArticleContent holds the cleaned body of one post.
type ArticleContent struct {
	Title      string
	Author     string
	Digest     string
	CoverURL   string
	HTML       string
	Text       string
	ImagesJSON string
	PublishTS  int64
}

// UpdateArticleContent stores a freshly fetched body on an existing article.
func (s *Store) UpdateArticleContent(id string, c *ArticleContent) error {
	_, err := s.db.Exec(
		`UPDATE articles SET
			content_html = ?, content_text = ?, images_json = ?,
			cover_url = CASE WHEN ? != '' THEN ? ELSE cover_url END,
			digest = CASE WHEN ? != '' THEN ? ELSE digest END,
			author = CASE WHEN ? != '' THEN ? ELSE author END,
			title = CASE WHEN ? != '' THEN ? ELSE title END,
			publish_ts = CASE WHEN ? != 0 THEN ? ELSE publish_ts END,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		c.HTML, c.Text, c.ImagesJSON,
		c.CoverURL, c.CoverURL,
		c.Digest, c.Digest,
		c.Author, c.Author,
		c.Title, c.Title,
		c.PublishTS, c.PublishTS,
		id,
	)
	if err != nil {
		return fmt.Errorf("update article content: %w", err)
	}
	return nil
}

// ListArticles returns articles newest-first with optional account and
// keyword filters, plus the unpaginated total.
func (s *Store) ListArticles(accountID, keyword string, offset, limit int) ([]Article, int, error) {
	where := "1=1"
	args := []any{}
	if accountID != "" {
		where += " AND account_id = ?"
		args = append(args, accountID)
	}
	if keyword != "" {
		where += " AND (title LIKE ? OR digest LIKE ?)"
		kw := "%" + keyword + "%"
		args = append(args, kw, kw)
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM articles WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count articles: %w", err)
	}

	query := `SELECT ` + articleColumns + ` FROM articles WHERE ` + where +
		` ORDER BY publish_ts DESC, updated_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var out []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *a)
	}
	return out, total, rows.Err()
}

// CountArticles returns the number of stored articles, optionally per account.
func (s *Store) CountArticles(accountID string) (int, error) {
	var n int
	var err error
	if accountID == "" {
		err = s.db.QueryRow("SELECT COUNT(*) FROM articles").Scan(&n)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM articles WHERE account_id = ?", accountID).Scan(&n)
	}
	return n, err
}
