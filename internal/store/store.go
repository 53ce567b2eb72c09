// Package store provides the SQLite storage layer for newslens.
//
// All pipeline data lives in a single SQLite database file:
// - Scraped articles with their source metadata and embedding blobs
// - Synthesized stories
// - The story/article association table that makes pipeline runs incremental
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.newslens/newslens.db"

// Source lean categories. Every article carries exactly one.
const (
	LeanLeft          = "left"
	LeanCenter        = "center"
	LeanRight         = "right"
	LeanInternational = "international"
)

// ErrDuplicateURL is returned by InsertArticle when an article with the
// same canonical URL already exists. Callers treat it as a no-op.
var ErrDuplicateURL = errors.New("article URL already exists")

// Article is a single scraped document. Immutable after insert except for
// the embedding blob, which is set once by the embed stage.
type Article struct {
	ID          int64
	SourceName  string
	SourceLean  string
	Headline    string
	Body        string
	URL         string
	PublishedAt *time.Time
	IngestedAt  time.Time
	Embedding   []byte // nil until the embed stage has processed it
}

// Story is the synthesized output for one accepted cluster.
type Story struct {
	ID             int64
	Headline       string
	Consensus      string
	LeftFraming    string
	RightFraming   string
	CenterFraming  string
	KeyDifferences string
	SourceCount    int // distinct source names among linked articles
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ListOpts controls pagination for ListStories.
type ListOpts struct {
	Limit  int
	Offset int
}

// Stats holds observability counters for the store.
type Stats struct {
	ArticleCount  int64
	StoryCount    int64
	SourceCount   int64
	LastArticleAt *time.Time
	LastStoryAt   *time.Time
}

// PurgeResult reports what a retention sweep removed.
type PurgeResult struct {
	StoriesDeleted  int64
	ArticlesDeleted int64
}

// Config holds configuration for NewStore.
type Config struct {
	DBPath string
}

// Store defines the storage interface consumed by the pipeline.
type Store interface {
	// Articles
	InsertArticle(ctx context.Context, a *Article) (int64, error)
	ListArticlesMissingEmbedding(ctx context.Context, limit int) ([]*Article, error)
	SetEmbedding(ctx context.Context, articleID int64, blob []byte) error
	ListArticlesWithEmbeddingInWindow(ctx context.Context, window time.Duration) ([]*Article, error)
	ListUnclusteredArticleIDs(ctx context.Context, window time.Duration) ([]int64, error)

	// Stories
	InsertStory(ctx context.Context, s *Story, articleIDs []int64) (int64, error)
	ListStories(ctx context.Context, opts ListOpts) ([]*Story, error)
	GetStoryWithArticles(ctx context.Context, id int64) (*Story, []*Article, error)
	CountStoryArticles(ctx context.Context, storyID int64) (int, error)
	DistinctLeans(ctx context.Context, storyID int64) ([]string, error)

	// Observability
	Stats(ctx context.Context) (*Stats, error)

	// Maintenance
	PurgeOlderThan(ctx context.Context, age time.Duration) (*PurgeResult, error)
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg Config) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each pooled connection to ":memory:" would get its own database.
	if cfg.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

// GetDB exposes the underlying database handle for diagnostics.
func (s *SQLiteStore) GetDB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Stats returns counts and last-activity timestamps.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles").Scan(&st.ArticleCount); err != nil {
		return nil, fmt.Errorf("counting articles: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stories").Scan(&st.StoryCount); err != nil {
		return nil, fmt.Errorf("counting stories: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT source_name) FROM articles").Scan(&st.SourceCount); err != nil {
		return nil, fmt.Errorf("counting sources: %w", err)
	}

	// Direct column selects, not MAX(): the driver only decodes DATETIME
	// for columns whose decltype survives, and aggregates lose it.
	var lastArticle time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT ingested_at FROM articles ORDER BY ingested_at DESC LIMIT 1").Scan(&lastArticle)
	switch {
	case err == nil:
		t := lastArticle.UTC()
		st.LastArticleAt = &t
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("getting last article time: %w", err)
	}

	var lastStory time.Time
	err = s.db.QueryRowContext(ctx,
		"SELECT created_at FROM stories ORDER BY created_at DESC LIMIT 1").Scan(&lastStory)
	switch {
	case err == nil:
		t := lastStory.UTC()
		st.LastStoryAt = &t
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("getting last story time: %w", err)
	}

	return st, nil
}

// PurgeOlderThan removes stories older than the given age, then articles
// older than the same age that are not linked to any surviving story.
// Story deletion cascades to the association table, never to articles.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, age time.Duration) (*PurgeResult, error) {
	cutoff := time.Now().UTC().Add(-age)
	result := &PurgeResult{}

	res, err := s.db.ExecContext(ctx, "DELETE FROM stories WHERE created_at < ?", cutoff)
	if err != nil {
		return nil, fmt.Errorf("purging stories: %w", err)
	}
	result.StoriesDeleted, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM articles
		 WHERE ingested_at < ?
		   AND id NOT IN (SELECT article_id FROM story_articles)`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("purging articles: %w", err)
	}
	result.ArticlesDeleted, _ = res.RowsAffected()

	return result, nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
