package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertArticle inserts a new article. Returns ErrDuplicateURL if an
// article with the same canonical URL already exists; the row is left
// untouched in that case.
func (s *SQLiteStore) InsertArticle(ctx context.Context, a *Article) (int64, error) {
	now := time.Now().UTC()
	if a.IngestedAt.IsZero() {
		a.IngestedAt = now
	}

	var publishedAt sql.NullTime
	if a.PublishedAt != nil {
		publishedAt = sql.NullTime{Time: a.PublishedAt.UTC(), Valid: true}
	}

	// ON CONFLICT DO NOTHING gives a typed duplicate signal via RowsAffected
	// instead of inspecting constraint error text.
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO articles (source_name, source_lean, headline, body, url, published_at, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO NOTHING`,
		a.SourceName, a.SourceLean, a.Headline, a.Body, a.URL, publishedAt, a.IngestedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting article: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return 0, ErrDuplicateURL
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}
	a.ID = id
	return id, nil
}

// ListArticlesMissingEmbedding returns articles that have no stored
// embedding yet, newest first.
func (s *SQLiteStore) ListArticlesMissingEmbedding(ctx context.Context, limit int) ([]*Article, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_name, source_lean, headline, body, url, published_at, ingested_at
		 FROM articles WHERE embedding IS NULL
		 ORDER BY ingested_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing articles missing embedding: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows, false)
}

// SetEmbedding stores the serialized embedding for an article.
// Embeddings are written once; recomputation requires clearing the column first.
func (s *SQLiteStore) SetEmbedding(ctx context.Context, articleID int64, blob []byte) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE articles SET embedding = ? WHERE id = ? AND embedding IS NULL",
		blob, articleID)
	if err != nil {
		return fmt.Errorf("storing embedding for article %d: %w", articleID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("article %d not found or already embedded", articleID)
	}
	return nil
}

// ListArticlesWithEmbeddingInWindow returns embedded articles ingested
// within the lookback window, newest first.
func (s *SQLiteStore) ListArticlesWithEmbeddingInWindow(ctx context.Context, window time.Duration) ([]*Article, error) {
	cutoff := time.Now().UTC().Add(-window)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_name, source_lean, headline, body, url, published_at, ingested_at, embedding
		 FROM articles WHERE ingested_at > ? AND embedding IS NOT NULL
		 ORDER BY ingested_at DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing embedded articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows, true)
}

// ListUnclusteredArticleIDs returns IDs of embedded articles inside the
// lookback window that are not yet linked to any story. This exclusion is
// what makes repeated pipeline runs incremental.
func (s *SQLiteStore) ListUnclusteredArticleIDs(ctx context.Context, window time.Duration) ([]int64, error) {
	cutoff := time.Now().UTC().Add(-window)
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id FROM articles a
		 LEFT JOIN story_articles sa ON a.id = sa.article_id
		 WHERE a.ingested_at > ? AND a.embedding IS NOT NULL AND sa.id IS NULL`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing unclustered article IDs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning article ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scanArticles scans article rows, optionally including the embedding blob.
func scanArticles(rows *sql.Rows, withEmbedding bool) ([]*Article, error) {
	var articles []*Article
	for rows.Next() {
		a := &Article{}
		var publishedAt sql.NullTime
		var err error
		if withEmbedding {
			err = rows.Scan(&a.ID, &a.SourceName, &a.SourceLean, &a.Headline, &a.Body,
				&a.URL, &publishedAt, &a.IngestedAt, &a.Embedding)
		} else {
			err = rows.Scan(&a.ID, &a.SourceName, &a.SourceLean, &a.Headline, &a.Body,
				&a.URL, &publishedAt, &a.IngestedAt)
		}
		if err != nil {
			return nil, fmt.Errorf("scanning article row: %w", err)
		}
		if publishedAt.Valid {
			t := publishedAt.Time.UTC()
			a.PublishedAt = &t
		}
		a.IngestedAt = a.IngestedAt.UTC()
		articles = append(articles, a)
	}
	return articles, rows.Err()
}
