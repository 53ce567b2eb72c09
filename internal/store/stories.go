package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InsertStory creates a story and links every article ID to it in a single
// transaction. Either the story row and all association rows commit, or
// nothing does.
func (s *SQLiteStore) InsertStory(ctx context.Context, story *Story, articleIDs []int64) (int64, error) {
	if len(articleIDs) == 0 {
		return 0, fmt.Errorf("story requires at least one article")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	sourceCount, err := distinctSourceCount(ctx, tx, articleIDs)
	if err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO stories (headline, consensus, left_framing, right_framing,
		                      center_framing, key_differences, source_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		story.Headline, story.Consensus, story.LeftFraming, story.RightFraming,
		story.CenterFraming, story.KeyDifferences, sourceCount, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting story: %w", err)
	}

	storyID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting story id: %w", err)
	}

	for _, articleID := range articleIDs {
		// OR IGNORE: an article attaches to a story at most once.
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO story_articles (story_id, article_id) VALUES (?, ?)",
			storyID, articleID); err != nil {
			return 0, fmt.Errorf("linking article %d to story %d: %w", articleID, storyID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing story: %w", err)
	}

	story.ID = storyID
	story.SourceCount = sourceCount
	story.CreatedAt = now
	story.UpdatedAt = now
	return storyID, nil
}

// ListStories returns stories newest first.
func (s *SQLiteStore) ListStories(ctx context.Context, opts ListOpts) ([]*Story, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, headline, consensus, left_framing, right_framing,
		        center_framing, key_differences, source_count, created_at, updated_at
		 FROM stories ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing stories: %w", err)
	}
	defer rows.Close()

	var stories []*Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, st)
	}
	return stories, rows.Err()
}

// GetStoryWithArticles returns a story and its linked articles, ordered by
// lean then source name. Returns (nil, nil, nil) if the story does not exist.
func (s *SQLiteStore) GetStoryWithArticles(ctx context.Context, id int64) (*Story, []*Article, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, headline, consensus, left_framing, right_framing,
		        center_framing, key_differences, source_count, created_at, updated_at
		 FROM stories WHERE id = ?`, id)

	st := &Story{}
	err := row.Scan(&st.ID, &st.Headline, &st.Consensus, &st.LeftFraming, &st.RightFraming,
		&st.CenterFraming, &st.KeyDifferences, &st.SourceCount, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("getting story %d: %w", id, err)
	}
	st.CreatedAt = st.CreatedAt.UTC()
	st.UpdatedAt = st.UpdatedAt.UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.source_name, a.source_lean, a.headline, a.body, a.url, a.published_at, a.ingested_at
		 FROM articles a
		 JOIN story_articles sa ON a.id = sa.article_id
		 WHERE sa.story_id = ?
		 ORDER BY a.source_lean, a.source_name`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting articles for story %d: %w", id, err)
	}
	defer rows.Close()

	articles, err := scanArticles(rows, false)
	if err != nil {
		return nil, nil, err
	}
	return st, articles, nil
}

// CountStoryArticles returns how many articles are linked to a story.
func (s *SQLiteStore) CountStoryArticles(ctx context.Context, storyID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM story_articles WHERE story_id = ?", storyID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting articles for story %d: %w", storyID, err)
	}
	return n, nil
}

// DistinctLeans returns the distinct source leans among a story's articles.
func (s *SQLiteStore) DistinctLeans(ctx context.Context, storyID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT a.source_lean FROM articles a
		 JOIN story_articles sa ON a.id = sa.article_id
		 WHERE sa.story_id = ? ORDER BY a.source_lean`, storyID)
	if err != nil {
		return nil, fmt.Errorf("getting leans for story %d: %w", storyID, err)
	}
	defer rows.Close()

	var leans []string
	for rows.Next() {
		var lean string
		if err := rows.Scan(&lean); err != nil {
			return nil, fmt.Errorf("scanning lean: %w", err)
		}
		leans = append(leans, lean)
	}
	return leans, rows.Err()
}

func scanStory(rows *sql.Rows) (*Story, error) {
	st := &Story{}
	if err := rows.Scan(&st.ID, &st.Headline, &st.Consensus, &st.LeftFraming, &st.RightFraming,
		&st.CenterFraming, &st.KeyDifferences, &st.SourceCount, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scanning story row: %w", err)
	}
	st.CreatedAt = st.CreatedAt.UTC()
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}

// distinctSourceCount computes the denormalized source count inside the
// story transaction.
func distinctSourceCount(ctx context.Context, tx *sql.Tx, articleIDs []int64) (int, error) {
	placeholders := make([]string, len(articleIDs))
	args := make([]interface{}, len(articleIDs))
	for i, id := range articleIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(
		"SELECT COUNT(DISTINCT source_name) FROM articles WHERE id IN (%s)",
		strings.Join(placeholders, ","))

	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting distinct sources: %w", err)
	}
	return n, nil
}
