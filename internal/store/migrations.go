package store

import "fmt"

// migrate creates all tables and indexes if they don't exist.
func (s *SQLiteStore) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS articles (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			source_name  TEXT NOT NULL,
			source_lean  TEXT NOT NULL,
			headline     TEXT NOT NULL,
			body         TEXT,
			url          TEXT UNIQUE NOT NULL,
			published_at DATETIME,
			ingested_at  DATETIME NOT NULL,
			embedding    BLOB
		)`,

		`CREATE TABLE IF NOT EXISTS stories (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			headline        TEXT NOT NULL,
			consensus       TEXT,
			left_framing    TEXT,
			right_framing   TEXT,
			center_framing  TEXT,
			key_differences TEXT,
			source_count    INTEGER DEFAULT 0,
			created_at      DATETIME NOT NULL,
			updated_at      DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS story_articles (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			story_id   INTEGER NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
			article_id INTEGER NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
			UNIQUE(story_id, article_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_articles_ingested ON articles(ingested_at)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_url ON articles(url)`,
		`CREATE INDEX IF NOT EXISTS idx_stories_created ON stories(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_story_articles_story ON story_articles(story_id)`,
		`CREATE INDEX IF NOT EXISTS idx_story_articles_article ON story_articles(article_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing DDL: %w", err)
		}
	}
	return nil
}
