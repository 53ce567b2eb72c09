package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewStore(Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testArticle(source, lean, url string) *Article {
	return &Article{
		SourceName: source,
		SourceLean: lean,
		Headline:   "Headline from " + source,
		Body:       "Body text.",
		URL:        url,
	}
}

func mustInsert(t *testing.T, s *SQLiteStore, a *Article) int64 {
	t.Helper()
	id, err := s.InsertArticle(context.Background(), a)
	if err != nil {
		t.Fatalf("InsertArticle(%s): %v", a.URL, err)
	}
	return id
}

func TestInsertArticleDuplicateURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testArticle("Reuters", LeanCenter, "https://example.com/a")
	id := mustInsert(t, s, first)
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	dup := testArticle("AP", LeanCenter, "https://example.com/a")
	dup.Headline = "Different headline, same URL"
	_, err := s.InsertArticle(ctx, dup)
	if !errors.Is(err, ErrDuplicateURL) {
		t.Fatalf("expected ErrDuplicateURL, got %v", err)
	}

	// The original row must be untouched.
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ArticleCount != 1 {
		t.Errorf("article count = %d, want 1", stats.ArticleCount)
	}

	var headline string
	if err := s.db.QueryRow("SELECT headline FROM articles WHERE url = ?", "https://example.com/a").Scan(&headline); err != nil {
		t.Fatalf("query: %v", err)
	}
	if headline != first.Headline {
		t.Errorf("headline = %q, want original %q", headline, first.Headline)
	}
}

func TestSetEmbeddingWriteOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := mustInsert(t, s, testArticle("Reuters", LeanCenter, "https://example.com/e"))

	if err := s.SetEmbedding(ctx, id, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SetEmbedding: %v", err)
	}
	if err := s.SetEmbedding(ctx, id, []byte{9, 9, 9, 9}); err == nil {
		t.Error("expected error on second SetEmbedding, got nil")
	}
	if err := s.SetEmbedding(ctx, 9999, []byte{1}); err == nil {
		t.Error("expected error for unknown article id, got nil")
	}
}

func TestListArticlesMissingEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustInsert(t, s, testArticle("Reuters", LeanCenter, "https://example.com/1"))
	mustInsert(t, s, testArticle("AP", LeanCenter, "https://example.com/2"))

	if err := s.SetEmbedding(ctx, a, []byte{0, 0, 0, 0}); err != nil {
		t.Fatalf("SetEmbedding: %v", err)
	}

	missing, err := s.ListArticlesMissingEmbedding(ctx, 0)
	if err != nil {
		t.Fatalf("ListArticlesMissingEmbedding: %v", err)
	}
	if len(missing) != 1 {
		t.Fatalf("got %d articles missing embedding, want 1", len(missing))
	}
	if missing[0].URL != "https://example.com/2" {
		t.Errorf("wrong article returned: %s", missing[0].URL)
	}
}

func TestListUnclusteredArticleIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		id := mustInsert(t, s, testArticle(fmt.Sprintf("Source%d", i), LeanCenter,
			fmt.Sprintf("https://example.com/u%d", i)))
		if err := s.SetEmbedding(ctx, id, []byte{0, 0, 0, 0}); err != nil {
			t.Fatalf("SetEmbedding: %v", err)
		}
		ids = append(ids, id)
	}
	// Fourth article has no embedding, so it is not a candidate.
	mustInsert(t, s, testArticle("Source3", LeanCenter, "https://example.com/u3"))

	unclustered, err := s.ListUnclusteredArticleIDs(ctx, 96*time.Hour)
	if err != nil {
		t.Fatalf("ListUnclusteredArticleIDs: %v", err)
	}
	if len(unclustered) != 3 {
		t.Fatalf("got %d unclustered, want 3", len(unclustered))
	}

	// Link two of them to a story; only the third should remain.
	if _, err := s.InsertStory(ctx, &Story{Headline: "h"}, ids[:2]); err != nil {
		t.Fatalf("InsertStory: %v", err)
	}

	unclustered, err = s.ListUnclusteredArticleIDs(ctx, 96*time.Hour)
	if err != nil {
		t.Fatalf("ListUnclusteredArticleIDs: %v", err)
	}
	if len(unclustered) != 1 || unclustered[0] != ids[2] {
		t.Errorf("unclustered = %v, want [%d]", unclustered, ids[2])
	}
}

func TestInsertStoryTransactional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustInsert(t, s, testArticle("Reuters", LeanCenter, "https://example.com/t1"))
	b := mustInsert(t, s, testArticle("Fox News", LeanRight, "https://example.com/t2"))

	// A nonexistent article ID violates the FK and must roll back the
	// story row too.
	_, err := s.InsertStory(ctx, &Story{Headline: "broken"}, []int64{a, 424242})
	if err == nil {
		t.Fatal("expected FK error, got nil")
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.StoryCount != 0 {
		t.Fatalf("story count after failed insert = %d, want 0", stats.StoryCount)
	}

	id, err := s.InsertStory(ctx, &Story{
		Headline:     "Working story",
		Consensus:    "Both report the event.",
		LeftFraming:  "Left frame",
		RightFraming: "Right frame",
	}, []int64{a, b})
	if err != nil {
		t.Fatalf("InsertStory: %v", err)
	}

	story, articles, err := s.GetStoryWithArticles(ctx, id)
	if err != nil {
		t.Fatalf("GetStoryWithArticles: %v", err)
	}
	if story == nil {
		t.Fatal("story not found after insert")
	}
	if story.SourceCount != 2 {
		t.Errorf("source count = %d, want 2", story.SourceCount)
	}
	if len(articles) != 2 {
		t.Errorf("linked articles = %d, want 2", len(articles))
	}

	n, err := s.CountStoryArticles(ctx, id)
	if err != nil {
		t.Fatalf("CountStoryArticles: %v", err)
	}
	if n != 2 {
		t.Errorf("CountStoryArticles = %d, want 2", n)
	}

	leans, err := s.DistinctLeans(ctx, id)
	if err != nil {
		t.Fatalf("DistinctLeans: %v", err)
	}
	if len(leans) != 2 {
		t.Errorf("distinct leans = %v, want 2 entries", leans)
	}
}

func TestInsertStoryRequiresArticles(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.InsertStory(context.Background(), &Story{Headline: "empty"}, nil); err == nil {
		t.Error("expected error for story with no articles")
	}
}

func TestGetStoryWithArticlesNotFound(t *testing.T) {
	s := newTestStore(t)
	story, articles, err := s.GetStoryWithArticles(context.Background(), 12345)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if story != nil || articles != nil {
		t.Errorf("expected (nil, nil) for missing story, got (%v, %v)", story, articles)
	}
}

func TestSourceCountCountsSourcesNotArticles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := []int64{
		mustInsert(t, s, testArticle("Reuters", LeanCenter, "https://example.com/s1")),
		mustInsert(t, s, testArticle("Reuters", LeanCenter, "https://example.com/s2")),
		mustInsert(t, s, testArticle("AP", LeanCenter, "https://example.com/s3")),
	}

	id, err := s.InsertStory(ctx, &Story{Headline: "h"}, ids)
	if err != nil {
		t.Fatalf("InsertStory: %v", err)
	}
	story, _, err := s.GetStoryWithArticles(ctx, id)
	if err != nil {
		t.Fatalf("GetStoryWithArticles: %v", err)
	}
	if story.SourceCount != 2 {
		t.Errorf("source count = %d, want 2 (three articles, two sources)", story.SourceCount)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := testArticle("Reuters", LeanCenter, "https://example.com/old")
	old.IngestedAt = time.Now().UTC().Add(-10 * 24 * time.Hour)
	oldID := mustInsert(t, s, old)

	linked := testArticle("AP", LeanCenter, "https://example.com/linked")
	linked.IngestedAt = time.Now().UTC().Add(-10 * 24 * time.Hour)
	linkedID := mustInsert(t, s, linked)
	fresh := mustInsert(t, s, testArticle("BBC", LeanInternational, "https://example.com/fresh"))

	// Link the old-but-referenced article to a fresh story; it must survive.
	if _, err := s.InsertStory(ctx, &Story{Headline: "keeps article alive"}, []int64{linkedID, fresh}); err != nil {
		t.Fatalf("InsertStory: %v", err)
	}

	result, err := s.PurgeOlderThan(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if result.StoriesDeleted != 0 {
		t.Errorf("stories deleted = %d, want 0", result.StoriesDeleted)
	}
	if result.ArticlesDeleted != 1 {
		t.Errorf("articles deleted = %d, want 1", result.ArticlesDeleted)
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM articles WHERE id = ?", oldID).Scan(&n); err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != 0 {
		t.Error("old unlinked article survived purge")
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM articles WHERE id = ?", linkedID).Scan(&n); err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != 1 {
		t.Error("old linked article was purged")
	}
}

func TestPurgeStoryCascadesLinksNotArticles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustInsert(t, s, testArticle("Reuters", LeanCenter, "https://example.com/c1"))
	b := mustInsert(t, s, testArticle("AP", LeanCenter, "https://example.com/c2"))

	storyID, err := s.InsertStory(ctx, &Story{Headline: "old story"}, []int64{a, b})
	if err != nil {
		t.Fatalf("InsertStory: %v", err)
	}
	if _, err := s.db.Exec("UPDATE stories SET created_at = ? WHERE id = ?",
		time.Now().UTC().Add(-30*24*time.Hour), storyID); err != nil {
		t.Fatalf("backdating story: %v", err)
	}

	result, err := s.PurgeOlderThan(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if result.StoriesDeleted != 1 {
		t.Fatalf("stories deleted = %d, want 1", result.StoriesDeleted)
	}

	var links int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM story_articles WHERE story_id = ?", storyID).Scan(&links); err != nil {
		t.Fatalf("query: %v", err)
	}
	if links != 0 {
		t.Error("association rows survived story deletion")
	}

	// Articles are fresh and must survive even though their story is gone;
	// they become clusterable again.
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ArticleCount != 2 {
		t.Errorf("article count = %d, want 2", stats.ArticleCount)
	}
}

func TestStatsOnPopulatedStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Empty store: counters zero, no activity timestamps.
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats on empty store: %v", err)
	}
	if stats.LastArticleAt != nil || stats.LastStoryAt != nil {
		t.Errorf("empty store timestamps = %v, %v; want nil, nil", stats.LastArticleAt, stats.LastStoryAt)
	}

	a := mustInsert(t, s, testArticle("Reuters", LeanCenter, "https://example.com/st1"))
	b := mustInsert(t, s, testArticle("AP", LeanCenter, "https://example.com/st2"))
	if _, err := s.InsertStory(ctx, &Story{Headline: "h"}, []int64{a, b}); err != nil {
		t.Fatalf("InsertStory: %v", err)
	}

	stats, err = s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats on populated store: %v", err)
	}
	if stats.ArticleCount != 2 || stats.StoryCount != 1 || stats.SourceCount != 2 {
		t.Errorf("counts = %d/%d/%d, want 2/1/2",
			stats.ArticleCount, stats.StoryCount, stats.SourceCount)
	}
	if stats.LastArticleAt == nil {
		t.Fatal("LastArticleAt is nil with articles present")
	}
	if stats.LastStoryAt == nil {
		t.Fatal("LastStoryAt is nil with a story present")
	}
	if age := time.Since(*stats.LastArticleAt); age < 0 || age > time.Minute {
		t.Errorf("LastArticleAt = %v, not a recent timestamp", *stats.LastArticleAt)
	}
	if age := time.Since(*stats.LastStoryAt); age < 0 || age > time.Minute {
		t.Errorf("LastStoryAt = %v, not a recent timestamp", *stats.LastStoryAt)
	}
}

func TestListStoriesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := mustInsert(t, s, testArticle(fmt.Sprintf("S%d", i), LeanCenter,
			fmt.Sprintf("https://example.com/l%d", i)))
		storyID, err := s.InsertStory(ctx, &Story{Headline: fmt.Sprintf("story %d", i)}, []int64{id})
		if err != nil {
			t.Fatalf("InsertStory: %v", err)
		}
		// Distinct created_at per story so ordering is deterministic.
		if _, err := s.db.Exec("UPDATE stories SET created_at = ? WHERE id = ?",
			time.Now().UTC().Add(time.Duration(-3+i)*time.Hour), storyID); err != nil {
			t.Fatalf("backdating: %v", err)
		}
	}

	stories, err := s.ListStories(ctx, ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListStories: %v", err)
	}
	if len(stories) != 3 {
		t.Fatalf("got %d stories, want 3", len(stories))
	}
	if stories[0].Headline != "story 2" {
		t.Errorf("first story = %q, want newest (story 2)", stories[0].Headline)
	}
}
