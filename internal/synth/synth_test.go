package synth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/newslens/newslens/internal/llm"
	"github.com/newslens/newslens/internal/store"
)

// mockProvider returns scripted responses in order, then repeats the last.
type mockProvider struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
}

func (m *mockProvider) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	if m.errs != nil && m.errs[i] != nil {
		return "", m.errs[i]
	}
	return m.responses[i], nil
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.CallTimeout = time.Second
	return cfg
}

func newSynthStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewStore(store.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testCluster returns a two-source cluster persisted in no store; IDs are
// only meaningful after storeCluster.
func testCluster() []*store.Article {
	return []*store.Article{
		{SourceName: "Reuters", SourceLean: store.LeanCenter,
			Headline: "Central bank raises rates", Body: "The bank moved.",
			URL: "https://example.com/r"},
		{SourceName: "Fox News", SourceLean: store.LeanRight,
			Headline: "Rate hike squeezes borrowers", Body: "Borrowers react.",
			URL: "https://example.com/f"},
	}
}

func storeCluster(t *testing.T, s *store.SQLiteStore, articles []*store.Article) {
	t.Helper()
	for _, a := range articles {
		if _, err := s.InsertArticle(context.Background(), a); err != nil {
			t.Fatalf("InsertArticle: %v", err)
		}
	}
}

const goodResponse = `{"headline": "Central bank raises rates",
	"consensus": "The bank raised rates.",
	"left_framing": "No left-leaning coverage available.",
	"right_framing": "Coverage emphasizes borrower pain.",
	"center_framing": "Neutral wire tone.",
	"key_differences": "Emphasis differs."}`

func TestSynthesizeAllHappyPath(t *testing.T) {
	s := newSynthStore(t)
	cluster := testCluster()
	storeCluster(t, s, cluster)

	provider := &mockProvider{responses: []string{goodResponse}}
	orch := NewOrchestrator(s, provider, testConfig(), zerolog.Nop())

	result, err := orch.SynthesizeAll(context.Background(), [][]*store.Article{cluster})
	if err != nil {
		t.Fatalf("SynthesizeAll: %v", err)
	}
	if result.StoriesCreated != 1 || result.ClustersSkipped != 0 {
		t.Fatalf("created=%d skipped=%d, want 1/0", result.StoriesCreated, result.ClustersSkipped)
	}

	story, articles, err := s.GetStoryWithArticles(context.Background(), result.StoryIDs[0])
	if err != nil {
		t.Fatalf("GetStoryWithArticles: %v", err)
	}
	if story.Headline != "Central bank raises rates" {
		t.Errorf("headline = %q", story.Headline)
	}
	if story.SourceCount != 2 || len(articles) != 2 {
		t.Errorf("source count %d, linked %d; want 2/2", story.SourceCount, len(articles))
	}
}

func TestSynthesizeRetriesTransientFailures(t *testing.T) {
	s := newSynthStore(t)
	cluster := testCluster()
	storeCluster(t, s, cluster)

	provider := &mockProvider{
		responses: []string{"", "not json at all", goodResponse},
		errs:      []error{errors.New("connection reset"), nil, nil},
	}
	orch := NewOrchestrator(s, provider, testConfig(), zerolog.Nop())

	result, err := orch.SynthesizeAll(context.Background(), [][]*store.Article{cluster})
	if err != nil {
		t.Fatalf("SynthesizeAll: %v", err)
	}
	if result.StoriesCreated != 1 {
		t.Fatalf("stories created = %d, want 1 after two retries", result.StoriesCreated)
	}
	if provider.callCount() != 3 {
		t.Errorf("provider calls = %d, want 3", provider.callCount())
	}
}

func TestSynthesizeSkipsAfterExhaustedRetries(t *testing.T) {
	s := newSynthStore(t)
	cluster := testCluster()
	storeCluster(t, s, cluster)

	provider := &mockProvider{
		responses: []string{"", "", ""},
		errs:      []error{errors.New("boom"), errors.New("boom"), errors.New("boom")},
	}
	orch := NewOrchestrator(s, provider, testConfig(), zerolog.Nop())

	result, err := orch.SynthesizeAll(context.Background(), [][]*store.Article{cluster})
	if err != nil {
		t.Fatalf("SynthesizeAll: %v", err)
	}
	if result.StoriesCreated != 0 || result.ClustersSkipped != 1 {
		t.Errorf("created=%d skipped=%d, want 0/1", result.StoriesCreated, result.ClustersSkipped)
	}
	if provider.callCount() != 3 {
		t.Errorf("provider calls = %d, want exactly MaxAttempts (3)", provider.callCount())
	}

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.StoryCount != 0 {
		t.Error("failed synthesis still persisted a story")
	}
}

func TestSynthesizeEmptyHeadlineSkipsWithoutRetry(t *testing.T) {
	s := newSynthStore(t)
	cluster := testCluster()
	storeCluster(t, s, cluster)

	// Valid JSON, parsed successfully, but unusable. Not a retryable
	// failure: one call, cluster skipped.
	provider := &mockProvider{responses: []string{`{"consensus": "words but no headline"}`}}
	orch := NewOrchestrator(s, provider, testConfig(), zerolog.Nop())

	result, err := orch.SynthesizeAll(context.Background(), [][]*store.Article{cluster})
	if err != nil {
		t.Fatalf("SynthesizeAll: %v", err)
	}
	if result.StoriesCreated != 0 || result.ClustersSkipped != 1 {
		t.Errorf("created=%d skipped=%d, want 0/1", result.StoriesCreated, result.ClustersSkipped)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1 (no retry on parsed-but-empty)", provider.callCount())
	}
}

func TestSynthesizeSkipsTooSmallCluster(t *testing.T) {
	s := newSynthStore(t)
	one := testCluster()[:1]
	storeCluster(t, s, one)

	provider := &mockProvider{responses: []string{goodResponse}}
	orch := NewOrchestrator(s, provider, testConfig(), zerolog.Nop())

	result, err := orch.SynthesizeAll(context.Background(), [][]*store.Article{one})
	if err != nil {
		t.Fatalf("SynthesizeAll: %v", err)
	}
	if result.StoriesCreated != 0 || result.ClustersSkipped != 1 {
		t.Errorf("created=%d skipped=%d, want 0/1", result.StoriesCreated, result.ClustersSkipped)
	}
	if provider.callCount() != 0 {
		t.Errorf("provider called %d times for an undersized cluster", provider.callCount())
	}
}

func TestSynthesizeOneFailureDoesNotAbortBatch(t *testing.T) {
	s := newSynthStore(t)

	bad := testCluster()
	good := []*store.Article{
		{SourceName: "BBC", SourceLean: store.LeanInternational,
			Headline: "Summit ends", Body: "b", URL: "https://example.com/b1"},
		{SourceName: "AP", SourceLean: store.LeanCenter,
			Headline: "Summit concludes", Body: "b", URL: "https://example.com/b2"},
	}
	storeCluster(t, s, bad)
	storeCluster(t, s, good)

	// Serial processing (MaxInFlight=1) so scripted responses map to
	// clusters deterministically: first cluster fails all attempts, second
	// succeeds.
	cfg := testConfig()
	cfg.MaxInFlight = 1
	provider := &mockProvider{
		responses: []string{"", "", "", goodResponse},
		errs:      []error{errors.New("x"), errors.New("x"), errors.New("x"), nil},
	}
	orch := NewOrchestrator(s, provider, cfg, zerolog.Nop())

	result, err := orch.SynthesizeAll(context.Background(), [][]*store.Article{bad, good})
	if err != nil {
		t.Fatalf("SynthesizeAll: %v", err)
	}
	if result.StoriesCreated != 1 || result.ClustersSkipped != 1 {
		t.Errorf("created=%d skipped=%d, want 1/1", result.StoriesCreated, result.ClustersSkipped)
	}
}

func TestSynthesizeAllEmptyInput(t *testing.T) {
	s := newSynthStore(t)
	orch := NewOrchestrator(s, &mockProvider{responses: []string{goodResponse}}, testConfig(), zerolog.Nop())

	result, err := orch.SynthesizeAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("SynthesizeAll: %v", err)
	}
	if result.ClustersIn != 0 || result.StoriesCreated != 0 {
		t.Errorf("unexpected result for empty input: %+v", result)
	}
}

func TestSynthesizeCancelledContext(t *testing.T) {
	s := newSynthStore(t)
	cluster := testCluster()
	storeCluster(t, s, cluster)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := NewOrchestrator(s, &mockProvider{responses: []string{goodResponse}}, testConfig(), zerolog.Nop())
	_, err := orch.SynthesizeAll(ctx, [][]*store.Article{cluster})
	if err == nil {
		t.Error("expected context error, got nil")
	}
}
