// Package synth turns article clusters into persisted stories.
//
// For each accepted cluster it builds a bounded prompt, calls the
// configured generative backend with bounded retries, tolerantly parses
// the structured response, and persists the story plus its article links
// in one transaction. Failures abandon the cluster, never the batch.
package synth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/newslens/newslens/internal/llm"
	"github.com/newslens/newslens/internal/store"
)

// Defaults for the synthesis stage.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2 * time.Second
	DefaultMaxTokens   = 3000
	DefaultTemperature = 0.3
	DefaultMaxInFlight = 2
	DefaultCallTimeout = 90 * time.Second
)

// Config controls the synthesis stage.
type Config struct {
	MaxAttempts int           // generation attempts per cluster
	RetryDelay  time.Duration // fixed delay between attempts
	MaxTokens   int
	Temperature float64
	MaxInFlight int64 // simultaneous generation requests
	CallTimeout time.Duration
}

// DefaultConfig returns the standard synthesis configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		MaxInFlight: DefaultMaxInFlight,
		CallTimeout: DefaultCallTimeout,
	}
}

// Result summarizes a synthesis run.
type Result struct {
	ClustersIn      int
	StoriesCreated  int
	ClustersSkipped int
	StoryIDs        []int64
}

// Orchestrator runs synthesis for a batch of clusters.
type Orchestrator struct {
	store    store.Store
	provider llm.Provider
	cfg      Config
	log      zerolog.Logger
}

// NewOrchestrator creates a synthesis orchestrator.
func NewOrchestrator(st store.Store, provider llm.Provider, cfg Config, log zerolog.Logger) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Orchestrator{store: st, provider: provider, cfg: cfg, log: log}
}

// SynthesizeAll processes clusters largest-first with a bounded number of
// in-flight generation calls. No cluster failure aborts the batch; the
// returned error only reflects context cancellation.
func (o *Orchestrator) SynthesizeAll(ctx context.Context, clusters [][]*store.Article) (*Result, error) {
	result := &Result{ClustersIn: len(clusters)}
	if len(clusters) == 0 {
		return result, nil
	}

	sem := semaphore.NewWeighted(o.cfg.MaxInFlight)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, c := range clusters {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(articles []*store.Article) {
			defer wg.Done()
			defer sem.Release(1)

			storyID, err := o.synthesizeCluster(ctx, articles)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || storyID == 0 {
				result.ClustersSkipped++
				return
			}
			result.StoriesCreated++
			result.StoryIDs = append(result.StoryIDs, storyID)
		}(c)
	}

	wg.Wait()
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// synthesizeCluster generates and persists one story. Returns 0 with a nil
// error when the cluster is skipped for content reasons.
func (o *Orchestrator) synthesizeCluster(ctx context.Context, articles []*store.Article) (int64, error) {
	if len(articles) < 2 {
		return 0, nil
	}

	sources := make(map[string]struct{})
	for _, a := range articles {
		sources[a.SourceName] = struct{}{}
	}
	log := o.log.With().
		Int("cluster_size", len(articles)).
		Int("sources", len(sources)).
		Str("sample_headline", articles[0].Headline).
		Logger()

	prompt := BuildPrompt(articles)

	syn, err := o.generate(ctx, prompt)
	if err != nil {
		log.Warn().Err(err).Msg("synthesis abandoned after retries")
		return 0, nil
	}

	if syn.Headline == "" {
		log.Warn().Msg("synthesis produced no headline, skipping cluster")
		return 0, nil
	}

	articleIDs := make([]int64, len(articles))
	for i, a := range articles {
		articleIDs[i] = a.ID
	}

	storyID, err := o.store.InsertStory(ctx, &store.Story{
		Headline:       syn.Headline,
		Consensus:      syn.Consensus,
		LeftFraming:    syn.LeftFraming,
		RightFraming:   syn.RightFraming,
		CenterFraming:  syn.CenterFraming,
		KeyDifferences: syn.KeyDifferences,
	}, articleIDs)
	if err != nil {
		log.Error().Err(err).Msg("storing story failed, skipping cluster")
		return 0, nil
	}

	log.Info().Int64("story_id", storyID).Str("headline", syn.Headline).Msg("story created")
	return storyID, nil
}

// generate calls the backend with bounded retries and a fixed delay
// between attempts. Network errors, empty responses and unparsable JSON
// are all retried; each attempt carries its own timeout.
func (o *Orchestrator) generate(ctx context.Context, prompt string) (*Synthesis, error) {
	opts := llm.CompletionOpts{
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
		Format:      "json",
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		syn, err := o.attempt(ctx, prompt, opts)
		if err == nil {
			return syn, nil
		}
		lastErr = err

		if attempt == o.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.cfg.RetryDelay):
		}
	}
	return nil, fmt.Errorf("generation failed after %d attempts: %w", o.cfg.MaxAttempts, lastErr)
}

func (o *Orchestrator) attempt(ctx context.Context, prompt string, opts llm.CompletionOpts) (*Synthesis, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	raw, err := o.provider.Complete(callCtx, prompt, opts)
	if err != nil {
		return nil, err
	}

	syn, err := ParseSynthesis(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing synthesis response: %w", err)
	}
	return syn, nil
}
