// Package pipeline sequences the newslens batch stages:
// embed missing articles, select unclustered ones, cluster, synthesize.
//
// A run is idempotent: articles already linked to a story are never
// reconsidered, so re-running with no new articles creates no new stories.
// Two concurrent runs racing on the same unclustered window can still
// produce overlapping clusters; the selector is the only safeguard, not a
// mutual-exclusion lock.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/newslens/newslens/internal/cluster"
	"github.com/newslens/newslens/internal/embed"
	"github.com/newslens/newslens/internal/store"
	"github.com/newslens/newslens/internal/synth"
)

// Config controls one pipeline run.
type Config struct {
	Window      time.Duration // lookback for clustering candidates
	MaxArticles int           // cap on articles embedded per run
	Cluster     cluster.Config
}

// Report summarizes a completed pipeline run.
type Report struct {
	RunID            string
	ArticlesEmbedded int
	Candidates       int // unclustered embedded articles considered
	Clusters         int
	StoriesCreated   int
	ClustersSkipped  int
	StoryIDs         []int64
	Elapsed          time.Duration
}

// Runner drives the pipeline stages against a store, an embedder and a
// synthesis orchestrator.
type Runner struct {
	store    store.Store
	embedder embed.Embedder
	synth    *synth.Orchestrator
	cfg      Config
	log      zerolog.Logger
}

// NewRunner creates a pipeline runner.
func NewRunner(st store.Store, embedder embed.Embedder, orch *synth.Orchestrator, cfg Config, log zerolog.Logger) *Runner {
	if cfg.Window <= 0 {
		cfg.Window = 96 * time.Hour
	}
	if cfg.MaxArticles <= 0 {
		cfg.MaxArticles = 1000
	}
	return &Runner{store: st, embedder: embedder, synth: orch, cfg: cfg, log: log}
}

// Run executes one full pipeline pass. Stage failures on individual units
// (an embedding batch, a cluster) are logged and skipped; the run itself
// only fails on store read errors or context cancellation.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.NewString()}
	log := r.log.With().Str("run_id", report.RunID).Logger()

	embedded, err := r.embedMissing(ctx, log)
	if err != nil {
		return nil, err
	}
	report.ArticlesEmbedded = embedded

	unclustered, err := r.store.ListUnclusteredArticleIDs(ctx, r.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("selecting unclustered articles: %w", err)
	}
	if len(unclustered) == 0 {
		log.Info().Msg("no unclustered articles in window")
		report.Elapsed = time.Since(start)
		return report, nil
	}

	candidates, err := r.clusterCandidates(ctx, unclustered)
	if err != nil {
		return nil, err
	}
	report.Candidates = len(candidates)

	clusters := cluster.ClusterArticles(candidates, r.cfg.Cluster)
	report.Clusters = len(clusters)
	log.Info().
		Int("candidates", len(candidates)).
		Int("clusters", len(clusters)).
		Msg("clustering complete")

	if len(clusters) > 0 {
		synthResult, err := r.synth.SynthesizeAll(ctx, clusters)
		if err != nil {
			return nil, err
		}
		report.StoriesCreated = synthResult.StoriesCreated
		report.ClustersSkipped = synthResult.ClustersSkipped
		report.StoryIDs = synthResult.StoryIDs
	}

	report.Elapsed = time.Since(start)
	log.Info().
		Int("embedded", report.ArticlesEmbedded).
		Int("stories", report.StoriesCreated).
		Int("skipped", report.ClustersSkipped).
		Dur("elapsed", report.Elapsed).
		Msg("pipeline run complete")
	return report, nil
}

// embedMissing generates and stores embeddings for articles that lack
// them. An embedding failure abandons the whole batch without partial
// writes; the rest of the pipeline still runs on previously embedded
// articles.
func (r *Runner) embedMissing(ctx context.Context, log zerolog.Logger) (int, error) {
	articles, err := r.store.ListArticlesMissingEmbedding(ctx, r.cfg.MaxArticles)
	if err != nil {
		return 0, fmt.Errorf("listing articles missing embedding: %w", err)
	}
	if len(articles) == 0 {
		return 0, nil
	}

	texts := make([]string, len(articles))
	for i, a := range articles {
		texts[i] = embed.ArticleText(a.Headline, a.Body)
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		log.Warn().Err(err).Int("batch", len(texts)).Msg("embedding batch abandoned")
		return 0, nil
	}
	if len(vectors) != len(articles) {
		log.Warn().
			Int("want", len(articles)).
			Int("got", len(vectors)).
			Msg("embedder returned wrong vector count, batch abandoned")
		return 0, nil
	}

	count := 0
	for i, a := range articles {
		if len(vectors[i]) == 0 {
			continue
		}
		if err := r.store.SetEmbedding(ctx, a.ID, embed.VectorToBytes(vectors[i])); err != nil {
			log.Warn().Err(err).Int64("article_id", a.ID).Msg("storing embedding failed")
			continue
		}
		count++
	}
	return count, nil
}

// clusterCandidates loads embedded in-window articles and filters them to
// the unclustered set.
func (r *Runner) clusterCandidates(ctx context.Context, unclustered []int64) ([]*store.Article, error) {
	all, err := r.store.ListArticlesWithEmbeddingInWindow(ctx, r.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("listing embedded articles: %w", err)
	}

	keep := make(map[int64]struct{}, len(unclustered))
	for _, id := range unclustered {
		keep[id] = struct{}{}
	}

	var candidates []*store.Article
	for _, a := range all {
		if _, ok := keep[a.ID]; ok {
			candidates = append(candidates, a)
		}
	}
	return candidates, nil
}
