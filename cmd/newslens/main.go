package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/newslens/newslens/internal/cluster"
	"github.com/newslens/newslens/internal/config"
	"github.com/newslens/newslens/internal/embed"
	"github.com/newslens/newslens/internal/ingest"
	"github.com/newslens/newslens/internal/llm"
	"github.com/newslens/newslens/internal/mcp"
	"github.com/newslens/newslens/internal/pipeline"
	"github.com/newslens/newslens/internal/rank"
	"github.com/newslens/newslens/internal/store"
	"github.com/newslens/newslens/internal/synth"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runPipeline(os.Args[2:])
	case "ingest":
		err = runIngest(os.Args[2:])
	case "feed":
		err = runFeed(os.Args[2:])
	case "story":
		err = runStory(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "purge":
		err = runPurge(os.Args[2:])
	case "mcp":
		err = runMCP(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("newslens %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger. MCP mode must keep stdout clean for
// the protocol, so logs always go to stderr.
func newLogger(quiet bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if quiet {
		level = zerolog.WarnLevel
	}
	if os.Getenv("NEWSLENS_DEBUG") != "" {
		level = zerolog.DebugLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func loadConfig(args []string) (*config.Config, []string, error) {
	path := ""
	var rest []string
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" && i+1 < len(args) {
			path = args[i+1]
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, rest, nil
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	return store.NewStore(store.Config{DBPath: cfg.DBPath})
}

// buildRunner wires a full pipeline from config: store, embedder,
// generative backend, synthesis orchestrator.
func buildRunner(cfg *config.Config, st store.Store, log zerolog.Logger) (*pipeline.Runner, error) {
	embedCfg, err := embed.ParseEmbedFlag(cfg.Embed.Provider)
	if err != nil {
		return nil, err
	}
	if cfg.Embed.Endpoint != "" {
		embedCfg.Endpoint = cfg.Embed.Endpoint
	}
	if cfg.Embed.APIKey != "" {
		embedCfg.APIKey = cfg.Embed.APIKey
	}
	embedder, err := embed.NewClient(embedCfg)
	if err != nil {
		return nil, err
	}

	llmCfg, err := llm.ParseLLMFlag(cfg.LLM.Provider)
	if err != nil {
		return nil, err
	}
	if cfg.LLM.APIKey != "" {
		llmCfg.APIKey = cfg.LLM.APIKey
	}
	if cfg.LLM.BaseURL != "" {
		llmCfg.BaseURL = cfg.LLM.BaseURL
	}
	provider, err := llm.NewProvider(llmCfg)
	if err != nil {
		return nil, err
	}

	synthCfg := synth.DefaultConfig()
	synthCfg.MaxInFlight = int64(cfg.Pipeline.MaxInFlight)
	orch := synth.NewOrchestrator(st, provider, synthCfg, log)

	return pipeline.NewRunner(st, embedder, orch, pipeline.Config{
		Window:      time.Duration(cfg.Pipeline.WindowHours) * time.Hour,
		MaxArticles: cfg.Pipeline.MaxArticles,
		Cluster: cluster.Config{
			SimilarityThreshold: cfg.Pipeline.SimilarityThreshold,
			MinSources:          cfg.Pipeline.MinSources,
		},
	}, log), nil
}

func runPipeline(args []string) error {
	cfg, rest, err := loadConfig(args)
	if err != nil {
		return err
	}
	// Flags outrank file and env.
	for i := 0; i < len(rest); i++ {
		switch {
		case rest[i] == "--llm" && i+1 < len(rest):
			cfg.LLM.Provider = rest[i+1]
			i++
		case rest[i] == "--embed" && i+1 < len(rest):
			cfg.Embed.Provider = rest[i+1]
			i++
		default:
			return fmt.Errorf("unknown flag: %s", rest[i])
		}
	}
	log := newLogger(false)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	runner, err := buildRunner(cfg, st, log)
	if err != nil {
		return err
	}

	report, err := runner.Run(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Run %s complete in %s\n", report.RunID, report.Elapsed.Round(time.Millisecond))
	fmt.Printf("  Embedded:  %d articles\n", report.ArticlesEmbedded)
	fmt.Printf("  Clustered: %d candidates into %d clusters\n", report.Candidates, report.Clusters)
	fmt.Printf("  Stories:   %d created, %d clusters skipped\n", report.StoriesCreated, report.ClustersSkipped)
	return nil
}

func runIngest(args []string) error {
	cfg, rest, err := loadConfig(args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return fmt.Errorf("usage: newslens ingest <file.ndjson|file.json|->")
	}
	log := newLogger(false)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	importer := ingest.NewImporter(st, log)
	total := &ingest.Report{}
	for _, path := range rest {
		report, err := importer.ImportFile(context.Background(), path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  Error importing %s: %v\n", path, err)
			continue
		}
		total.Read += report.Read
		total.Inserted += report.Inserted
		total.Duplicates += report.Duplicates
		total.Invalid += report.Invalid
	}

	fmt.Printf("Ingested %d articles (%d new, %d duplicates, %d invalid)\n",
		total.Read, total.Inserted, total.Duplicates, total.Invalid)
	return nil
}

func runFeed(args []string) error {
	cfg, rest, err := loadConfig(args)
	if err != nil {
		return err
	}

	limit := 20
	for i := 0; i < len(rest); i++ {
		if rest[i] == "--limit" && i+1 < len(rest) {
			if n, err := strconv.Atoi(rest[i+1]); err == nil && n > 0 {
				limit = n
			}
			i++
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	stories, err := st.ListStories(ctx, store.ListOpts{Limit: limit * 3})
	if err != nil {
		return err
	}
	if len(stories) == 0 {
		fmt.Println("No stories yet. Ingest articles and run the pipeline first.")
		return nil
	}

	type scored struct {
		story *store.Story
		score float64
	}
	ranked := make([]scored, 0, len(stories))
	for _, s := range stories {
		articleCount, err := st.CountStoryArticles(ctx, s.ID)
		if err != nil {
			return err
		}
		leans, err := st.DistinctLeans(ctx, s.ID)
		if err != nil {
			return err
		}
		ranked = append(ranked, scored{s, rank.Score(rank.StoryMetrics{
			SourceCount:   s.SourceCount,
			ArticleCount:  articleCount,
			DistinctLeans: len(leans),
			Age:           time.Since(s.CreatedAt),
			LeftFraming:   s.LeftFraming,
			RightFraming:  s.RightFraming,
		})})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	for _, r := range ranked {
		s := r.story
		fmt.Printf("[%d] %s\n", s.ID, s.Headline)
		fmt.Printf("    %d sources | %s | score %.0f\n",
			s.SourceCount, s.CreatedAt.Local().Format("Jan 2 15:04"), r.score)
		if s.Consensus != "" {
			fmt.Printf("    %s\n", truncate(s.Consensus, 160))
		}
		fmt.Println()
	}
	return nil
}

func runStory(args []string) error {
	cfg, rest, err := loadConfig(args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return fmt.Errorf("usage: newslens story <id>")
	}
	id, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad story id %q", rest[0])
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	story, articles, err := st.GetStoryWithArticles(context.Background(), id)
	if err != nil {
		return err
	}
	if story == nil {
		return fmt.Errorf("story %d not found", id)
	}

	fmt.Printf("%s\n\n", story.Headline)
	printSection("Consensus", story.Consensus)
	printSection("Left framing", story.LeftFraming)
	printSection("Right framing", story.RightFraming)
	printSection("Center framing", story.CenterFraming)
	printSection("Key differences", story.KeyDifferences)

	fmt.Printf("Sources (%d articles):\n", len(articles))
	for _, a := range articles {
		fmt.Printf("  [%s] %s — %s\n", a.SourceLean, a.SourceName, a.Headline)
		fmt.Printf("      %s\n", a.URL)
	}
	return nil
}

func runStats(args []string) error {
	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Articles: %d (from %d sources)\n", stats.ArticleCount, stats.SourceCount)
	fmt.Printf("Stories:  %d\n", stats.StoryCount)
	if stats.LastArticleAt != nil {
		fmt.Printf("Last article: %s\n", stats.LastArticleAt.Local().Format(time.RFC822))
	}
	if stats.LastStoryAt != nil {
		fmt.Printf("Last story:   %s\n", stats.LastStoryAt.Local().Format(time.RFC822))
	}
	return nil
}

func runPurge(args []string) error {
	cfg, rest, err := loadConfig(args)
	if err != nil {
		return err
	}

	days := cfg.Pipeline.RetentionDays
	for i := 0; i < len(rest); i++ {
		if rest[i] == "--days" && i+1 < len(rest) {
			if n, err := strconv.Atoi(rest[i+1]); err == nil && n > 0 {
				days = n
			}
			i++
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := st.PurgeOlderThan(context.Background(), time.Duration(days)*24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Printf("Purged %d stories and %d articles older than %d days\n",
		result.StoriesDeleted, result.ArticlesDeleted, days)
	return nil
}

func runMCP(args []string) error {
	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}
	log := newLogger(true)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// The pipeline tool is best-effort: without credentials the feed tools
	// still work.
	var runner *pipeline.Runner
	if r, err := buildRunner(cfg, st, log); err == nil {
		runner = r
	} else {
		log.Warn().Err(err).Msg("pipeline tool disabled")
	}

	srv := mcp.NewServer(mcp.ServerConfig{
		Store:   st,
		Runner:  runner,
		Version: version,
	})
	return mcp.ServeStdio(srv)
}

func printSection(title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	fmt.Printf("%s:\n  %s\n\n", title, body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func printUsage() {
	fmt.Printf(`newslens %s — Multi-perspective news synthesis pipeline

Usage:
  newslens <command> [arguments]

Commands:
  ingest <file>       Import scraped articles (NDJSON or JSON array, - for stdin)
  run                 Run the pipeline: embed, cluster, synthesize
  feed                Show the story feed ordered by relevance
  story <id>          Show one story with its framing analysis and sources
  stats               Show corpus statistics
  purge               Delete old stories and unlinked old articles
  mcp                 Serve newslens tools over MCP stdio
  version             Print version

Flags:
  --config <path>     Config file (default ~/.newslens/config.yaml)
  --llm <p/model>     Generation backend (run), e.g. groq/llama-3.3-70b-versatile
  --embed <p/model>   Embedding backend (run), e.g. ollama/all-minilm
  --limit <n>         Feed size (feed)
  --days <n>          Retention age in days (purge)
  -h, --help          Show this help message

Environment:
  NEWSLENS_DB, NEWSLENS_LLM, NEWSLENS_EMBED, NEWSLENS_WINDOW_HOURS,
  GROQ_API_KEY, OPENROUTER_API_KEY
`, version)
}
