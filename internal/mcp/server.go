// Package mcp provides a Model Context Protocol server for newslens.
//
// It exposes the story feed (list, get, stats) and the batch pipeline
// (run) as MCP tools over stdio transport, so agent hosts can browse
// synthesized stories and trigger processing.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/newslens/newslens/internal/pipeline"
	"github.com/newslens/newslens/internal/rank"
	"github.com/newslens/newslens/internal/store"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store   store.Store
	Runner  *pipeline.Runner // optional, enables the run_pipeline tool
	Version string
}

// dbMu serializes MCP tool calls that touch the database.
// The mcp-go library dispatches handlers concurrently via goroutines;
// SQLite supports only one writer at a time, and a pipeline run must not
// interleave with another run or a feed read on the same handle.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all newslens tools.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"newslens",
		ver,
		server.WithToolCapabilities(false),
	)

	registerListStoriesTool(s, cfg.Store)
	registerGetStoryTool(s, cfg.Store)
	registerStatsTool(s, cfg.Store)
	if cfg.Runner != nil {
		registerRunPipelineTool(s, cfg.Runner)
	}

	return s
}

// ServeStdio runs the server over stdio until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// storyView is the wire form of a story in tool results.
type storyView struct {
	ID             int64   `json:"id"`
	Headline       string  `json:"headline"`
	Consensus      string  `json:"consensus,omitempty"`
	LeftFraming    string  `json:"left_framing,omitempty"`
	RightFraming   string  `json:"right_framing,omitempty"`
	CenterFraming  string  `json:"center_framing,omitempty"`
	KeyDifferences string  `json:"key_differences,omitempty"`
	SourceCount    int     `json:"source_count"`
	CreatedAt      string  `json:"created_at"`
	Relevance      float64 `json:"relevance"`
}

func registerListStoriesTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("newslens_list_stories",
		mcp.WithDescription("List synthesized stories ordered by relevance (source breadth, viewpoint diversity, recency, cross-spectrum coverage)."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of stories to return (default: 20, max: 100)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		limit := 20
		if limitVal, err := req.RequireFloat("limit"); err == nil {
			l := int(limitVal)
			if l > 100 {
				l = 100
			}
			if l > 0 {
				limit = l
			}
		}

		views, err := rankedStories(ctx, st, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(views, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerGetStoryTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("newslens_get_story",
		mcp.WithDescription("Get one story with its full framing analysis and the source articles it was synthesized from."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Story ID"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		idVal, err := req.RequireFloat("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}

		story, articles, err := st.GetStoryWithArticles(ctx, int64(idVal))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("get error: %v", err)), nil
		}
		if story == nil {
			return mcp.NewToolResultError(fmt.Sprintf("story %d not found", int64(idVal))), nil
		}

		type articleView struct {
			SourceName  string `json:"source_name"`
			SourceLean  string `json:"source_lean"`
			Headline    string `json:"headline"`
			URL         string `json:"url"`
			PublishedAt string `json:"published_at,omitempty"`
		}
		avs := make([]articleView, 0, len(articles))
		for _, a := range articles {
			av := articleView{
				SourceName: a.SourceName,
				SourceLean: a.SourceLean,
				Headline:   a.Headline,
				URL:        a.URL,
			}
			if a.PublishedAt != nil {
				av.PublishedAt = a.PublishedAt.Format(time.RFC3339)
			}
			avs = append(avs, av)
		}

		result := map[string]interface{}{
			"story":    storyToView(story, 0),
			"articles": avs,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerStatsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("newslens_stats",
		mcp.WithDescription("Get newslens corpus statistics: article, story and source counts plus last-activity timestamps."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerRunPipelineTool(s *server.MCPServer, runner *pipeline.Runner) {
	tool := mcp.NewTool("newslens_run_pipeline",
		mcp.WithDescription("Run the batch pipeline: embed new articles, cluster them, synthesize stories. Idempotent; re-running without new articles creates nothing."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		report, err := runner.Run(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("pipeline error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(report, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// rankedStories loads recent stories and orders them by relevance score.
func rankedStories(ctx context.Context, st store.Store, limit int) ([]storyView, error) {
	// Over-fetch so recency reordering inside the fetch window is visible.
	stories, err := st.ListStories(ctx, store.ListOpts{Limit: limit * 3})
	if err != nil {
		return nil, err
	}

	views := make([]storyView, 0, len(stories))
	for _, story := range stories {
		score, err := storyScore(ctx, st, story)
		if err != nil {
			return nil, err
		}
		views = append(views, storyToView(story, score))
	}

	sortViews(views)
	if len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

func storyScore(ctx context.Context, st store.Store, story *store.Story) (float64, error) {
	articleCount, err := st.CountStoryArticles(ctx, story.ID)
	if err != nil {
		return 0, err
	}
	leans, err := st.DistinctLeans(ctx, story.ID)
	if err != nil {
		return 0, err
	}
	return rank.Score(rank.StoryMetrics{
		SourceCount:   story.SourceCount,
		ArticleCount:  articleCount,
		DistinctLeans: len(leans),
		Age:           time.Since(story.CreatedAt),
		LeftFraming:   story.LeftFraming,
		RightFraming:  story.RightFraming,
	}), nil
}

func storyToView(s *store.Story, score float64) storyView {
	return storyView{
		ID:             s.ID,
		Headline:       s.Headline,
		Consensus:      s.Consensus,
		LeftFraming:    s.LeftFraming,
		RightFraming:   s.RightFraming,
		CenterFraming:  s.CenterFraming,
		KeyDifferences: s.KeyDifferences,
		SourceCount:    s.SourceCount,
		CreatedAt:      s.CreatedAt.Format(time.RFC3339),
		Relevance:      score,
	}
}

func sortViews(views []storyView) {
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Relevance > views[j].Relevance
	})
}
