// Package config resolves newslens configuration from a YAML file,
// environment variables, and CLI flags, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pipeline defaults. The values mirror the tuning the clustering and
// synthesis stages were validated with.
const (
	DefaultSimilarityThreshold = 0.60
	DefaultMinSources          = 2
	DefaultWindowHours         = 96
	DefaultMaxArticles         = 1000
	DefaultRetentionDays       = 7
	DefaultMaxInFlight         = 2
)

// Config is the resolved configuration for a newslens process.
type Config struct {
	DBPath string `yaml:"db_path"`

	Embed struct {
		Provider string `yaml:"provider"` // "provider/model" flag form
		APIKey   string `yaml:"api_key"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"embed"`

	LLM struct {
		Provider string `yaml:"provider"` // "provider/model" flag form
		APIKey   string `yaml:"api_key"`
		BaseURL  string `yaml:"base_url"`
	} `yaml:"llm"`

	Pipeline struct {
		SimilarityThreshold float64 `yaml:"similarity_threshold"`
		MinSources          int     `yaml:"min_sources"`
		WindowHours         int     `yaml:"window_hours"`
		MaxArticles         int     `yaml:"max_articles"`
		RetentionDays       int     `yaml:"retention_days"`
		MaxInFlight         int     `yaml:"max_in_flight"`
	} `yaml:"pipeline"`
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".newslens", "config.yaml")
}

// Load resolves configuration. A missing config file is not an error;
// defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath()
	}

	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env + defaults
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NEWSLENS_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("NEWSLENS_LLM"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("NEWSLENS_EMBED"); v != "" {
		cfg.Embed.Provider = v
	}
	if v := os.Getenv("NEWSLENS_EMBED_ENDPOINT"); v != "" {
		cfg.Embed.Endpoint = v
	}
	if v := os.Getenv("NEWSLENS_EMBED_API_KEY"); v != "" {
		cfg.Embed.APIKey = v
	}
	if v := os.Getenv("NEWSLENS_WINDOW_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			cfg.Pipeline.WindowHours = hours
		}
	}
}

func applyDefaults(cfg *Config) {
	p := &cfg.Pipeline
	if p.SimilarityThreshold == 0 {
		p.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if p.MinSources == 0 {
		p.MinSources = DefaultMinSources
	}
	if p.WindowHours == 0 {
		p.WindowHours = DefaultWindowHours
	}
	if p.MaxArticles == 0 {
		p.MaxArticles = DefaultMaxArticles
	}
	if p.RetentionDays == 0 {
		p.RetentionDays = DefaultRetentionDays
	}
	if p.MaxInFlight == 0 {
		p.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.Embed.Provider == "" {
		cfg.Embed.Provider = "ollama/all-minilm"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "groq/llama-3.3-70b-versatile"
	}
}

func (c *Config) validate() error {
	p := c.Pipeline
	if p.SimilarityThreshold < -1 || p.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [-1, 1], got %v", p.SimilarityThreshold)
	}
	if p.MinSources < 1 {
		return fmt.Errorf("min_sources must be at least 1, got %d", p.MinSources)
	}
	if p.WindowHours < 0 {
		return fmt.Errorf("window_hours cannot be negative, got %d", p.WindowHours)
	}
	if p.RetentionDays < 1 {
		return fmt.Errorf("retention_days must be at least 1, got %d", p.RetentionDays)
	}
	return nil
}
