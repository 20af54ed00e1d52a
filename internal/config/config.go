package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration tree. Values are layered: defaults, then
// ~/.evident/config.yaml, then EVIDENT_* environment variables, then CLI flags.
type Config struct {
	LLM         LLMConfig         `mapstructure:"llm" yaml:"llm"`
	Search      SearchConfig      `mapstructure:"search" yaml:"search"`
	Fetch       FetchConfig       `mapstructure:"fetch" yaml:"fetch"`
	Extract     ExtractConfig     `mapstructure:"extract" yaml:"extract"`
	Consolidate ConsolidateConfig `mapstructure:"consolidate" yaml:"consolidate"`
	Retrieve    RetrieveConfig    `mapstructure:"retrieve" yaml:"retrieve"`
	Verify      VerifyConfig      `mapstructure:"verify" yaml:"verify"`
	SecondPass  SecondPassConfig  `mapstructure:"second_pass" yaml:"second_pass"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Tier        TierConfig        `mapstructure:"tier" yaml:"tier"`
	Review      ReviewConfig      `mapstructure:"review" yaml:"review"`
	Dirs        DirsConfig        `mapstructure:"dirs" yaml:"dirs"`
	Web         WebConfig         `mapstructure:"web" yaml:"web"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// LLMConfig selects the reasoning backend and per-role models/temperatures
type LLMConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // ollama, openai, anthropic
	BaseURL  string `mapstructure:"base_url" yaml:"base_url,omitempty"` // empty uses the provider's default endpoint
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`

	ModelExtract     string `mapstructure:"model_extract" yaml:"model_extract"`
	ModelVerify      string `mapstructure:"model_verify" yaml:"model_verify"`
	ModelConsolidate string `mapstructure:"model_consolidate" yaml:"model_consolidate"`
	ModelQueryGen    string `mapstructure:"model_query_gen" yaml:"model_query_gen"`
	ModelWrite       string `mapstructure:"model_write" yaml:"model_write"`
	ModelVerifyGroup string `mapstructure:"model_verify_group" yaml:"model_verify_group"`

	TempExtract     float64 `mapstructure:"temp_extract" yaml:"temp_extract"`
	TempVerify      float64 `mapstructure:"temp_verify" yaml:"temp_verify"`
	TempConsolidate float64 `mapstructure:"temp_consolidate" yaml:"temp_consolidate"`
	TempQueryGen    float64 `mapstructure:"temp_query_gen" yaml:"temp_query_gen"`
	TempWrite       float64 `mapstructure:"temp_write" yaml:"temp_write"`
	TempVerifyGroup float64 `mapstructure:"temp_verify_group" yaml:"temp_verify_group"`

	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	MaxTokens  int `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// SearchConfig points at the metasearch backend
type SearchConfig struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	NumResults int    `mapstructure:"num_results" yaml:"num_results"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// FetchConfig controls content fetching
type FetchConfig struct {
	TimeoutSec           int     `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	UserAgent            string  `mapstructure:"user_agent" yaml:"user_agent"`
	MaxBodyBytes         int64   `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	MaxFailuresPerDomain int     `mapstructure:"max_failures_per_domain" yaml:"max_failures_per_domain"`
	RequestsPerSecond    float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst                int     `mapstructure:"burst" yaml:"burst"`
	RespectRobots        bool    `mapstructure:"respect_robots" yaml:"respect_robots"`
	InsecureTLS          bool    `mapstructure:"insecure_tls" yaml:"insecure_tls"`
	HTTPProxy            string  `mapstructure:"http_proxy" yaml:"http_proxy,omitempty"`
	HTTPSProxy           string  `mapstructure:"https_proxy" yaml:"https_proxy,omitempty"`
}

// ExtractConfig controls chunking and claim extraction
type ExtractConfig struct {
	ChunkSize      int     `mapstructure:"chunk_size" yaml:"chunk_size"`         // segments per chunk
	ChunkOverlap   int     `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`   // segments repeated between chunks
	MaxClaims      int     `mapstructure:"max_claims" yaml:"max_claims"`         // cap after extraction, earliest first
	DedupThreshold float64 `mapstructure:"dedup_threshold" yaml:"dedup_threshold"` // similarity at or above is a duplicate
}

// ConsolidateConfig controls narrative grouping
type ConsolidateConfig struct {
	GroupingThreshold float64 `mapstructure:"grouping_threshold" yaml:"grouping_threshold"`
}

// RetrieveConfig controls evidence retrieval
type RetrieveConfig struct {
	QueriesPerClaim       int     `mapstructure:"queries_per_claim" yaml:"queries_per_claim"`
	EnableQueryGeneration bool    `mapstructure:"enable_query_generation" yaml:"enable_query_generation"`
	EnableFactcheckQuery  bool    `mapstructure:"enable_factcheck_query" yaml:"enable_factcheck_query"`
	MinPreviewScore       float64 `mapstructure:"min_preview_score" yaml:"min_preview_score"`
	MaxSourcesPerClaim    int     `mapstructure:"max_sources_per_claim" yaml:"max_sources_per_claim"`
	MaxFetchesPerRun      int     `mapstructure:"max_fetches_per_run" yaml:"max_fetches_per_run"`
	Workers               int     `mapstructure:"workers" yaml:"workers"`
	SnippetsPerSource     int     `mapstructure:"snippets_per_source" yaml:"snippets_per_source"`
	SnippetMaxChars       int     `mapstructure:"snippet_max_chars" yaml:"snippet_max_chars"`
}

// VerifyConfig controls verdict computation
type VerifyConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// SecondPassConfig controls the retry pass for unevidenced claims
type SecondPassConfig struct {
	Enabled              bool `mapstructure:"enabled" yaml:"enabled"`
	MaxClaims            int  `mapstructure:"max_claims" yaml:"max_claims"`
	ExtraSourcesPerClaim int  `mapstructure:"extra_sources_per_claim" yaml:"extra_sources_per_claim"`
	ExtraFetches         int  `mapstructure:"extra_fetches" yaml:"extra_fetches"`
}

// CacheConfig controls the evidence cache
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	TTLDays int  `mapstructure:"ttl_days" yaml:"ttl_days"`
}

// TierConfig extends the built-in classification rules
type TierConfig struct {
	DenyDomains       []string `mapstructure:"deny_domains" yaml:"deny_domains"`
	ScholarlyDomains  []string `mapstructure:"scholarly_domains" yaml:"scholarly_domains,omitempty"`
	AcademicDomains   []string `mapstructure:"academic_domains" yaml:"academic_domains,omitempty"`
	GovernmentDomains []string `mapstructure:"government_domains" yaml:"government_domains,omitempty"`
	ResearchDomains   []string `mapstructure:"research_domains" yaml:"research_domains,omitempty"`
	NewsDomains       []string `mapstructure:"news_domains" yaml:"news_domains,omitempty"`
}

// ReviewConfig controls the human review pause point
type ReviewConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DirsConfig locates runtime directories under one data root
type DirsConfig struct {
	Data string `mapstructure:"data" yaml:"data"`
}

// WebConfig controls the dashboard server
type WebConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // console, json
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:         "ollama",
			ModelExtract:     "qwen2.5:14b",
			ModelVerify:      "qwen2.5:14b",
			ModelConsolidate: "qwen2.5:14b",
			ModelQueryGen:    "qwen2.5:7b",
			ModelWrite:       "qwen2.5:14b",
			ModelVerifyGroup: "qwen2.5:14b",
			TempExtract:      0.0,
			TempVerify:       0.0,
			TempConsolidate:  0.1,
			TempQueryGen:     0.3,
			TempWrite:        0.5,
			TempVerifyGroup:  0.0,
			TimeoutSec:       120,
			MaxTokens:        2048,
		},
		Search: SearchConfig{
			BaseURL:    "http://localhost:8080",
			NumResults: 10,
			TimeoutSec: 15,
		},
		Fetch: FetchConfig{
			TimeoutSec:           25,
			UserAgent:            "Evident/0.1 (+https://github.com/ppiankov/evident)",
			MaxBodyBytes:         2_000_000,
			MaxFailuresPerDomain: 6,
			RequestsPerSecond:    2,
			Burst:                4,
			RespectRobots:        true,
		},
		Extract: ExtractConfig{
			ChunkSize:      40,
			ChunkOverlap:   8,
			MaxClaims:      25,
			DedupThreshold: 0.85,
		},
		Consolidate: ConsolidateConfig{
			GroupingThreshold: 0.50,
		},
		Retrieve: RetrieveConfig{
			QueriesPerClaim:       3,
			EnableQueryGeneration: true,
			EnableFactcheckQuery:  true,
			MinPreviewScore:       0.15,
			MaxSourcesPerClaim:    5,
			MaxFetchesPerRun:      80,
			Workers:               8,
			SnippetsPerSource:     4,
			SnippetMaxChars:       1200,
		},
		Verify: VerifyConfig{
			Workers: 3,
		},
		SecondPass: SecondPassConfig{
			Enabled:              true,
			MaxClaims:            12,
			ExtraSourcesPerClaim: 5,
			ExtraFetches:         60,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTLDays: 7,
		},
		Tier: TierConfig{
			DenyDomains: []string{
				"pinterest.com", "facebook.com", "twitter.com", "x.com",
				"tiktok.com", "instagram.com", "medium.com", "substack.com",
				"reddit.com", "quora.com", "yahoo.com", "tumblr.com",
				"blogger.com", "blogspot.com", "wordpress.com",
			},
		},
		Review: ReviewConfig{
			Enabled: false,
		},
		Dirs: DirsConfig{
			Data: "./data",
		},
		Web: WebConfig{
			Addr: ":8000",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// CacheTTL returns the evidence cache TTL as a duration
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLDays) * 24 * time.Hour
}

// FetchTimeout returns the per-fetch timeout as a duration
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSec) * time.Second
}

// Runtime directories, all rooted at Dirs.Data.

func (c *Config) CacheDir() string { return filepath.Join(c.Dirs.Data, "cache") }
func (c *Config) RunsDir() string  { return filepath.Join(c.Dirs.Data, "runs") }
func (c *Config) StoreDir() string { return filepath.Join(c.Dirs.Data, "store") }
func (c *Config) InboxDir() string { return filepath.Join(c.Dirs.Data, "inbox") }
func (c *Config) LogsDir() string  { return filepath.Join(c.Dirs.Data, "logs") }

// EnsureDirs creates the runtime directory tree
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.CacheDir(), c.RunsDir(), c.StoreDir(), c.InboxDir(), c.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return nil
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Extract.ChunkSize < 1 {
		return fmt.Errorf("extract.chunk_size must be >= 1, got %d", c.Extract.ChunkSize)
	}
	if c.Extract.ChunkOverlap < 0 {
		return fmt.Errorf("extract.chunk_overlap must be >= 0, got %d", c.Extract.ChunkOverlap)
	}
	if c.Extract.DedupThreshold < 0 || c.Extract.DedupThreshold > 1 {
		return fmt.Errorf("extract.dedup_threshold must be in [0,1], got %v", c.Extract.DedupThreshold)
	}
	if c.Consolidate.GroupingThreshold < 0 || c.Consolidate.GroupingThreshold > 1 {
		return fmt.Errorf("consolidate.grouping_threshold must be in [0,1], got %v", c.Consolidate.GroupingThreshold)
	}
	if c.Retrieve.Workers < 1 {
		return fmt.Errorf("retrieve.workers must be >= 1, got %d", c.Retrieve.Workers)
	}
	if c.Verify.Workers < 1 {
		return fmt.Errorf("verify.workers must be >= 1, got %d", c.Verify.Workers)
	}
	if c.Retrieve.MaxFetchesPerRun < 0 {
		return fmt.Errorf("retrieve.max_fetches_per_run must be >= 0, got %d", c.Retrieve.MaxFetchesPerRun)
	}
	if c.Retrieve.QueriesPerClaim < 1 {
		return fmt.Errorf("retrieve.queries_per_claim must be >= 1, got %d", c.Retrieve.QueriesPerClaim)
	}
	if c.LLM.Provider == "" {
		return fmt.Errorf("llm.provider must be set")
	}
	return nil
}

// registerDefaults seeds viper so environment overrides resolve for every key
func registerDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("llm.provider", cfg.LLM.Provider)
	v.SetDefault("llm.base_url", cfg.LLM.BaseURL)
	v.SetDefault("llm.api_key", cfg.LLM.APIKey)
	v.SetDefault("llm.model_extract", cfg.LLM.ModelExtract)
	v.SetDefault("llm.model_verify", cfg.LLM.ModelVerify)
	v.SetDefault("llm.model_consolidate", cfg.LLM.ModelConsolidate)
	v.SetDefault("llm.model_query_gen", cfg.LLM.ModelQueryGen)
	v.SetDefault("llm.model_write", cfg.LLM.ModelWrite)
	v.SetDefault("llm.model_verify_group", cfg.LLM.ModelVerifyGroup)
	v.SetDefault("llm.temp_extract", cfg.LLM.TempExtract)
	v.SetDefault("llm.temp_verify", cfg.LLM.TempVerify)
	v.SetDefault("llm.temp_consolidate", cfg.LLM.TempConsolidate)
	v.SetDefault("llm.temp_query_gen", cfg.LLM.TempQueryGen)
	v.SetDefault("llm.temp_write", cfg.LLM.TempWrite)
	v.SetDefault("llm.temp_verify_group", cfg.LLM.TempVerifyGroup)
	v.SetDefault("llm.timeout_sec", cfg.LLM.TimeoutSec)
	v.SetDefault("llm.max_tokens", cfg.LLM.MaxTokens)

	v.SetDefault("search.base_url", cfg.Search.BaseURL)
	v.SetDefault("search.num_results", cfg.Search.NumResults)
	v.SetDefault("search.timeout_sec", cfg.Search.TimeoutSec)

	v.SetDefault("fetch.timeout_sec", cfg.Fetch.TimeoutSec)
	v.SetDefault("fetch.user_agent", cfg.Fetch.UserAgent)
	v.SetDefault("fetch.max_body_bytes", cfg.Fetch.MaxBodyBytes)
	v.SetDefault("fetch.max_failures_per_domain", cfg.Fetch.MaxFailuresPerDomain)
	v.SetDefault("fetch.requests_per_second", cfg.Fetch.RequestsPerSecond)
	v.SetDefault("fetch.burst", cfg.Fetch.Burst)
	v.SetDefault("fetch.respect_robots", cfg.Fetch.RespectRobots)
	v.SetDefault("fetch.insecure_tls", cfg.Fetch.InsecureTLS)
	v.SetDefault("fetch.http_proxy", cfg.Fetch.HTTPProxy)
	v.SetDefault("fetch.https_proxy", cfg.Fetch.HTTPSProxy)

	v.SetDefault("extract.chunk_size", cfg.Extract.ChunkSize)
	v.SetDefault("extract.chunk_overlap", cfg.Extract.ChunkOverlap)
	v.SetDefault("extract.max_claims", cfg.Extract.MaxClaims)
	v.SetDefault("extract.dedup_threshold", cfg.Extract.DedupThreshold)

	v.SetDefault("consolidate.grouping_threshold", cfg.Consolidate.GroupingThreshold)

	v.SetDefault("retrieve.queries_per_claim", cfg.Retrieve.QueriesPerClaim)
	v.SetDefault("retrieve.enable_query_generation", cfg.Retrieve.EnableQueryGeneration)
	v.SetDefault("retrieve.enable_factcheck_query", cfg.Retrieve.EnableFactcheckQuery)
	v.SetDefault("retrieve.min_preview_score", cfg.Retrieve.MinPreviewScore)
	v.SetDefault("retrieve.max_sources_per_claim", cfg.Retrieve.MaxSourcesPerClaim)
	v.SetDefault("retrieve.max_fetches_per_run", cfg.Retrieve.MaxFetchesPerRun)
	v.SetDefault("retrieve.workers", cfg.Retrieve.Workers)
	v.SetDefault("retrieve.snippets_per_source", cfg.Retrieve.SnippetsPerSource)
	v.SetDefault("retrieve.snippet_max_chars", cfg.Retrieve.SnippetMaxChars)

	v.SetDefault("verify.workers", cfg.Verify.Workers)

	v.SetDefault("second_pass.enabled", cfg.SecondPass.Enabled)
	v.SetDefault("second_pass.max_claims", cfg.SecondPass.MaxClaims)
	v.SetDefault("second_pass.extra_sources_per_claim", cfg.SecondPass.ExtraSourcesPerClaim)
	v.SetDefault("second_pass.extra_fetches", cfg.SecondPass.ExtraFetches)

	v.SetDefault("cache.enabled", cfg.Cache.Enabled)
	v.SetDefault("cache.ttl_days", cfg.Cache.TTLDays)

	v.SetDefault("tier.deny_domains", cfg.Tier.DenyDomains)
	v.SetDefault("tier.scholarly_domains", cfg.Tier.ScholarlyDomains)
	v.SetDefault("tier.academic_domains", cfg.Tier.AcademicDomains)
	v.SetDefault("tier.government_domains", cfg.Tier.GovernmentDomains)
	v.SetDefault("tier.research_domains", cfg.Tier.ResearchDomains)
	v.SetDefault("tier.news_domains", cfg.Tier.NewsDomains)

	v.SetDefault("review.enabled", cfg.Review.Enabled)
	v.SetDefault("dirs.data", cfg.Dirs.Data)
	v.SetDefault("web.addr", cfg.Web.Addr)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

// Load builds the effective configuration from viper's current state
// (config file plus environment), layered over the defaults.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	registerDefaults(v, cfg)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
