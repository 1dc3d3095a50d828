package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the deep-research system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Research  ResearchConfig  `mapstructure:"research"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, anthropic, local, etc.
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for different tasks
type LLMRoutingConfig struct {
	QueryGeneration string `mapstructure:"query_generation"` // sub-query expansion
	Summarization   string `mapstructure:"summarization"`    // learning distillation
	Report          string `mapstructure:"report"`           // final report generation
	Fallback        string `mapstructure:"fallback"`         // fallback model
}

// SearchConfig selects the web search tool
type SearchConfig struct {
	Provider   string `mapstructure:"provider"` // brave, serper
	APIKey     string `mapstructure:"api_key"`
	MaxResults int    `mapstructure:"max_results"` // SERP entries taken per sub-query
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "brave", "serper":
	default:
		return fmt.Errorf("search.provider must be brave or serper, got %q", s.Provider)
	}
	if s.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be > 0")
	}
	return nil
}

// FetchConfig selects the page content extraction tool
type FetchConfig struct {
	Fetcher   string        `mapstructure:"fetcher"` // chromedp, readability
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxChars  int           `mapstructure:"max_chars"`
	UserAgent string        `mapstructure:"user_agent"`
}

func (f FetchConfig) Validate() error {
	switch f.Fetcher {
	case "chromedp", "readability":
	default:
		return fmt.Errorf("fetch.fetcher must be chromedp or readability, got %q", f.Fetcher)
	}
	return nil
}

// RateLimitConfig contains per-bucket budgets for outbound calls
type RateLimitConfig struct {
	Enabled              bool `mapstructure:"enabled"`
	SearchPerMinute      int  `mapstructure:"search_per_minute"`
	FetchPerMinute       int  `mapstructure:"fetch_per_minute"`
	ReportPerMinute      int  `mapstructure:"report_per_minute"`
	GlobalFetchPerMinute int  `mapstructure:"global_fetch_per_minute"`
}

func (r RateLimitConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.SearchPerMinute <= 0 || r.FetchPerMinute <= 0 || r.ReportPerMinute <= 0 {
		return fmt.Errorf("rate_limit per-minute budgets must be > 0 when enabled")
	}
	if r.GlobalFetchPerMinute < 0 {
		return fmt.Errorf("rate_limit.global_fetch_per_minute cannot be negative")
	}
	return nil
}

// ResearchConfig controls the recursive expansion policy
type ResearchConfig struct {
	DefaultBreadth      int           `mapstructure:"default_breadth"`
	DefaultDepth        int           `mapstructure:"default_depth"`
	MaxBreadth          int           `mapstructure:"max_breadth"`
	MaxDepth            int           `mapstructure:"max_depth"`
	MaxLearnings        int           `mapstructure:"max_learnings"`
	MaxFollowUps        int           `mapstructure:"max_follow_ups"`
	ConcurrencyLimit    int           `mapstructure:"concurrency_limit"`
	SearchPacingMin     time.Duration `mapstructure:"search_pacing_min"`
	SearchPacingMax     time.Duration `mapstructure:"search_pacing_max"`
	FetchPacingMin      time.Duration `mapstructure:"fetch_pacing_min"`
	FetchPacingMax      time.Duration `mapstructure:"fetch_pacing_max"`
	SearchRetryAttempts int           `mapstructure:"search_retry_attempts"`
	FetchRetryAttempts  int           `mapstructure:"fetch_retry_attempts"`
}

func (r ResearchConfig) Validate() error {
	if r.DefaultBreadth <= 0 || r.DefaultDepth <= 0 {
		return fmt.Errorf("research.default_breadth and research.default_depth must be > 0")
	}
	if r.MaxBreadth > 0 && r.DefaultBreadth > r.MaxBreadth {
		return fmt.Errorf("research.default_breadth exceeds research.max_breadth")
	}
	if r.MaxDepth > 0 && r.DefaultDepth > r.MaxDepth {
		return fmt.Errorf("research.default_depth exceeds research.max_depth")
	}
	if r.ConcurrencyLimit <= 0 {
		return fmt.Errorf("research.concurrency_limit must be > 0")
	}
	return nil
}

// StorageConfig contains storage settings for completed runs
type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	TTL      time.Duration `mapstructure:"ttl"`
}

func (r RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// TelemetryConfig contains telemetry and cost-tracking settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	LogFile      string `mapstructure:"log_file"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.max_processing_time", 15*time.Minute)
	viper.SetDefault("general.default_timeout", 30*time.Second)
	viper.SetDefault("search.provider", "brave")
	viper.SetDefault("search.max_results", 5)
	viper.SetDefault("fetch.fetcher", "readability")
	viper.SetDefault("fetch.timeout", 15*time.Second)
	viper.SetDefault("fetch.max_chars", 20000)
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.search_per_minute", 5)
	viper.SetDefault("rate_limit.fetch_per_minute", 20)
	viper.SetDefault("rate_limit.report_per_minute", 5)
	viper.SetDefault("rate_limit.global_fetch_per_minute", 20)
	viper.SetDefault("research.default_breadth", 4)
	viper.SetDefault("research.default_depth", 2)
	viper.SetDefault("research.max_breadth", 10)
	viper.SetDefault("research.max_depth", 5)
	viper.SetDefault("research.max_learnings", 5)
	viper.SetDefault("research.max_follow_ups", 3)
	viper.SetDefault("research.concurrency_limit", 2)
	viper.SetDefault("research.search_pacing_min", 1*time.Second)
	viper.SetDefault("research.search_pacing_max", 2*time.Second)
	viper.SetDefault("research.fetch_pacing_min", 3*time.Second)
	viper.SetDefault("research.fetch_pacing_max", 8*time.Second)
	viper.SetDefault("research.search_retry_attempts", 3)
	viper.SetDefault("research.fetch_retry_attempts", 2)
	viper.SetDefault("storage.redis.timeout", 5*time.Second)
	viper.SetDefault("storage.redis.ttl", 24*time.Hour)

	if path == "" {
		viper.AddConfigPath("./app/config") // path to look for the config file in
		viper.AddConfigPath("./config")     // path to look for the config file in
		viper.AddConfigPath(".")            // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DEEPRESEARCH")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (DEEPRESEARCH_*)

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	// unmarshal config
	var config Config

	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Search.Validate(); err != nil {
		panic(err)
	}
	if err := config.Fetch.Validate(); err != nil {
		panic(err)
	}
	if err := config.RateLimit.Validate(); err != nil {
		panic(err)
	}
	if err := config.Research.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	return &config
}
