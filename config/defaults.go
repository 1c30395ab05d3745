package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "qac.db")

	// Server configuration defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
	v.SetDefault("server.log_theme", "everforest")

	// Jobs (async infrastructure) defaults
	v.SetDefault("jobs.workers", 1)
	v.SetDefault("jobs.ticker_interval_seconds", 1)
	v.SetDefault("jobs.daily_budget_usd", 3.0)      // Default $3/day limit
	v.SetDefault("jobs.weekly_budget_usd", 7.0)     // Default $7/week limit
	v.SetDefault("jobs.monthly_budget_usd", 15.0)   // Default $15/month limit
	v.SetDefault("jobs.cost_per_summary_usd", 0.002)
	v.SetDefault("jobs.max_requests_per_minute", 10)

	// Anthropic defaults
	v.SetDefault("anthropic.model", "claude-3-5-haiku-latest") // Cost-effective default
	v.SetDefault("anthropic.temperature", 0.2)                 // Deterministic
	v.SetDefault("anthropic.max_tokens", 1024)                 // Token limit

	// Local Inference (Ollama) defaults
	v.SetDefault("local_inference.enabled", false)
	v.SetDefault("local_inference.base_url", "http://localhost:11434")
	v.SetDefault("local_inference.model", "llama3.2:3b")
	v.SetDefault("local_inference.context_size", 16384)
	v.SetDefault("local_inference.timeout_seconds", 3600)

	// Embeddings defaults
	v.SetDefault("embeddings.base_url", "http://localhost:11434")
	v.SetDefault("embeddings.model", "all-minilm")
	v.SetDefault("embeddings.dimension", 384)
	v.SetDefault("embeddings.batch_size", 32)
	v.SetDefault("embeddings.timeout_seconds", 120)

	// Ingestion defaults
	v.SetDefault("ingest.max_file_size_mb", 50)
	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.chunk_overlap", 100)

	// Search defaults
	v.SetDefault("search.top_k", 5)
	v.SetDefault("search.similarity_threshold", 0.7)

	// Watch defaults
	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.debounce_ms", 500)
	v.SetDefault("watch.max_retries", 5)
	v.SetDefault("watch.events_per_second", 10.0)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// GitHub ingestion token
	v.BindEnv("github.token", "QAC_GITHUB_TOKEN", "GITHUB_TOKEN")

	// Anthropic API key (the bare name matches the vendor convention)
	v.BindEnv("anthropic.api_key", "QAC_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")

	// Database path
	v.BindEnv("database.path", "QAC_DATABASE_PATH")

	// Local inference configuration
	v.BindEnv("local_inference.enabled", "QAC_LOCAL_INFERENCE_ENABLED")
	v.BindEnv("local_inference.base_url", "QAC_LOCAL_INFERENCE_BASE_URL")
	v.BindEnv("local_inference.model", "QAC_LOCAL_INFERENCE_MODEL")
}

// GetServerPort returns the configured qac server port
// Returns server.port from config, or DefaultServerPort (8787) if not configured
func GetServerPort() int {
	cfg, err := Load()
	if err != nil || cfg.Server.Port == nil || *cfg.Server.Port == 0 {
		return DefaultServerPort
	}
	return *cfg.Server.Port
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "qac.db" // Fallback default
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}

// GetServerLogTheme returns the log theme (default: everforest)
func (c *Config) GetServerLogTheme() string {
	if c.Server.LogTheme == "" {
		return "everforest"
	}
	return c.Server.LogTheme
}

// GetServerHost returns the bind address (default: 127.0.0.1)
func (c *Config) GetServerHost() string {
	if c.Server.Host == "" {
		return "127.0.0.1"
	}
	return c.Server.Host
}

// GetIngestConfig returns the ingest configuration with defaults applied
func (c *Config) GetIngestConfig() IngestConfig {
	cfg := c.Ingest

	// Apply defaults for zero values
	if cfg.MaxFileSizeMB == 0 {
		cfg.MaxFileSizeMB = 50
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = 100
	}

	return cfg
}

// GetSearchConfig returns the search configuration with defaults applied
func (c *Config) GetSearchConfig() SearchConfig {
	cfg := c.Search

	if cfg.TopK == 0 {
		cfg.TopK = 5
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.7
	}

	return cfg
}

// GetWatchConfig returns the watch configuration with defaults applied
func (c *Config) GetWatchConfig() WatchConfig {
	cfg := c.Watch

	if cfg.DebounceMs == 0 {
		cfg.DebounceMs = 500
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.EventsPerSecond == 0 {
		cfg.EventsPerSecond = 10.0
	}

	return cfg
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Server: {LogTheme: %s}, Jobs: {Workers: %d}}",
		c.Database.Path, c.Server.LogTheme, c.Jobs.Workers)
}
