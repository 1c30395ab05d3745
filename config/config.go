package config

// Config represents the core qac configuration
type Config struct {
	Database       DatabaseConfig       `mapstructure:"database"`
	Server         ServerConfig         `mapstructure:"server"`
	Jobs           JobsConfig           `mapstructure:"jobs"`
	Anthropic      AnthropicConfig      `mapstructure:"anthropic"`
	LocalInference LocalInferenceConfig `mapstructure:"local_inference"`
	Embeddings     EmbeddingsConfig     `mapstructure:"embeddings"`
	Ingest         IngestConfig         `mapstructure:"ingest"`
	Search         SearchConfig         `mapstructure:"search"`
	Watch          WatchConfig          `mapstructure:"watch"`
	GitHub         GitHubConfig         `mapstructure:"github"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the qac HTTP server
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // Server port: nil = default 8787, 0 is invalid (omit for default)
	Host           string   `mapstructure:"host"` // Bind address (default: 127.0.0.1)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	LogTheme       string   `mapstructure:"log_theme"` // Color theme: gruvbox, everforest
}

// Server port constants
const (
	DefaultServerPort = 8787 // Development port (above privileged range)
)

// JobsConfig configures the async job system (core infrastructure)
type JobsConfig struct {
	// Worker concurrency configuration
	Workers int `mapstructure:"workers"` // Number of concurrent job workers (default: 1)

	// Ticker configuration for scheduled job execution
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds"` // How often to check for queued jobs (default: 1)

	// AI spend budgets (enforced before each model call)
	DailyBudgetUSD    float64 `mapstructure:"daily_budget_usd"`    // Daily spending limit in USD
	WeeklyBudgetUSD   float64 `mapstructure:"weekly_budget_usd"`   // Weekly spending limit in USD
	MonthlyBudgetUSD  float64 `mapstructure:"monthly_budget_usd"`  // Monthly spending limit in USD
	CostPerSummaryUSD float64 `mapstructure:"cost_per_summary_usd"` // Estimated cost per summarization

	// Provider rate limiting
	MaxRequestsPerMinute int `mapstructure:"max_requests_per_minute"` // Sliding-window cap on model calls
}

// AnthropicConfig configures the Anthropic API for summarization
type AnthropicConfig struct {
	APIKey      string   `mapstructure:"api_key"`     // Anthropic API key
	Model       string   `mapstructure:"model"`       // Default model
	Temperature *float64 `mapstructure:"temperature"` // Sampling temperature (nil = default 0.2)
	MaxTokens   *int     `mapstructure:"max_tokens"`  // Maximum tokens per request (nil = default 1024)
}

// LocalInferenceConfig configures local model inference (Ollama, LocalAI, etc.)
type LocalInferenceConfig struct {
	Enabled        bool   `mapstructure:"enabled"`         // Use local inference instead of cloud APIs
	BaseURL        string `mapstructure:"base_url"`        // e.g., "http://localhost:11434" for Ollama
	Model          string `mapstructure:"model"`           // e.g., "mistral", "qwen2.5-coder:7b"
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // Request timeout in seconds
	ContextSize    *int   `mapstructure:"context_size"`    // Context window size (nil = model default)
}

// EmbeddingsConfig configures the embedding service for semantic search
type EmbeddingsConfig struct {
	BaseURL        string `mapstructure:"base_url"`        // Ollama endpoint (default: http://localhost:11434)
	Model          string `mapstructure:"model"`           // Embedding model (default: all-minilm)
	Dimension      int    `mapstructure:"dimension"`       // Vector dimension (default: 384, must match model)
	BatchSize      int    `mapstructure:"batch_size"`      // Texts per embedding request (default: 32)
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // Request timeout in seconds
}

// IngestConfig configures artifact ingestion
type IngestConfig struct {
	MaxFileSizeMB int `mapstructure:"max_file_size_mb"` // Files larger than this are skipped (default: 50)
	ChunkSize     int `mapstructure:"chunk_size"`       // Characters per chunk (default: 1000)
	ChunkOverlap  int `mapstructure:"chunk_overlap"`    // Overlap between adjacent chunks (default: 100)
}

// SearchConfig configures semantic retrieval
type SearchConfig struct {
	TopK                int     `mapstructure:"top_k"`                // Results per query (default: 5)
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"` // Minimum similarity (default: 0.7)
}

// WatchConfig configures filesystem watchers
type WatchConfig struct {
	Enabled         bool    `mapstructure:"enabled"`           // Run the watch engine inside the server (default: false)
	DebounceMs      int     `mapstructure:"debounce_ms"`       // Quiet period before re-ingesting (default: 500)
	MaxRetries      int     `mapstructure:"max_retries"`       // Re-ingest attempts before giving up (default: 5)
	EventsPerSecond float64 `mapstructure:"events_per_second"` // Rate limit on processed events (default: 10)
}

// GitHubConfig configures GitHub ingestion
type GitHubConfig struct {
	Token string `mapstructure:"token"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
