package config

import "github.com/qacompanion/qac/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Database path is optional - empty defaults to "qac.db" per defaults.go
	// No validation needed here

	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.New("server.port cannot be 0 (omit for default port 8787)")
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}

	// Jobs workers: 0 = no background workers, negative = invalid
	if c.Jobs.Workers < 0 {
		return errors.Newf("jobs.workers must be >= 0, got %d", c.Jobs.Workers)
	}

	// Jobs ticker interval: 0 = no periodic ticking, negative = invalid
	if c.Jobs.TickerIntervalSeconds < 0 {
		return errors.Newf("jobs.ticker_interval_seconds must be >= 0, got %d", c.Jobs.TickerIntervalSeconds)
	}

	// Validate local inference configuration only when enabled
	if c.LocalInference.Enabled {
		if c.LocalInference.BaseURL == "" {
			return errors.New("local_inference.base_url cannot be empty when enabled")
		}
		if c.LocalInference.Model == "" {
			return errors.New("local_inference.model cannot be empty when enabled")
		}
		if c.LocalInference.TimeoutSeconds <= 0 {
			return errors.Newf("local_inference.timeout_seconds must be > 0, got %d", c.LocalInference.TimeoutSeconds)
		}
	}

	// Budget values: 0 = no budget (valid per "zero means zero"), negative = invalid
	if c.Jobs.DailyBudgetUSD < 0 {
		return errors.Newf("jobs.daily_budget_usd must be >= 0, got %f", c.Jobs.DailyBudgetUSD)
	}
	if c.Jobs.WeeklyBudgetUSD < 0 {
		return errors.Newf("jobs.weekly_budget_usd must be >= 0, got %f", c.Jobs.WeeklyBudgetUSD)
	}
	if c.Jobs.MonthlyBudgetUSD < 0 {
		return errors.Newf("jobs.monthly_budget_usd must be >= 0, got %f", c.Jobs.MonthlyBudgetUSD)
	}
	if c.Jobs.CostPerSummaryUSD < 0 {
		return errors.Newf("jobs.cost_per_summary_usd must be >= 0, got %f", c.Jobs.CostPerSummaryUSD)
	}

	// Embeddings: dimension must match the model output when set
	if c.Embeddings.Dimension < 0 {
		return errors.Newf("embeddings.dimension must be >= 0, got %d", c.Embeddings.Dimension)
	}
	if c.Embeddings.BatchSize < 0 {
		return errors.Newf("embeddings.batch_size must be >= 0, got %d", c.Embeddings.BatchSize)
	}

	// Chunking: overlap must leave forward progress
	if c.Ingest.ChunkSize < 0 {
		return errors.Newf("ingest.chunk_size must be >= 0, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 {
		return errors.Newf("ingest.chunk_overlap must be >= 0, got %d", c.Ingest.ChunkOverlap)
	}
	if c.Ingest.ChunkSize > 0 && c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return errors.Newf("ingest.chunk_overlap must be < ingest.chunk_size, got %d >= %d",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}

	// Search: threshold is a similarity in [0, 1]
	if c.Search.TopK < 0 {
		return errors.Newf("search.top_k must be >= 0, got %d", c.Search.TopK)
	}
	if c.Search.SimilarityThreshold < 0 || c.Search.SimilarityThreshold > 1 {
		return errors.Newf("search.similarity_threshold must be in [0, 1], got %f", c.Search.SimilarityThreshold)
	}

	// Watch retries and rate: negative = invalid
	if c.Watch.MaxRetries < 0 {
		return errors.Newf("watch.max_retries must be >= 0, got %d", c.Watch.MaxRetries)
	}
	if c.Watch.EventsPerSecond < 0 {
		return errors.Newf("watch.events_per_second must be >= 0, got %f", c.Watch.EventsPerSecond)
	}

	return nil
}
