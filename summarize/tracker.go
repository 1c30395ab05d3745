package summarize

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/qacompanion/qac/errors"
)

// ModelUsage is one row of ai_usage: a single model call, successful or
// not. Pointer fields are NULL when the call never got a response.
type ModelUsage struct {
	ID                int64      `json:"id"`
	OperationType     string     `json:"operation_type"`
	EntityType        *string    `json:"entity_type,omitempty"`
	EntityID          *string    `json:"entity_id,omitempty"`
	ModelName         *string    `json:"model_name,omitempty"`
	ModelProvider     *string    `json:"model_provider,omitempty"`
	ModelConfig       *string    `json:"model_config,omitempty"`
	RequestTimestamp  time.Time  `json:"request_timestamp"`
	ResponseTimestamp *time.Time `json:"response_timestamp,omitempty"`
	TokensUsed        *int       `json:"tokens_used,omitempty"`
	Cost              *float64   `json:"cost,omitempty"`
	Success           bool       `json:"success"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	Metadata          *string    `json:"metadata,omitempty"`
}

// NewModelConfig serializes the effective call parameters for the
// model_config column.
func NewModelConfig(temperature *float64, maxTokens *int) *string {
	cfg := map[string]any{}
	if temperature != nil {
		cfg["temperature"] = *temperature
	}
	if maxTokens != nil {
		cfg["max_tokens"] = *maxTokens
	}
	if len(cfg) == 0 {
		return nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	s := string(raw)
	return &s
}

// UsageStats aggregates ai_usage over a window.
type UsageStats struct {
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	TotalTokens        int     `json:"total_tokens"`
	TotalCost          float64 `json:"total_cost"`
	UniqueModels       int     `json:"unique_models"`
	SuccessRate        float64 `json:"success_rate"`
}

// ModelBreakdown aggregates ai_usage per model.
type ModelBreakdown struct {
	ModelName     string  `json:"model_name"`
	RequestCount  int     `json:"request_count"`
	TotalTokens   int     `json:"total_tokens"`
	TotalCost     float64 `json:"total_cost"`
	AvgLatencySec float64 `json:"avg_latency_sec"`
}

// UsageTracker records model calls and answers spend questions for the
// budget gate.
type UsageTracker struct {
	db *sql.DB
}

// NewUsageTracker creates a tracker backed by the given database.
func NewUsageTracker(db *sql.DB) *UsageTracker {
	return &UsageTracker{db: db}
}

// TrackUsage inserts one usage record.
func (t *UsageTracker) TrackUsage(usage *ModelUsage) error {
	if usage == nil {
		return errors.NewInvalidInputError("usage record is required")
	}
	if usage.OperationType == "" {
		return errors.NewInvalidInputError("operation type is required")
	}
	if usage.RequestTimestamp.IsZero() {
		usage.RequestTimestamp = time.Now().UTC()
	}

	result, err := t.db.Exec(`
		INSERT INTO ai_usage (
			operation_type, entity_type, entity_id,
			model_name, model_provider, model_config,
			request_timestamp, response_timestamp,
			tokens_used, cost, success, error_message, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		usage.OperationType, usage.EntityType, usage.EntityID,
		usage.ModelName, usage.ModelProvider, usage.ModelConfig,
		usage.RequestTimestamp, usage.ResponseTimestamp,
		usage.TokensUsed, usage.Cost, usage.Success,
		usage.ErrorMessage, usage.Metadata,
	)
	if err != nil {
		return errors.Wrap(err, "failed to track model usage")
	}
	if id, err := result.LastInsertId(); err == nil {
		usage.ID = id
	}
	return nil
}

// GetUsageStats aggregates usage since the given time.
func (t *UsageTracker) GetUsageStats(since time.Time) (*UsageStats, error) {
	stats := &UsageStats{}
	err := t.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(success), 0),
			COALESCE(SUM(tokens_used), 0),
			COALESCE(SUM(cost), 0),
			COUNT(DISTINCT model_name)
		FROM ai_usage
		WHERE request_timestamp >= ?`,
		since,
	).Scan(
		&stats.TotalRequests,
		&stats.SuccessfulRequests,
		&stats.TotalTokens,
		&stats.TotalCost,
		&stats.UniqueModels,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute usage stats")
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}
	return stats, nil
}

// GetModelBreakdown aggregates usage per model since the given time,
// most expensive first.
func (t *UsageTracker) GetModelBreakdown(since time.Time) ([]ModelBreakdown, error) {
	rows, err := t.db.Query(`
		SELECT
			model_name,
			COUNT(*),
			COALESCE(SUM(tokens_used), 0),
			COALESCE(SUM(cost), 0),
			COALESCE(AVG(
				(julianday(response_timestamp) - julianday(request_timestamp)) * 86400
			), 0)
		FROM ai_usage
		WHERE request_timestamp >= ? AND model_name IS NOT NULL
		GROUP BY model_name
		ORDER BY SUM(cost) DESC`,
		since,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute model breakdown")
	}
	defer func() { _ = rows.Close() }()

	var breakdown []ModelBreakdown
	for rows.Next() {
		var b ModelBreakdown
		if err := rows.Scan(&b.ModelName, &b.RequestCount, &b.TotalTokens,
			&b.TotalCost, &b.AvgLatencySec); err != nil {
			return nil, errors.Wrap(err, "failed to scan model breakdown row")
		}
		breakdown = append(breakdown, b)
	}
	return breakdown, rows.Err()
}

// SpendSince returns the total USD spend recorded since the given time.
// The budget gate calls this with day, week, and month boundaries.
func (t *UsageTracker) SpendSince(since time.Time) (float64, error) {
	var total float64
	err := t.db.QueryRow(`
		SELECT COALESCE(SUM(cost), 0)
		FROM ai_usage
		WHERE request_timestamp >= ?`,
		since,
	).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "failed to compute spend")
	}
	return total, nil
}
