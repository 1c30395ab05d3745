package server

import (
	"time"

	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/search"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100
	// MaxClientMessageQueueSize is the size of per-client message queues
	MaxClientMessageQueueSize = 256
	// ShutdownTimeout is how long to wait for graceful shutdown.
	// WorkerPool.Stop() can take up to 30s waiting for a running job to
	// checkpoint, plus time for WebSocket pumps and broadcasters to drain.
	ShutdownTimeout = 60 * time.Second
)

// Default and max limits for listing queries
const (
	defaultJobLimit      = 50
	maxJobLimit          = 200
	defaultArtifactLimit = 50
	maxArtifactLimit     = 500
)

// ServerState represents the server lifecycle state
type ServerState int

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

// QueueState represents the activity level of the job queue for adaptive polling
type QueueState int

const (
	QueueIdle   QueueState = iota // No jobs, no recent activity
	QueueActive                   // Jobs running or queued
	QueueBusy                     // High load
)

// ClientMessage represents an incoming WebSocket client message
type ClientMessage struct {
	Type      string  `json:"type"`                // "search", "ask", "job_control", "ping"
	Query     string  `json:"query,omitempty"`     // Search query or question text
	K         int     `json:"k,omitempty"`         // Result count override for search
	Threshold float64 `json:"threshold,omitempty"` // Similarity threshold override
	Action    string  `json:"action,omitempty"`    // For job_control: "cancel", "pause", "resume", "details"
	JobID     string  `json:"job_id,omitempty"`    // For job_control messages
}

// SearchResultMessage carries semantic search results back over the socket
type SearchResultMessage struct {
	Type      string          `json:"type"` // "search_results"
	Query     string          `json:"query"`
	Results   []search.Result `json:"results"`
	Count     int             `json:"count"`
	Timestamp int64           `json:"timestamp"`
}

// AnswerMessage carries a retrieval-augmented answer back over the socket
type AnswerMessage struct {
	Type      string          `json:"type"` // "answer"
	Question  string          `json:"question"`
	Answer    string          `json:"answer"`
	Sources   []search.Result `json:"sources"`
	Timestamp int64           `json:"timestamp"`
}

// ErrorMessage reports a failed client request over the socket
type ErrorMessage struct {
	Type      string `json:"type"` // "error"
	Request   string `json:"request,omitempty"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// JobUpdateMessage represents an async job state change
type JobUpdateMessage struct {
	Type     string                 `json:"type"` // "job_update", "job_details"
	Job      *jobs.Job              `json:"job"`
	Metadata map[string]interface{} `json:"metadata"`
}

// QueueStatusMessage represents periodic queue and budget telemetry
type QueueStatusMessage struct {
	Type          string  `json:"type"` // "queue_status"
	Running       bool    `json:"running"`
	ActiveJobs    int     `json:"active_jobs"`
	QueuedJobs    int     `json:"queued_jobs"`
	BudgetDaily   float64 `json:"budget_daily"`
	BudgetWeekly  float64 `json:"budget_weekly"`
	BudgetMonthly float64 `json:"budget_monthly"`
	ServerState   string  `json:"server_state"`
	Timestamp     int64   `json:"timestamp"`
}

// UsageUpdateMessage represents model usage statistics over the last day
type UsageUpdateMessage struct {
	Type      string  `json:"type"` // "usage_update"
	TotalCost float64 `json:"total_cost"`
	Requests  int     `json:"requests"`
	Success   int     `json:"success"`
	Tokens    int     `json:"tokens"`
	Models    int     `json:"models"`
	Since     string  `json:"since"`
	Timestamp int64   `json:"timestamp"`
}

// cachedQueueStatus tracks the last broadcast status to detect changes
type cachedQueueStatus struct {
	activeJobs    int
	queuedJobs    int
	budgetDaily   float64
	budgetWeekly  float64
	budgetMonthly float64
}

// cachedUsageStats tracks the last broadcast usage to detect changes
type cachedUsageStats struct {
	totalCost float64
	requests  int
	success   int
	tokens    int
	models    int
}
