package server

import (
	"net/http"
	"time"

	"github.com/qacompanion/qac/internal/util"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/sym"
)

// HandleJobs handles requests to /api/jobs
// GET: List jobs (active, completed, failed)
func (s *Server) HandleJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	s.handleListJobs(w, r)
}

// HandleJob handles requests to /api/jobs/{id}
// GET: Get job details
// DELETE: Cancel the job
func (s *Server) HandleJob(w http.ResponseWriter, r *http.Request) {
	pathParts := extractPathParts(r.URL.Path, "/api/jobs/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID")
		return
	}
	jobID := pathParts[0]

	if !requireMethods(w, r, http.MethodGet, http.MethodDelete) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetJob(w, r, jobID)
	case http.MethodDelete:
		s.handleCancelJob(w, r, jobID)
	}
}

// handleListJobs lists jobs: active plus recently completed and failed
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	queue := s.Queue()
	if queue == nil {
		writeError(w, http.StatusServiceUnavailable, "Job queue not available")
		return
	}

	limit := parseIntQueryParam(r, "limit", defaultJobLimit, 1, maxJobLimit)

	var allJobs []*jobs.Job

	// Active jobs (queued, running, paused)
	activeJobs, err := queue.Store().ListActive(limit)
	if err != nil {
		s.logger.Warnw("Failed to list active jobs", "error", err)
	} else {
		allJobs = append(allJobs, activeJobs...)
	}

	completedJobs, err := queue.Store().ListJobs(util.Ptr(jobs.StatusCompleted), limit)
	if err != nil {
		s.logger.Warnw("Failed to list completed jobs", "error", err)
	} else {
		allJobs = append(allJobs, completedJobs...)
	}

	failedJobs, err := queue.Store().ListJobs(util.Ptr(jobs.StatusFailed), limit)
	if err != nil {
		s.logger.Warnw("Failed to list failed jobs", "error", err)
	} else {
		allJobs = append(allJobs, failedJobs...)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  allJobs,
		"count": len(allJobs),
	})
}

// handleGetJob retrieves a specific job by ID
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	queue := s.Queue()
	if queue == nil {
		writeError(w, http.StatusServiceUnavailable, "Job queue not available")
		return
	}

	job, err := queue.GetJob(jobID)
	if err != nil {
		handleError(w, s.logger, err, "Failed to get job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a queued, running, or paused job
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	queue := s.Queue()
	if queue == nil {
		writeError(w, http.StatusServiceUnavailable, "Job queue not available")
		return
	}

	if err := queue.CancelJob(jobID, "cancelled via API"); err != nil {
		handleError(w, s.logger, err, "Failed to cancel job")
		return
	}

	s.logger.Infow(sym.Pulse+" Job cancelled", "job_id", shortID(jobID))

	job, err := queue.GetJob(jobID)
	if err == nil {
		s.broadcastJobUpdate(job)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"status": string(jobs.StatusCancelled),
	})
}

// HandleUsage handles requests to /api/usage
// GET: Aggregate model usage and budget standing over a window
func (s *Server) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	hours := parseIntQueryParam(r, "hours", 24, 1, 24*90)
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	stats, err := s.usage.GetUsageStats(since)
	if err != nil {
		handleError(w, s.logger, err, "Failed to compute usage stats")
		return
	}

	models, err := s.usage.GetModelBreakdown(since)
	if err != nil {
		s.logger.Warnw("Failed to compute model breakdown", "error", err)
	}

	response := map[string]interface{}{
		"window_hours": hours,
		"stats":        stats,
		"models":       models,
	}

	if budget, err := s.pool.BudgetStatus(); err != nil {
		s.logger.Warnw("Failed to read budget status", "error", err)
	} else if budget != nil {
		response["budget"] = budget
	}

	writeJSON(w, http.StatusOK, response)
}
