package server

import (
	"net/http"

	"github.com/qacompanion/qac/version"
)

// HandleHealth is a cheap liveness probe: no store access, safe to poll.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	versionInfo := version.Get()
	s.mu.RLock()
	clientCount := len(s.clients)
	s.mu.RUnlock()

	health := map[string]interface{}{
		"status":     "ok",
		"version":    versionInfo.Version,
		"commit":     versionInfo.CommitHash,
		"build_time": versionInfo.BuildTime,
		"clients":    clientCount,
		"state":      stateString(s.getState()),
	}

	writeJSON(w, http.StatusOK, health)
}

// HandleStatus reports the knowledge base standing: artifact counts per
// kind, queue stats, worker pool resource usage, and the embedding model.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	versionInfo := version.Get()
	model, dim := s.embedder.ModelInfo()

	status := map[string]interface{}{
		"version": versionInfo,
		"state":   stateString(s.getState()),
		"database": map[string]interface{}{
			"path": s.dbPath,
		},
		"embeddings": map[string]interface{}{
			"model":     model,
			"dimension": dim,
		},
		"watch_enabled": s.watcher != nil,
	}

	counts, err := s.artifacts.CountByKind()
	if err != nil {
		s.logger.Warnw("Failed to count artifacts", "error", err)
	} else {
		total := 0
		byKind := make(map[string]int, len(counts))
		for kind, n := range counts {
			byKind[string(kind)] = n
			total += n
		}
		status["artifacts"] = map[string]interface{}{
			"total":   total,
			"by_kind": byKind,
		}
	}

	if queue := s.Queue(); queue != nil {
		if stats, err := queue.GetStats(); err != nil {
			s.logger.Warnw("Failed to read queue stats", "error", err)
		} else {
			status["queue"] = stats
		}
		status["system"] = s.pool.GetSystemMetrics()
	}

	writeJSON(w, http.StatusOK, status)
}
