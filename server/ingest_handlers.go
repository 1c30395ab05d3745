package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/ingest"
	gitingest "github.com/qacompanion/qac/ingest/git"
	ghingest "github.com/qacompanion/qac/ingest/github"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/sym"
)

// ingestRequest is the POST /api/ingest body. Type selects the ingester:
// "fs" (default) walks a path or fetched archive, "git" reads commit
// history, "github" pulls issues and PRs.
type ingestRequest struct {
	Source    string   `json:"source"`
	Type      string   `json:"type,omitempty"`
	Kind      string   `json:"kind,omitempty"`
	Repo      string   `json:"repo,omitempty"`
	Since     string   `json:"since,omitempty"`
	State     string   `json:"state,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Recursive *bool    `json:"recursive,omitempty"`
}

// HandleIngest enqueues an ingestion job and returns 202 with the job id.
// Enqueues are deduplicated: a second request for a source with an active
// job returns the existing job instead of piling up duplicates.
func (s *Server) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req ingestRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: source")
		return
	}
	if req.Kind != "" && !artifact.ValidKind(artifact.Kind(req.Kind)) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown artifact kind: %s", req.Kind))
		return
	}

	handlerName, payload, err := buildIngestJob(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	queue := s.Queue()
	if queue == nil {
		writeError(w, http.StatusServiceUnavailable, "Job queue not available")
		return
	}

	job, err := jobs.NewJob(handlerName, req.Source, payload, 0, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	enqueued, err := queue.EnqueueDeduped(job)
	if err != nil {
		handleError(w, s.logger, err, "Failed to enqueue ingestion job")
		return
	}

	deduped := enqueued.ID != job.ID
	if !deduped {
		incIngestJob(handlerName)
	}

	s.logger.Infow(sym.IX+" Ingestion requested",
		"job_id", shortID(enqueued.ID),
		"handler", handlerName,
		"source", req.Source,
		"deduped", deduped,
	)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":  enqueued.ID,
		"handler": handlerName,
		"source":  req.Source,
		"status":  string(enqueued.Status),
		"deduped": deduped,
	})
}

// buildIngestJob maps an ingest request onto a handler name and payload.
func buildIngestJob(req *ingestRequest) (string, json.RawMessage, error) {
	switch req.Type {
	case "", "fs":
		recursive := true
		if req.Recursive != nil {
			recursive = *req.Recursive
		}
		payload, err := json.Marshal(ingest.FSPayload{
			Source:    req.Source,
			Repo:      req.Repo,
			Kind:      req.Kind,
			Recursive: recursive,
		})
		return jobs.HandlerIngestFS, payload, err
	case "git":
		payload, err := json.Marshal(gitingest.Payload{
			Source: req.Source,
			Repo:   req.Repo,
			Since:  req.Since,
		})
		return jobs.HandlerIngestGit, payload, err
	case "github":
		payload, err := json.Marshal(ghingest.Payload{
			Source: req.Source,
			Repo:   req.Repo,
			State:  req.State,
			Since:  req.Since,
			Labels: req.Labels,
		})
		return jobs.HandlerIngestGitHub, payload, err
	default:
		return "", nil, fmt.Errorf("unknown ingest type: %s (expected fs, git, or github)", req.Type)
	}
}
