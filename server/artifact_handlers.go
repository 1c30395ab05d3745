package server

import (
	"net/http"

	"github.com/qacompanion/qac/artifact"
)

// HandleArtifacts handles GET /api/artifacts?kind=<kind>&repo=<repo>&limit=<n>
func (s *Server) HandleArtifacts(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	opts := artifact.ListOptions{
		Repo:  r.URL.Query().Get("repo"),
		Limit: parseIntQueryParam(r, "limit", defaultArtifactLimit, 1, maxArtifactLimit),
	}

	if kind := r.URL.Query().Get("kind"); kind != "" {
		k := artifact.Kind(kind)
		if !artifact.ValidKind(k) {
			writeError(w, http.StatusBadRequest, "Unknown artifact kind: "+kind)
			return
		}
		opts.Kind = k
	}

	artifacts, err := s.artifacts.List(opts)
	if err != nil {
		handleError(w, s.logger, err, "failed to list artifacts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"artifacts": artifacts,
		"count":     len(artifacts),
	})
}

// HandleArtifact handles GET /api/artifacts/{id} and its sub-resources:
//
//	/api/artifacts/{id}         artifact with full content
//	/api/artifacts/{id}/trace   traceability neighborhood (?depth=)
//	/api/artifacts/{id}/html    content rendered as sanitized HTML
//	/api/artifacts/{id}/summary stored summary
//	/api/artifacts/{id}/chunks  retrieval chunks
func (s *Server) HandleArtifact(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	pathParts := extractPathParts(r.URL.Path, "/api/artifacts/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing artifact ID")
		return
	}
	artifactID := pathParts[0]

	if len(pathParts) > 1 && pathParts[1] != "" {
		switch pathParts[1] {
		case "trace":
			s.handleArtifactTrace(w, r, artifactID)
		case "html":
			s.handleArtifactHTML(w, r, artifactID)
		case "summary":
			s.handleArtifactSummary(w, artifactID)
		case "chunks":
			s.handleArtifactChunks(w, artifactID)
		default:
			writeError(w, http.StatusNotFound, "Unknown artifact sub-resource: "+pathParts[1])
		}
		return
	}

	a, err := s.artifacts.Get(artifactID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get artifact")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// handleArtifactTrace returns the link neighborhood around an artifact
func (s *Server) handleArtifactTrace(w http.ResponseWriter, r *http.Request, artifactID string) {
	depth := parseIntQueryParam(r, "depth", 1, 1, 5)

	graph, err := s.links.Neighborhood(artifactID, depth)
	if err != nil {
		handleError(w, s.logger, err, "failed to build trace graph")
		return
	}

	writeJSON(w, http.StatusOK, graph)
}

// handleArtifactSummary returns the stored summary for an artifact
func (s *Server) handleArtifactSummary(w http.ResponseWriter, artifactID string) {
	summary, err := s.summarizer.GetSummary(artifactID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get summary")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// handleArtifactChunks returns the retrieval chunks of an artifact
func (s *Server) handleArtifactChunks(w http.ResponseWriter, artifactID string) {
	// Distinguish a missing artifact from one with no chunks
	if _, err := s.artifacts.Get(artifactID); err != nil {
		handleError(w, s.logger, err, "failed to get artifact")
		return
	}

	chunks, err := s.artifacts.ListChunks(artifactID)
	if err != nil {
		handleError(w, s.logger, err, "failed to list chunks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"artifact_id": artifactID,
		"chunks":      chunks,
		"count":       len(chunks),
	})
}
