package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/search"
	"github.com/qacompanion/qac/sym"
)

// searchOptions builds retrieval options from configured defaults with
// optional per-request overrides. Zero values keep the defaults.
func (s *Server) searchOptions(k int, threshold float64) search.Options {
	searchCfg := s.cfg.GetSearchConfig()
	opts := search.Options{
		K:         searchCfg.TopK,
		Threshold: searchCfg.SimilarityThreshold,
	}
	if k > 0 {
		opts.K = k
	}
	if threshold > 0 {
		opts.Threshold = threshold
	}
	return opts
}

// parseSearchRequest splits the raw query into terms and kind:/repo:
// filters, then layers request overrides on the configured defaults.
func (s *Server) parseSearchRequest(raw string, k int, threshold float64) (string, search.Options, error) {
	text, parsed, err := search.ParseQuery(raw)
	if err != nil {
		return "", parsed, err
	}
	opts := s.searchOptions(k, threshold)
	opts.Kinds = parsed.Kinds
	opts.Repo = parsed.Repo
	return text, opts, nil
}

// runSearch embeds the query text and scans the vector index
func (s *Server) runSearch(ctx context.Context, text string, opts search.Options) ([]search.Result, error) {
	start := time.Now()

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}

	results, err := s.index.Search(ctx, vector, opts)
	if err != nil {
		return nil, err
	}

	recordSearchLatency(time.Since(start).Seconds())
	return results, nil
}

// HandleSearch handles GET /api/search?q=<query>&k=<n>&threshold=<t>.
// The query supports the same kind:<kind> and repo:<name> filter tokens
// as the CLI.
func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("q"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Missing query parameter: q")
		return
	}

	k := parseIntQueryParam(r, "k", 0, 1, 100)
	threshold := parseFloatQueryParam(r, "threshold", 0)

	text, opts, err := s.parseSearchRequest(raw, k, threshold)
	if err != nil {
		handleError(w, s.logger, err, "failed to parse search query")
		return
	}

	results, err := s.runSearch(r.Context(), text, opts)
	if err != nil {
		handleError(w, s.logger, err, "search failed")
		return
	}

	s.logger.Infow(sym.Query+" Search served",
		"query", text,
		"results", len(results),
		"remote", r.RemoteAddr,
	)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   raw,
		"results": results,
		"count":   len(results),
	})
}

// askRequest is the POST /api/ask body
type askRequest struct {
	Question  string  `json:"question"`
	K         int     `json:"k,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// HandleAsk handles POST /api/ask. The question is embedded, the
// closest chunks retrieved, and the model answers from that context
// with [n] citations into the returned sources.
func (s *Server) HandleAsk(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req askRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "Missing field: question")
		return
	}

	opts := s.searchOptions(req.K, req.Threshold)
	answer, err := s.summarizer.Ask(r.Context(), question, opts)
	if err != nil {
		incAskFailure()
		handleError(w, s.logger, err, "ask failed")
		return
	}
	incAsk()

	s.logger.Infow(sym.Ask+" Question answered",
		"sources", len(answer.Sources),
		"remote", r.RemoteAddr,
	)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"question": question,
		"answer":   answer.Text,
		"sources":  answer.Sources,
	})
}
