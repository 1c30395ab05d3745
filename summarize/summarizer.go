package summarize

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/internal/util"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/search"
	"github.com/qacompanion/qac/sym"
)

// Summary is a persisted model-written summary of one artifact. It is
// stale when ContentHash no longer matches the artifact's.
type Summary struct {
	ArtifactID  string    `json:"artifact_id"`
	Text        string    `json:"summary"`
	Model       string    `json:"model"`
	Provider    string    `json:"provider"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Answer is a retrieval-augmented response. Text cites Sources by their
// 1-based position as [n].
type Answer struct {
	Text    string          `json:"text"`
	Sources []search.Result `json:"sources"`
}

// Embedder produces the query vector for Ask.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summarizer generates artifact summaries and answers questions against
// the indexed knowledge base. Every model call is recorded through the
// usage tracker.
type Summarizer struct {
	db        *sql.DB
	artifacts *artifact.Store
	index     *search.Store
	embedder  Embedder
	provider  Provider
	tracker   *UsageTracker
}

// NewSummarizer wires the summarizer. index and embedder may be nil when
// only Summarize is used.
func NewSummarizer(db *sql.DB, artifacts *artifact.Store, index *search.Store, embedder Embedder, provider Provider) *Summarizer {
	return &Summarizer{
		db:        db,
		artifacts: artifacts,
		index:     index,
		embedder:  embedder,
		provider:  provider,
		tracker:   NewUsageTracker(db),
	}
}

// Summarize produces and persists a summary for the artifact. When a
// summary already exists for the artifact's current content it is
// returned without a model call.
func (s *Summarizer) Summarize(ctx context.Context, artifactID string) (*Summary, error) {
	if s.provider == nil {
		return nil, errors.Wrap(errors.ErrServiceUnavailable, "no summarization provider configured")
	}

	a, err := s.artifacts.Get(artifactID)
	if err != nil {
		return nil, err
	}

	existing, err := s.GetSummary(artifactID)
	if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}
	if existing != nil && existing.ContentHash == a.ContentHash {
		logger.Debugw(sym.Prose+" Summary cache hit",
			"artifact_id", artifactID,
		)
		return existing, nil
	}

	req := Request{
		SystemPrompt: summarySystemPrompt,
		UserPrompt:   buildSummaryPrompt(a),
	}
	start := time.Now().UTC()
	resp, err := s.provider.Chat(ctx, req)
	s.trackCall("summarize", "artifact", a.ID, start, resp, err)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to summarize artifact %s", artifactID)
	}

	summary := &Summary{
		ArtifactID:  a.ID,
		Text:        strings.TrimSpace(resp.Content),
		Model:       s.provider.Model(),
		Provider:    s.provider.Name(),
		ContentHash: a.ContentHash,
	}
	if err := s.saveSummary(summary); err != nil {
		return nil, err
	}

	logger.Infow(sym.Prose+" Artifact summarized",
		"artifact_id", artifactID,
		"kind", a.Kind,
		"model", summary.Model,
	)
	return s.GetSummary(artifactID)
}

// Ask answers a question against the knowledge base: embed the question,
// retrieve the closest chunks, and have the model answer from that
// context with [n] citations. An empty retrieval returns an honest
// no-context answer without calling the model.
func (s *Summarizer) Ask(ctx context.Context, question string, opts search.Options) (*Answer, error) {
	if s.provider == nil {
		return nil, errors.Wrap(errors.ErrServiceUnavailable, "no summarization provider configured")
	}
	if s.index == nil || s.embedder == nil {
		return nil, errors.Wrap(errors.ErrServiceUnavailable, "ask requires a search index and an embedding service")
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.NewInvalidInputError("question is required")
	}

	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed question")
	}
	results, err := s.index.Search(ctx, vector, opts)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &Answer{
			Text: "The knowledge base has no indexed content matching this question.",
		}, nil
	}

	req := Request{
		SystemPrompt: askSystemPrompt,
		UserPrompt:   buildAskPrompt(question, results, s.artifacts),
	}
	start := time.Now().UTC()
	resp, err := s.provider.Chat(ctx, req)
	s.trackCall("ask", "", "", start, resp, err)
	if err != nil {
		return nil, errors.Wrap(err, "failed to answer question")
	}

	logger.Infow(sym.Ask+" Question answered",
		"sources", len(results),
		"model", s.provider.Model(),
	)
	return &Answer{
		Text:    strings.TrimSpace(resp.Content),
		Sources: results,
	}, nil
}

// buildAskPrompt composes the question and its numbered context blocks.
// Full chunk content is used when available; the display snippet is the
// fallback for chunks replaced since indexing.
func buildAskPrompt(question string, results []search.Result, artifacts *artifact.Store) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nContext:\n\n")
	for i, r := range results {
		content := r.Snippet
		if chunk, err := artifacts.GetChunk(r.ChunkID); err == nil {
			content = chunk.Content
		}
		fmt.Fprintf(&b, "[%d] %s %s: %s\n%s\n\n", i+1, r.Kind, r.SourceID, r.Title, content)
	}
	return b.String()
}

// GetSummary returns the stored summary for an artifact.
func (s *Summarizer) GetSummary(artifactID string) (*Summary, error) {
	var sum Summary
	err := s.db.QueryRow(`
		SELECT artifact_id, summary, model, provider, content_hash, created_at, updated_at
		FROM summaries
		WHERE artifact_id = ?`, artifactID,
	).Scan(&sum.ArtifactID, &sum.Text, &sum.Model, &sum.Provider,
		&sum.ContentHash, &sum.CreatedAt, &sum.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("summary for artifact " + artifactID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get summary for artifact %s", artifactID)
	}
	return &sum, nil
}

// PendingArtifacts returns IDs of artifacts with no summary or a stale
// one, most recently updated first.
func (s *Summarizer) PendingArtifacts(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT a.id
		FROM artifacts a
		LEFT JOIN summaries s ON s.artifact_id = a.id
		WHERE s.artifact_id IS NULL OR s.content_hash != a.content_hash
		ORDER BY a.updated_at DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending artifacts")
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan artifact id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Summarizer) saveSummary(sum *Summary) error {
	_, err := s.db.Exec(`
		INSERT INTO summaries (artifact_id, summary, model, provider, content_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(artifact_id) DO UPDATE SET
			summary = excluded.summary,
			model = excluded.model,
			provider = excluded.provider,
			content_hash = excluded.content_hash,
			updated_at = CURRENT_TIMESTAMP`,
		sum.ArtifactID, sum.Text, sum.Model, sum.Provider, sum.ContentHash,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save summary for artifact %s", sum.ArtifactID)
	}
	return nil
}

// trackCall records one model call, successful or failed. Tracking
// failures are logged, never surfaced to the caller.
func (s *Summarizer) trackCall(operation, entityType, entityID string, start time.Time, resp *Response, callErr error) {
	usage := &ModelUsage{
		OperationType:    operation,
		ModelName:        util.Ptr(s.provider.Model()),
		ModelProvider:    util.Ptr(s.provider.Name()),
		RequestTimestamp: start,
		Success:          callErr == nil,
	}
	if entityType != "" {
		usage.EntityType = &entityType
	}
	if entityID != "" {
		usage.EntityID = &entityID
	}
	if callErr != nil {
		usage.ErrorMessage = util.Ptr(callErr.Error())
	}
	if resp != nil {
		usage.ResponseTimestamp = util.Ptr(time.Now().UTC())
		usage.TokensUsed = util.Ptr(resp.PromptTokens + resp.CompletionTokens)
		usage.Cost = util.Ptr(s.provider.EstimateCost(resp.PromptTokens, resp.CompletionTokens))
	}
	if err := s.tracker.TrackUsage(usage); err != nil {
		logger.Warnw(sym.Prose+" Failed to track model usage",
			"operation", operation,
			"error", err,
		)
	}
}
