package summarize

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
	qactest "github.com/qacompanion/qac/internal/testing"
	"github.com/qacompanion/qac/search"
)

const testDim = 384

// unitVec returns a unit vector along one axis. Orthogonal axes give
// deterministic KNN distances.
func unitVec(axis int) []float32 {
	v := make([]float32, testDim)
	v[axis%testDim] = 1
	return v
}

type embedFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// fakeProvider is a scripted Provider that records the last request.
type fakeProvider struct {
	response string
	err      error
	calls    int
	lastReq  Request
}

func (f *fakeProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Content: f.response, PromptTokens: 100, CompletionTokens: 20}, nil
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }
func (f *fakeProvider) EstimateCost(promptTokens, completionTokens int) float64 {
	return 0.01
}

func saveArtifact(t *testing.T, store *artifact.Store, kind artifact.Kind, sourceID, title, content string) *artifact.Artifact {
	t.Helper()
	a, _, err := store.Save(&artifact.Draft{
		Kind:     kind,
		SourceID: sourceID,
		Title:    title,
		Content:  content,
		Repo:     "acme/payments",
	})
	require.NoError(t, err)
	return a
}

func indexChunk(t *testing.T, artifacts *artifact.Store, index *search.Store, a *artifact.Artifact, content string, vec []float32) string {
	t.Helper()
	chunkID := artifact.ChunkID(a.ID, content)
	err := artifacts.ReplaceChunks(a.ID, []artifact.Chunk{{
		ID:         chunkID,
		ArtifactID: a.ID,
		Seq:        0,
		Content:    content,
		WordCount:  len(strings.Fields(content)),
	}})
	require.NoError(t, err)
	require.NoError(t, index.IndexChunk(context.Background(), chunkID, vec))
	return chunkID
}

func usageCount(t *testing.T, db *sql.DB, operation string) int {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM ai_usage WHERE operation_type = ?`, operation).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestSummarizer_Summarize(t *testing.T) {
	db := qactest.CreateTestDB(t)
	artifacts := artifact.NewStore(db)
	provider := &fakeProvider{response: "Checkout crashes when the receipt is nil."}
	s := NewSummarizer(db, artifacts, nil, nil, provider)

	a := saveArtifact(t, artifacts, artifact.KindBugReport, "acme/payments#41",
		"Crash on checkout", "Stack trace shows a nil receipt in the ledger path.")

	sum, err := s.Summarize(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Checkout crashes when the receipt is nil.", sum.Text)
	assert.Equal(t, "fake-model", sum.Model)
	assert.Equal(t, "fake", sum.Provider)
	assert.Equal(t, a.ContentHash, sum.ContentHash)
	assert.False(t, sum.CreatedAt.IsZero())

	// The prompt carries the bug-report angle and the artifact itself.
	assert.Contains(t, provider.lastReq.UserPrompt, "bug report")
	assert.Contains(t, provider.lastReq.UserPrompt, "Crash on checkout")
	assert.Contains(t, provider.lastReq.UserPrompt, "nil receipt")
	assert.NotEmpty(t, provider.lastReq.SystemPrompt)

	assert.Equal(t, 1, usageCount(t, db, "summarize"))
}

func TestSummarizer_Summarize_CacheHit(t *testing.T) {
	db := qactest.CreateTestDB(t)
	artifacts := artifact.NewStore(db)
	provider := &fakeProvider{response: "First summary."}
	s := NewSummarizer(db, artifacts, nil, nil, provider)

	a := saveArtifact(t, artifacts, artifact.KindDesignDoc, "docs/ledger.md",
		"Ledger design", "Double-entry bookkeeping with idempotent writes.")

	first, err := s.Summarize(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, 1, provider.calls)

	// Unchanged content returns the stored summary without a model call.
	second, err := s.Summarize(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, 1, usageCount(t, db, "summarize"))

	// Changed content invalidates the cache.
	_, _, err = artifacts.Save(&artifact.Draft{
		Kind:     artifact.KindDesignDoc,
		SourceID: "docs/ledger.md",
		Title:    "Ledger design",
		Content:  "Rewritten: the ledger now supports multi-currency accounts.",
		Repo:     "acme/payments",
	})
	require.NoError(t, err)

	provider.response = "Updated summary."
	third, err := s.Summarize(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Updated summary.", third.Text)
	assert.Equal(t, 2, provider.calls)

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM summaries`).Scan(&rows))
	assert.Equal(t, 1, rows, "re-summarizing must upsert, not duplicate")
}

func TestSummarizer_Summarize_ProviderError(t *testing.T) {
	db := qactest.CreateTestDB(t)
	artifacts := artifact.NewStore(db)
	provider := &fakeProvider{err: errors.New("model unavailable")}
	s := NewSummarizer(db, artifacts, nil, nil, provider)

	a := saveArtifact(t, artifacts, artifact.KindCommit, "abc123",
		"Fix rounding", "Rounded to cents before persisting.")

	_, err := s.Summarize(context.Background(), a.ID)
	require.Error(t, err)

	// The failed call is still recorded.
	var success bool
	var errMsg string
	row := db.QueryRow(`SELECT success, error_message FROM ai_usage WHERE operation_type = 'summarize'`)
	require.NoError(t, row.Scan(&success, &errMsg))
	assert.False(t, success)
	assert.Contains(t, errMsg, "model unavailable")

	_, err = s.GetSummary(a.ID)
	assert.True(t, errors.IsNotFound(err), "no summary row on failure")
}

func TestSummarizer_Summarize_UnknownArtifact(t *testing.T) {
	db := qactest.CreateTestDB(t)
	provider := &fakeProvider{response: "never used"}
	s := NewSummarizer(db, artifact.NewStore(db), nil, nil, provider)

	_, err := s.Summarize(context.Background(), "no-such-artifact")
	assert.True(t, errors.IsNotFound(err))
	assert.Zero(t, provider.calls)
}

func TestSummarizer_PendingArtifacts(t *testing.T) {
	db := qactest.CreateTestDB(t)
	artifacts := artifact.NewStore(db)
	provider := &fakeProvider{response: "Summarized."}
	s := NewSummarizer(db, artifacts, nil, nil, provider)

	a := saveArtifact(t, artifacts, artifact.KindBugReport, "acme/payments#1", "Bug one", "first")
	b := saveArtifact(t, artifacts, artifact.KindBugReport, "acme/payments#2", "Bug two", "second")

	pending, err := s.PendingArtifacts(10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, pending)

	_, err = s.Summarize(context.Background(), a.ID)
	require.NoError(t, err)

	pending, err = s.PendingArtifacts(10)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, pending)

	// Content change makes the first artifact pending again.
	_, _, err = artifacts.Save(&artifact.Draft{
		Kind:     artifact.KindBugReport,
		SourceID: "acme/payments#1",
		Title:    "Bug one",
		Content:  "first, but reproduced with new details",
		Repo:     "acme/payments",
	})
	require.NoError(t, err)

	pending, err = s.PendingArtifacts(10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, pending)
}

func TestSummarizer_Ask(t *testing.T) {
	db := qactest.CreateTestDB(t)
	artifacts := artifact.NewStore(db)
	index := search.NewStore(db, "all-minilm", testDim)
	provider := &fakeProvider{response: "Retries use exponential backoff [1]."}
	embedder := embedFunc(func(ctx context.Context, text string) ([]float32, error) {
		return unitVec(0), nil
	})
	s := NewSummarizer(db, artifacts, index, embedder, provider)

	// Content longer than a display snippet proves the prompt gets the
	// full chunk, not the truncated preview.
	longContent := strings.Repeat("the reconciliation worker retries failed transfers with backoff ", 6) +
		"and gives up after five attempts"
	a := saveArtifact(t, artifacts, artifact.KindDesignDoc, "docs/retries.md",
		"Retry policy", longContent)
	indexChunk(t, artifacts, index, a, longContent, unitVec(0))

	answer, err := s.Ask(context.Background(), "How do retries work?", search.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "Retries use exponential backoff [1].", answer.Text)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, a.ID, answer.Sources[0].ArtifactID)

	assert.Contains(t, provider.lastReq.UserPrompt, "How do retries work?")
	assert.Contains(t, provider.lastReq.UserPrompt, "[1] design_doc docs/retries.md")
	assert.Contains(t, provider.lastReq.UserPrompt, "gives up after five attempts",
		"context must carry the full chunk content")

	assert.Equal(t, 1, usageCount(t, db, "ask"))
}

func TestSummarizer_Ask_NoResults(t *testing.T) {
	db := qactest.CreateTestDB(t)
	artifacts := artifact.NewStore(db)
	index := search.NewStore(db, "all-minilm", testDim)
	provider := &fakeProvider{response: "never used"}
	embedder := embedFunc(func(ctx context.Context, text string) ([]float32, error) {
		return unitVec(0), nil
	})
	s := NewSummarizer(db, artifacts, index, embedder, provider)

	answer, err := s.Ask(context.Background(), "Anything at all?", search.DefaultOptions())
	require.NoError(t, err)
	assert.Contains(t, answer.Text, "no indexed content")
	assert.Empty(t, answer.Sources)
	assert.Zero(t, provider.calls, "empty retrieval must not call the model")
	assert.Zero(t, usageCount(t, db, "ask"))
}

func TestSummarizer_Ask_Validation(t *testing.T) {
	db := qactest.CreateTestDB(t)
	artifacts := artifact.NewStore(db)
	index := search.NewStore(db, "all-minilm", testDim)
	embedder := embedFunc(func(ctx context.Context, text string) ([]float32, error) {
		return unitVec(0), nil
	})

	s := NewSummarizer(db, artifacts, index, embedder, &fakeProvider{})
	_, err := s.Ask(context.Background(), "   ", search.DefaultOptions())
	assert.True(t, errors.IsInvalidInput(err))

	noIndex := NewSummarizer(db, artifacts, nil, nil, &fakeProvider{})
	_, err = noIndex.Ask(context.Background(), "question", search.DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search index")

	noProvider := NewSummarizer(db, artifacts, index, embedder, nil)
	_, err = noProvider.Ask(context.Background(), "question", search.DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no summarization provider")
}

func TestSummarizer_GetSummary_NotFound(t *testing.T) {
	db := qactest.CreateTestDB(t)
	s := NewSummarizer(db, artifact.NewStore(db), nil, nil, &fakeProvider{})

	_, err := s.GetSummary("missing")
	assert.True(t, errors.IsNotFound(err))
}
