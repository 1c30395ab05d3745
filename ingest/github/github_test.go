package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/chunk"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/ingest"
	qactest "github.com/qacompanion/qac/internal/testing"
	"github.com/qacompanion/qac/jobs"
)

type userJSON struct {
	Login string `json:"login"`
}

type lblJSON struct {
	Name string `json:"name"`
}

type refJSON struct {
	Ref string `json:"ref"`
}

type issueJSON struct {
	Number      int                    `json:"number"`
	Title       string                 `json:"title"`
	Body        string                 `json:"body"`
	State       string                 `json:"state"`
	HTMLURL     string                 `json:"html_url"`
	User        userJSON               `json:"user"`
	Labels      []lblJSON              `json:"labels"`
	Comments    int                    `json:"comments"`
	CreatedAt   string                 `json:"created_at"`
	UpdatedAt   string                 `json:"updated_at"`
	ClosedAt    *string                `json:"closed_at,omitempty"`
	PullRequest map[string]interface{} `json:"pull_request,omitempty"`
}

type pullJSON struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	Draft     bool      `json:"draft"`
	HTMLURL   string    `json:"html_url"`
	User      userJSON  `json:"user"`
	Head      refJSON   `json:"head"`
	Base      refJSON   `json:"base"`
	Labels    []lblJSON `json:"labels"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
	MergedAt  *string   `json:"merged_at,omitempty"`
	ClosedAt  *string   `json:"closed_at,omitempty"`
}

func strptr(s string) *string { return &s }

// fixtureIssues holds two real issues and one pull request stub, which the
// issues API interleaves and the ingester must skip.
func fixtureIssues() []issueJSON {
	return []issueJSON{
		{
			Number:    101,
			Title:     "Settlement runs twice under retry",
			Body:      "## Steps\n\n1. Start a batch\n2. Kill the worker mid-run\n\n## Expected\n\nOne settlement per entry.",
			State:     "open",
			HTMLURL:   "https://github.com/acme/payments/issues/101",
			User:      userJSON{Login: "rthompson"},
			Labels:    []lblJSON{{Name: "bug"}, {Name: "severity:high"}},
			Comments:  3,
			CreatedAt: "2026-06-01T10:00:00Z",
			UpdatedAt: "2026-06-10T09:00:00Z",
		},
		{
			Number:    102,
			Title:     "Ledger export drops the last page",
			Body:      "Exports with more than 500 rows truncate silently.",
			State:     "closed",
			HTMLURL:   "https://github.com/acme/payments/issues/102",
			User:      userJSON{Login: "dana"},
			CreatedAt: "2026-05-20T08:00:00Z",
			UpdatedAt: "2026-06-02T16:30:00Z",
			ClosedAt:  strptr("2026-06-02T16:30:00Z"),
		},
		{
			Number:      103,
			Title:       "Fix double settlement",
			State:       "open",
			HTMLURL:     "https://github.com/acme/payments/pull/103",
			User:        userJSON{Login: "dana"},
			CreatedAt:   "2026-06-03T10:00:00Z",
			UpdatedAt:   "2026-06-03T10:00:00Z",
			PullRequest: map[string]interface{}{"url": "https://api.github.com/repos/acme/payments/pulls/103"},
		},
	}
}

func fixturePulls() []pullJSON {
	return []pullJSON{
		{
			Number:    110,
			Title:     "Settlement idempotency keys",
			Body:      "## Approach\n\nEvery ledger entry gets an idempotency key checked before settlement.",
			State:     "closed",
			HTMLURL:   "https://github.com/acme/payments/pull/110",
			User:      userJSON{Login: "mlyons"},
			Head:      refJSON{Ref: "idempotency-keys"},
			Base:      refJSON{Ref: "main"},
			Labels:    []lblJSON{{Name: "design"}},
			CreatedAt: "2026-06-05T09:00:00Z",
			UpdatedAt: "2026-06-10T12:00:00Z",
			MergedAt:  strptr("2026-06-10T12:00:00Z"),
		},
		{
			Number:    111,
			Title:     "WIP: batch export paging",
			Body:      "Pages the export query instead of loading everything.",
			State:     "open",
			Draft:     true,
			HTMLURL:   "https://github.com/acme/payments/pull/111",
			User:      userJSON{Login: "dana"},
			Head:      refJSON{Ref: "export-paging"},
			Base:      refJSON{Ref: "main"},
			CreatedAt: "2026-06-08T09:00:00Z",
			UpdatedAt: "2026-06-08T09:00:00Z",
		},
	}
}

func fixtureHandler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/payments/issues", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(fixtureIssues()))
	})
	mux.HandleFunc("/repos/acme/payments/pulls", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(fixturePulls()))
	})
	return mux
}

func newTestIngester(t *testing.T, handler http.Handler) (*Ingester, *artifact.Store, *jobs.Queue) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClientWithBaseURL(server.Client(), server.URL)
	require.NoError(t, err)

	db := qactest.CreateTestDB(t)
	artifacts := artifact.NewStore(db)
	queue := jobs.NewQueue(db)
	ing := NewIngester(client, artifacts, ingest.NewRunStore(db), chunk.NewSplitter(400, 80), queue)
	return ing, artifacts, queue
}

func TestIngester_Ingest(t *testing.T) {
	ing, artifacts, queue := newTestIngester(t, fixtureHandler(t))

	result, err := ing.Ingest(context.Background(), "acme/payments", Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Issues)
	assert.Equal(t, 2, result.Pulls)
	assert.Equal(t, 4, result.Run.Processed)
	assert.Zero(t, result.Run.Failed)
	assert.Greater(t, result.Run.Chunks, 0)

	t.Run("issue became a bug report", func(t *testing.T) {
		a, err := artifacts.GetBySourceID(artifact.KindBugReport, "payments", "acme/payments#101")
		require.NoError(t, err)
		assert.Equal(t, "Settlement runs twice under retry", a.Title)
		assert.Equal(t, "rthompson", a.Author)
		assert.Contains(t, a.Content, "Kill the worker mid-run")

		var meta map[string]interface{}
		require.NoError(t, json.Unmarshal(a.Metadata, &meta))
		assert.EqualValues(t, 101, meta["number"])
		assert.Equal(t, "open", meta["state"])
		assert.Equal(t, []interface{}{"bug", "severity:high"}, meta["labels"])
		assert.EqualValues(t, 3, meta["comments"])
		_, closed := meta["closed_at"]
		assert.False(t, closed)
	})

	t.Run("closed issue carries closed_at", func(t *testing.T) {
		a, err := artifacts.GetBySourceID(artifact.KindBugReport, "payments", "acme/payments#102")
		require.NoError(t, err)

		var meta map[string]interface{}
		require.NoError(t, json.Unmarshal(a.Metadata, &meta))
		assert.Equal(t, "closed", meta["state"])
		assert.Equal(t, "2026-06-02T16:30:00Z", meta["closed_at"])
	})

	t.Run("pull request stub in the issues list is skipped", func(t *testing.T) {
		_, err := artifacts.GetBySourceID(artifact.KindBugReport, "payments", "acme/payments#103")
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("design-labeled pull became a design doc", func(t *testing.T) {
		a, err := artifacts.GetBySourceID(artifact.KindDesignDoc, "payments", "acme/payments#110")
		require.NoError(t, err)
		assert.Equal(t, "mlyons", a.Author)

		var meta map[string]interface{}
		require.NoError(t, json.Unmarshal(a.Metadata, &meta))
		assert.Equal(t, true, meta["pull"])
		assert.Equal(t, "main", meta["base_branch"])
		assert.Equal(t, "2026-06-10T12:00:00Z", meta["merged_at"])
	})

	t.Run("unlabeled pull became bug report context", func(t *testing.T) {
		a, err := artifacts.GetBySourceID(artifact.KindBugReport, "payments", "acme/payments#111")
		require.NoError(t, err)

		var meta map[string]interface{}
		require.NoError(t, json.Unmarshal(a.Metadata, &meta))
		assert.Equal(t, true, meta["pull"])
		assert.Equal(t, true, meta["draft"])
	})

	t.Run("follow-up jobs were enqueued", func(t *testing.T) {
		backlog, err := queue.FindActiveJobBySourceAndHandler("backlog", jobs.HandlerEmbedBacklog)
		require.NoError(t, err)
		assert.NotNil(t, backlog)

		rescan, err := queue.FindActiveJobBySourceAndHandler("rescan", jobs.HandlerTraceScan)
		require.NoError(t, err)
		assert.NotNil(t, rescan)
	})

	t.Run("re-ingesting reports everything unchanged", func(t *testing.T) {
		again, err := ing.Ingest(context.Background(), "acme/payments", Options{})
		require.NoError(t, err)
		assert.Zero(t, again.Issues)
		assert.Zero(t, again.Pulls)
		assert.Equal(t, 4, again.Run.Unchanged)
	})
}

func TestIngester_Pagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/payments/issues", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			_ = json.NewEncoder(w).Encode([]issueJSON{{
				Number: 2, Title: "Second", Body: "b", State: "open",
				User:      userJSON{Login: "dev"},
				CreatedAt: "2026-06-01T00:00:00Z", UpdatedAt: "2026-06-01T00:00:00Z",
			}})
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s?page=2>; rel="next"`, "http://"+r.Host+r.URL.Path))
		_ = json.NewEncoder(w).Encode([]issueJSON{{
			Number: 1, Title: "First", Body: "a", State: "open",
			User:      userJSON{Login: "dev"},
			CreatedAt: "2026-06-02T00:00:00Z", UpdatedAt: "2026-06-02T00:00:00Z",
		}})
	})
	mux.HandleFunc("/repos/acme/payments/pulls", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	})

	ing, _, _ := newTestIngester(t, mux)
	result, err := ing.Ingest(context.Background(), "acme/payments", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Issues)
}

func TestIngester_SinceStopsStalePulls(t *testing.T) {
	ing, artifacts, _ := newTestIngester(t, fixtureHandler(t))

	// Pull #110 was updated 2026-06-10, #111 on 2026-06-08.
	since := time.Date(2026, 6, 9, 0, 0, 0, 0, time.UTC)
	result, err := ing.Ingest(context.Background(), "acme/payments", Options{Since: since})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Pulls)
	_, err = artifacts.GetBySourceID(artifact.KindBugReport, "payments", "acme/payments#111")
	assert.True(t, errors.IsNotFound(err))
}

func TestIngester_RepoLabelOverride(t *testing.T) {
	ing, artifacts, _ := newTestIngester(t, fixtureHandler(t))

	_, err := ing.Ingest(context.Background(), "acme/payments", Options{Repo: "payments-svc"})
	require.NoError(t, err)

	_, err = artifacts.GetBySourceID(artifact.KindBugReport, "payments-svc", "acme/payments#101")
	assert.NoError(t, err)
}

func TestIngester_BadRepo(t *testing.T) {
	ing, _, _ := newTestIngester(t, http.NotFoundHandler())

	for _, repo := range []string{"", "justname", "/leading", "trailing/"} {
		_, err := ing.Ingest(context.Background(), repo, Options{})
		assert.True(t, errors.IsInvalidInput(err), repo)
	}
}

func TestIngester_FetchError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/payments/issues", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	ing, _, _ := newTestIngester(t, mux)
	_, err := ing.Ingest(context.Background(), "acme/payments", Options{})
	assert.Error(t, err)
}

func TestPullKind(t *testing.T) {
	assert.Equal(t, artifact.KindDesignDoc, pullKind([]string{"Design"}))
	assert.Equal(t, artifact.KindDesignDoc, pullKind([]string{"bug", "design"}))
	assert.Equal(t, artifact.KindBugReport, pullKind([]string{"bug"}))
	assert.Equal(t, artifact.KindBugReport, pullKind(nil))
}

func TestSplitRepo(t *testing.T) {
	owner, name, err := splitRepo("acme/payments")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "payments", name)

	_, _, err = splitRepo("payments")
	assert.True(t, errors.IsInvalidInput(err))
}

func TestBodyOrTitle(t *testing.T) {
	assert.Equal(t, "body text", bodyOrTitle("  body text  ", "title"))
	assert.Equal(t, "title", bodyOrTitle("", "title"))
	assert.Equal(t, "title", bodyOrTitle("   \n", "title"))
}
