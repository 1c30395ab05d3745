package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/jobs"
)

// newFakeEmbedServer serves the Ollama /api/embed contract with a fixed
// unit vector per input, so indexed and query vectors always match.
func newFakeEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vecs := make([][]float32, len(req.Input))
		for i := range vecs {
			vecs[i] = unitVector(384)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model":      req.Model,
			"embeddings": vecs,
		})
	}))
	t.Cleanup(stub.Close)
	return stub
}

func unitVector(dim int) []float32 {
	v := make([]float32, dim)
	v[0] = 1.0
	return v
}

// newEmbedTestServer creates a server whose embedding calls hit the
// fake Ollama endpoint instead of a real one.
func newEmbedTestServer(t *testing.T) *Server {
	t.Helper()
	db := createTestDB(t)
	cfg := testConfig()
	cfg.Embeddings.BaseURL = newFakeEmbedServer(t).URL

	srv, err := NewServer(db, ":memory:", cfg)
	require.NoError(t, err)
	return srv
}

// doRequest runs one request through the server's full route table.
func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// decodeBody decodes a JSON response into a generic map.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "response body: %s", rec.Body.String())
	return body
}

// seedArtifact saves an artifact with one indexed chunk.
func seedArtifact(t *testing.T, srv *Server, kind artifact.Kind, title, content string) *artifact.Artifact {
	t.Helper()
	a, _, err := srv.artifacts.Save(&artifact.Draft{
		Kind:     kind,
		SourceID: "seed/" + title,
		Title:    title,
		Content:  content,
		Repo:     "demo",
	})
	require.NoError(t, err)

	c := artifact.Chunk{
		ID:        a.ID + "-c0",
		Seq:       0,
		Content:   content,
		WordCount: len(strings.Fields(content)),
	}
	require.NoError(t, srv.artifacts.ReplaceChunks(a.ID, []artifact.Chunk{c}))
	require.NoError(t, srv.index.IndexChunk(context.Background(), c.ID, unitVector(384)))
	return a
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "running", body["state"])
	assert.Equal(t, float64(0), body["clients"])
	assert.Contains(t, body, "version")
}

func TestHandleStatus(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "running", body["state"])
	assert.Equal(t, false, body["watch_enabled"])

	database := body["database"].(map[string]interface{})
	assert.Equal(t, ":memory:", database["path"])

	embeddings := body["embeddings"].(map[string]interface{})
	assert.Equal(t, "all-minilm", embeddings["model"])
	assert.Equal(t, float64(384), embeddings["dimension"])

	artifacts := body["artifacts"].(map[string]interface{})
	assert.Equal(t, float64(0), artifacts["total"])

	assert.Contains(t, body, "queue")
	assert.Contains(t, body, "system")

	t.Run("method not allowed", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/status", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandleSearchValidation(t *testing.T) {
	srv := newTestServer(t)

	t.Run("missing query", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/search", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "Missing query parameter")
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/search?q=x", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandleSearch(t *testing.T) {
	srv := newEmbedTestServer(t)

	seedArtifact(t, srv, artifact.KindDesignDoc, "retry-design", "Exponential backoff design for flaky endpoints")
	seedArtifact(t, srv, artifact.KindBugReport, "retry-bug", "Retries hammer the endpoint without backoff")

	rec := doRequest(t, srv, http.MethodGet, "/api/search?q=backoff", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "backoff", body["query"])
	assert.Equal(t, float64(2), body["count"])

	results := body["results"].([]interface{})
	require.Len(t, results, 2)
	first := results[0].(map[string]interface{})
	assert.NotEmpty(t, first["artifact_id"])
	assert.NotEmpty(t, first["snippet"])
	assert.InDelta(t, 1.0, first["similarity"].(float64), 0.01)

	t.Run("kind filter", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/search?q=kind:bug_report+backoff", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, float64(1), body["count"])
		result := body["results"].([]interface{})[0].(map[string]interface{})
		assert.Equal(t, "bug_report", result["kind"])
	})

	t.Run("k limits results", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/search?q=backoff&k=1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
	})
}

func TestHandleAsk(t *testing.T) {
	srv := newTestServer(t)

	t.Run("no provider configured", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/ask", `{"question":"why do retries fail?"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("missing question", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/ask", `{"question":"  "}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "question")
	})

	t.Run("invalid body", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/ask", `{"question":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/ask", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandleArtifacts(t *testing.T) {
	srv := newEmbedTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/artifacts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["count"])

	seedArtifact(t, srv, artifact.KindDesignDoc, "cache-design", "Cache invalidation strategy")
	seedArtifact(t, srv, artifact.KindBugReport, "cache-bug", "Stale cache after deploy")

	rec = doRequest(t, srv, http.MethodGet, "/api/artifacts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])

	t.Run("kind filter", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/artifacts?kind=bug_report", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, float64(1), body["count"])
		listed := body["artifacts"].([]interface{})[0].(map[string]interface{})
		assert.Equal(t, "cache-bug", listed["title"])
	})

	t.Run("unknown kind", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/artifacts?kind=blueprint", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "Unknown artifact kind")
	})
}

func TestHandleArtifact(t *testing.T) {
	srv := newEmbedTestServer(t)
	a := seedArtifact(t, srv, artifact.KindDesignDoc, "flaky-tests",
		"# Flaky tests\n\n<script>alert('x')</script>\n\nQuarantine **immediately**.")

	rec := doRequest(t, srv, http.MethodGet, "/api/artifacts/"+a.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, a.ID, body["id"])
	assert.Equal(t, "flaky-tests", body["title"])
	assert.Contains(t, body["content"], "Quarantine")

	t.Run("unknown artifact", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/artifacts/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing id", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/artifacts/", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("chunks", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/artifacts/"+a.ID+"/chunks", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, a.ID, body["artifact_id"])
		assert.Equal(t, float64(1), body["count"])
	})

	t.Run("chunks of unknown artifact", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/artifacts/nope/chunks", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("trace", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/artifacts/"+a.ID+"/trace", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		nodes := body["nodes"].([]interface{})
		require.Len(t, nodes, 1)
		assert.Equal(t, a.ID, nodes[0].(map[string]interface{})["id"])
	})

	t.Run("html is sanitized", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/artifacts/"+a.ID+"/html", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

		html := rec.Body.String()
		assert.Contains(t, html, "<h1")
		assert.Contains(t, html, "<strong>immediately</strong>")
		assert.NotContains(t, html, "<script>")
	})

	t.Run("summary not stored", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/artifacts/"+a.ID+"/summary", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown sub-resource", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/artifacts/"+a.ID+"/blame", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleIngest(t *testing.T) {
	srv := newTestServer(t)
	dir := t.TempDir()

	rec := doRequest(t, srv, http.MethodPost, "/api/ingest", `{"source":"`+dir+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	jobID := body["job_id"].(string)
	assert.NotEmpty(t, jobID)
	assert.Equal(t, jobs.HandlerIngestFS, body["handler"])
	assert.Equal(t, string(jobs.StatusQueued), body["status"])
	assert.Equal(t, false, body["deduped"])

	t.Run("duplicate request dedupes", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/ingest", `{"source":"`+dir+`"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, true, body["deduped"])
		assert.Equal(t, jobID, body["job_id"])
	})

	t.Run("git type", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/ingest",
			`{"source":"`+dir+`","type":"git","since":"2026-01-01"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, jobs.HandlerIngestGit, decodeBody(t, rec)["handler"])
	})

	t.Run("unknown type", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/ingest", `{"source":"x","type":"svn"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "unknown ingest type")
	})

	t.Run("missing source", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/ingest", `{"type":"fs"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "source")
	})

	t.Run("unknown kind", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/ingest", `{"source":"x","kind":"blueprint"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/ingest", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandleJobs(t *testing.T) {
	srv := newTestServer(t)
	dir := t.TempDir()

	rec := doRequest(t, srv, http.MethodPost, "/api/ingest", `{"source":"`+dir+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decodeBody(t, rec)["job_id"].(string)

	rec = doRequest(t, srv, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
	listed := body["jobs"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, jobID, listed["id"])

	t.Run("get job", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/jobs/"+jobID, "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, jobID, body["id"])
		assert.Equal(t, string(jobs.StatusQueued), body["status"])
	})

	t.Run("unknown job", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/jobs/ghost", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing id", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/jobs/", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("cancel job", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodDelete, "/api/jobs/"+jobID, "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, jobID, body["job_id"])
		assert.Equal(t, string(jobs.StatusCancelled), body["status"])

		rec = doRequest(t, srv, http.MethodGet, "/api/jobs/"+jobID, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, string(jobs.StatusCancelled), decodeBody(t, rec)["status"])
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPatch, "/api/jobs/"+jobID, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandleUsage(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(24), body["window_hours"])

	stats := body["stats"].(map[string]interface{})
	assert.Equal(t, float64(0), stats["total_requests"])

	budget := body["budget"].(map[string]interface{})
	assert.Equal(t, float64(3), budget["daily_remaining"])

	t.Run("custom window", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/usage?hours=48", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(48), decodeBody(t, rec)["window_hours"])
	})
}

func TestHandleWatchers(t *testing.T) {
	srv := newTestServer(t)
	dir := t.TempDir()

	rec := doRequest(t, srv, http.MethodPost, "/api/watchers",
		`{"path":"`+dir+`","kinds":["design_doc"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decodeBody(t, rec)
	watcherID := created["id"].(string)
	assert.NotEmpty(t, watcherID)
	assert.Equal(t, dir, created["path"])
	assert.Equal(t, true, created["recursive"])
	assert.Equal(t, true, created["enabled"])

	t.Run("list", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/watchers", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
	})

	t.Run("get", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/watchers/"+watcherID, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, watcherID, decodeBody(t, rec)["id"])
	})

	t.Run("update", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPut, "/api/watchers/"+watcherID, `{"enabled":false}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, decodeBody(t, rec)["enabled"])

		rec = doRequest(t, srv, http.MethodGet, "/api/watchers?enabled=true", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(0), decodeBody(t, rec)["count"])
	})

	t.Run("update without id", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPut, "/api/watchers", `{"enabled":true}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing path on create", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/watchers", `{"kinds":["design_doc"]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown watcher", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/watchers/ghost", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodDelete, "/api/watchers/"+watcherID, "")
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = doRequest(t, srv, http.MethodGet, "/api/watchers/"+watcherID, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/search", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "qac_ask_total")
}
