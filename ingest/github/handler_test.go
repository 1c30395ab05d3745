package github

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/jobs"
)

func newGitHubHandler(t *testing.T, serverHandler http.Handler) (*Handler, *artifact.Store, *jobs.Queue) {
	t.Helper()
	ing, artifacts, queue := newTestIngester(t, serverHandler)
	return NewHandler(ing, queue), artifacts, queue
}

func ghJob(t *testing.T, payload Payload) *jobs.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	job, err := jobs.NewJob(jobs.HandlerIngestGitHub, payload.Source, raw, 0, 0)
	require.NoError(t, err)
	return job
}

func TestHandler_Execute(t *testing.T) {
	h, artifacts, _ := newGitHubHandler(t, fixtureHandler(t))

	job := ghJob(t, Payload{Source: "acme/payments"})
	require.NoError(t, h.Execute(context.Background(), job))

	assert.Equal(t, 4, job.Progress.Current, "two issues and two pulls stored")
	assert.Equal(t, 4, job.Progress.Total, "total settles on the stored count")

	counts, err := artifacts.CountByKind()
	require.NoError(t, err)
	assert.Equal(t, 3, counts[artifact.KindBugReport])
	assert.Equal(t, 1, counts[artifact.KindDesignDoc])
}

func TestHandler_SincePayload(t *testing.T) {
	h, artifacts, _ := newGitHubHandler(t, fixtureHandler(t))

	job := ghJob(t, Payload{Source: "acme/payments", Since: "2026-06-09"})
	require.NoError(t, h.Execute(context.Background(), job))

	_, err := artifacts.GetBySourceID(artifact.KindBugReport, "payments", "acme/payments#111")
	assert.True(t, errors.IsNotFound(err), "stale pull is cut off by since")
}

func TestHandler_BadPayloads(t *testing.T) {
	h, _, _ := newGitHubHandler(t, http.NotFoundHandler())
	ctx := context.Background()

	t.Run("malformed json", func(t *testing.T) {
		job, err := jobs.NewJob(jobs.HandlerIngestGitHub, "x", json.RawMessage(`{not json`), 0, 0)
		require.NoError(t, err)
		assert.True(t, errors.IsInvalidInput(h.Execute(ctx, job)))
	})

	t.Run("missing source", func(t *testing.T) {
		job := ghJob(t, Payload{})
		assert.True(t, errors.IsInvalidInput(h.Execute(ctx, job)))
	})

	t.Run("bad since", func(t *testing.T) {
		job := ghJob(t, Payload{Source: "acme/payments", Since: "yesterday"})
		assert.True(t, errors.IsInvalidInput(h.Execute(ctx, job)))
	})

	t.Run("bad repository", func(t *testing.T) {
		job := ghJob(t, Payload{Source: "payments"})
		assert.True(t, errors.IsInvalidInput(h.Execute(ctx, job)))
	})
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseSince("2026-06-09")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 9, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2026-06-09T12:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 12, got.Hour())

	_, err = parseSince("last week")
	assert.True(t, errors.IsInvalidInput(err))
}

func TestHandler_Name(t *testing.T) {
	h, _, _ := newGitHubHandler(t, http.NotFoundHandler())
	assert.Equal(t, jobs.HandlerIngestGitHub, h.Name())
}
