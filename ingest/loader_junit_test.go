package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qacompanion/qac/artifact"
)

const junitReport = `<?xml version="1.0" encoding="UTF-8"?>
<testsuites>
  <testsuite name="ledger" tests="3" failures="1" errors="0" skipped="0" time="0.42" timestamp="2026-03-14T09:00:00">
    <testcase classname="ledger" name="TestPost" time="0.10"/>
    <testcase classname="ledger" name="TestReconcile" time="0.20">
      <failure message="deadlock detected" type="timeout">goroutine stuck in ledger/post.go:88</failure>
    </testcase>
    <testcase classname="ledger" name="TestClose" time="0.12"/>
  </testsuite>
  <testsuite name="gateway" tests="1" failures="0" errors="0" skipped="0" time="0.05">
    <testcase classname="gateway" name="TestRoute" time="0.05"/>
  </testsuite>
</testsuites>`

const bareSuite = `<testsuite name="solo" tests="1" failures="0" errors="0" time="0.01">
  <testcase name="TestOnly" time="0.01"/>
</testsuite>`

func TestJUnitLoader_Load(t *testing.T) {
	dir := t.TempDir()
	l := &JUnitLoader{}

	t.Run("one artifact per suite", func(t *testing.T) {
		path := writeFile(t, dir, "report.xml", junitReport)
		drafts, err := l.Load(path, Options{Root: dir, Repo: "acme/payments"})
		require.NoError(t, err)
		require.Len(t, drafts, 2)

		first := drafts[0]
		assert.Equal(t, artifact.KindTestResult, first.Kind)
		assert.Equal(t, "report.xml#ledger", first.SourceID)
		assert.Equal(t, "ledger", first.Title)
		assert.Equal(t, "failed", first.Metadata["status"])
		assert.Equal(t, 3, first.Metadata["tests"])
		assert.Equal(t, 1, first.Metadata["failures"])
		assert.Contains(t, first.Content, "FAIL ledger.TestReconcile: deadlock detected")
		assert.Contains(t, first.Content, "ledger/post.go:88")

		second := drafts[1]
		assert.Equal(t, "passed", second.Metadata["status"])
		assert.Contains(t, second.Content, "All tests passed.")
	})

	t.Run("bare testsuite root parses", func(t *testing.T) {
		path := writeFile(t, dir, "solo.xml", bareSuite)
		drafts, err := l.Load(path, Options{Root: dir})
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, "solo", drafts[0].Title)
	})

	t.Run("non-junit xml is rejected", func(t *testing.T) {
		path := writeFile(t, dir, "pom.xml", "<project><version>1.0</version></project>")
		_, err := l.Load(path, Options{Root: dir})
		assert.Error(t, err)
	})

	t.Run("unnamed suite gets a positional name", func(t *testing.T) {
		path := writeFile(t, dir, "anon.xml", `<testsuite tests="1"><testcase name="T"/></testsuite>`)
		drafts, err := l.Load(path, Options{Root: dir})
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, "suite-1", drafts[0].Title)
	})
}
