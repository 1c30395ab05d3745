package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
)

func TestParseQuery(t *testing.T) {
	t.Run("bare words form the query", func(t *testing.T) {
		query, opts, err := ParseQuery("payment gateway timeout")
		require.NoError(t, err)
		assert.Equal(t, "payment gateway timeout", query)
		assert.Empty(t, opts.Kinds)
		assert.Empty(t, opts.Repo)
	})

	t.Run("kind filter", func(t *testing.T) {
		query, opts, err := ParseQuery("kind:bug_report checkout fails")
		require.NoError(t, err)
		assert.Equal(t, "checkout fails", query)
		assert.Equal(t, []artifact.Kind{artifact.KindBugReport}, opts.Kinds)
	})

	t.Run("multiple kind filters accumulate", func(t *testing.T) {
		query, opts, err := ParseQuery("kind:bug_report kind:rca flaky test")
		require.NoError(t, err)
		assert.Equal(t, "flaky test", query)
		assert.Equal(t, []artifact.Kind{artifact.KindBugReport, artifact.KindRCA}, opts.Kinds)
	})

	t.Run("repo filter", func(t *testing.T) {
		query, opts, err := ParseQuery("repo:acme/payments retries")
		require.NoError(t, err)
		assert.Equal(t, "retries", query)
		assert.Equal(t, "acme/payments", opts.Repo)
	})

	t.Run("quoted phrases survive intact", func(t *testing.T) {
		query, opts, err := ParseQuery(`kind:design_doc "exactly once delivery"`)
		require.NoError(t, err)
		assert.Equal(t, "exactly once delivery", query)
		assert.Equal(t, []artifact.Kind{artifact.KindDesignDoc}, opts.Kinds)
	})

	t.Run("unknown kind is rejected", func(t *testing.T) {
		_, _, err := ParseQuery("kind:nonsense text")
		require.Error(t, err)
		assert.True(t, errors.IsInvalidInput(err))
		assert.Contains(t, err.Error(), "nonsense")
	})

	t.Run("empty repo value is rejected", func(t *testing.T) {
		_, _, err := ParseQuery("repo: text")
		require.Error(t, err)
		assert.True(t, errors.IsInvalidInput(err))
	})

	t.Run("filters without terms are rejected", func(t *testing.T) {
		_, _, err := ParseQuery("kind:bug_report")
		require.Error(t, err)
		assert.True(t, errors.IsInvalidInput(err))
	})

	t.Run("unbalanced quotes are rejected", func(t *testing.T) {
		_, _, err := ParseQuery(`broken "quote`)
		require.Error(t, err)
		assert.True(t, errors.IsInvalidInput(err))
	})
}

func TestSnippet(t *testing.T) {
	t.Run("short content passes through", func(t *testing.T) {
		assert.Equal(t, "short text", snippet("short text"))
	})

	t.Run("whitespace collapses", func(t *testing.T) {
		assert.Equal(t, "a b c", snippet("a\n\tb   c"))
	})

	t.Run("long content truncates with ellipsis", func(t *testing.T) {
		long := strings.Repeat("word ", 100)
		got := snippet(long)
		assert.LessOrEqual(t, len([]rune(got)), snippetRunes+1)
		assert.True(t, strings.HasSuffix(got, "…"))
	})
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, DefaultK, opts.K)
	assert.Equal(t, DefaultThreshold, opts.Threshold)
}
