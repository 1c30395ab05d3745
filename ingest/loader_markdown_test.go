package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
)

const rcaDoc = `---
title: Payment outage 2026-03-14
kind: rca
tags: [payments, sev1]
links: ["#214"]
---

# What happened

The ledger writer deadlocked under concurrent posts.

# Root cause

A lock ordering inversion between Post and Reconcile.
`

func TestMarkdownLoader_CanLoad(t *testing.T) {
	l := &MarkdownLoader{}
	assert.True(t, l.CanLoad("design.md"))
	assert.True(t, l.CanLoad("notes.MARKDOWN"))
	assert.False(t, l.CanLoad("main.go"))
}

func TestMarkdownLoader_Load(t *testing.T) {
	dir := t.TempDir()
	l := &MarkdownLoader{}

	t.Run("frontmatter drives kind, title, and metadata", func(t *testing.T) {
		path := writeFile(t, dir, "outage.md", rcaDoc)
		drafts, err := l.Load(path, Options{Root: dir, Repo: "acme/payments"})
		require.NoError(t, err)
		require.Len(t, drafts, 1)

		d := drafts[0]
		assert.Equal(t, artifact.KindRCA, d.Kind)
		assert.Equal(t, "Payment outage 2026-03-14", d.Title)
		assert.Equal(t, "outage.md", d.SourceID)
		assert.Equal(t, []string{"payments", "sev1"}, d.Metadata["tags"])
		assert.Equal(t, []string{"#214"}, d.Metadata["links"])
		assert.NotContains(t, d.Content, "title:", "frontmatter must not leak into content")
		assert.Contains(t, d.Content, "lock ordering inversion")
	})

	t.Run("no frontmatter defaults to design_doc with heading title", func(t *testing.T) {
		path := writeFile(t, dir, "plain.md", "# Retry strategy\n\nExponential backoff with jitter.\n")
		drafts, err := l.Load(path, Options{Root: dir})
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, artifact.KindDesignDoc, drafts[0].Kind)
		assert.Equal(t, "Retry strategy", drafts[0].Title)
	})

	t.Run("no heading falls back to the file name", func(t *testing.T) {
		path := writeFile(t, dir, "fragment.md", "just a paragraph of notes\n")
		drafts, err := l.Load(path, Options{Root: dir})
		require.NoError(t, err)
		assert.Equal(t, "fragment.md", drafts[0].Title)
	})

	t.Run("unknown frontmatter kind is invalid input", func(t *testing.T) {
		path := writeFile(t, dir, "weird.md", "---\nkind: screenplay\n---\n\nbody\n")
		_, err := l.Load(path, Options{Root: dir})
		assert.True(t, errors.IsInvalidInput(err))
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		path := writeFile(t, dir, "bad.md", "---\ntitle: [unclosed\n---\n\nbody\n")
		_, err := l.Load(path, Options{Root: dir})
		assert.Error(t, err)
	})

	t.Run("empty body is invalid input", func(t *testing.T) {
		path := writeFile(t, dir, "hollow.md", "---\ntitle: nothing\n---\n\n  \n")
		_, err := l.Load(path, Options{Root: dir})
		assert.True(t, errors.IsInvalidInput(err))
	})

	t.Run("unclosed frontmatter fence is treated as body", func(t *testing.T) {
		path := writeFile(t, dir, "dashes.md", "---\nnot frontmatter, just a rule\n")
		drafts, err := l.Load(path, Options{Root: dir})
		require.NoError(t, err)
		assert.Contains(t, drafts[0].Content, "just a rule")
	})
}

func TestSplitSections(t *testing.T) {
	t.Run("splits at headings", func(t *testing.T) {
		body := "intro paragraph\n\n# First\n\nalpha\n\n## Second\n\nbeta\n"
		sections := SplitSections(body)
		require.Len(t, sections, 3)
		assert.Equal(t, "intro paragraph", sections[0])
		assert.Contains(t, sections[1], "# First")
		assert.Contains(t, sections[1], "alpha")
		assert.Contains(t, sections[2], "## Second")
	})

	t.Run("no headings keeps the body whole", func(t *testing.T) {
		sections := SplitSections("one paragraph\n\nanother paragraph\n")
		require.Len(t, sections, 1)
	})

	t.Run("heading at start yields no empty lead section", func(t *testing.T) {
		sections := SplitSections("# Title\n\ncontent\n")
		require.Len(t, sections, 1)
		assert.Contains(t, sections[0], "# Title")
	})
}
