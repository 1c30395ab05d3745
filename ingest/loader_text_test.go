package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
)

const goSample = `// Package ledger posts and reconciles payment entries.
package ledger

// Poster writes entries to the ledger.
type Poster struct{}

// Post records one entry. It returns the assigned sequence number.
func (p *Poster) Post(amount int) (int, error) {
	return 0, nil
}

// MaxBatch bounds entries per call.
const MaxBatch = 100

func internalHelper() {}
`

func TestTextLoader_CanLoad(t *testing.T) {
	l := &TextLoader{}
	assert.True(t, l.CanLoad("main.go"))
	assert.True(t, l.CanLoad("notes.TXT"))
	assert.True(t, l.CanLoad("schema.sql"))
	assert.False(t, l.CanLoad("doc.md"))
	assert.False(t, l.CanLoad("binary.exe"))
}

func TestTextLoader_Load(t *testing.T) {
	dir := t.TempDir()
	l := &TextLoader{}

	t.Run("plain text becomes one source_code draft", func(t *testing.T) {
		path := writeFile(t, dir, "notes.txt", "remember to rotate the API key")
		drafts, err := l.Load(path, Options{Root: dir, Repo: "acme/payments"})
		require.NoError(t, err)
		require.Len(t, drafts, 1)

		d := drafts[0]
		assert.Equal(t, artifact.KindSourceCode, d.Kind)
		assert.Equal(t, "notes.txt", d.SourceID)
		assert.Equal(t, "notes.txt", d.Title)
		assert.Equal(t, "acme/payments", d.Repo)
		assert.Equal(t, 1, d.Metadata["lines"])
	})

	t.Run("kind override applies", func(t *testing.T) {
		path := writeFile(t, dir, "req.txt", "the system shall retry failed posts")
		drafts, err := l.Load(path, Options{Root: dir, Kind: artifact.KindRequirement})
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, artifact.KindRequirement, drafts[0].Kind)
	})

	t.Run("empty file is invalid input", func(t *testing.T) {
		path := writeFile(t, dir, "empty.txt", "   \n")
		_, err := l.Load(path, Options{Root: dir})
		assert.True(t, errors.IsInvalidInput(err))
	})

	t.Run("binary content is invalid input", func(t *testing.T) {
		path := writeFile(t, dir, "blob.txt", "ok\xff\xfe\xfdnot-utf8")
		_, err := l.Load(path, Options{Root: dir})
		assert.True(t, errors.IsInvalidInput(err))
	})
}

func TestTextLoader_GoDocComments(t *testing.T) {
	dir := t.TempDir()
	l := &TextLoader{}
	path := writeFile(t, dir, "ledger.go", goSample)

	drafts, err := l.Load(path, Options{Root: dir, Repo: "acme/payments"})
	require.NoError(t, err)

	// File itself plus package, type, method, and const docs. The
	// undocumented helper yields nothing.
	require.Len(t, drafts, 5)
	assert.Equal(t, artifact.KindSourceCode, drafts[0].Kind)

	bySymbol := map[string]*artifact.Draft{}
	for _, d := range drafts[1:] {
		assert.Equal(t, artifact.KindCodeComment, d.Kind)
		bySymbol[d.Metadata["symbol"].(string)] = d
	}

	require.Contains(t, bySymbol, "package")
	assert.Contains(t, bySymbol["package"].Content, "posts and reconciles")
	assert.Equal(t, "package ledger", bySymbol["package"].Title)

	require.Contains(t, bySymbol, "Poster")
	require.Contains(t, bySymbol, "Poster.Post")
	assert.Equal(t, "ledger.go#Poster.Post", bySymbol["Poster.Post"].SourceID)
	assert.Contains(t, bySymbol["Poster.Post"].Content, "assigned sequence number")

	require.Contains(t, bySymbol, "MaxBatch")
}

func TestTextLoader_GoParseFailureStillIngestsFile(t *testing.T) {
	dir := t.TempDir()
	l := &TextLoader{}
	path := writeFile(t, dir, "broken.go", "package {{{ not go")

	drafts, err := l.Load(path, Options{Root: dir})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, artifact.KindSourceCode, drafts[0].Kind)
}

func TestTextLoader_KindOverrideSuppressesDocExtraction(t *testing.T) {
	dir := t.TempDir()
	l := &TextLoader{}
	path := writeFile(t, dir, "ledger.go", goSample)

	drafts, err := l.Load(path, Options{Root: dir, Kind: artifact.KindDesignDoc})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
}
