package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qacompanion/qac/artifact"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "README.md", "# readme")
	writeFile(t, dir, "main.go", "package main")
	writeFile(t, dir, ".hidden.md", "dotfile")
	writeFile(t, dir, "vendor/dep.go", "package dep")
	writeFile(t, dir, "node_modules/pkg/index.js", "module.exports = {}")
	writeFile(t, dir, "docs/design.md", "# design")

	t.Run("recursive walk skips dotfiles and dependency dirs", func(t *testing.T) {
		files, err := Discover(dir, Options{Recursive: true})
		require.NoError(t, err)

		names := make([]string, 0, len(files))
		for _, f := range files {
			names = append(names, f.Name)
		}
		assert.ElementsMatch(t, []string{"README.md", "main.go", "design.md"}, names)
	})

	t.Run("non-recursive stays at the top level", func(t *testing.T) {
		files, err := Discover(dir, Options{Recursive: false})
		require.NoError(t, err)

		names := make([]string, 0, len(files))
		for _, f := range files {
			names = append(names, f.Name)
		}
		assert.ElementsMatch(t, []string{"README.md", "main.go"}, names)
	})

	t.Run("extension filter narrows the walk", func(t *testing.T) {
		files, err := Discover(dir, Options{Recursive: true, Extensions: []string{".md"}})
		require.NoError(t, err)

		for _, f := range files {
			assert.Equal(t, ".md", f.Ext)
		}
		assert.Len(t, files, 2)
	})

	t.Run("extension filter accepts names without a dot", func(t *testing.T) {
		files, err := Discover(dir, Options{Recursive: true, Extensions: []string{"go"}})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "main.go", files[0].Name)
	})

	t.Run("single file root yields that file", func(t *testing.T) {
		path := filepath.Join(dir, "README.md")
		files, err := Discover(path, Options{})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, path, files[0].Path)
		assert.True(t, files[0].Readable)
	})

	t.Run("missing root is an error", func(t *testing.T) {
		_, err := Discover(filepath.Join(dir, "nope"), Options{})
		assert.Error(t, err)
	})

	t.Run("results are sorted by path", func(t *testing.T) {
		files, err := Discover(dir, Options{Recursive: true})
		require.NoError(t, err)
		for i := 1; i < len(files); i++ {
			assert.Less(t, files[i-1].Path, files[i].Path)
		}
	})
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(nil, nil, nil, nil)

	t.Run("oversized files are skipped with a reason", func(t *testing.T) {
		files := []FileInfo{
			{Path: "small.md", Name: "small.md", Ext: ".md", SizeMB: 0.1, Readable: true},
			{Path: "huge.md", Name: "huge.md", Ext: ".md", SizeMB: 50, Readable: true},
		}
		valid, skipped := p.Validate(files, Options{MaxFileSizeMB: 10})
		require.Len(t, valid, 1)
		require.Len(t, skipped, 1)
		assert.Equal(t, "huge.md", skipped[0].Name)
		assert.Equal(t, ReasonTooLarge, skipped[0].Reason)
	})

	t.Run("unsupported extensions are skipped", func(t *testing.T) {
		files := []FileInfo{
			{Path: "binary.exe", Name: "binary.exe", Ext: ".exe", Readable: true},
		}
		valid, skipped := p.Validate(files, Options{})
		assert.Empty(t, valid)
		require.Len(t, skipped, 1)
		assert.Equal(t, ReasonUnsupported, skipped[0].Reason)
	})

	t.Run("unreadable files are skipped first", func(t *testing.T) {
		files := []FileInfo{
			{Path: "gone.md", Name: "gone.md", Ext: ".md", Readable: false},
		}
		valid, skipped := p.Validate(files, Options{})
		assert.Empty(t, valid)
		require.Len(t, skipped, 1)
		assert.Equal(t, ReasonUnreadable, skipped[0].Reason)
	})

	t.Run("readable supported files pass", func(t *testing.T) {
		path := writeFile(t, dir, "notes.md", "# notes")
		files, err := Discover(path, Options{})
		require.NoError(t, err)

		valid, skipped := p.Validate(files, Options{MaxFileSizeMB: 10})
		assert.Len(t, valid, 1)
		assert.Empty(t, skipped)
	})
}

func TestLoaderExtensions(t *testing.T) {
	exts := LoaderExtensions(DefaultLoaders())
	assert.Contains(t, exts, ".md")
	assert.Contains(t, exts, ".go")
	assert.Contains(t, exts, ".pdf")
	assert.Contains(t, exts, ".xml")
	assert.Contains(t, exts, ".out")
}

func TestDefaultKind(t *testing.T) {
	assert.Equal(t, artifact.KindDesignDoc, DefaultKind("docs/notes.md"))
	assert.Equal(t, artifact.KindDesignDoc, DefaultKind("spec.PDF"))
	assert.Equal(t, artifact.KindTestResult, DefaultKind("report/junit.xml"))
	assert.Equal(t, artifact.KindTestResult, DefaultKind("coverage.out"))
	assert.Equal(t, artifact.KindSourceCode, DefaultKind("pkg/store.go"))
	assert.Equal(t, artifact.Kind(""), DefaultKind("photo.png"))
	assert.Equal(t, artifact.Kind(""), DefaultKind("Makefile"))
}

func TestSkipDir(t *testing.T) {
	assert.True(t, SkipDir(".git"))
	assert.True(t, SkipDir(".cache"))
	assert.True(t, SkipDir("node_modules"))
	assert.True(t, SkipDir("vendor"))
	assert.False(t, SkipDir("docs"))
	assert.False(t, SkipDir("src"))
}

func TestRelSourceID(t *testing.T) {
	assert.Equal(t, "docs/design.md", relSourceID("/repo", "/repo/docs/design.md"))
	assert.Equal(t, "design.md", relSourceID("/repo", "/elsewhere/design.md"))
	assert.Equal(t, "/abs/design.md", relSourceID("", "/abs/design.md"))
}
