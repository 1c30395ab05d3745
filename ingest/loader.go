package ingest

import (
	"path/filepath"
	"strings"

	"github.com/qacompanion/qac/artifact"
)

// Loader turns one file into artifact drafts. A loader may emit several
// drafts per file (a Go source file yields the file plus its doc comments;
// a JUnit report yields one artifact per suite).
type Loader interface {
	// Name identifies the loader in logs and reports.
	Name() string
	// CanLoad reports whether this loader accepts the file at path.
	CanLoad(path string) bool
	// Load reads the file and produces artifact drafts.
	Load(path string, opts Options) ([]*artifact.Draft, error)
}

// DefaultLoaders returns the loader registry in dispatch order. Earlier
// loaders win when extensions overlap, so the specific ones come first and
// the text loader acts as the catch-all for source files.
func DefaultLoaders() []Loader {
	return []Loader{
		&MarkdownLoader{},
		&PDFLoader{},
		&JUnitLoader{},
		&CoverLoader{},
		&TextLoader{},
	}
}

// DefaultKind reports how a file would classify when nothing overrides the
// loaders: markdown and PDFs read as design docs, JUnit suites and coverage
// profiles as test results, and everything the text loader accepts as source
// code. Empty when no loader takes the extension. Frontmatter can still
// reclassify a markdown file at load time, so this is a pre-read guess.
func DefaultKind(path string) artifact.Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".pdf":
		return artifact.KindDesignDoc
	case ".xml", ".out":
		return artifact.KindTestResult
	}
	if (&TextLoader{}).CanLoad(path) {
		return artifact.KindSourceCode
	}
	return ""
}

// LoaderExtensions collects every extension the registry accepts, deduplicated.
func LoaderExtensions(loaders []Loader) []string {
	seen := map[string]bool{}
	var exts []string
	for _, l := range loaders {
		for ext := range extensionsOf(l) {
			if !seen[ext] {
				seen[ext] = true
				exts = append(exts, ext)
			}
		}
	}
	return exts
}

// extensionsOf probes a loader's CanLoad against known extensions. Loaders
// only inspect the extension, so a synthetic path is enough.
func extensionsOf(l Loader) map[string]bool {
	known := []string{
		".md", ".markdown", ".pdf", ".xml", ".out", ".txt",
		".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".java", ".kt",
		".rs", ".rb", ".c", ".h", ".cc", ".cpp", ".hpp", ".cs",
		".swift", ".sh", ".sql", ".proto", ".yaml", ".yml", ".toml", ".json",
	}
	exts := map[string]bool{}
	for _, ext := range known {
		if l.CanLoad("probe" + ext) {
			exts[ext] = true
		}
	}
	return exts
}

// relSourceID derives a stable source id for a file: its path relative to
// the run root, or the base name when outside it.
func relSourceID(root, path string) string {
	if root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}
