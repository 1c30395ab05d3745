package trace

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/search"
	"github.com/qacompanion/qac/sym"
)

// Heuristic links carry less confidence than manual ones. A fix verb is a
// stronger signal than a bare mention; a path match is weaker than either.
const (
	fixesConfidence     = 0.9
	referenceConfidence = 0.8
	testsConfidence     = 0.7

	// suggestInputRunes caps the text sent to the embedder for Suggest.
	suggestInputRunes = 2000
)

var (
	// #123 and GH-123 style references, or PROJ-456 style tracker keys.
	issueRefPattern = regexp.MustCompile(`(?:#|\bGH-)(\d+)\b|\b([A-Z][A-Z0-9]+-\d+)\b`)

	// fixes/closes/resolves followed by a reference upgrades the link kind.
	fixesRefPattern = regexp.MustCompile(`\b(?i:fixes|closes|resolves)\b[:\s]+(?:(?:#|GH-)(\d+)\b|([A-Z][A-Z0-9]+-\d+)\b)`)

	// Source file paths mentioned in test output.
	sourcePathPattern = regexp.MustCompile(`\b[\w./-]*\w\.(?:go|py|rb|js|jsx|ts|tsx|java|kt|rs|c|h|cc|cpp|hpp|cs|swift)\b`)
)

// Embedder is the part of the embedding service Suggest needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Linker derives trace links from artifact content and from semantic
// similarity.
type Linker struct {
	artifacts *artifact.Store
	links     *Store
	index     *search.Store
	embedder  Embedder
}

// NewLinker builds a linker. index and embedder may be nil when only
// ScanArtifact is used.
func NewLinker(artifacts *artifact.Store, links *Store, index *search.Store, embedder Embedder) *Linker {
	return &Linker{
		artifacts: artifacts,
		links:     links,
		index:     index,
		embedder:  embedder,
	}
}

// ScanArtifact extracts heuristic links from one artifact and persists
// them. Commits and RCAs link to the bug reports they mention; test
// results link to the source files named in failure output. Artifacts of
// other kinds produce no links.
func (l *Linker) ScanArtifact(a *artifact.Artifact) ([]Link, error) {
	if a == nil {
		return nil, errors.NewInvalidInputError("artifact is nil")
	}

	switch a.Kind {
	case artifact.KindCommit, artifact.KindRCA:
		return l.linkIssueRefs(a)
	case artifact.KindTestResult:
		return l.linkTestedSources(a)
	default:
		return nil, nil
	}
}

// linkIssueRefs links a to every bug report whose source id matches an
// issue reference in its title or content.
func (l *Linker) linkIssueRefs(a *artifact.Artifact) ([]Link, error) {
	refs := extractIssueRefs(a.Title + "\n" + a.Content)
	if len(refs) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(refs))
	for key := range refs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var created []Link
	for _, key := range keys {
		candidates, err := l.artifacts.FindBySourceSuffix(artifact.KindBugReport, a.Repo, key, "#")
		if err != nil {
			return created, err
		}
		for _, cand := range candidates {
			if cand.ID == a.ID {
				continue
			}
			link := Link{
				FromID:     a.ID,
				ToID:       cand.ID,
				Kind:       LinkReferences,
				Confidence: referenceConfidence,
				Origin:     OriginHeuristic,
			}
			if refs[key] {
				link.Kind = LinkFixes
				link.Confidence = fixesConfidence
			}
			if err := l.links.Add(&link); err != nil {
				return created, err
			}
			created = append(created, link)
		}
	}

	logger.Debugw(sym.Trace+" Issue reference scan completed",
		"artifact_id", a.ID,
		"refs", len(refs),
		"links", len(created),
	)
	return created, nil
}

// linkTestedSources links a test result to the source artifacts whose
// paths appear in its failure output.
func (l *Linker) linkTestedSources(a *artifact.Artifact) ([]Link, error) {
	paths := extractSourcePaths(a.Content)
	if len(paths) == 0 {
		return nil, nil
	}

	var created []Link
	for _, path := range paths {
		candidates, err := l.artifacts.FindBySourceSuffix(artifact.KindSourceCode, a.Repo, path, "/")
		if err != nil {
			return created, err
		}
		for _, cand := range candidates {
			if cand.ID == a.ID {
				continue
			}
			link := Link{
				FromID:     a.ID,
				ToID:       cand.ID,
				Kind:       LinkTests,
				Confidence: testsConfidence,
				Origin:     OriginHeuristic,
			}
			if err := l.links.Add(&link); err != nil {
				return created, err
			}
			created = append(created, link)
		}
	}

	logger.Debugw(sym.Trace+" Test path scan completed",
		"artifact_id", a.ID,
		"paths", len(paths),
		"links", len(created),
	)
	return created, nil
}

// Suggest returns up to k semantic link candidates for an artifact,
// ranked by similarity. Candidates are not persisted; similarity becomes
// the confidence when a candidate is accepted.
func (l *Linker) Suggest(ctx context.Context, artifactID string, k int) ([]Link, error) {
	if l.index == nil || l.embedder == nil {
		return nil, errors.New("semantic suggestions require an embedding service")
	}
	if k <= 0 {
		k = search.DefaultK
	}

	a, err := l.artifacts.Get(artifactID)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(a.Title + "\n\n" + a.Content)
	if runes := []rune(text); len(runes) > suggestInputRunes {
		text = string(runes[:suggestInputRunes])
	}

	vector, err := l.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.Wrapf(err, "embed artifact %s for suggestions", artifactID)
	}

	// The artifact's own chunks rank first, so ask for extra results.
	results, err := l.index.Search(ctx, vector, search.Options{K: k * 4})
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{artifactID: true}
	var suggestions []Link
	for _, r := range results {
		if seen[r.ArtifactID] || r.Similarity <= 0 {
			continue
		}
		seen[r.ArtifactID] = true
		suggestions = append(suggestions, Link{
			FromID:     artifactID,
			ToID:       r.ArtifactID,
			Kind:       LinkReferences,
			Confidence: r.Similarity,
			Origin:     OriginSemantic,
		})
		if len(suggestions) == k {
			break
		}
	}
	return suggestions, nil
}

// extractIssueRefs returns every issue reference in text, keyed by its
// normalized form, with true for references introduced by a fix verb.
func extractIssueRefs(text string) map[string]bool {
	refs := make(map[string]bool)
	for _, m := range issueRefPattern.FindAllStringSubmatch(text, -1) {
		key := m[1]
		if key == "" {
			key = m[2]
		}
		if _, ok := refs[key]; !ok {
			refs[key] = false
		}
	}
	for _, m := range fixesRefPattern.FindAllStringSubmatch(text, -1) {
		key := m[1]
		if key == "" {
			key = m[2]
		}
		refs[key] = true
	}
	return refs
}

// extractSourcePaths returns the unique source file paths in text, in
// order of first appearance.
func extractSourcePaths(text string) []string {
	var paths []string
	seen := make(map[string]bool)
	for _, match := range sourcePathPattern.FindAllString(text, -1) {
		if seen[match] {
			continue
		}
		seen[match] = true
		paths = append(paths, match)
	}
	return paths
}
