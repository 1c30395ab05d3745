// Package search maintains the vector index over artifact chunks and
// answers semantic queries against it. Vectors live in the vec_embeddings
// virtual table keyed by the embeddings metadata rowid; queries run as
// sqlite-vec KNN scans joined back to chunks and artifacts.
package search

import (
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
)

// Retrieval defaults. Similarity is 1 - L2distance/2 over unit-normalized
// vectors, so 0.7 keeps only results within a fairly tight cone.
const (
	DefaultK         = 5
	DefaultThreshold = 0.7

	// Kind and repo filters are applied after the KNN scan returns, so
	// filtered searches ask the index for extra candidates.
	overFetchFactor = 4

	snippetRunes = 240
)

// Options controls a semantic search.
type Options struct {
	K         int             // number of results; <= 0 means DefaultK
	Threshold float64         // minimum similarity; 0 disables the floor
	Kinds     []artifact.Kind // restrict to these artifact kinds
	Repo      string          // restrict to one repository
}

// DefaultOptions returns the standard retrieval settings.
func DefaultOptions() Options {
	return Options{K: DefaultK, Threshold: DefaultThreshold}
}

// Result is one retrieved chunk with its provenance.
type Result struct {
	ChunkID    string        `json:"chunk_id"`
	ArtifactID string        `json:"artifact_id"`
	Kind       artifact.Kind `json:"kind"`
	Title      string        `json:"title"`
	SourceID   string        `json:"source_id"`
	Snippet    string        `json:"snippet"`
	Similarity float64       `json:"similarity"`
}

// ParseQuery splits a raw query string into search terms and filters.
// Tokens follow shell quoting rules. kind:<kind> and repo:<name> tokens
// become filters; everything else is the semantic query.
func ParseQuery(raw string) (string, Options, error) {
	var opts Options

	tokens, err := shellquote.Split(raw)
	if err != nil {
		return "", opts, errors.Wrapf(errors.ErrInvalidInput, "parse query: %v", err)
	}

	var terms []string
	for _, token := range tokens {
		switch {
		case strings.HasPrefix(token, "kind:"):
			value := strings.TrimPrefix(token, "kind:")
			kind := artifact.Kind(value)
			if !artifact.ValidKind(kind) {
				return "", opts, errors.NewInvalidInputError("unknown artifact kind %q", value)
			}
			opts.Kinds = append(opts.Kinds, kind)
		case strings.HasPrefix(token, "repo:"):
			value := strings.TrimPrefix(token, "repo:")
			if value == "" {
				return "", opts, errors.NewInvalidInputError("repo: filter requires a value")
			}
			opts.Repo = value
		default:
			terms = append(terms, token)
		}
	}

	query := strings.Join(terms, " ")
	if query == "" {
		return "", opts, errors.NewInvalidInputError("query has no search terms")
	}
	return query, opts, nil
}

// snippet trims chunk content down to a display excerpt.
func snippet(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) <= snippetRunes {
		return content
	}
	return strings.TrimSpace(string(runes[:snippetRunes])) + "…"
}
