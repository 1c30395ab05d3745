// Package trace records directed links between artifacts and derives new
// ones, either from textual heuristics (issue keys in commit messages,
// file paths in test failures) or from semantic similarity. Links carry a
// confidence and remember how they were created.
package trace

import (
	"time"

	"github.com/qacompanion/qac/artifact"
)

// LinkKind classifies the relationship a link asserts.
type LinkKind string

const (
	LinkReferences  LinkKind = "references"
	LinkFixes       LinkKind = "fixes"
	LinkTests       LinkKind = "tests"
	LinkDerivedFrom LinkKind = "derived_from"
	LinkDuplicates  LinkKind = "duplicates"
)

// LinkKinds lists every valid link kind.
var LinkKinds = []LinkKind{LinkReferences, LinkFixes, LinkTests, LinkDerivedFrom, LinkDuplicates}

// ValidLinkKind reports whether k is a known link kind.
func ValidLinkKind(k LinkKind) bool {
	for _, known := range LinkKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Origin records how a link came to exist.
type Origin string

const (
	OriginHeuristic Origin = "heuristic"
	OriginManual    Origin = "manual"
	OriginSemantic  Origin = "semantic"
)

// Link is a directed edge between two artifacts. A (from, to, kind)
// triple is unique; re-adding it keeps the higher confidence.
type Link struct {
	ID         int64     `json:"id"`
	FromID     string    `json:"from_id"`
	ToID       string    `json:"to_id"`
	Kind       LinkKind  `json:"kind"`
	Confidence float64   `json:"confidence"`
	Origin     Origin    `json:"origin"`
	CreatedAt  time.Time `json:"created_at"`
}

// Node is an artifact as it appears in a trace graph.
type Node struct {
	ID       string        `json:"id"`
	Kind     artifact.Kind `json:"kind"`
	Title    string        `json:"title"`
	SourceID string        `json:"source_id"`
}

// Graph is the subgraph returned by Neighborhood: every artifact reached
// within the requested depth plus the links connecting them.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}
