// Package artifact defines the knowledge-base domain types and their SQLite
// store. An artifact is one ingested engineering record (a source file, a
// commit, a bug report, a design document); chunks are its retrieval units.
package artifact

import (
	"encoding/json"
	"time"
)

// Kind classifies an artifact by the engineering activity that produced it.
type Kind string

const (
	KindSourceCode  Kind = "source_code"
	KindCommit      Kind = "commit"
	KindCodeComment Kind = "code_comment"
	KindDesignDoc   Kind = "design_doc"
	KindBugReport   Kind = "bug_report"
	KindTestResult  Kind = "test_result"
	KindRCA         Kind = "rca"
	KindRequirement Kind = "requirement"
)

// Kinds lists every valid artifact kind in display order.
var Kinds = []Kind{
	KindSourceCode,
	KindCommit,
	KindCodeComment,
	KindDesignDoc,
	KindBugReport,
	KindTestResult,
	KindRCA,
	KindRequirement,
}

// ValidKind reports whether k names a known artifact kind.
func ValidKind(k Kind) bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Artifact is one ingested engineering artifact. SourceID is the stable
// external identity (file path, commit hash, issue URL); ContentHash is the
// fingerprint used to detect unchanged re-ingestion.
type Artifact struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	SourceID    string          `json:"source_id"`
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	Repo        string          `json:"repo,omitempty"`
	Author      string          `json:"author,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	ContentHash string          `json:"content_hash"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	IngestedAt  time.Time       `json:"ingested_at"`
}

// Chunk is one retrieval unit of an artifact's content. The ID is
// content-addressed, so an unchanged chunk keeps its embedding across
// re-ingestion.
type Chunk struct {
	ID         string    `json:"id"`
	ArtifactID string    `json:"artifact_id"`
	Seq        int       `json:"seq"`
	Content    string    `json:"content"`
	WordCount  int       `json:"word_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Draft is a pre-persistence artifact produced by loaders. Metadata is
// marshaled to JSON on save.
type Draft struct {
	Kind     Kind
	SourceID string
	Title    string
	Content  string
	Repo     string
	Author   string
	Metadata map[string]interface{}
}
