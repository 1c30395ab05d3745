package artifact

import (
	"crypto/sha256"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// chunkIDLen is the base58 prefix length kept for chunk identifiers.
const chunkIDLen = 16

// NewID returns a fresh artifact identifier.
func NewID() string {
	return uuid.NewString()
}

// Fingerprint returns the base58-encoded SHA-256 of content. Used as the
// artifact content hash for unchanged-detection.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return base58.Encode(sum[:])
}

// ChunkID derives a content-addressed chunk identifier. The artifact ID is
// mixed in so identical text in different artifacts never shares a row, which
// keeps per-artifact cascade deletes trivial.
func ChunkID(artifactID, content string) string {
	h := sha256.New()
	h.Write([]byte(artifactID))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return base58.Encode(h.Sum(nil))[:chunkIDLen]
}
