package artifact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("payment service panics on nil receipt")
	b := Fingerprint("payment service panics on nil receipt")
	c := Fingerprint("payment service panics on nil receipt!")

	assert.Equal(t, a, b, "identical content must share a fingerprint")
	assert.NotEqual(t, a, c, "different content must not share a fingerprint")
	assert.NotEmpty(t, a)
}

func TestFingerprint_EmptyContent(t *testing.T) {
	assert.NotEmpty(t, Fingerprint(""), "empty content still fingerprints")
}

func TestChunkID(t *testing.T) {
	artifactA := NewID()
	artifactB := NewID()

	id1 := ChunkID(artifactA, "shared boilerplate text")
	id2 := ChunkID(artifactA, "shared boilerplate text")
	id3 := ChunkID(artifactB, "shared boilerplate text")

	assert.Equal(t, id1, id2, "same artifact and content must derive the same id")
	assert.NotEqual(t, id1, id3, "identical content in different artifacts must not collide")
	assert.Len(t, id1, chunkIDLen)
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.False(t, seen[id], "ids must be unique")
		assert.False(t, strings.Contains(id, " "))
		seen[id] = true
	}
}
