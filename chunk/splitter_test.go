package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	s := NewSplitter(DefaultSize, DefaultOverlap)

	chunks := s.Split("the payment service retries three times before surfacing an error")
	require.Len(t, chunks, 1)
	assert.Equal(t, "the payment service retries three times before surfacing an error", chunks[0])
}

func TestSplit_WhitespaceOnlyYieldsNothing(t *testing.T) {
	s := NewSplitter(DefaultSize, DefaultOverlap)

	assert.Nil(t, s.Split(""))
	assert.Nil(t, s.Split("   \n\t  "))
}

func TestSplit_RespectsSizeLimit(t *testing.T) {
	s := NewSplitter(100, 20)

	text := strings.Repeat("release notes mention the ledger rollback procedure ", 30)
	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 100, "chunk %d exceeds size", i)
	}
}

func TestSplit_BreaksAtWordBoundaries(t *testing.T) {
	s := NewSplitter(40, 10)

	text := "incident review found the cache invalidation path never ran during failover"
	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)

	words := make(map[string]bool)
	for _, w := range strings.Fields(text) {
		words[w] = true
	}
	for _, c := range chunks {
		fields := strings.Fields(c)
		require.NotEmpty(t, fields)
		assert.True(t, words[fields[0]], "chunk starts mid-word: %q", fields[0])
		assert.True(t, words[fields[len(fields)-1]], "chunk ends mid-word: %q", fields[len(fields)-1])
	}
}

func TestSplit_OverlapCarriesContext(t *testing.T) {
	s := NewSplitter(50, 15)

	text := strings.Repeat("alpha beta gamma delta epsilon ", 10)
	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)

	// Each chunk begins inside the previous chunk's text
	for i := 1; i < len(chunks); i++ {
		firstWord := strings.Fields(chunks[i])[0]
		assert.Contains(t, chunks[i-1], firstWord,
			"chunk %d does not carry overlap from its predecessor", i)
	}
}

func TestSplit_NoDuplicateFinalChunk(t *testing.T) {
	// Overlap larger than the final remainder must not emit the same text twice
	s := NewSplitter(20, 15)

	chunks := s.Split("one two three four five six")
	for i := 1; i < len(chunks); i++ {
		assert.NotEqual(t, chunks[i-1], chunks[i], "consecutive duplicate chunk at %d", i)
	}
}

func TestSplit_HardCutsUnbrokenRuns(t *testing.T) {
	s := NewSplitter(30, 5)

	text := strings.Repeat("x", 100)
	chunks := s.Split(text)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 30)
	}
}

func TestSplit_UnicodeCountsRunes(t *testing.T) {
	s := NewSplitter(10, 2)

	text := strings.Repeat("日本語テキスト ", 20)
	chunks := s.Split(text)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 10)
	}
}

func TestAcceptable(t *testing.T) {
	tests := []struct {
		piece string
		want  bool
	}{
		{"", false},
		{"ok", false},
		{"x y", false},
		{"short text", true},        // 10 chars
		{"one two three", true},     // 3 words
		{"identifier", true},        // 10 chars, 1 word
		{"a b", false},              // 2 words, 3 chars
		{"go it is", true},          // 3 words under 10 chars
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Acceptable(tt.piece), "piece %q", tt.piece)
	}
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, WordCount(""))
	assert.Equal(t, 0, WordCount("   "))
	assert.Equal(t, 3, WordCount("alpha  beta\tgamma"))
}

func TestNewSplitter_ClampsInvalidValues(t *testing.T) {
	s := NewSplitter(0, -1)
	assert.Equal(t, DefaultSize, s.Size)
	assert.Equal(t, DefaultOverlap, s.Overlap)

	s = NewSplitter(50, 50)
	assert.Equal(t, 50, s.Size)
	assert.Less(t, s.Overlap, 50)
}
