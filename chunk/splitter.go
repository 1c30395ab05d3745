// Package chunk splits artifact content into overlapping retrieval units.
package chunk

import (
	"strings"
	"unicode"
)

// Defaults match the knowledge-base text processing settings.
const (
	DefaultSize    = 1000
	DefaultOverlap = 100
)

// Quality floor: pieces with fewer than minWords words and fewer than
// minChars characters carry no retrieval signal and are discarded.
const (
	minWords = 3
	minChars = 10
)

// Splitter produces character-bounded chunks that break at word boundaries.
// Overlap carries trailing context into the next chunk so sentences spanning
// a boundary stay retrievable.
type Splitter struct {
	Size    int
	Overlap int
}

// NewSplitter returns a splitter with size and overlap, falling back to the
// defaults for non-positive size or an overlap that is negative or would
// prevent forward progress.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
		if overlap >= size {
			overlap = size / 10
		}
	}
	return &Splitter{Size: size, Overlap: overlap}
}

// Split divides text into chunks of at most Size characters. Cuts land after
// the last word boundary inside the window; a window without any boundary is
// cut hard. Whitespace-only input yields nothing.
func (s *Splitter) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	size := s.Size
	if size <= 0 {
		size = DefaultSize
	}
	overlap := s.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			boundary := end
			for boundary > start && !unicode.IsSpace(runes[boundary-1]) {
				boundary--
			}
			if boundary > start {
				end = boundary
			}
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if Acceptable(piece) && (len(chunks) == 0 || piece != chunks[len(chunks)-1]) {
			chunks = append(chunks, piece)
		}

		if end >= len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		// Align the overlap start to the next word boundary so chunks never
		// begin mid-word. A boundary-free window degrades to zero overlap.
		for next < end && next > 0 && !unicode.IsSpace(runes[next-1]) {
			next++
		}
		start = next
	}

	return chunks
}

// Acceptable reports whether piece clears the quality floor.
func Acceptable(piece string) bool {
	if piece == "" {
		return false
	}
	return WordCount(piece) >= minWords || len([]rune(piece)) >= minChars
}

// WordCount counts whitespace-separated words.
func WordCount(piece string) int {
	return len(strings.Fields(piece))
}
