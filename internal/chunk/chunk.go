// Package chunk splits raw text into overlapping segments for embedding.
//
// Splitting is deterministic: identical input and configuration always
// produce the identical sequence of chunks. Each chunk is an exact
// substring of the input, so joining chunks (minus the overlap) restores
// the original text.
package chunk

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidChunkSize indicates a non-positive chunk size.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidOverlap indicates a negative overlap or an overlap that
	// is not smaller than the chunk size.
	ErrInvalidOverlap = errors.New("invalid chunk overlap")
)

// separators are tried in priority order when looking for a split
// boundary: paragraph break, line break, sentence end, word boundary.
// A hard character cut is the final fallback.
var separators = []string{"\n\n", "\n", ". ", " "}

// Splitter divides text into chunks of at most Size bytes with
// approximately Overlap bytes shared between consecutive chunks.
//
// Overlap is exact when a window ends in a hard cut and approximate when
// a natural boundary shortens the window; this looseness is intentional
// and matches how downstream reconstruction treats chunk joints.
type Splitter struct {
	size    int
	overlap int
}

// New creates a Splitter. It fails fast on configuration errors so that
// a misconfigured pipeline never starts: size must be positive and
// overlap must satisfy 0 <= overlap < size.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d must be positive", ErrInvalidChunkSize, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidOverlap, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than size %d", ErrInvalidOverlap, overlap, size)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Size returns the configured maximum chunk size in bytes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap in bytes.
func (s *Splitter) Overlap() int { return s.overlap }

// Split divides text into ordered, non-empty chunks.
//
// Empty input yields a nil slice, not an error. Input no longer than the
// chunk size yields a single chunk with no overlap applied. Otherwise a
// window of at most Size bytes slides over the text; within each window
// the splitter prefers to end at the highest-priority separator found in
// the window's second half, and falls back to a hard cut at Size bytes
// when no separator qualifies.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= s.size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + s.size
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}

		if cut := s.boundary(text, start, end); cut > start {
			end = cut
		}
		chunks = append(chunks, text[start:end])

		next := end - s.overlap
		if next <= start {
			// Guarantee forward progress even with large overlaps
			// against short boundary cuts.
			next = end
		}
		start = next
	}
	return chunks
}

// boundary returns the best split position in text[start:limit], or 0 if
// no separator qualifies. Only boundaries in the second half of the
// window are considered, so a stray early newline cannot produce a
// degenerate, nearly-empty chunk.
func (s *Splitter) boundary(text string, start, limit int) int {
	min := start + s.size/2
	window := text[start:limit]

	for _, sep := range separators {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		cut := start + idx
		if sep == ". " {
			cut++ // keep the terminator with the sentence
		}
		if cut > min {
			return cut
		}
	}
	return 0
}
