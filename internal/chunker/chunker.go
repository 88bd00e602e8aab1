// Package chunker splits file content into overlapping, bounded windows.
//
// Lengths are counted in Unicode code points. Every chunk holds at most the
// configured size, and adjacent chunks of the same text share exactly the
// configured overlap.
package chunker

import "github.com/fyrsmithlabs/repochat/internal/repository"

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of characters shared by
// adjacent chunks.
const DefaultChunkOverlap = 200

// Chunk is one window of a source file.
type Chunk struct {
	Text     string
	FileName string
	FilePath string // relative to the workspace root
	Language string
	Source   string // path on disk
	Number   int    // 0-based position within the file
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the maximum chunk length. Non-positive values are ignored.
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.size = size
		}
	}
}

// WithOverlap sets the overlap between chunks. Negative values become zero.
func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		s.overlap = max(overlap, 0)
	}
}

// WithBoundaries toggles pulling a window's end back to a line break or
// space. It is on by default.
func WithBoundaries(enabled bool) Option {
	return func(s *Splitter) { s.boundaries = enabled }
}

// Splitter produces chunks.
type Splitter struct {
	size       int
	overlap    int
	boundaries bool
}

// New creates a Splitter. An overlap that is not smaller than the chunk size
// is reduced to a quarter of it.
func New(opts ...Option) *Splitter {
	s := &Splitter{
		size:       DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		boundaries: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.size {
		s.overlap = s.size / 4
	}
	return s
}

// Size returns the maximum chunk length.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the number of characters shared by adjacent chunks.
func (s *Splitter) Overlap() int { return s.overlap }

// Split cuts text into windows. Empty text yields nil and text no longer
// than the chunk size yields itself.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)
	if n <= s.size {
		return []string{text}
	}

	out := make([]string, 0, n/(s.size-s.overlap)+1)
	start := 0
	for {
		end := min(start+s.size, n)
		if end < n && s.boundaries {
			end = s.boundary(runes, start, end)
		}
		out = append(out, string(runes[start:end]))
		if end == n {
			return out
		}
		start = end - s.overlap
	}
}

// boundary moves end back to just after the last newline, or failing that
// the last space, found in the final quarter of the window. The new end
// stays beyond start+overlap so the next window still advances.
func (s *Splitter) boundary(runes []rune, start, end int) int {
	lo := max(end-s.size/4, start+s.overlap+1)
	for _, sep := range [...]rune{'\n', ' '} {
		for i := end; i > lo; i-- {
			if runes[i-1] == sep {
				return i
			}
		}
	}
	return end
}

// ChunkOf splits the content of f and tags each piece with f's metadata.
func (s *Splitter) ChunkOf(f repository.SourceFile) []Chunk {
	texts := s.Split(f.Content)
	if len(texts) == 0 {
		return nil
	}
	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{
			Text:     text,
			FileName: f.Name,
			FilePath: f.RelPath,
			Language: f.Language,
			Source:   f.Path,
			Number:   i,
		}
	}
	return chunks
}
