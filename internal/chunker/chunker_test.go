package chunker

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/repochat/internal/repository"
)

func randomText(r *rand.Rand, n int) string {
	alphabet := []rune("abcdefghij klmnop\nqrstuvwxyzé日本")
	out := make([]rune, n)
	for i := range out {
		out[i] = alphabet[r.Intn(len(alphabet))]
	}
	return string(out)
}

// assertInvariants checks size bounds, exact overlap and lossless
// reassembly.
func assertInvariants(t *testing.T, s *Splitter, text string, chunks []string) {
	t.Helper()
	require.NotEmpty(t, chunks)
	var rebuilt strings.Builder
	for i, c := range chunks {
		runes := []rune(c)
		assert.LessOrEqual(t, len(runes), s.Size(), "chunk %d too long", i)
		assert.NotEmpty(t, runes, "chunk %d empty", i)
		if i == 0 {
			rebuilt.WriteString(c)
			continue
		}
		prev := []rune(chunks[i-1])
		require.GreaterOrEqual(t, len(prev), s.Overlap())
		require.Greater(t, len(runes), s.Overlap(), "chunk %d adds no new text", i)
		assert.Equal(t, string(prev[len(prev)-s.Overlap():]), string(runes[:s.Overlap()]), "overlap between %d and %d", i-1, i)
		rebuilt.WriteString(string(runes[s.Overlap():]))
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestSplit_Empty(t *testing.T) {
	assert.Empty(t, New().Split(""))
}

func TestSplit_ShortTextIsSingleChunk(t *testing.T) {
	s := New()
	for _, text := range []string{"x", strings.Repeat("a", 600), strings.Repeat("日", DefaultChunkSize)} {
		assert.Equal(t, []string{text}, s.Split(text))
	}
}

func TestSplit_FixedWindows(t *testing.T) {
	s := New(WithChunkSize(10), WithOverlap(3), WithBoundaries(false))
	got := s.Split("abcdefghijklmnopqrstuvwxyz")
	assert.Equal(t, []string{"abcdefghij", "hijklmnopq", "opqrstuvwx", "vwxyz"}, got)
}

func TestSplit_CountsRunesNotBytes(t *testing.T) {
	s := New(WithChunkSize(4), WithOverlap(1), WithBoundaries(false))
	got := s.Split("äöüßéè")
	assert.Equal(t, []string{"äöüß", "ßéè"}, got)
	for _, c := range got {
		assert.True(t, utf8.ValidString(c))
	}
}

func TestSplit_PrefersLineBreaks(t *testing.T) {
	text := strings.Repeat("a", 90) + "\n" + strings.Repeat("b", 60)
	s := New(WithChunkSize(100), WithOverlap(20))

	chunks := s.Split(text)
	require.Len(t, chunks, 2)
	assert.True(t, strings.HasSuffix(chunks[0], "\n"), "first chunk should end at the line break")
	assertInvariants(t, s, text, chunks)
}

func TestSplit_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	configs := []struct{ size, overlap int }{
		{DefaultChunkSize, DefaultChunkOverlap},
		{100, 0},
		{50, 49},
		{7, 3},
		{3, 1},
	}
	for _, cfg := range configs {
		for _, boundaries := range []bool{true, false} {
			s := New(WithChunkSize(cfg.size), WithOverlap(cfg.overlap), WithBoundaries(boundaries))
			for i := 0; i < 50; i++ {
				text := randomText(r, cfg.size+1+r.Intn(cfg.size*5))
				assertInvariants(t, s, text, s.Split(text))
			}
		}
	}
}

func TestNew_ClampsOptions(t *testing.T) {
	s := New(WithChunkSize(100), WithOverlap(100))
	assert.Equal(t, 25, s.Overlap())

	s = New(WithChunkSize(0), WithOverlap(-5))
	assert.Equal(t, DefaultChunkSize, s.Size())
	assert.Equal(t, 0, s.Overlap())

	s = New()
	assert.Equal(t, DefaultChunkSize, s.Size())
	assert.Equal(t, DefaultChunkOverlap, s.Overlap())
}

func TestChunkOf(t *testing.T) {
	f := repository.SourceFile{
		Path:     "/ws/repo_1234abcd/pkg/a.py",
		RelPath:  "pkg/a.py",
		Name:     "a.py",
		Language: "py",
		Content:  strings.Repeat("x", 25),
	}
	chunks := New(WithChunkSize(10), WithOverlap(2)).ChunkOf(f)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Number)
		assert.Equal(t, "a.py", c.FileName)
		assert.Equal(t, "pkg/a.py", c.FilePath)
		assert.Equal(t, "py", c.Language)
		assert.Equal(t, f.Path, c.Source)
	}

	assert.Nil(t, New().ChunkOf(repository.SourceFile{Name: "empty.md"}))
}
