package parser

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"docchat/internal/config"
	"docchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleText() string {
	var b strings.Builder
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&b, "Linha %03d: o relatório trimestral descreve receitas, custos e metas.\n", i)
		if i%17 == 0 {
			// a long line without separators forces hard cuts
			b.WriteString(strings.Repeat("abcdefghij", 45))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func TestSplitCoversEveryRune(t *testing.T) {
	text := sampleText()
	total := utf8.RuneCountInString(text)

	configs := []Splitter{
		{Size: 1000, Overlap: 200, Separator: "\n"},
		{Size: 3000, Overlap: 50, Separator: "\n"},
		{Size: 100, Overlap: 10, Separator: "\n"},
		{Size: 64, Overlap: 63, Separator: "\n"},
		{Size: 50, Overlap: 0, Separator: ""},
	}
	for _, s := range configs {
		t.Run(fmt.Sprintf("%d/%d", s.Size, s.Overlap), func(t *testing.T) {
			spans := s.Split(text)
			require.NotEmpty(t, spans)

			covered := make([]bool, total)
			runes := []rune(text)
			for _, sp := range spans {
				assert.LessOrEqual(t, sp.End-sp.Start, s.Size)
				assert.Equal(t, string(runes[sp.Start:sp.End]), sp.Text)
				for i := sp.Start; i < sp.End; i++ {
					covered[i] = true
				}
			}
			for i, ok := range covered {
				if !ok {
					t.Fatalf("rune %d (%q) not covered", i, runes[i])
				}
			}
		})
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	s := Splitter{Size: 300, Overlap: 40, Separator: "\n"}
	text := sampleText()
	assert.Equal(t, s.Split(text), s.Split(text))
}

func TestSplitOverlapsNeighbours(t *testing.T) {
	s := Splitter{Size: 30, Overlap: 12, Separator: "\n"}
	text := "alpha beta\ngamma delta\nepsilon z\neta theta\niota kappa\n"

	spans := s.Split(text)
	require.Greater(t, len(spans), 1)
	for i := 1; i < len(spans); i++ {
		prev, next := spans[i-1], spans[i]
		assert.Less(t, next.Start, prev.End, "chunk %d should start inside chunk %d", i, i-1)
		shared := []rune(text)[next.Start:prev.End]
		assert.True(t, strings.HasSuffix(prev.Text, string(shared)))
		assert.True(t, strings.HasPrefix(next.Text, string(shared)))
	}
}

func TestSplitHardCutsLongLines(t *testing.T) {
	s := Splitter{Size: 10, Overlap: 3, Separator: "\n"}
	spans := s.Split(strings.Repeat("x", 25))

	require.Len(t, spans, 4)
	starts := make([]int, len(spans))
	for i, sp := range spans {
		starts[i] = sp.Start
	}
	assert.Equal(t, []int{0, 7, 14, 21}, starts)
	assert.Equal(t, 25, spans[3].End)
}

func TestSplitShortAndEmpty(t *testing.T) {
	s := Splitter{Size: 100, Overlap: 10, Separator: "\n"}
	assert.Nil(t, s.Split(""))

	spans := s.Split("The capital of France is Paris.")
	require.Len(t, spans, 1)
	assert.Equal(t, "The capital of France is Paris.", spans[0].Text)
}

func TestNewSplitter(t *testing.T) {
	s := NewSplitter(nil)
	assert.Equal(t, Splitter{Size: 1000, Overlap: 200, Separator: "\n"}, s)

	s = NewSplitter(&config.RAGConfig{ChunkSize: 3000, ChunkOverlap: 50})
	assert.Equal(t, Splitter{Size: 3000, Overlap: 50, Separator: "\n"}, s)

	s = NewSplitter(&config.RAGConfig{ChunkSize: 100, ChunkOverlap: 500, Separator: "\n\n"})
	assert.Equal(t, 50, s.Overlap)
	assert.Equal(t, "\n\n", s.Separator)
}

func TestSplitDocuments(t *testing.T) {
	doc := models.Document{
		Source:     "report.pdf",
		Content:    "page one line\n\n   \npage two line",
		PageStarts: []int{0, 15},
	}
	s := Splitter{Size: 14, Overlap: 0, Separator: "\n"}

	chunks := s.SplitDocuments([]models.Document{doc})
	require.Len(t, chunks, 2)
	assert.Equal(t, "page one line\n", chunks[0].Content)
	assert.Equal(t, 1, chunks[0].PageNumber)
	assert.Equal(t, 1, chunks[0].ChunkID)
	assert.Equal(t, "page two line", chunks[1].Content)
	assert.Equal(t, 2, chunks[1].PageNumber)
	assert.Equal(t, 2, chunks[1].ChunkID)
	assert.Equal(t, "report.pdf", chunks[1].SourceFilename)
}
