package parser

import (
	"strings"

	"docchat/internal/config"
	"docchat/internal/models"
)

const (
	defaultChunkSize    = 1000 // runes
	defaultChunkOverlap = 200  // runes
	defaultSeparator    = "\n"
)

// Splitter cuts text into chunks of at most Size runes. Text is first split
// after each Separator; pieces longer than Size are cut into windows of Size
// runes that overlap by Overlap. Pieces are then packed greedily and the tail
// of each chunk, up to Overlap runes, is repeated at the head of the next.
type Splitter struct {
	Size      int
	Overlap   int
	Separator string
}

// Span is a chunk of text with its rune offsets in the source.
type Span struct {
	Text  string
	Start int
	End   int
}

type unit struct{ start, end int }

func (u unit) len() int { return u.end - u.start }

// NewSplitter builds a Splitter from the rag section, falling back to
// defaults for unset or inconsistent values.
func NewSplitter(cfg *config.RAGConfig) Splitter {
	s := Splitter{Size: defaultChunkSize, Overlap: defaultChunkOverlap, Separator: defaultSeparator}
	if cfg == nil {
		return s
	}
	if cfg.ChunkSize > 0 {
		s.Size = cfg.ChunkSize
		s.Overlap = cfg.ChunkOverlap
	}
	if cfg.Separator != "" {
		s.Separator = cfg.Separator
	}
	return s.normalized()
}

func (s Splitter) normalized() Splitter {
	if s.Size <= 0 {
		s.Size = defaultChunkSize
	}
	if s.Overlap < 0 {
		s.Overlap = 0
	}
	if s.Overlap >= s.Size {
		s.Overlap = s.Size / 2
	}
	return s
}

// Split returns the chunks of text in order.
func (s Splitter) Split(text string) []Span {
	s = s.normalized()
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	units := s.units(runes)

	var (
		spans []Span
		cur   []unit
		total int
	)
	emit := func() {
		start, end := cur[0].start, cur[len(cur)-1].end
		spans = append(spans, Span{Text: string(runes[start:end]), Start: start, End: end})
	}
	for _, u := range units {
		if len(cur) > 0 && total+u.len() > s.Size {
			emit()
			for len(cur) > 0 && (total > s.Overlap || total+u.len() > s.Size) {
				total -= cur[0].len()
				cur = cur[1:]
			}
		}
		cur = append(cur, u)
		total += u.len()
	}
	if len(cur) > 0 {
		emit()
	}
	return spans
}

// units splits runes after every separator and windows anything longer than Size.
func (s Splitter) units(runes []rune) []unit {
	sep := []rune(s.Separator)
	var raw []unit
	start := 0
	if len(sep) > 0 {
		for i := 0; i+len(sep) <= len(runes); {
			if runesEqual(runes[i:i+len(sep)], sep) {
				raw = append(raw, unit{start, i + len(sep)})
				i += len(sep)
				start = i
				continue
			}
			i++
		}
	}
	if start < len(runes) {
		raw = append(raw, unit{start, len(runes)})
	}

	stride := s.Size - s.Overlap
	units := make([]unit, 0, len(raw))
	for _, u := range raw {
		if u.len() <= s.Size {
			units = append(units, u)
			continue
		}
		for st := u.start; ; st += stride {
			end := min(st+s.Size, u.end)
			units = append(units, unit{st, end})
			if end == u.end {
				break
			}
		}
	}
	return units
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SplitDocuments chunks every document, numbering chunks per document and
// tagging each with the page its first rune falls on. Blank chunks are dropped.
func (s Splitter) SplitDocuments(docs []models.Document) []models.Chunk {
	var chunks []models.Chunk
	for _, doc := range docs {
		id := 0
		for _, span := range s.Split(doc.Content) {
			if strings.TrimSpace(span.Text) == "" {
				continue
			}
			id++
			chunks = append(chunks, models.Chunk{
				Content:        span.Text,
				SourceFilename: doc.Source,
				PageNumber:     doc.PageAt(span.Start),
				ChunkID:        id,
				Start:          span.Start,
				End:            span.End,
			})
		}
	}
	return chunks
}
