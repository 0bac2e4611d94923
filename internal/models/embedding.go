package models

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Content        string
	SourceFilename string
	PageNumber     int
	ChunkID        int
	// rune offsets of Content inside the source document text
	Start int
	End   int
}

type ChunkEmbedding struct {
	Content        string
	Embedding      []float32
	SourceFilename string
	PageNumber     int
	ChunkID        int
}

type PromptResponse struct {
	Query   string
	Source  string
	Content string
}

// Turn is one role-tagged entry of a conversation transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Document is the extracted text of one uploaded file.
type Document struct {
	Source  string
	Content string
	// rune offset at which each page starts; len(PageStarts) is the page count
	PageStarts []int
	Metadata   map[string]string
}

// PageAt returns the 1-based page containing the rune offset.
func (d Document) PageAt(offset int) int {
	page := 1
	for i, start := range d.PageStarts {
		if offset < start {
			break
		}
		page = i + 1
	}
	return page
}
