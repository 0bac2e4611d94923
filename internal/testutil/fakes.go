package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/llms"
)

// HashEmbedder is a deterministic bag-of-words embedder. Texts sharing words
// get similar vectors, which is enough to make retrieval meaningful in tests.
type HashEmbedder struct {
	Dim int
	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	calls int
}

func (e *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.count()
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.count()
	if e.Err != nil {
		return nil, e.Err
	}
	return e.embed(text), nil
}

// Calls reports how many embed calls were made.
func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *HashEmbedder) count() {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
}

func (e *HashEmbedder) embed(text string) []float32 {
	dim := e.Dim
	if dim <= 0 {
		dim = 256
	}
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(dim)] += 1
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	if sum == 0 {
		vec[0] = 1
		return vec
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= norm
	}
	return vec
}

// FakeLLM is an llms.Model that answers from the prompt it receives.
// Without Respond it echoes the system message (the retrieved context) and,
// for question-condensing prompts, returns the follow-up question unchanged.
type FakeLLM struct {
	Respond func(messages []llms.MessageContent) (string, error)

	mu    sync.Mutex
	calls [][]llms.MessageContent
}

var ErrFakeLLM = errors.New("fake llm failure")

func (f *FakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.mu.Unlock()

	respond := f.Respond
	if respond == nil {
		respond = EchoContext
	}
	text, err := respond(messages)
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

func (f *FakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

// Calls returns the message lists passed to GenerateContent so far.
func (f *FakeLLM) Calls() [][]llms.MessageContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]llms.MessageContent(nil), f.calls...)
}

// EchoContext is the default FakeLLM behaviour.
func EchoContext(messages []llms.MessageContent) (string, error) {
	if len(messages) == 1 {
		prompt := MessageText(messages[0])
		if i := strings.Index(prompt, "Follow Up Input: "); i >= 0 {
			q := prompt[i+len("Follow Up Input: "):]
			q, _, _ = strings.Cut(q, "\n")
			return strings.TrimSpace(q), nil
		}
	}
	for _, m := range messages {
		if m.Role == llms.ChatMessageTypeSystem {
			return "Based on the documents: " + MessageText(m), nil
		}
	}
	return "I don't know.", nil
}

// MessageText joins the text parts of a message.
func MessageText(m llms.MessageContent) string {
	var b strings.Builder
	for _, part := range m.Parts {
		if t, ok := part.(llms.TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
