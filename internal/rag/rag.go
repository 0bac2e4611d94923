package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"docchat/internal/chromemdb"
	"docchat/internal/llmservice"
	"docchat/internal/models"
	"docchat/internal/session"
)

// ErrNoIndex is returned when a question arrives before any upload.
var ErrNoIndex = errors.New("no documents have been indexed")

const defaultTopK = 4

// Agent answers questions over one vector index, using the caller's
// conversation as memory.
type Agent struct {
	index       *chromemdb.VectorDBManager
	embedder    embeddings.Embedder
	llm         llms.Model
	topK        int
	temperature float64
}

func NewAgent(index *chromemdb.VectorDBManager, embedder embeddings.Embedder, llm llms.Model, topK int, temperature float64) *Agent {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Agent{index: index, embedder: embedder, llm: llm, topK: topK, temperature: temperature}
}

// Index returns the vector index the agent retrieves from.
func (a *Agent) Index() *chromemdb.VectorDBManager { return a.index }

// Ask answers question using retrieved chunks and the prior turns of conv,
// then appends the exchange to conv. Turns on the same conversation are
// serialized. When answering fails conv is left untouched.
func (a *Agent) Ask(ctx context.Context, conv *session.Conversation, question string) (models.PromptResponse, error) {
	conv.LockTurn()
	defer conv.UnlockTurn()

	history := conv.Messages(ctx)

	standalone := question
	if len(history) > 0 {
		var err error
		standalone, err = a.condense(ctx, history, question)
		if err != nil {
			return models.PromptResponse{}, fmt.Errorf("condense question: %w", err)
		}
	}

	chunks, err := a.Retrieve(ctx, standalone)
	if err != nil {
		return models.PromptResponse{}, err
	}

	var contextText strings.Builder
	for i, chunk := range chunks {
		if i > 0 {
			contextText.WriteString(models.ContextSeparator)
		}
		contextText.WriteString(chunk.Content)
	}

	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(models.AnswerSystemPrompt, contextText.String())))
	for _, m := range history {
		messages = append(messages, llms.TextParts(m.GetType(), m.GetContent()))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, question))

	answer, err := llmservice.GenerateContent(ctx, a.llm, messages, a.temperature)
	if err != nil {
		return models.PromptResponse{}, fmt.Errorf("generate answer: %w", err)
	}

	if err := conv.Append(ctx, question, answer); err != nil {
		// the answer is still returned so the exchange reaches the durable log
		log.Error().Err(err).Msg("Failed to record turn in session transcript")
	}

	log.Debug().Str("question", question).Str("standalone", standalone).Int("chunks", len(chunks)).Msg("Answered question")
	return models.PromptResponse{
		Query:   question,
		Source:  formatSources(chunks),
		Content: answer,
	}, nil
}

// Retrieve embeds query and returns the nearest chunks.
func (a *Agent) Retrieve(ctx context.Context, query string) ([]models.Chunk, error) {
	vec, err := a.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	chunks, err := a.index.Search(ctx, vec, a.topK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return chunks, nil
}

func (a *Agent) condense(ctx context.Context, history []llms.ChatMessage, question string) (string, error) {
	var transcript strings.Builder
	for _, m := range history {
		role := "Human"
		if m.GetType() == llms.ChatMessageTypeAI {
			role = "Assistant"
		}
		fmt.Fprintf(&transcript, "%s: %s\n", role, m.GetContent())
	}
	prompt := fmt.Sprintf(models.CondenseQuestionTemplate, transcript.String(), question)
	out, err := llmservice.GenerateContent(ctx, a.llm, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, 0)
	if err != nil {
		return "", err
	}
	if out == "" {
		return question, nil
	}
	return out, nil
}

func formatSources(chunks []models.Chunk) string {
	seen := make(map[string]bool)
	var sources []string
	for _, c := range chunks {
		s := fmt.Sprintf("%s p.%d", c.SourceFilename, c.PageNumber)
		if !seen[s] {
			seen[s] = true
			sources = append(sources, s)
		}
	}
	return strings.Join(sources, ", ")
}
