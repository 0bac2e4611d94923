package llmservice

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"docchat/internal/config"
	"docchat/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var thinkTag = regexp.MustCompile(models.ThinkTag)

// New creates an OpenAI-compatible chat client, Groq by default.
func New(llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("base_url", llmConfig.BaseURL).Str("model", llmConfig.Model).Msg("Creating chat model")
	llm, err := openai.New(
		openai.WithBaseURL(llmConfig.BaseURL),
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, err
	}
	return llm, nil
}

// call llm
func GenerateContent(ctx context.Context, llm llms.Model, messages []llms.MessageContent, temperature float64) (string, error) {
	res, err := llm.GenerateContent(ctx, messages, llms.WithTemperature(temperature))
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	// reasoning models wrap their scratchpad in think tags
	content := thinkTag.ReplaceAllString(res.Choices[0].Content, "")
	return strings.TrimSpace(content), nil
}
