package llmservice

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"kbsearch/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewClient builds an OpenAI-compatible chat client. The model is chosen
// per call, so one client serves both the primary and the fallback model.
func NewClient(llmConfig *config.LLMConfig) (llms.Model, error) {
	if strings.TrimSpace(llmConfig.Key) == "" {
		return nil, errors.New("llm key is not configured")
	}
	log.Debug().Str("base_url", llmConfig.BaseURL).Str("model", llmConfig.Model).Msg("Creating llm client")

	llm, err := openai.New(
		openai.WithBaseURL(llmConfig.BaseURL),
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
		openai.WithHTTPClient(&http.Client{Timeout: time.Duration(llmConfig.TimeoutSec) * time.Second}),
	)
	if err != nil {
		return nil, err
	}
	return llm, nil
}

// call llm
func GenerateContent(ctx context.Context, llm llms.Model, model string, messages []llms.MessageContent) (*llms.ContentResponse, error) {
	return llm.GenerateContent(ctx, messages, llms.WithModel(model))
}
