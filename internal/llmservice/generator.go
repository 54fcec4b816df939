package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"kbsearch/internal/models"
)

var thinkRe = regexp.MustCompile(models.ThinkTag)

// Generation is the outcome of one Generate call. Err is set when every
// model failed; Text then carries the error message shown to the user.
type Generation struct {
	Text  string
	Model string
	Err   error
}

// Generator answers a query from retrieved context, trying each model in
// order. The first model gets the full instruction prompt; retries get a
// shorter one.
type Generator struct {
	llm    llms.Model
	models []string
}

func NewGenerator(llm llms.Model, primary string, fallbacks ...string) *Generator {
	names := []string{primary}
	for _, f := range fallbacks {
		if f != "" && f != primary {
			names = append(names, f)
		}
	}
	return &Generator{llm: llm, models: names}
}

// Generate never returns an error: a total failure becomes an answer text.
func (g *Generator) Generate(ctx context.Context, contextText, query string) Generation {
	var err error
	for i, model := range g.models {
		prompt := BuildPrompt(contextText, query)
		if i > 0 {
			prompt = BuildSimplePrompt(contextText, query)
		}

		var text string
		text, err = g.complete(ctx, model, prompt)
		if err == nil {
			return Generation{Text: text, Model: model}
		}
		log.Warn().Err(err).Str("model", model).Msg("Answer generation failed")
	}
	return Generation{
		Text: fmt.Sprintf("Error generating answer: %v", err),
		Err:  err,
	}
}

func (g *Generator) complete(ctx context.Context, model, prompt string) (string, error) {
	msgContent := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	res, err := GenerateContent(ctx, g.llm, model, msgContent)
	if err != nil {
		return "", err
	}
	if res == nil || len(res.Choices) == 0 {
		return "", errors.New("empty response from model")
	}
	text := strings.TrimSpace(thinkRe.ReplaceAllString(res.Choices[0].Content, ""))
	if text == "" {
		return "", errors.New("empty answer from model")
	}
	return text, nil
}

func BuildPrompt(contextText, query string) string {
	return fmt.Sprintf(models.AnswerPromptTemplate, contextText, query)
}

func BuildSimplePrompt(contextText, query string) string {
	return fmt.Sprintf(models.SimpleAnswerPromptTemplate, contextText, query)
}
