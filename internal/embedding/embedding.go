package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"kbsearch/internal/config"
)

const probeText = "ping"

// Tier is one rung of the embedding fallback chain.
type Tier struct {
	Name string
	New  func() (embeddings.Embedder, error)
}

// Provider is the embedder selected at startup. Its dimension is fixed for
// the lifetime of the process; vectors of any other size are rejected.
type Provider struct {
	embedder  embeddings.Embedder
	Tier      string
	Dimension int
}

var _ embeddings.Embedder = (*Provider)(nil)

// NewProvider walks the configured tiers and keeps the first usable one.
func NewProvider(ctx context.Context, cfg *config.EmbedConfig) (*Provider, error) {
	return Select(ctx, Tiers(cfg), time.Duration(cfg.ProbeTimeoutSec)*time.Second)
}

// Tiers builds the fallback chain in the order listed in the config.
func Tiers(cfg *config.EmbedConfig) []Tier {
	var tiers []Tier
	for _, name := range cfg.Tiers {
		switch name {
		case config.TierModel:
			tiers = append(tiers, Tier{Name: config.TierModel + "/" + cfg.Provider + "/" + cfg.Model, New: func() (embeddings.Embedder, error) {
				if cfg.Provider == "openai" {
					return NewOpenAIEmbedder(cfg)
				}
				return NewOllamaEmbedder(cfg)
			}})
		case config.TierHash:
			tiers = append(tiers, Tier{Name: config.TierHash, New: func() (embeddings.Embedder, error) {
				return NewHashEmbedder(cfg.Dimension), nil
			}})
		case config.TierConstant:
			tiers = append(tiers, Tier{Name: config.TierConstant, New: func() (embeddings.Embedder, error) {
				return NewConstantEmbedder(cfg.Dimension), nil
			}})
		}
	}
	return tiers
}

// Select tries each tier in order: construct it, embed a probe string, and
// return the first that answers with a non-empty vector.
func Select(ctx context.Context, tiers []Tier, probeTimeout time.Duration) (*Provider, error) {
	if len(tiers) == 0 {
		return nil, errors.New("no embedding tiers configured")
	}
	var errs []error
	for i, tier := range tiers {
		embedder, err := tier.New()
		if err != nil {
			log.Warn().Err(err).Str("tier", tier.Name).Msg("Embedding tier unavailable")
			errs = append(errs, fmt.Errorf("%s: %w", tier.Name, err))
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		vec, err := embedder.EmbedQuery(probeCtx, probeText)
		cancel()
		if err == nil && len(vec) == 0 {
			err = errors.New("empty embedding")
		}
		if err != nil {
			log.Warn().Err(err).Str("tier", tier.Name).Msg("Embedding tier unavailable")
			errs = append(errs, fmt.Errorf("%s: %w", tier.Name, err))
			continue
		}

		event := log.Info()
		if i > 0 {
			event = log.Warn().Str("preferred", tiers[0].Name)
		}
		event.Str("tier", tier.Name).Int("dimension", len(vec)).Msg("Embedding tier active")

		return &Provider{embedder: embedder, Tier: tier.Name, Dimension: len(vec)}, nil
	}
	return nil, fmt.Errorf("failed to initialize any embedding tier: %w", errors.Join(errs...))
}

func (p *Provider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for _, vec := range vectors {
		if err := p.checkDimension(vec); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if err := p.checkDimension(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (p *Provider) checkDimension(vec []float32) error {
	if len(vec) != p.Dimension {
		return fmt.Errorf("embedding dimension %d does not match active tier %s (%d)", len(vec), p.Tier, p.Dimension)
	}
	return nil
}

// new ollama embedder
func NewOllamaEmbedder(cfg *config.EmbedConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}

// NewOpenAIEmbedder talks to any OpenAI-compatible embeddings endpoint.
func NewOpenAIEmbedder(cfg *config.EmbedConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating openai embedder")

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}
