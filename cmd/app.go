package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"kbsearch/internal/config"
	"kbsearch/internal/db"
	"kbsearch/internal/docstore"
	"kbsearch/internal/embedding"
	"kbsearch/internal/llmservice"
	"kbsearch/internal/rag"
)

// app wires the pipeline from the loaded config.
type app struct {
	rag     *rag.RAG
	history *db.History
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	provider, err := embedding.NewProvider(ctx, &cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}

	opts := []rag.Option{}
	if cfg.LLMConfigured() {
		llm, err := llmservice.NewClient(&cfg.LLM)
		if err != nil {
			return nil, err
		}
		opts = append(opts, rag.WithGenerator(llmservice.NewGenerator(llm, cfg.LLM.Model, cfg.LLM.FallbackModel)))
		log.Info().Str("model", cfg.LLM.Model).Str("fallback", cfg.LLM.FallbackModel).Msg("Language model configured")
	} else {
		log.Warn().Msg("Language model key not configured, answers will show raw passages only")
	}

	a := &app{}
	history, err := db.Open(ctx, &cfg.Database)
	if err != nil {
		log.Warn().Err(err).Msg("Ingest history disabled")
	} else {
		a.history = history
		opts = append(opts, rag.WithHistory(history))
	}

	store := docstore.New(cfg.Corpus.DocumentsDir, cfg.Corpus.AllowedExtensions)
	a.rag = rag.NewRAG(&cfg.RAG, store, provider, opts...)
	a.rag.Init()
	return a, nil
}

func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing history database")
		}
	}
}
