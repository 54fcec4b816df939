package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"kbsearch/internal/chromemdb"
	"kbsearch/internal/config"
	"kbsearch/internal/docstore"
	"kbsearch/internal/embedding"
	"kbsearch/internal/helper"
	"kbsearch/internal/llmservice"
	"kbsearch/internal/models"
	"kbsearch/internal/parser"
)

// AnswerGenerator turns retrieved context into an answer. It never fails;
// a failed generation is reported in the returned text.
type AnswerGenerator interface {
	Generate(ctx context.Context, contextText, query string) llmservice.Generation
}

// HistoryStore records ingest passes.
type HistoryStore interface {
	Record(ctx context.Context, run models.IngestRun) error
	List(ctx context.Context, limit int) ([]models.IngestRun, error)
	Latest(ctx context.Context) (*models.IngestRun, error)
}

// RAG owns the process-wide vector index. The index is immutable once
// built: a rebuild publishes a new one with a single pointer swap, so
// queries always see either the old or the new index in full.
type RAG struct {
	cfg       *config.RAGConfig
	store     *docstore.Store
	chunker   *parser.Chunker
	embedder  *embedding.Provider
	generator AnswerGenerator
	history   HistoryStore

	index atomic.Pointer[chromemdb.Index]
	// serializes rebuilds and lazy loads
	buildMu sync.Mutex
}

type Option func(*RAG)

// WithGenerator enables answer generation. Without it queries return the
// retrieved passages only.
func WithGenerator(g AnswerGenerator) Option {
	return func(r *RAG) { r.generator = g }
}

func WithHistory(h HistoryStore) Option {
	return func(r *RAG) { r.history = h }
}

func NewRAG(cfg *config.RAGConfig, store *docstore.Store, embedder *embedding.Provider, opts ...Option) *RAG {
	r := &RAG{
		cfg:      cfg,
		store:    store,
		chunker:  parser.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder: embedder,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init loads the persisted index if there is a usable one.
func (r *RAG) Init() bool {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()

	if err := r.load(); err != nil {
		log.Info().Err(err).Str("path", r.cfg.IndexPath).Msg("No vector index loaded")
		return false
	}
	return true
}

func (r *RAG) load() error {
	ix, err := chromemdb.Load(r.cfg.IndexPath, r.cfg.EncryptionKey)
	if err != nil {
		return err
	}
	// vectors from different embedders are not comparable, even at equal size
	m := ix.Manifest()
	if m.EmbeddingTier != r.embedder.Tier || m.Dimension != r.embedder.Dimension {
		return fmt.Errorf("index was built with %s (dimension %d), active tier is %s (dimension %d)",
			m.EmbeddingTier, m.Dimension, r.embedder.Tier, r.embedder.Dimension)
	}
	r.index.Store(ix)
	return nil
}

func (r *RAG) Loaded() bool {
	return r.index.Load() != nil
}

// Ingest rebuilds the index from the whole corpus. An empty corpus drops
// the index and is reported in the result message, not as an error.
func (r *RAG) Ingest(ctx context.Context, trigger string) (models.IngestResult, error) {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()

	run := models.IngestRun{
		Trigger:       trigger,
		StartedAt:     time.Now().UTC(),
		EmbeddingTier: r.embedder.Tier,
	}
	result, err := r.rebuild(ctx)
	run.FinishedAt = time.Now().UTC()
	run.Documents = result.Documents
	run.Chunks = result.Chunks
	run.Message = result.Message
	switch {
	case err != nil:
		run.Status = models.RunStatusFailed
		run.Message = err.Error()
	case result.Chunks == 0:
		run.Status = models.RunStatusEmpty
	default:
		run.Status = models.RunStatusOK
	}
	r.record(ctx, run)

	if err != nil {
		return models.IngestResult{}, err
	}
	return result, nil
}

func (r *RAG) rebuild(ctx context.Context) (models.IngestResult, error) {
	result := models.IngestResult{Tier: r.embedder.Tier}

	sources, err := r.store.List()
	if err != nil {
		return result, err
	}
	var docs []models.ExtractedDocument
	for _, doc := range parser.ExtractDocuments(sources) {
		if strings.TrimSpace(doc.Content) != "" {
			docs = append(docs, doc)
		}
	}
	chunks, err := r.chunker.ChunkDocuments(docs)
	if err != nil {
		return result, fmt.Errorf("failed to chunk documents: %w", err)
	}

	if len(chunks) == 0 {
		r.index.Store(nil)
		if err := chromemdb.Remove(r.cfg.IndexPath); err != nil {
			log.Warn().Err(err).Msg("Error removing stale vector index")
		}
		log.Info().Int("sources", len(sources)).Msg(models.NothingToProcess)
		result.Message = models.NothingToProcess
		return result, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := r.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return result, err
	}

	ix, err := chromemdb.Build(ctx, chunks, vectors, chromemdb.Manifest{
		EmbeddingTier: r.embedder.Tier,
		Dimension:     r.embedder.Dimension,
		Documents:     len(docs),
	})
	if err != nil {
		return result, err
	}
	if err := ix.Persist(r.cfg.IndexPath, r.cfg.EncryptionKey); err != nil {
		return result, err
	}
	r.index.Store(ix)

	result.Documents = len(docs)
	result.Chunks = len(chunks)
	result.Message = fmt.Sprintf(models.ProcessedFormat, len(docs), len(chunks))
	log.Info().Int("documents", len(docs)).Int("chunks", len(chunks)).Str("tier", r.embedder.Tier).Msg("Rebuilt vector index")
	return result, nil
}

// Upload adds a file to the corpus and rebuilds the index. A rejected file
// leaves both untouched.
func (r *RAG) Upload(ctx context.Context, filename string, content io.Reader, trigger string) (string, models.IngestResult, error) {
	name, err := r.store.Add(filename, content)
	if err != nil {
		return "", models.IngestResult{}, err
	}
	result, err := r.Ingest(ctx, trigger)
	return name, result, err
}

// Query answers query from the top k passages of the current index.
func (r *RAG) Query(ctx context.Context, query string) (*models.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.ErrEmptyQuery
	}

	ix, err := r.activeIndex()
	if err != nil {
		return nil, err
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := ix.SimilaritySearch(ctx, vec, r.cfg.TopK)
	if err != nil {
		return nil, err
	}

	answer := &models.Answer{Query: query}
	if r.generator == nil {
		answer.Answer = models.DisabledAnswer
		answer.Warning = models.DisabledWarning
		answer.Sources = sources(hits, models.DisabledSourcePreviewChars)
		return answer, nil
	}

	passages := make([]string, len(hits))
	for i, h := range hits {
		passages[i] = h.Content
	}
	gen := r.generator.Generate(ctx, strings.Join(passages, models.ContextSeparator), query)
	answer.Answer = gen.Text
	answer.Model = gen.Model
	answer.Sources = sources(hits, models.SourcePreviewChars)
	return answer, nil
}

// activeIndex returns the published index, loading the persisted one when
// none is resident.
func (r *RAG) activeIndex() (*chromemdb.Index, error) {
	if ix := r.index.Load(); ix != nil {
		return ix, nil
	}

	r.buildMu.Lock()
	defer r.buildMu.Unlock()
	if ix := r.index.Load(); ix != nil {
		return ix, nil
	}
	if err := r.load(); err != nil {
		log.Debug().Err(err).Msg("Lazy index load failed")
		return nil, models.ErrNoCorpus
	}
	return r.index.Load(), nil
}

func (r *RAG) Status(ctx context.Context) models.Status {
	status := models.Status{
		LLMConfigured:      r.generator != nil,
		EmbeddingTier:      r.embedder.Tier,
		EmbeddingDimension: r.embedder.Dimension,
	}
	if n, err := r.store.Count(); err != nil {
		log.Warn().Err(err).Msg("Error counting documents")
	} else {
		status.DocumentsCount = n
	}
	if ix := r.index.Load(); ix != nil {
		status.VectorStoreLoaded = true
		status.IndexChunks = ix.Count()
	}
	if r.history != nil {
		last, err := r.history.Latest(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Error reading ingest history")
		}
		status.LastIngest = last
	}
	return status
}

// History lists the most recent ingest runs, newest first.
func (r *RAG) History(ctx context.Context, limit int) ([]models.IngestRun, error) {
	if r.history == nil {
		return []models.IngestRun{}, nil
	}
	return r.history.List(ctx, limit)
}

func (r *RAG) Documents() ([]models.SourceDocument, error) {
	return r.store.List()
}

func (r *RAG) record(ctx context.Context, run models.IngestRun) {
	if r.history == nil {
		return
	}
	id, err := helper.GenerateUUID()
	if err != nil {
		log.Warn().Err(err).Msg("Error generating ingest run id")
		return
	}
	run.ID = id
	// record even when the request was cancelled
	if err := r.history.Record(context.WithoutCancel(ctx), run); err != nil {
		log.Warn().Err(err).Str("trigger", run.Trigger).Msg("Error recording ingest run")
	}
}

func sources(hits []models.ScoredChunk, limit int) []models.Source {
	out := make([]models.Source, len(hits))
	for i, h := range hits {
		out[i] = models.Source{
			Content: Truncate(h.Content, limit),
			Source:  h.Source,
			Score:   h.Score,
		}
	}
	return out
}

// Truncate cuts s to limit runes and marks the cut with "...".
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// IsClientError reports whether err was caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, models.ErrEmptyQuery) ||
		errors.Is(err, models.ErrNoFile) ||
		errors.Is(err, models.ErrFileTypeNotAllowed) ||
		errors.Is(err, models.ErrNoCorpus)
}
