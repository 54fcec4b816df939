package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"kbsearch/internal/models"
)

const (
	collectionName = "kb_collection"
	indexFile      = "index.gob.gz"
	manifestFile   = "manifest.yaml"
	compress       = true
)

// Manifest describes how a persisted index was built. An index can only be
// queried with vectors from an embedder of the same dimension.
type Manifest struct {
	EmbeddingTier string    `yaml:"embedding_tier"`
	Dimension     int       `yaml:"dimension"`
	Chunks        int       `yaml:"chunks"`
	Documents     int       `yaml:"documents"`
	BuiltAt       time.Time `yaml:"built_at"`
}

// Index is an immutable chromem collection holding one document per chunk.
// It is built once and then only read, so concurrent searches are safe.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	manifest   Manifest
}

// Build creates a fresh in-memory index from chunks and their vectors.
// Zero chunks is models.ErrEmptyCorpus.
func Build(ctx context.Context, chunks []models.Chunk, vectors [][]float32, manifest Manifest) (*Index, error) {
	if len(chunks) == 0 {
		return nil, models.ErrEmptyCorpus
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunks and vectors length mismatch: %d != %d", len(chunks), len(vectors))
	}

	db := chromem.NewDB()
	// embeddings are always supplied, the collection never embeds on its own
	c, err := db.CreateCollection(collectionName, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = chromem.Document{
			ID:        documentID(i),
			Content:   chunk.Content,
			Metadata:  CreateMetadata(chunk),
			Embedding: vectors[i],
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("failed to add documents: %w", err)
	}

	manifest.Chunks = len(chunks)
	if manifest.Dimension == 0 {
		manifest.Dimension = len(vectors[0])
	}
	if manifest.BuiltAt.IsZero() {
		manifest.BuiltAt = time.Now().UTC()
	}

	log.Debug().Int("chunks", len(chunks)).Str("tier", manifest.EmbeddingTier).Msg("Built vector index")
	return &Index{db: db, collection: c, manifest: manifest}, nil
}

// SimilaritySearch returns up to k chunks nearest to query, most similar
// first. Ties are broken by insertion order.
func (ix *Index) SimilaritySearch(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error) {
	if len(query) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	if len(query) != ix.manifest.Dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), ix.manifest.Dimension)
	}
	count := ix.collection.Count()
	if k > count {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}

	// chromem picks its top n concurrently, so equal scores come back in no
	// fixed order. Rank the whole collection and cut after sorting.
	results, err := ix.collection.QueryEmbedding(ctx, query, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}

	scored := make([]models.ScoredChunk, len(results))
	for i, r := range results {
		scored[i] = models.ScoredChunk{
			Chunk: chunkFromResult(r),
			Score: r.Similarity,
		}
	}
	return scored, nil
}

func (ix *Index) Count() int {
	return ix.collection.Count()
}

func (ix *Index) Manifest() Manifest {
	return ix.manifest
}

// Persist writes the index into dir, replacing any previous one. Both files
// are written to a sibling temp folder which then replaces dir, so the index
// and its manifest are always published together.
func (ix *Index) Persist(dir, encryptionKey string) error {
	if dir == "" {
		return errors.New("index path is required")
	}
	dir = filepath.Clean(dir)
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create index folder: %w", err)
	}

	tmp, err := os.MkdirTemp(parent, filepath.Base(dir)+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp index folder: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := ix.db.ExportToFile(filepath.Join(tmp, indexFile), compress, encryptionKey); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	manifest, err := yaml.Marshal(ix.manifest)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, manifestFile), manifest, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	old := dir + ".old"
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("failed to clear previous index backup: %w", err)
	}
	if err := os.Rename(dir, old); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to move previous index aside: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		if rerr := os.Rename(old, dir); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			log.Error().Err(rerr).Str("path", dir).Msg("Error restoring previous vector index")
		}
		return fmt.Errorf("failed to move index into place: %w", err)
	}
	if err := os.RemoveAll(old); err != nil {
		log.Warn().Err(err).Str("path", old).Msg("Error removing previous vector index")
	}

	log.Info().Str("path", dir).Int("chunks", ix.manifest.Chunks).Msg("Persisted vector index")
	return nil
}

// Load reads an index persisted by Persist. A missing or unreadable index is
// an error, never an empty index.
func Load(dir, encryptionKey string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if manifest.Dimension <= 0 {
		return nil, fmt.Errorf("manifest in %s has no dimension", dir)
	}

	db := chromem.NewDB()
	if err := db.ImportFromFile(filepath.Join(dir, indexFile), encryptionKey); err != nil {
		return nil, fmt.Errorf("failed to import database: %w", err)
	}
	c := db.GetCollection(collectionName, noEmbedding)
	if c == nil {
		return nil, fmt.Errorf("collection %q not found in %s", collectionName, dir)
	}
	if c.Count() == 0 {
		return nil, models.ErrEmptyCorpus
	}
	if manifest.Chunks != c.Count() {
		return nil, fmt.Errorf("manifest in %s lists %d chunks, index holds %d", dir, manifest.Chunks, c.Count())
	}

	log.Info().Str("path", dir).Int("chunks", c.Count()).Str("tier", manifest.EmbeddingTier).Msg("Loaded vector index")
	return &Index{db: db, collection: c, manifest: manifest}, nil
}

// Remove deletes a persisted index. A missing index is not an error.
func Remove(dir string) error {
	for _, name := range []string{indexFile, manifestFile} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// CreateMetadata flattens chunk provenance into chromem metadata.
func CreateMetadata(chunk models.Chunk) map[string]string {
	return map[string]string{
		"source":    chunk.Source,
		"file_type": string(chunk.FileType),
		"chunk_id":  strconv.Itoa(chunk.ChunkID),
	}
}

func chunkFromResult(r chromem.Result) models.Chunk {
	chunkID, _ := strconv.Atoi(r.Metadata["chunk_id"])
	return models.Chunk{
		Content:  r.Content,
		Source:   r.Metadata["source"],
		FileType: models.FileType(r.Metadata["file_type"]),
		ChunkID:  chunkID,
	}
}

// zero-padded so lexical ID order is insertion order
func documentID(i int) string {
	return fmt.Sprintf("%08d", i)
}

func noEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("vector index does not embed text, pass embeddings explicitly")
}
