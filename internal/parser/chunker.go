package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"kbsearch/internal/models"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	defaultChunkSize    = 1000 // characters
	defaultChunkOverlap = 200  // characters
)

// paragraph, line, sentence, word, character
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker splits extracted documents into overlapping chunks, preferring the
// largest boundary that keeps every chunk within ChunkSize characters.
type Chunker struct {
	ChunkSize    int
	ChunkOverlap int
	splitter     textsplitter.RecursiveCharacter
}

func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2 // Reasonable default to avoid excessive overlap
	}
	return &Chunker{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(separators),
		),
	}
}

// Chunk splits one document's text. Empty text yields no chunks.
func (c *Chunker) Chunk(doc models.ExtractedDocument) ([]models.Chunk, error) {
	content := strings.TrimSpace(doc.Content)
	if content == "" {
		return nil, nil
	}

	// short documents stay whole
	var pieces []string
	if utf8.RuneCountInString(content) <= c.ChunkSize {
		pieces = []string{content}
	} else {
		var err error
		pieces, err = c.splitter.SplitText(content)
		if err != nil {
			return nil, fmt.Errorf("failed to split %s: %w", doc.Source, err)
		}
	}

	chunks := make([]models.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			Content:  piece,
			Source:   doc.Source,
			FileType: doc.FileType,
			ChunkID:  len(chunks) + 1,
		})
	}
	return chunks, nil
}

// ChunkDocuments chunks every document in order.
func (c *Chunker) ChunkDocuments(docs []models.ExtractedDocument) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, doc := range docs {
		docChunks, err := c.Chunk(doc)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, docChunks...)
	}
	return chunks, nil
}
