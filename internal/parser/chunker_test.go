package parser

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbsearch/internal/models"
)

func numberedWords(n int) []string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%04d", i)
	}
	return words
}

func TestNewChunker(t *testing.T) {
	t.Run("defaults for zero values", func(t *testing.T) {
		c := NewChunker(0, -1)
		assert.Equal(t, defaultChunkSize, c.ChunkSize)
		assert.Equal(t, 0, c.ChunkOverlap)
	})

	t.Run("overlap exceeds chunk size", func(t *testing.T) {
		c := NewChunker(100, 150)
		assert.Equal(t, 50, c.ChunkOverlap)
	})
}

func TestChunk_ShortDocumentIsOneChunk(t *testing.T) {
	c := NewChunker(1000, 200)
	doc := models.ExtractedDocument{Content: "The sky is blue. Grass is green.", Source: "a.txt", FileType: models.FileTypeText}

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, models.Chunk{
		Content:  "The sky is blue. Grass is green.",
		Source:   "a.txt",
		FileType: models.FileTypeText,
		ChunkID:  1,
	}, chunks[0])
}

func TestChunk_EmptyDocument(t *testing.T) {
	c := NewChunker(100, 20)
	for _, content := range []string{"", "   \n\n\t "} {
		chunks, err := c.Chunk(models.ExtractedDocument{Content: content, Source: "empty.txt"})
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestChunk_SizeAndOverlap(t *testing.T) {
	words := numberedWords(300)
	text := strings.Join(words, " ")
	c := NewChunker(100, 20)

	chunks, err := c.Chunk(models.ExtractedDocument{Content: text, Source: "long.txt"})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Content), 100, "chunk %d too long", i)
		assert.Contains(t, text, chunk.Content, "chunk %d is not a substring of the document", i)
		assert.Equal(t, i+1, chunk.ChunkID)
		assert.Equal(t, "long.txt", chunk.Source)
	}

	// consecutive chunks share their boundary words
	for i := 1; i < len(chunks); i++ {
		first := strings.Fields(chunks[i].Content)[0]
		assert.Contains(t, chunks[i-1].Content, first, "chunk %d does not overlap chunk %d", i, i-1)
	}
}

func TestChunk_RoundTrip(t *testing.T) {
	words := numberedWords(250)
	c := NewChunker(120, 30)

	chunks, err := c.Chunk(models.ExtractedDocument{Content: strings.Join(words, " ")})
	require.NoError(t, err)

	// dropping the overlapped words rebuilds the input sequence
	seen := make(map[string]bool)
	var rebuilt []string
	for _, chunk := range chunks {
		for _, w := range strings.Fields(chunk.Content) {
			if seen[w] {
				continue
			}
			seen[w] = true
			rebuilt = append(rebuilt, w)
		}
	}
	assert.Equal(t, words, rebuilt)
}

func TestChunk_PrefersParagraphBoundaries(t *testing.T) {
	p1 := strings.TrimSpace(strings.Repeat("alpha ", 10))
	p2 := strings.TrimSpace(strings.Repeat("gamma ", 10))
	c := NewChunker(100, 20)

	chunks, err := c.Chunk(models.ExtractedDocument{Content: p1 + "\n\n" + p2})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, p1, chunks[0].Content)
	assert.Equal(t, p2, chunks[1].Content)
}

func TestChunkDocuments(t *testing.T) {
	c := NewChunker(1000, 200)
	docs := []models.ExtractedDocument{
		{Content: "first document", Source: "a.txt", FileType: models.FileTypeText},
		{Content: "", Source: "broken.pdf", FileType: models.FileTypePDF},
		{Content: "second document", Source: "b.md", FileType: models.FileTypeMarkdown},
	}

	chunks, err := c.ChunkDocuments(docs)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a.txt", chunks[0].Source)
	assert.Equal(t, "b.md", chunks[1].Source)
	assert.Equal(t, 1, chunks[1].ChunkID)
}
