package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// HashEmbedder is the degraded tier used when no embedding model answers.
// Each token is hashed into a signed bucket, so texts sharing words still
// land near each other; texts without tokens get a pseudo-random vector
// seeded by their content. Output is deterministic and L2-normalised.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = h.vector(text)
	}
	return vectors, nil
}

func (h *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return h.vector(text), nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, h.dim)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		sum := hash64(tok)
		idx := sum % uint64(h.dim)
		if sum>>63 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}
	if !normalize(vec) {
		seed := hash64(text)
		r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		for i := range vec {
			vec[i] = r.Float32()*2 - 1
		}
		normalize(vec)
	}
	return vec
}

// ConstantEmbedder maps every text to the same vector. Retrieval order is
// then insertion order; it only keeps the pipeline running.
type ConstantEmbedder struct {
	dim int
}

func NewConstantEmbedder(dim int) *ConstantEmbedder {
	return &ConstantEmbedder{dim: dim}
}

func (c *ConstantEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = c.vector()
	}
	return vectors, nil
}

func (c *ConstantEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return c.vector(), nil
}

func (c *ConstantEmbedder) vector() []float32 {
	vec := make([]float32, c.dim)
	for i := range vec {
		vec[i] = 0.1
	}
	return vec
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// normalize scales vec to unit length in place; false for a zero vector.
func normalize(vec []float32) bool {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return false
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return true
}
