package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"

	"kbsearch/internal/config"
)

// stubEmbedder returns fixed-size vectors or a fixed error.
type stubEmbedder struct {
	dim int
	err error
}

func (s *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return make([]float32, s.dim), nil
}

func tier(name string, e embeddings.Embedder, err error) Tier {
	return Tier{Name: name, New: func() (embeddings.Embedder, error) { return e, err }}
}

func TestSelect_FirstHealthyTierWins(t *testing.T) {
	tiers := []Tier{
		tier("broken-constructor", nil, errors.New("no such model")),
		tier("unreachable", &stubEmbedder{err: errors.New("connection refused")}, nil),
		tier("hash", NewHashEmbedder(16), nil),
		tier("constant", NewConstantEmbedder(16), nil),
	}

	p, err := Select(context.Background(), tiers, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hash", p.Tier)
	assert.Equal(t, 16, p.Dimension)
}

func TestSelect_PreferredTier(t *testing.T) {
	p, err := Select(context.Background(), []Tier{
		tier("model", &stubEmbedder{dim: 8}, nil),
		tier("hash", NewHashEmbedder(16), nil),
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "model", p.Tier)
	assert.Equal(t, 8, p.Dimension)
}

func TestSelect_AllTiersFail(t *testing.T) {
	_, err := Select(context.Background(), []Tier{
		tier("a", nil, errors.New("boom")),
		tier("b", &stubEmbedder{dim: 0}, nil),
	}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "empty embedding")

	_, err = Select(context.Background(), nil, time.Second)
	assert.Error(t, err)
}

func TestTiers_FollowsConfigOrder(t *testing.T) {
	cfg := config.Default().EmbedLLM
	cfg.Tiers = []string{config.TierConstant, config.TierHash}

	tiers := Tiers(&cfg)
	require.Len(t, tiers, 2)
	assert.Equal(t, config.TierConstant, tiers[0].Name)
	assert.Equal(t, config.TierHash, tiers[1].Name)

	p, err := Select(context.Background(), tiers, time.Second)
	require.NoError(t, err)
	assert.Equal(t, config.TierConstant, p.Tier)
	assert.Equal(t, cfg.Dimension, p.Dimension)
}

func TestNewProvider_UnreachableModelFallsBack(t *testing.T) {
	cfg := config.Default().EmbedLLM
	cfg.BaseURL = "http://127.0.0.1:1"
	cfg.ProbeTimeoutSec = 1

	p, err := NewProvider(context.Background(), &cfg)
	require.NoError(t, err)
	assert.Equal(t, config.TierHash, p.Tier)
	assert.Equal(t, 384, p.Dimension)
}

func TestProvider_RejectsDimensionDrift(t *testing.T) {
	p := &Provider{embedder: &stubEmbedder{dim: 4}, Tier: "stub", Dimension: 8}

	_, err := p.EmbedQuery(context.Background(), "q")
	assert.Error(t, err)
	_, err = p.EmbedDocuments(context.Background(), []string{"a"})
	assert.Error(t, err)

	vecs, err := p.EmbedDocuments(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, vecs)
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	h := NewHashEmbedder(64)

	a, err := h.EmbedQuery(ctx, "What color is the sky?")
	require.NoError(t, err)
	again, err := h.EmbedQuery(ctx, "What color is the sky?")
	require.NoError(t, err)
	assert.Equal(t, a, again, "embedding must be deterministic")
	assert.Len(t, a, 64)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	docs, err := h.EmbedDocuments(ctx, []string{"The sky is blue.", "Tax filing deadlines for corporations"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Greater(t, cosine(a, docs[0]), cosine(a, docs[1]))
}

func TestHashEmbedder_NoTokens(t *testing.T) {
	h := NewHashEmbedder(32)
	a, err := h.EmbedQuery(context.Background(), "?!")
	require.NoError(t, err)
	b, err := h.EmbedQuery(context.Background(), "?!")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.True(t, normalize(append([]float32(nil), a...)), "vector must not be zero")
}

func TestConstantEmbedder(t *testing.T) {
	c := NewConstantEmbedder(4)
	q, err := c.EmbedQuery(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.1, 0.1, 0.1}, q)

	docs, err := c.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{q, q}, docs)
}
