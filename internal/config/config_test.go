package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("EMBED_API_KEY", "")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 3, cfg.RAG.TopK)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
	assert.Equal(t, "gemini-flash-latest", cfg.LLM.FallbackModel)
	assert.Equal(t, []string{TierModel, TierHash, TierConstant}, cfg.EmbedLLM.Tiers)
	assert.False(t, cfg.LLMConfigured())
}

func TestLoadConfig_PartialFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
rag:
  chunk_size: 300
corpus:
  allowed_extensions: [PDF, ".TXT"]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, []string{".pdf", ".txt"}, cfg.Corpus.AllowedExtensions)
	assert.Equal(t, "documents", cfg.Corpus.DocumentsDir)
}

func TestLoadConfig_OverlapClamped(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
rag:
  chunk_size: 100
  chunk_overlap: 150
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("EMBED_API_KEY", "embed-secret")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.LLM.Key)
	assert.Equal(t, "embed-secret", cfg.EmbedLLM.Key)
	assert.True(t, cfg.LLMConfigured())
}

func TestLoadConfig_PlaceholderKeyIsUnset(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", placeholderKey)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.False(t, cfg.LLMConfigured())
}

func TestLoadConfig_Invalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{name: "short encryption key", body: "rag:\n  encryption_key: short\n"},
		{name: "unknown provider", body: "embed_llm:\n  provider: cohere\n"},
		{name: "unknown tier", body: "embed_llm:\n  tiers: [model, random]\n"},
		{name: "bad yaml", body: "rag: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
