package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// placeholder shipped in the sample .env, treated as "no key"
	placeholderKey = "your_actual_gemini_api_key_here"

	TierModel    = "model"
	TierHash     = "hash"
	TierConstant = "constant"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Corpus   CorpusConfig   `yaml:"corpus"`
	RAG      RAGConfig      `yaml:"rag"`
	EmbedLLM EmbedConfig    `yaml:"embed_llm"`
	LLM      LLMConfig      `yaml:"llm"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr            string `yaml:"addr"`
	AllowAllOrigins bool   `yaml:"allow_all_origins"`
	MaxUploadMB     int64  `yaml:"max_upload_mb"`
}

type CorpusConfig struct {
	DocumentsDir      string   `yaml:"documents_dir"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type RAGConfig struct {
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap"`
	TopK          int    `yaml:"top_k"`
	IndexPath     string `yaml:"index_path"`
	EncryptionKey string `yaml:"encryption_key"`
}

// EmbedConfig configures the embedding tiers. Tiers are tried in order and
// the first one that answers a probe request stays active for the process.
type EmbedConfig struct {
	Provider        string   `yaml:"provider"`
	BaseURL         string   `yaml:"base_url"`
	Model           string   `yaml:"model"`
	Key             string   `yaml:"key"`
	Dimension       int      `yaml:"dimension"`
	Tiers           []string `yaml:"tiers"`
	ProbeTimeoutSec int      `yaml:"probe_timeout_sec"`
}

type LLMConfig struct {
	BaseURL       string `yaml:"base_url"`
	Key           string `yaml:"key"`
	Model         string `yaml:"model"`
	FallbackModel string `yaml:"fallback_model"`
	TimeoutSec    int    `yaml:"timeout_sec"`
}

type DatabaseConfig struct {
	DSN   string `yaml:"dsn"`
	Debug bool   `yaml:"debug"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// LoadConfig reads the yaml config at path. A missing file yields the
// defaults; values from the environment (and .env) override the file.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        "127.0.0.1:5000",
			MaxUploadMB: 32,
		},
		Corpus: CorpusConfig{
			DocumentsDir:      "documents",
			AllowedExtensions: []string{".pdf", ".txt", ".md", ".docx", ".xlsx", ".pptx"},
		},
		RAG: RAGConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			TopK:         3,
			IndexPath:    "vector_store",
		},
		EmbedLLM: EmbedConfig{
			Provider:        "ollama",
			BaseURL:         "http://localhost:11434",
			Model:           "all-minilm",
			Dimension:       384,
			Tiers:           []string{TierModel, TierHash, TierConstant},
			ProbeTimeoutSec: 5,
		},
		LLM: LLMConfig{
			BaseURL:       "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:         "gemini-2.0-flash",
			FallbackModel: "gemini-flash-latest",
			TimeoutSec:    60,
		},
		Database: DatabaseConfig{
			DSN: "data/history.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func applyEnv(cfg *Config) {
	for _, name := range []string{"GEMINI_API_KEY", "LLM_API_KEY"} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			cfg.LLM.Key = v
			break
		}
	}
	if v := strings.TrimSpace(os.Getenv("EMBED_API_KEY")); v != "" {
		cfg.EmbedLLM.Key = v
	}
}

// fill in zero values a partial yaml file left behind
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.MaxUploadMB <= 0 {
		cfg.Server.MaxUploadMB = def.Server.MaxUploadMB
	}
	if cfg.Corpus.DocumentsDir == "" {
		cfg.Corpus.DocumentsDir = def.Corpus.DocumentsDir
	}
	if len(cfg.Corpus.AllowedExtensions) == 0 {
		cfg.Corpus.AllowedExtensions = def.Corpus.AllowedExtensions
	}
	for i, ext := range cfg.Corpus.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.Corpus.AllowedExtensions[i] = ext
	}
	if cfg.RAG.ChunkSize <= 0 {
		cfg.RAG.ChunkSize = def.RAG.ChunkSize
	}
	if cfg.RAG.ChunkOverlap < 0 {
		cfg.RAG.ChunkOverlap = 0
	}
	if cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkSize {
		cfg.RAG.ChunkOverlap = cfg.RAG.ChunkSize / 2
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = def.RAG.TopK
	}
	if cfg.RAG.IndexPath == "" {
		cfg.RAG.IndexPath = def.RAG.IndexPath
	}
	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = def.EmbedLLM.Provider
	}
	if cfg.EmbedLLM.Dimension <= 0 {
		cfg.EmbedLLM.Dimension = def.EmbedLLM.Dimension
	}
	if len(cfg.EmbedLLM.Tiers) == 0 {
		cfg.EmbedLLM.Tiers = def.EmbedLLM.Tiers
	}
	if cfg.EmbedLLM.ProbeTimeoutSec <= 0 {
		cfg.EmbedLLM.ProbeTimeoutSec = def.EmbedLLM.ProbeTimeoutSec
	}
	if cfg.LLM.TimeoutSec <= 0 {
		cfg.LLM.TimeoutSec = def.LLM.TimeoutSec
	}
	if cfg.LLM.Key == placeholderKey {
		cfg.LLM.Key = ""
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
}

func (c *Config) Validate() error {
	if key := c.RAG.EncryptionKey; key != "" && len(key) != 32 {
		return fmt.Errorf("rag.encryption_key must be 32 bytes, got %d", len(key))
	}
	switch c.EmbedLLM.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unsupported embed_llm.provider: %s", c.EmbedLLM.Provider)
	}
	for _, tier := range c.EmbedLLM.Tiers {
		switch tier {
		case TierModel, TierHash, TierConstant:
		default:
			return fmt.Errorf("unknown embedding tier: %s", tier)
		}
	}
	return nil
}

// LLMConfigured reports whether a language model credential is present.
func (c *Config) LLMConfigured() bool {
	return strings.TrimSpace(c.LLM.Key) != ""
}
