package models

import "time"

type FileType string

const (
	FileTypePDF      FileType = "pdf"
	FileTypeText     FileType = "text"
	FileTypeMarkdown FileType = "markdown"
	FileTypeDOCX     FileType = "docx"
	FileTypeXLSX     FileType = "xlsx"
	FileTypePPTX     FileType = "pptx"
)

// SourceDocument is one file of the corpus; Name is its identity.
type SourceDocument struct {
	Name string
	Path string
	Size int64
	Type FileType
}

// ExtractedDocument is the text pulled out of a SourceDocument. Content is
// empty when extraction failed.
type ExtractedDocument struct {
	Content  string
	Source   string
	FileType FileType
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Content  string
	Source   string
	FileType FileType
	ChunkID  int
}

type ScoredChunk struct {
	Chunk
	Score float32
}

type Source struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float32 `json:"score"`
}

// Answer is the result of a query: the generated (or substituted) text plus
// the passages it was grounded on, nearest first.
type Answer struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Model   string   `json:"model,omitempty"`
	Warning string   `json:"warning,omitempty"`
}

type IngestResult struct {
	Message   string `json:"message"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Tier      string `json:"embedding_tier"`
}

type IngestRun struct {
	ID            string    `json:"id"`
	Trigger       string    `json:"trigger"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Documents     int       `json:"documents"`
	Chunks        int       `json:"chunks"`
	EmbeddingTier string    `json:"embedding_tier"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
}

const (
	RunStatusOK     = "ok"
	RunStatusEmpty  = "empty"
	RunStatusFailed = "failed"

	TriggerUpload  = "upload"
	TriggerProcess = "process"
	TriggerCLI     = "cli"
)

type Status struct {
	DocumentsCount     int        `json:"documents_count"`
	VectorStoreLoaded  bool       `json:"vector_store_loaded"`
	LLMConfigured      bool       `json:"llm_configured"`
	EmbeddingTier      string     `json:"embedding_tier"`
	EmbeddingDimension int        `json:"embedding_dimension"`
	IndexChunks        int        `json:"index_chunks"`
	LastIngest         *IngestRun `json:"last_ingest,omitempty"`
}
