package models

import "errors"

const (
	ThinkTag         = `(?s)<think>.*?</think>`
	ContextSeparator = "\n\n"

	// rune counts shown per source in a search response
	SourcePreviewChars         = 200
	DisabledSourcePreviewChars = 300

	DisabledAnswer  = "Language model API key not configured. Here are the most relevant document excerpts:"
	DisabledWarning = "Language model not configured - showing raw results only"

	NothingToProcess = "No documents found to process."
	ProcessedFormat  = "Processed %d documents into %d chunks."
)

var (
	AnswerPromptTemplate = `Using the provided documents, answer the user's question succinctly and accurately.
If the answer cannot be found in the documents, say so.

Documents:
%s

Question: %s

Answer:`

	SimpleAnswerPromptTemplate = "Using these documents: %s\n\nQuestion: %s\n\nAnswer:"
)

var (
	ErrNoCorpus           = errors.New("no documents available, please upload documents first")
	ErrEmptyCorpus        = errors.New("empty corpus")
	ErrEmptyQuery         = errors.New("empty query")
	ErrNoFile             = errors.New("no selected file")
	ErrFileTypeNotAllowed = errors.New("file type not allowed")
)
