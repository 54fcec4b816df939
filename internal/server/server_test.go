package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbsearch/internal/config"
	"kbsearch/internal/db"
	"kbsearch/internal/docstore"
	"kbsearch/internal/embedding"
	"kbsearch/internal/llmservice"
	"kbsearch/internal/rag"
)

type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, _, _ string) llmservice.Generation {
	return llmservice.Generation{Text: "The sky is **blue**.", Model: "stub-model"}
}

func newTestServer(t *testing.T, opts ...rag.Option) *Server {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	root := t.TempDir()
	cfg.Corpus.DocumentsDir = filepath.Join(root, "documents")
	cfg.RAG.IndexPath = filepath.Join(root, "vector_store")
	cfg.EmbedLLM.Tiers = []string{config.TierHash}
	cfg.EmbedLLM.Dimension = 64

	provider, err := embedding.NewProvider(ctx, &cfg.EmbedLLM)
	require.NoError(t, err)
	history, err := db.Open(ctx, &config.DatabaseConfig{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	store := docstore.New(cfg.Corpus.DocumentsDir, cfg.Corpus.AllowedExtensions)
	opts = append(opts, rag.WithHistory(history))
	return New(cfg.Server, rag.NewRAG(&cfg.RAG, store, provider, opts...))
}

func do(t *testing.T, s *Server, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newSearchRequest(query string) *http.Request {
	body, _ := json.Marshal(map[string]string{"query": query})
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec, body := do(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestUploadThenSearch(t *testing.T) {
	s := newTestServer(t, rag.WithGenerator(stubGenerator{}))

	rec, body := do(t, s, uploadRequest(t, "a.txt", "The sky is blue. Grass is green."))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "File uploaded successfully", body["message"])
	assert.Equal(t, "a.txt", body["filename"])
	assert.Equal(t, "Processed 1 documents into 1 chunks.", body["processing_result"])

	rec, body = do(t, s, newSearchRequest("What color is the sky?"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The sky is **blue**.", body["answer"])
	assert.Contains(t, body["answer_html"], "<strong>blue</strong>")
	assert.Equal(t, "stub-model", body["model"])
	assert.Equal(t, "What color is the sky?", body["query"])
	assert.NotContains(t, body, "warning")

	sources, ok := body["sources"].([]any)
	require.True(t, ok)
	require.Len(t, sources, 1)
	first := sources[0].(map[string]any)
	assert.Equal(t, "a.txt", first["source"])
	assert.Equal(t, "The sky is blue. Grass is green.", first["content"])
}

func TestUploadRejected(t *testing.T) {
	s := newTestServer(t)

	rec, body := do(t, s, uploadRequest(t, "setup.exe", "MZ"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "file type not allowed")

	rec, body = do(t, s, uploadRequest(t, "", "x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, body["error"])

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("plain"))
	rec, body = do(t, s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file part", body["error"])

	_, body = do(t, s, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	assert.Empty(t, body["documents"])
}

func TestSearchErrors(t *testing.T) {
	s := newTestServer(t)

	rec, body := do(t, s, newSearchRequest("anything"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "no documents available")

	rec, _ = do(t, s, newSearchRequest("   "))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader("{"))
	rec, body = do(t, s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", body["error"])
}

func TestSearchBodyTooLarge(t *testing.T) {
	s := newTestServer(t)
	body := `{"query": "` + strings.Repeat("a", maxSearchBody+1) + `"}`

	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(body))
	rec, resp := do(t, s, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "request body too large", resp["error"])
}

func TestSearchWithoutGenerator(t *testing.T) {
	s := newTestServer(t)
	_, _ = do(t, s, uploadRequest(t, "a.txt", "The sky is blue. Grass is green."))

	rec, body := do(t, s, newSearchRequest("What color is the sky?"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["answer"], "not configured")
	assert.NotEmpty(t, body["warning"])
	assert.Len(t, body["sources"], 1)
}

func TestProcessDocumentsStatusHistory(t *testing.T) {
	s := newTestServer(t)

	rec, body := do(t, s, httptest.NewRequest(http.MethodPost, "/api/process", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No documents found to process.", body["message"])

	_, _ = do(t, s, uploadRequest(t, "notes.md", "# Notes\n\nRoses are red."))

	_, body = do(t, s, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	docs := body["documents"].([]any)
	require.Len(t, docs, 1)
	doc := docs[0].(map[string]any)
	assert.Equal(t, "notes.md", doc["name"])
	assert.Equal(t, "Markdown", doc["type"])

	rec, body = do(t, s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["documents_count"])
	assert.Equal(t, true, body["vector_store_loaded"])
	assert.Equal(t, false, body["llm_configured"])
	assert.Equal(t, "hash", body["embedding_tier"])
	assert.Equal(t, float64(64), body["embedding_dimension"])
	assert.NotNil(t, body["last_ingest"])

	rec, body = do(t, s, httptest.NewRequest(http.MethodGet, "/api/history?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["runs"], 2)
}
