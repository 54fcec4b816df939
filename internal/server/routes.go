package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"kbsearch/internal/docstore"
	"kbsearch/internal/helper"
	"kbsearch/internal/models"
	"kbsearch/internal/rag"
)

const (
	uploadMessage = "File uploaded successfully"
	maxSearchBody = 1 << 20
)

type documentResponse struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

type uploadResponse struct {
	Message          string `json:"message"`
	Filename         string `json:"filename"`
	ProcessingResult string `json:"processing_result"`
	Documents        int    `json:"documents"`
	Chunks           int    `json:"chunks"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	*models.Answer
	AnswerHTML string `json:"answer_html"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rag.Status(r.Context()))
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.rag.Documents()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]documentResponse, len(docs))
	for i, d := range docs {
		out[i] = documentResponse{Name: d.Name, Size: d.Size, Type: docstore.TypeLabel(d.Type)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.rag.History(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadMB<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(fmt.Sprintf("file exceeds %d MB", s.cfg.MaxUploadMB)))
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			writeJSON(w, http.StatusBadRequest, errorBody("No file part"))
		default:
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		}
		return
	}
	defer file.Close()

	name, result, err := s.rag.Upload(r.Context(), header.Filename, file, models.TriggerUpload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:          uploadMessage,
		Filename:         name,
		ProcessingResult: result.Message,
		Documents:        result.Documents,
		Chunks:           result.Chunks,
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	result, err := s.rag.Ingest(r.Context(), models.TriggerProcess)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSearchBody)
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("request body too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	answer, err := s.rag.Query(r.Context(), req.Query)
	if err != nil {
		writeError(w, err)
		return
	}

	html, err := helper.RenderMarkdown(answer.Answer)
	if err != nil {
		log.Warn().Err(err).Msg("Error rendering answer")
	}
	writeJSON(w, http.StatusOK, searchResponse{Answer: answer, AnswerHTML: html})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Error writing response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	if rag.IsClientError(err) {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	log.Error().Err(err).Msg("Request failed")
	writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
