package docstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"kbsearch/internal/helper"
	"kbsearch/internal/models"
	"kbsearch/internal/parser"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

var typeLabels = map[models.FileType]string{
	models.FileTypePDF:      "PDF",
	models.FileTypeText:     "Text",
	models.FileTypeMarkdown: "Markdown",
	models.FileTypeDOCX:     "Word",
	models.FileTypeXLSX:     "Excel",
	models.FileTypePPTX:     "PowerPoint",
}

// Store is the flat corpus directory. File names are the document identity
// and the extension decides the type.
type Store struct {
	dir     string
	allowed map[string]bool
}

func New(dir string, allowedExtensions []string) *Store {
	allowed := make(map[string]bool, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		allowed[strings.ToLower(ext)] = true
	}
	return &Store{dir: dir, allowed: allowed}
}

func (s *Store) Dir() string {
	return s.dir
}

// Allowed reports whether name has an allowed extension of a known type.
func (s *Store) Allowed(name string) bool {
	if !s.allowed[strings.ToLower(filepath.Ext(name))] {
		return false
	}
	_, ok := parser.FileTypeFor(name)
	return ok
}

// Add stores the content of r under the sanitized filename, replacing any
// file with the same name, and returns the stored name.
func (s *Store) Add(filename string, r io.Reader) (string, error) {
	name := SecureFilename(filename)
	if name == "" {
		return "", models.ErrNoFile
	}
	if !s.Allowed(name) {
		return "", fmt.Errorf("%w: %s", models.ErrFileTypeNotAllowed, filepath.Ext(name))
	}

	if err := helper.CreateFolder(s.dir); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("failed to store %s: %w", name, err)
	}

	log.Info().Str("source", name).Int64("bytes", n).Msg("Stored document")
	return name, nil
}

// List returns the allowed documents sorted by name. A missing directory is
// an empty corpus.
func (s *Store) List() ([]models.SourceDocument, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	var docs []models.SourceDocument
	for _, e := range entries {
		if !e.Type().IsRegular() || !s.Allowed(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			log.Warn().Err(err).Str("source", e.Name()).Msg("Skipping unreadable document")
			continue
		}
		ft, _ := parser.FileTypeFor(e.Name())
		docs = append(docs, models.SourceDocument{
			Name: e.Name(),
			Path: filepath.Join(s.dir, e.Name()),
			Size: info.Size(),
			Type: ft,
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

func (s *Store) Count() (int, error) {
	docs, err := s.List()
	return len(docs), err
}

// TypeLabel is the display name of a file type.
func TypeLabel(ft models.FileType) string {
	if label, ok := typeLabels[ft]; ok {
		return label
	}
	return "Unknown"
}

// SecureFilename reduces a client supplied name to a safe flat file name:
// separators and whitespace become underscores, anything outside
// [A-Za-z0-9_.-] is dropped and leading or trailing dots and underscores are
// trimmed. The result may be empty.
func SecureFilename(name string) string {
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}
