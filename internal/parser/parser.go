package parser

import (
	"archive/zip"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"kbsearch/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

var (
	docxParagraphRe = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	docxTextRe      = regexp.MustCompile(`(?s)<w:t(?: [^>]*)?>(.*?)</w:t>`)
	pptxSlideRe     = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	pptxTextRe      = regexp.MustCompile(`(?s)<a:t>(.*?)</a:t>`)
)

var fileTypes = map[string]models.FileType{
	".pdf":  models.FileTypePDF,
	".txt":  models.FileTypeText,
	".md":   models.FileTypeMarkdown,
	".docx": models.FileTypeDOCX,
	".xlsx": models.FileTypeXLSX,
	".pptx": models.FileTypePPTX,
}

// FileTypeFor maps a filename to the extractor that handles it.
func FileTypeFor(filename string) (models.FileType, bool) {
	ft, ok := fileTypes[strings.ToLower(filepath.Ext(filename))]
	return ft, ok
}

// Extract returns the text of the file at filePath. Any read or parse failure
// is logged and collapsed to an empty string so one bad file never stops a
// corpus rebuild.
func Extract(filePath string, fileType models.FileType) string {
	text, err := ExtractText(filePath, fileType)
	if err != nil {
		log.Warn().Err(err).Str("file", filepath.Base(filePath)).Msg("Error extracting text, skipping")
		return ""
	}
	return text
}

// ExtractText is Extract with the error kept.
func ExtractText(filePath string, fileType models.FileType) (text string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("failed to parse %s: %v", filepath.Base(filePath), r)
		}
	}()

	switch fileType {
	case models.FileTypePDF:
		return parsePDF(filePath)
	case models.FileTypeText, models.FileTypeMarkdown:
		return parseText(filePath)
	case models.FileTypeDOCX:
		return parseDOCX(filePath)
	case models.FileTypeXLSX:
		return parseXLSX(filePath)
	case models.FileTypePPTX:
		return parsePPTX(filePath)
	default:
		return "", fmt.Errorf("unsupported file format: %s", fileType)
	}
}

// ExtractDocuments runs Extract over the whole corpus, in corpus order.
func ExtractDocuments(docs []models.SourceDocument) []models.ExtractedDocument {
	extracted := make([]models.ExtractedDocument, 0, len(docs))
	for _, doc := range docs {
		extracted = append(extracted, models.ExtractedDocument{
			Content:  Extract(doc.Path, doc.Type),
			Source:   doc.Name,
			FileType: doc.Type,
		})
	}
	return extracted
}

func parsePDF(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return "", err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", err
	}

	var text strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read page %d: %w", i, err)
		}
		// pages without a text layer contribute nothing
		if pageText == "" {
			continue
		}
		text.WriteString(pageText)
		text.WriteString("\n")
	}
	return text.String(), nil
}

func parseText(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not valid UTF-8", filepath.Base(filePath))
	}
	return string(data), nil
}

func parseDOCX(filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	return docxText(r.Editable().GetContent()), nil
}

// docxText flattens word/document.xml into one line per paragraph.
func docxText(content string) string {
	var text strings.Builder
	for _, p := range docxParagraphRe.FindAllString(content, -1) {
		var line strings.Builder
		for _, m := range docxTextRe.FindAllStringSubmatch(p, -1) {
			line.WriteString(m[1])
		}
		if strings.TrimSpace(line.String()) == "" {
			continue
		}
		text.WriteString(html.UnescapeString(line.String()))
		text.WriteString("\n")
	}
	return text.String()
}

func parseXLSX(filePath string) (string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var text strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		if len(rows) == 0 {
			continue
		}
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		text.WriteString("\n")
	}
	return text.String(), nil
}

func parsePPTX(filePath string) (string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, file := range f.File {
		m := pptxSlideRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, text: extractTextFromXML(string(data))})
	}
	// zip order is not slide order
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var text strings.Builder
	for _, s := range slides {
		if strings.TrimSpace(s.text) == "" {
			continue
		}
		text.WriteString(s.text)
		text.WriteString("\n")
	}
	return text.String(), nil
}

func extractTextFromXML(xmlContent string) string {
	var parts []string
	for _, m := range pptxTextRe.FindAllStringSubmatch(xmlContent, -1) {
		parts = append(parts, html.UnescapeString(m[1]))
	}
	return strings.Join(parts, " ")
}
