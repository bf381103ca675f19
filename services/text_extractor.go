package services

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// FileExtractor pulls plain text out of uploaded documents. PDFs and
// XLSX workbooks get dedicated parsers; anything else is treated as
// UTF-8 text. Extraction that yields nothing usable (scanned
// image-only PDFs, empty workbooks) is a client problem, reported as
// *NoTextExtractedError, never retried.
type FileExtractor struct{}

func NewFileExtractor() *FileExtractor {
	return &FileExtractor{}
}

func (e *FileExtractor) Extract(filename string, data []byte) (string, int, error) {
	var (
		text  string
		pages int
		err   error
	)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		text, pages, err = extractPDF(data)
	case ".xlsx":
		text, pages, err = extractXLSX(data)
	default:
		text = string(data)
		pages = 1
	}
	if err != nil {
		return "", 0, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", 0, &NoTextExtractedError{Filename: filename}
	}
	if pages < 1 {
		pages = 1
	}
	return text, pages, nil
}

func extractPDF(data []byte) (string, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}

	pages := reader.NumPage()
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", 0, err
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", 0, err
	}
	return buf.String(), pages, nil
}

func extractXLSX(data []byte) (string, int, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", 0, err
	}
	defer wb.Close()

	var sb strings.Builder
	sheets := wb.GetSheetList()
	for _, sheet := range sheets {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return "", 0, err
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " "))
			if line == "" {
				continue
			}
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String(), len(sheets), nil
}
