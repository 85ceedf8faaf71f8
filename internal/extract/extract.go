// Package extract converts uploaded documents into plain text ready for
// chunking. Plain-text files pass through after UTF-8 validation; PDF files
// are parsed page by page.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrUnsupportedType indicates the file extension has no registered
	// extractor.
	ErrUnsupportedType = errors.New("unsupported document type")

	// ErrInvalidDocument indicates the file could not be parsed.
	ErrInvalidDocument = errors.New("invalid document")
)

// SupportedExtensions lists the file extensions Text accepts.
func SupportedExtensions() []string {
	return []string{".txt", ".md", ".pdf"}
}

// Text extracts plain text from the document data. The extractor is chosen
// by the filename's extension.
func Text(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md":
		return plainText(filename, data)
	case ".pdf":
		return pdfText(filename, data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, filepath.Ext(filename))
	}
}

func plainText(filename string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidDocument, filename)
	}
	return string(data), nil
}

func pdfText(filename string, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: parse %s: %v", ErrInvalidDocument, filename, err)
	}

	body, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrInvalidDocument, filename, err)
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, body); err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrInvalidDocument, filename, err)
	}
	return sb.String(), nil
}
