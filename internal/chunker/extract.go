package chunker

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// Supported MIME types.
const (
	MIMEPlain = "text/plain"
	MIMEPDF   = "application/pdf"
	MIMEDOCX  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Format is a document family the extractor can read.
type Format int

// Known formats.
const (
	FormatUnknown Format = iota
	FormatText
	FormatPDF
	FormatDOCX
)

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true,
	".json": true, ".log": true, ".html": true, ".xml": true,
}

// DetectFormat resolves the document format from the MIME hint, falling back
// to the file extension when the hint is empty or generic.
func DetectFormat(path, mimeHint string) Format {
	if mt, _, err := mime.ParseMediaType(mimeHint); err == nil {
		switch {
		case mt == MIMEPDF:
			return FormatPDF
		case mt == MIMEDOCX:
			return FormatDOCX
		case strings.HasPrefix(mt, "text/"), mt == "application/json":
			return FormatText
		}
	}

	switch ext := strings.ToLower(filepath.Ext(path)); {
	case ext == ".pdf":
		return FormatPDF
	case ext == ".docx":
		return FormatDOCX
	case textExtensions[ext]:
		return FormatText
	}
	return FormatUnknown
}

// Extractor reads plain text out of stored documents.
type Extractor struct {
	maxBytes int64
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithMaxBytes rejects files larger than n bytes. Zero disables the check.
func WithMaxBytes(n int64) ExtractorOption {
	return func(e *Extractor) { e.maxBytes = n }
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractText returns the plain text of the file at path.
// Unsupported formats fail with domain.ErrUnsupportedFileType; parser
// failures are wrapped with domain.ErrExtractionFailed.
func (e *Extractor) ExtractText(_ context.Context, path, mimeHint string) (string, error) {
	format := DetectFormat(path, mimeHint)
	if format == FormatUnknown {
		return "", fmt.Errorf("%w: %q (%s)", domain.ErrUnsupportedFileType, filepath.Ext(path), mimeHint)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if e.maxBytes > 0 && info.Size() > e.maxBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", domain.ErrFileTooLarge, info.Size(), e.maxBytes)
	}

	var text string
	switch format {
	case FormatText:
		text, err = readPlain(path)
	case FormatPDF:
		text, err = readPDF(path)
	case FormatDOCX:
		text, err = readDOCX(path)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
	}
	return text, nil
}

func readPlain(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", errors.New("file is not valid UTF-8")
	}
	return string(raw), nil
}

// readPDF recovers from parser panics, which the pdf package raises on
// some malformed cross-reference tables.
func readPDF(path string) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("parse pdf: %v", rec)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

func readDOCX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	for _, file := range zr.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("open document.xml: %w", err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read document.xml: %w", err)
		}
		return parseDocumentXML(content)
	}
	return "", errors.New("docx has no word/document.xml")
}

type documentXML struct {
	Body struct {
		Paragraphs []paragraph `xml:"p"`
	} `xml:"body"`
}

type paragraph struct {
	Runs []run `xml:"r"`
}

type run struct {
	Text []textElement `xml:"t"`
}

type textElement struct {
	Content string `xml:",chardata"`
}

func parseDocumentXML(content []byte) (string, error) {
	var doc documentXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return "", fmt.Errorf("parse document.xml: %w", err)
	}

	var sb strings.Builder
	for i, para := range doc.Body.Paragraphs {
		if i > 0 {
			sb.WriteString("\n")
		}
		for _, r := range para.Runs {
			for _, t := range r.Text {
				sb.WriteString(t.Content)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
