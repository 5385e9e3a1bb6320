package chunk

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html"

	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
)

// MIME types recognised by DefaultExtractor.
const (
	MIMEPlain    = "text/plain"
	MIMEMarkdown = "text/markdown"
	MIMEHTML     = "text/html"
	MIMEPDF      = "application/pdf"
	MIMEDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Extractor turns raw upload bytes into text. Empty text is a normal
// outcome, not an error.
type Extractor interface {
	Extract(filename string, data []byte) (text string, mime string, err error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(filename string, data []byte) (string, string, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(filename string, data []byte) (string, string, error) {
	return f(filename, data)
}

var extensionMIME = map[string]string{
	".txt":      MIMEPlain,
	".text":     MIMEPlain,
	".log":      MIMEPlain,
	".csv":      "text/csv",
	".md":       MIMEMarkdown,
	".markdown": MIMEMarkdown,
	".html":     MIMEHTML,
	".htm":      MIMEHTML,
	".xhtml":    MIMEHTML,
	".pdf":      MIMEPDF,
	".docx":     MIMEDOCX,
	".json":     "application/json",
}

// DetectMIME picks a MIME type from the extension, falling back to
// content sniffing.
func DetectMIME(filename string, data []byte) string {
	if m, ok := extensionMIME[strings.ToLower(filepath.Ext(filename))]; ok {
		return m
	}
	m := mimetype.Detect(data)
	switch {
	case m.Is(MIMEHTML):
		return MIMEHTML
	case m.Is(MIMEPDF):
		return MIMEPDF
	case m.Is(MIMEDOCX):
		return MIMEDOCX
	}
	// mimetype reports charset parameters, e.g. "text/plain; charset=utf-8"
	base, _, _ := strings.Cut(m.String(), ";")
	return base
}

// DefaultExtractor handles plain text, markdown, HTML and DOCX. PDF is
// rejected because no PDF parser is wired in.
type DefaultExtractor struct{}

// Extract implements Extractor.
func (DefaultExtractor) Extract(filename string, data []byte) (string, string, error) {
	mime := DetectMIME(filename, data)

	switch mime {
	case MIMEPDF:
		return "", mime, ragerrors.New(ragerrors.ErrCodeUnsupportedFormat,
			fmt.Sprintf("%s: pdf extraction is not supported", filename), nil).
			WithSuggestion("convert the document to text or docx before uploading")
	case MIMEDOCX:
		text, err := extractDOCX(data)
		if err != nil {
			return "", mime, ragerrors.New(ragerrors.ErrCodeExtractionFailed,
				fmt.Sprintf("%s: docx extraction failed", filename), err)
		}
		return text, mime, nil
	case MIMEHTML:
		return extractHTML(data), mime, nil
	default:
		return decodeUTF8(data), mime, nil
	}
}

// decodeUTF8 drops invalid byte sequences.
func decodeUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "")
}

// extractHTML returns visible text, skipping script and style bodies.
func extractHTML(data []byte) string {
	z := html.NewTokenizer(bytes.NewReader(data))
	var sb strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(sb.String())
		case html.StartTagToken:
			if name, _ := z.TagName(); isHiddenTag(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHiddenTag(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if text := strings.TrimSpace(string(z.Text())); text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
	}
}

func isHiddenTag(name []byte) bool {
	s := string(name)
	return s == "script" || s == "style"
}

// extractDOCX reads paragraph text from word/document.xml, one line per
// paragraph.
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx archive: %w", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("word/document.xml not found")
	}

	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var paragraphs []string
	var current strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				current.WriteByte('\t')
			case "br":
				current.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				paragraphs = append(paragraphs, current.String())
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	if current.Len() > 0 {
		paragraphs = append(paragraphs, current.String())
	}
	return strings.Join(paragraphs, "\n"), nil
}
