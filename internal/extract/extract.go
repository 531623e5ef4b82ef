// Package extract turns uploaded files and fetched pages into plain text
// ready for chunking.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// ErrUnsupportedType is returned for upload extensions with no extractor.
var ErrUnsupportedType = errors.New("extract: unsupported file type")

const (
	// maxPDFPages bounds per-document work on adversarial uploads.
	maxPDFPages = 100
	// maxTextSize caps extracted text at 1MB.
	maxTextSize = 1024 * 1024
)

// FromUpload extracts text from an uploaded file, dispatching on extension.
// Markdown and plain text pass through untouched so their structure survives
// for the markdown chunking strategy.
func FromUpload(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FromPDF(data)
	case ".html", ".htm":
		return FromHTML(data)
	case ".md", ".markdown", ".txt", "":
		return capSize(string(data)), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(filename))
	}
}

// FromPDF extracts plain text from PDF bytes, page by page. Pages that fail
// extraction are skipped rather than failing the document.
func FromPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	totalPages := reader.NumPage()
	if totalPages == 0 {
		return "", fmt.Errorf("pdf has no pages")
	}
	if totalPages > maxPDFPages {
		return "", fmt.Errorf("pdf has %d pages, max is %d", totalPages, maxPDFPages)
	}

	var b strings.Builder
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		cleaned := normalizeWhitespace(strings.ReplaceAll(text, "\x00", ""))
		if cleaned == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(cleaned)
		if b.Len() > maxTextSize {
			break
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("pdf contains no extractable text")
	}
	return capSize(out), nil
}

// skipped element subtrees whose text is never document content.
var skipElements = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"head": true, "nav": true, "footer": true,
}

// blockElements get a paragraph break so headings and list items do not run
// together into one line.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"article": true, "section": true, "blockquote": true, "pre": true,
}

// FromHTML extracts visible text from an HTML document.
func FromHTML(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if s := b.String(); s != "" && !strings.HasSuffix(s, "\n") {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] && b.Len() > 0 {
			b.WriteString("\n\n")
		}
	}
	walk(doc)

	out := strings.TrimSpace(collapseBlankLines(b.String()))
	if out == "" {
		return "", fmt.Errorf("html contains no visible text")
	}
	return capSize(out), nil
}

// normalizeWhitespace collapses runs of whitespace to a single space while
// keeping newlines.
func normalizeWhitespace(text string) string {
	var b strings.Builder
	lastWasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if r == '\n' {
				b.WriteRune('\n')
				lastWasSpace = false
			} else if !lastWasSpace {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		} else {
			b.WriteRune(r)
			lastWasSpace = false
		}
	}
	return b.String()
}

// collapseBlankLines reduces three or more consecutive newlines to two.
func collapseBlankLines(text string) string {
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return text
}

func capSize(text string) string {
	if len(text) > maxTextSize {
		return text[:maxTextSize]
	}
	return text
}
