package ingest

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ============================================================================
// Document Extraction
// ============================================================================

// maxExcerptRunes bounds the excerpt stored on a document Source node.
const maxExcerptRunes = 1000

// Document is the readable content pulled out of an HTML ingestion unit.
type Document struct {
	Title   string
	Text    string
	Excerpt string
}

// ExtractDocument parses HTML and returns its title and readable text, with
// script, style, and navigation chrome stripped. The excerpt is the leading
// slice of the text, sized for storage on the Source node.
func ExtractDocument(html string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("script, style, nav, header, footer, noscript, iframe").Remove()

	// Prefer semantic content containers; fall back to the whole body.
	content := doc.Find("article, main").First()
	if content.Length() == 0 {
		content = doc.Find("body").First()
	}

	var parts []string
	content.Find("p, h1, h2, h3, h4, li, blockquote").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			parts = append(parts, text)
		}
	})
	text := strings.Join(parts, "\n")
	if text == "" {
		text = strings.TrimSpace(content.Text())
	}
	text = collapseWhitespace(text)

	return &Document{
		Title:   title,
		Text:    text,
		Excerpt: excerpt(text, maxExcerptRunes),
	}, nil
}

// collapseWhitespace folds runs of blank space inside lines while keeping the
// line structure.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func excerpt(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
