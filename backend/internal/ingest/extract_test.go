package ingest

import (
	"strings"
	"testing"
)

func TestExtractDocument(t *testing.T) {
	html := `<!DOCTYPE html>
	<html>
	<head>
		<title>Graph Databases in Practice</title>
		<style>body { color: red; }</style>
		<script>console.log("tracking");</script>
	</head>
	<body>
		<nav><a href="/">Home</a></nav>
		<article>
			<h1>Graph Databases in Practice</h1>
			<p>Property graphs model entities and relationships directly.</p>
			<p>Traversal queries follow edges instead of joining tables.</p>
		</article>
		<footer>Copyright 2026</footer>
	</body>
	</html>`

	doc, err := ExtractDocument(html)
	if err != nil {
		t.Fatalf("ExtractDocument failed: %v", err)
	}

	if doc.Title != "Graph Databases in Practice" {
		t.Errorf("title %q, want the title element", doc.Title)
	}
	if !strings.Contains(doc.Text, "Property graphs model entities") {
		t.Errorf("text missing article content: %q", doc.Text)
	}
	if strings.Contains(doc.Text, "tracking") || strings.Contains(doc.Text, "color: red") {
		t.Errorf("text contains script/style content: %q", doc.Text)
	}
	if strings.Contains(doc.Text, "Copyright 2026") {
		t.Errorf("text contains footer chrome: %q", doc.Text)
	}
}

func TestExtractDocumentFallsBackToH1(t *testing.T) {
	doc, err := ExtractDocument(`<html><body><h1>Heading Only</h1><p>Body text.</p></body></html>`)
	if err != nil {
		t.Fatalf("ExtractDocument failed: %v", err)
	}
	if doc.Title != "Heading Only" {
		t.Errorf("title %q, want the h1 fallback", doc.Title)
	}
}

func TestExtractDocumentExcerptBounded(t *testing.T) {
	long := strings.Repeat("word ", 600)
	doc, err := ExtractDocument("<html><body><p>" + long + "</p></body></html>")
	if err != nil {
		t.Fatalf("ExtractDocument failed: %v", err)
	}
	if len([]rune(doc.Excerpt)) > maxExcerptRunes {
		t.Errorf("excerpt length %d exceeds the cap", len([]rune(doc.Excerpt)))
	}
	if len(doc.Text) <= len(doc.Excerpt) {
		t.Error("full text should be longer than the excerpt for long input")
	}
}

func TestExtractDocumentPlainBody(t *testing.T) {
	doc, err := ExtractDocument("<html><body>bare text with   extra   spaces</body></html>")
	if err != nil {
		t.Fatalf("ExtractDocument failed: %v", err)
	}
	if doc.Text != "bare text with extra spaces" {
		t.Errorf("text %q, want collapsed bare body text", doc.Text)
	}
}
