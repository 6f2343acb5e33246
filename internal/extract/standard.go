// Package extract implements the mode-specific extractors behind the
// classification registry.
package extract

import (
	"context"
	"log/slog"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"

	"github.com/quarrydocs/quarry/internal/markdown"
	"github.com/quarrydocs/quarry/pkg/models"
)

// Mode names of the built-in extractors.
const (
	ModeStandard  = "standard"
	ModeEcommerce = "ecommerce"
)

// Standard strips boilerplate and converts HTML to markdown, preserving
// fenced code and <pre><code> blocks across the conversion.
type Standard struct{}

// NewStandard creates the standard extractor.
func NewStandard() *Standard {
	return &Standard{}
}

// Extract normalizes a page into markdown. Content that already is
// markdown passes through untouched so re-extraction stays idempotent.
func (s *Standard) Extract(_ context.Context, pageURL, htmlContent string) (*models.ExtractResult, error) {
	if markdown.Detect(pageURL, "", htmlContent) {
		return &models.ExtractResult{
			Title:   firstHeading(htmlContent),
			Content: strings.TrimSpace(htmlContent),
		}, nil
	}

	title := ExtractTitle(htmlContent)

	normalized, blocks, err := normalizeCodeBlocks(htmlContent)
	if err != nil {
		// Parser rejected the input: fall back to the tag stripper, which
		// never emits markup.
		slog.Warn("html parse failed, using fallback stripper", "url", pageURL, "error", err)
		return &models.ExtractResult{Title: title, Content: stripTags(htmlContent)}, nil
	}

	md, err := htmltomarkdown.ConvertString(normalized)
	if err != nil {
		slog.Warn("markdown conversion failed, using fallback stripper", "url", pageURL, "error", err)
		return &models.ExtractResult{Title: title, Content: stripTags(htmlContent)}, nil
	}

	md = restoreFences(md, blocks)
	return &models.ExtractResult{
		Title:   title,
		Content: strings.TrimSpace(md),
	}, nil
}

// ExtractTitle extracts the <title> content from HTML.
func ExtractTitle(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}

	var title string
	var findTitle func(*html.Node)
	findTitle = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil {
				title = n.FirstChild.Data
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findTitle(c)
		}
	}
	findTitle(doc)

	return strings.TrimSpace(title)
}

// firstHeading extracts the first H1 from markdown content.
func firstHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimPrefix(line, "# ")
		}
	}
	return ""
}
