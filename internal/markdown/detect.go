// Package markdown detects markdown content so already-clean pages skip
// HTML extraction entirely.
package markdown

import (
	"regexp"
	"strings"
)

var markdownPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^#{1,6}\s+\S`),      // ATX heading
	regexp.MustCompile(`(?m)^[\-\*]\s+\S`),  // unordered list
	regexp.MustCompile(`\[.+?\]\(.+?\)`),    // link
	regexp.MustCompile("(?m)^```|^~~~"),     // code fence
	regexp.MustCompile(`(?m)^>\s+\S`),       // blockquote
	regexp.MustCompile(`(?m)^\|.+\|\s*$`),   // table row
}

// IsContentType checks if the Content-Type header indicates markdown.
func IsContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/markdown") ||
		strings.HasPrefix(ct, "text/x-markdown")
}

// IsURL checks if the URL points at a markdown file.
func IsURL(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasSuffix(lower, ".md") ||
		strings.HasSuffix(lower, ".markdown")
}

// IsContent applies syntax heuristics to decide whether content is
// markdown. Anything that opens like an HTML document is rejected before
// the pattern checks run.
func IsContent(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}

	lower := strings.ToLower(trimmed)
	for _, prefix := range []string{"<!doctype", "<html", "<head", "<body"} {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}

	for _, p := range markdownPatterns {
		if p.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// Detect combines all detection methods, checking Content-Type, then URL,
// then content heuristics.
func Detect(url, contentType, content string) bool {
	return IsContentType(contentType) || IsURL(url) || IsContent(content)
}

// URLVariants returns candidate markdown versions of a page URL, tried by
// the fetcher before falling back to HTML. GitHub blob URLs are rewritten
// to their raw form even when they already end in .md.
func URLVariants(url string) []string {
	if strings.Contains(url, "github.com") && strings.Contains(url, "/blob/") {
		raw := strings.Replace(url, "github.com", "raw.githubusercontent.com", 1)
		raw = strings.Replace(raw, "/blob/", "/", 1)
		return []string{raw}
	}

	if IsURL(url) {
		return nil
	}

	return []string{strings.TrimSuffix(url, "/") + ".md"}
}
