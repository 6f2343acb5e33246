package extract

import (
	"fmt"
	"regexp"
	"strings"

	htmlesc "html"

	"golang.org/x/net/html"
)

// Code blocks are lifted out of the HTML tree and replaced with opaque
// placeholders before markdown conversion, then substituted back as
// fences. This keeps converters from re-wrapping or escaping code.

type fenceBlock struct {
	lang string
	code string
}

var langClassRe = regexp.MustCompile(`(?:language|lang)-([A-Za-z0-9+#_-]+)`)

// normalizeCodeBlocks parses htmlContent, replaces every <pre> block with a
// placeholder, and returns the rewritten HTML plus the placeholder map.
// Parse errors are returned so callers can fall back to the regex stripper.
func normalizeCodeBlocks(htmlContent string) (string, map[string]fenceBlock, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", nil, err
	}

	blocks := make(map[string]fenceBlock)
	n := 0

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "pre" {
			placeholder := fmt.Sprintf("QUARRYFENCE%dQUARRYFENCE", n)
			n++
			blocks[placeholder] = fenceBlock{
				lang: codeLanguage(node),
				code: textContent(node),
			}
			// Swap the block's children for a bare placeholder text node.
			for node.FirstChild != nil {
				node.RemoveChild(node.FirstChild)
			}
			node.AppendChild(&html.Node{Type: html.TextNode, Data: placeholder})
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var sb strings.Builder
	if err := html.Render(&sb, doc); err != nil {
		return "", nil, err
	}
	return sb.String(), blocks, nil
}

// restoreFences replaces placeholders in converted markdown with balanced
// fences carrying the detected language hint.
func restoreFences(markdown string, blocks map[string]fenceBlock) string {
	for placeholder, block := range blocks {
		code := strings.Trim(block.code, "\n")
		fence := "```" + block.lang + "\n" + code + "\n```"
		markdown = strings.ReplaceAll(markdown, placeholder, fence)
	}
	return markdown
}

// codeLanguage finds a language-* or lang-* class on the pre element or a
// nested code element.
func codeLanguage(pre *html.Node) string {
	var find func(*html.Node) string
	find = func(n *html.Node) string {
		if n.Type == html.ElementNode && (n.Data == "pre" || n.Data == "code") {
			for _, attr := range n.Attr {
				if attr.Key == "class" {
					if m := langClassRe.FindStringSubmatch(attr.Val); m != nil {
						return strings.ToLower(m[1])
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if lang := find(c); lang != "" {
				return lang
			}
		}
		return ""
	}
	return find(pre)
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]*>`)
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
)

// stripTags is the safe fallback when full HTML parsing fails. It removes
// script/style bodies and all tags, then unescapes entities. The output
// contains no markup, so injected HTML can never execute downstream.
func stripTags(htmlContent string) string {
	out := scriptStyleRe.ReplaceAllString(htmlContent, "")
	out = tagRe.ReplaceAllString(out, "\n")
	out = htmlesc.UnescapeString(out)
	// Unescaping may reintroduce angle brackets; neutralize them.
	out = strings.ReplaceAll(out, "<", "⟨")
	out = strings.ReplaceAll(out, ">", "⟩")
	out = blankLinesRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
