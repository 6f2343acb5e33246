package chunker

import (
	"regexp"
	"strings"
)

// CodeBlock is an extracted fenced code example.
type CodeBlock struct {
	Language string
	Code     string
	Summary  string
}

// relaxedLanguages are configuration-style languages that legitimately have
// low code-indicator density; they get the relaxed acceptance threshold.
var relaxedLanguages = map[string]bool{
	"sh": true, "bash": true, "shell": true, "zsh": true, "console": true,
	"yaml": true, "yml": true, "json": true, "ini": true, "toml": true,
	"dockerfile": true, "env": true, "properties": true, "conf": true,
}

var indicatorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(func|def|function|class|import|return|const|var|let|if|else|for|while|switch|case|struct|interface|package|public|private|static)\b`),
	regexp.MustCompile(`[{}();]`),
	regexp.MustCompile(`(:=|=>|->|==|!=|<=|>=|&&|\|\|)`),
	regexp.MustCompile(`^\s*[\w.-]+\s*[:=]\s*\S`),
	regexp.MustCompile(`^\s*[$#]\s+\w`), // shell prompt
}

// CodeExamples extracts fenced blocks that pass the acceptance thresholds.
// The prose paragraph immediately preceding a block becomes its summary.
func (c *Chunker) CodeExamples(content string) []CodeBlock {
	if !c.config.ExtractCode {
		return nil
	}

	blocks := parseBlocks(content)

	var out []CodeBlock
	var lastProse string
	for _, b := range blocks {
		if !b.fence {
			lastProse = b.text
			continue
		}
		body := fenceBody(b.text)
		if c.accept(body, b.lang) {
			out = append(out, CodeBlock{
				Language: b.lang,
				Code:     body,
				Summary:  summaryFrom(lastProse),
			})
		}
	}
	return out
}

// accept applies the minimum-length, indicator-count, and prose-ratio
// thresholds, relaxing the indicator requirement for config-style
// languages.
func (c *Chunker) accept(body, lang string) bool {
	if len(body) < c.config.MinCodeLength {
		return false
	}

	minIndicators := c.config.MinIndicators
	if relaxedLanguages[lang] {
		minIndicators = c.config.RelaxedMinIndicators
	}

	if countIndicators(body) < minIndicators {
		return false
	}
	return proseRatio(body) <= c.config.MaxProseRatio
}

func countIndicators(body string) int {
	count := 0
	for _, line := range strings.Split(body, "\n") {
		for _, p := range indicatorPatterns {
			count += len(p.FindAllString(line, -1))
		}
	}
	return count
}

var proseLineRe = regexp.MustCompile(`^[A-Z][a-z].*[a-z][.!?]$`)

// proseRatio estimates what fraction of non-empty lines read as English
// sentences rather than code.
func proseRatio(body string) float64 {
	total := 0
	prose := 0
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		total++
		if proseLineRe.MatchString(line) && !strings.ContainsAny(line, "{}();=") {
			prose++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(prose) / float64(total)
}

// fenceBody strips the opening and closing fence lines.
func fenceBody(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return ""
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

// summaryFrom condenses the preceding prose paragraph into its first
// sentence, capped at a display-friendly length.
func summaryFrom(prose string) string {
	prose = strings.TrimSpace(prose)
	if prose == "" {
		return ""
	}
	if s := sentences(prose); len(s) > 0 {
		prose = s[0]
	}
	if len(prose) > 200 {
		prose = prose[:200]
	}
	return prose
}
