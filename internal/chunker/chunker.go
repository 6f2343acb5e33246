// Package chunker splits normalized markdown into bounded, fence-safe
// pieces sized for embedding and retrieval.
package chunker

import (
	"strings"
)

// Config bounds chunk sizes and tunes code-example extraction.
type Config struct {
	MaxChunkSize int
	MinChunkSize int

	ExtractCode          bool
	MinCodeLength        int
	MinIndicators        int
	MaxProseRatio        float64
	RelaxedMinIndicators int
}

// Chunker splits content into chunks. The same content always produces
// identical boundaries and flags.
type Chunker struct {
	config Config
}

// New creates a Chunker, applying defaults for zero-valued limits.
func New(config Config) *Chunker {
	if config.MaxChunkSize <= 0 {
		config.MaxChunkSize = 4000
	}
	if config.MinChunkSize <= 0 {
		config.MinChunkSize = 200
	}
	if config.MinCodeLength <= 0 {
		config.MinCodeLength = 120
	}
	if config.MinIndicators <= 0 {
		config.MinIndicators = 3
	}
	if config.MaxProseRatio <= 0 {
		config.MaxProseRatio = 0.5
	}
	if config.RelaxedMinIndicators <= 0 {
		config.RelaxedMinIndicators = 1
	}
	return &Chunker{config: config}
}

// Piece is one chunk of content plus its code flag.
type Piece struct {
	Text    string
	HasCode bool
}

// Split chunks content on paragraph and sentence boundaries, falling back
// to hard character limits only when no boundary exists within range.
// Fence blocks are never split mid-block: an oversized block is closed and
// reopened across the boundary so every piece is independently valid
// markdown.
func (c *Chunker) Split(content string) []Piece {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	blocks := parseBlocks(content)

	var units []block
	for _, b := range blocks {
		if b.fence {
			if len(b.text) > c.config.MaxChunkSize {
				units = append(units, splitFence(b, c.config.MaxChunkSize)...)
			} else {
				units = append(units, b)
			}
			continue
		}
		for _, part := range c.splitProse(b.text) {
			units = append(units, block{text: part})
		}
	}

	var pieces []Piece
	var sb strings.Builder
	hasCode := false

	flush := func() {
		text := strings.TrimSpace(sb.String())
		if text != "" {
			pieces = append(pieces, Piece{Text: text, HasCode: hasCode})
		}
		sb.Reset()
		hasCode = false
	}

	for _, u := range units {
		need := len(u.text)
		if sb.Len() > 0 {
			need += 2 // joining blank line
		}
		if sb.Len() > 0 && sb.Len()+need > c.config.MaxChunkSize {
			flush()
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(u.text)
		if u.fence {
			hasCode = true
		}
	}
	flush()

	return c.mergeSmall(pieces)
}

// splitProse breaks a prose block into pieces no larger than MaxChunkSize,
// preferring paragraph boundaries, then sentences, then hard limits.
func (c *Chunker) splitProse(text string) []string {
	max := c.config.MaxChunkSize

	var parts []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= max {
			parts = append(parts, para)
			continue
		}
		parts = append(parts, splitSentences(para, max)...)
	}
	return parts
}

// splitSentences packs sentences up to max, hard-splitting any single
// sentence that exceeds it.
func splitSentences(para string, max int) []string {
	var parts []string
	var sb strings.Builder

	for _, sentence := range sentences(para) {
		if len(sentence) > max {
			if sb.Len() > 0 {
				parts = append(parts, strings.TrimSpace(sb.String()))
				sb.Reset()
			}
			parts = append(parts, hardSplit(sentence, max)...)
			continue
		}
		if sb.Len() > 0 && sb.Len()+1+len(sentence) > max {
			parts = append(parts, strings.TrimSpace(sb.String()))
			sb.Reset()
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(sentence)
	}
	if sb.Len() > 0 {
		parts = append(parts, strings.TrimSpace(sb.String()))
	}
	return parts
}

// sentences splits on terminal punctuation followed by whitespace.
func sentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && (runes[i+1] == ' ' || runes[i+1] == '\n') {
			s := strings.TrimSpace(string(runes[start : i+1]))
			if s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}

func hardSplit(text string, max int) []string {
	var parts []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := max
		if n > len(runes) {
			n = len(runes)
		}
		parts = append(parts, string(runes[:n]))
		runes = runes[n:]
	}
	return parts
}

// mergeSmall folds pieces below MinChunkSize into a neighbor when the
// merge stays within the size cap.
func (c *Chunker) mergeSmall(pieces []Piece) []Piece {
	if len(pieces) < 2 {
		return pieces
	}

	var out []Piece
	for _, p := range pieces {
		if len(out) > 0 && len(p.Text) < c.config.MinChunkSize {
			prev := &out[len(out)-1]
			if len(prev.Text)+2+len(p.Text) <= c.config.MaxChunkSize {
				prev.Text = prev.Text + "\n\n" + p.Text
				prev.HasCode = prev.HasCode || p.HasCode
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// WordCount counts whitespace-separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
