package chunker

import "strings"

// block is a run of prose or one complete fence block (opening line,
// body, closing line). Fence blocks are atomic split units.
type block struct {
	text  string
	fence bool
	lang  string
}

// parseBlocks walks content line by line tracking fence open/close state.
// An unclosed fence at end of input is closed so every downstream chunk
// stays fence-balanced.
func parseBlocks(content string) []block {
	lines := strings.Split(content, "\n")

	var blocks []block
	var prose []string
	var fenceLines []string
	var fenceMarker string // "```" or "~~~" with open length
	var fenceLang string

	flushProse := func() {
		text := strings.TrimSpace(strings.Join(prose, "\n"))
		if text != "" {
			blocks = append(blocks, block{text: text})
		}
		prose = prose[:0]
	}

	for _, line := range lines {
		if fenceMarker == "" {
			if marker, lang, ok := fenceOpen(line); ok {
				flushProse()
				fenceMarker = marker
				fenceLang = lang
				fenceLines = append(fenceLines[:0], line)
				continue
			}
			prose = append(prose, line)
			continue
		}

		fenceLines = append(fenceLines, line)
		if fenceClose(line, fenceMarker) {
			blocks = append(blocks, block{
				text:  strings.Join(fenceLines, "\n"),
				fence: true,
				lang:  fenceLang,
			})
			fenceMarker = ""
			fenceLang = ""
			fenceLines = fenceLines[:0]
		}
	}

	if fenceMarker != "" {
		// Unclosed fence: close it ourselves.
		fenceLines = append(fenceLines, fenceMarker)
		blocks = append(blocks, block{
			text:  strings.Join(fenceLines, "\n"),
			fence: true,
			lang:  fenceLang,
		})
	}
	flushProse()

	return blocks
}

// fenceOpen reports whether line opens a fence, returning the marker and
// info string.
func fenceOpen(line string) (marker, lang string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	var ch byte
	switch {
	case strings.HasPrefix(trimmed, "```"):
		ch = '`'
	case strings.HasPrefix(trimmed, "~~~"):
		ch = '~'
	default:
		return "", "", false
	}

	n := 0
	for n < len(trimmed) && trimmed[n] == ch {
		n++
	}
	info := strings.TrimSpace(trimmed[n:])
	// Backtick fences cannot carry backticks in the info string.
	if ch == '`' && strings.Contains(info, "`") {
		return "", "", false
	}
	return strings.Repeat(string(ch), n), strings.ToLower(info), true
}

// fenceClose reports whether line closes a fence opened with marker: the
// same character repeated at least as many times, with nothing else.
func fenceClose(line, marker string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < len(marker) {
		return false
	}
	ch := marker[0]
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] != ch {
			return false
		}
	}
	return true
}

// splitFence breaks an oversized fence block at line boundaries, closing
// and reopening the fence with the same info string so each resulting
// piece is independently balanced.
func splitFence(b block, max int) []block {
	lines := strings.Split(b.text, "\n")
	if len(lines) < 3 {
		return []block{b}
	}

	open := lines[0]
	closing := lines[len(lines)-1]
	body := lines[1 : len(lines)-1]

	overhead := len(open) + len(closing) + 2
	var out []block
	var cur []string
	curLen := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		text := open + "\n" + strings.Join(cur, "\n") + "\n" + closing
		out = append(out, block{text: text, fence: true, lang: b.lang})
		cur = nil
		curLen = 0
	}

	for _, line := range body {
		lineLen := len(line) + 1
		if curLen > 0 && overhead+curLen+lineLen > max {
			flush()
		}
		cur = append(cur, line)
		curLen += lineLen
	}
	flush()

	if len(out) == 0 {
		return []block{b}
	}
	return out
}
