package text

import (
	"regexp"
	"strings"
)

// Chunk is an embeddable slice of a page. ChunkIndex is zero-based and
// sequential across the whole document.
type Chunk struct {
	Content    string
	PageNumber int
	ChunkIndex int
}

var pageLabelRe = regexp.MustCompile(`(?i)^(page\s+)?\d+(\s+of\s+\d+)?$`)

// IsNoiseChunk reports chunks with nothing worth embedding: blank text or a
// bare page label such as "Page 3 of 12".
func IsNoiseChunk(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return true
	}
	return pageLabelRe.MatchString(trimmed)
}

// ChunkPages splits every page into pieces of at most maxChars bytes. A piece
// only exceeds the limit when a single word does. Consecutive pieces of the
// same page share up to overlap trailing bytes of context. The result is
// deterministic for a given input.
func ChunkPages(pages []Page, maxChars, overlap int) []Chunk {
	if maxChars <= 0 {
		maxChars = 2000
	}
	if overlap < 0 || overlap*2 >= maxChars {
		overlap = 0
	}
	budget := maxChars - overlap

	var chunks []Chunk
	for _, page := range pages {
		pieces := splitProse(page.Content, budget)

		prev := ""
		for _, piece := range pieces {
			if IsNoiseChunk(piece) {
				continue
			}
			content := piece
			if tail := overlapTail(prev, overlap); tail != "" {
				content = tail + " " + piece
			}
			prev = piece

			chunks = append(chunks, Chunk{
				Content:    content,
				PageNumber: page.Number,
				ChunkIndex: len(chunks),
			})
		}
	}
	return chunks
}

// overlapTail returns at most n trailing bytes of s, starting on a word boundary.
func overlapTail(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	if len(s) <= n {
		return s
	}
	tail := s[len(s)-n:]
	if strings.ContainsRune(" \n\t", rune(s[len(s)-n-1])) {
		return strings.TrimSpace(tail)
	}
	i := strings.IndexAny(tail, " \n\t")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(tail[i:])
}

// splitProse splits text by structure: Paragraphs -> Lines -> Words
func splitProse(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxChars {
		return []string{text}
	}

	var pieces []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
		}
	}

	appendWithSep := func(s, sep string) bool {
		extra := len(s)
		if current.Len() > 0 {
			extra += len(sep)
		}
		if current.Len()+extra > maxChars {
			return false
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(s)
		return true
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if appendWithSep(para, "\n\n") {
			continue
		}
		flush()
		if len(para) <= maxChars {
			current.WriteString(para)
			continue
		}

		for _, line := range strings.Split(para, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if appendWithSep(line, "\n") {
				continue
			}
			flush()
			if len(line) <= maxChars {
				current.WriteString(line)
				continue
			}

			// Fallback: words
			for _, word := range strings.Fields(line) {
				if appendWithSep(word, " ") {
					continue
				}
				flush()
				current.WriteString(word)
			}
		}
	}
	flush()

	return pieces
}
