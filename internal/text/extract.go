package text

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

var ErrUnsupportedContent = errors.New("unsupported document content")

// Page is one page of extracted document text. Numbers start at 1.
type Page struct {
	Number  int    `json:"page_number"`
	Content string `json:"content"`
}

// PlainExtractor reads UTF-8 text documents. A form feed starts a new page.
type PlainExtractor struct{}

func NewPlainExtractor() *PlainExtractor {
	return &PlainExtractor{}
}

func (e *PlainExtractor) Extract(ctx context.Context, data []byte) ([]Page, error) {
	if !utf8.Valid(data) {
		return nil, ErrUnsupportedContent
	}

	raw := strings.ReplaceAll(string(data), "\r\n", "\n")
	parts := strings.Split(raw, "\f")

	pages := make([]Page, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		pages = append(pages, Page{Number: i + 1, Content: p})
	}
	return pages, nil
}
