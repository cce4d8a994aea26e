package parser

import (
	"context"
	"strings"

	"deckqa/internal/pkg/pdfextract"
)

// LocalParser extracts PDF text in-process. It cannot do structured
// extraction, so callers fall back to heuristics.
type LocalParser struct{}

func NewLocalParser() *LocalParser {
	return &LocalParser{}
}

func (p *LocalParser) ParseToMarkdown(_ context.Context, _ string, data []byte) (*ParseResult, error) {
	pages, err := pdfextract.ExtractPages(data)
	if err != nil {
		return nil, &ParseError{Detail: err.Error()}
	}
	var kept []string
	for _, page := range pages {
		if page != "" {
			kept = append(kept, page)
		}
	}
	return &ParseResult{Markdown: strings.Join(kept, "\n\n")}, nil
}

func (p *LocalParser) ExtractStructured(_ context.Context, markdown string, schema map[string]any) (map[string]any, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, ErrEmptyMarkdown
	}
	if len(schema) == 0 {
		return nil, ErrEmptySchema
	}
	return nil, &ExtractError{Detail: "structured extraction is not available locally"}
}
