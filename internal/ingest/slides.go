// Package ingest turns parser output into chunks.
package ingest

import (
	"regexp"
	"strings"

	"deckqa/internal/model"
)

// SlidesSchema is the structure requested from the extraction backend for
// slide decks.
var SlidesSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"DocTitle":   map[string]any{"type": "string"},
		"SlideCount": map[string]any{"type": "number"},
		"Slides": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"SlideNumber":    map[string]any{"type": "number"},
					"Title":          map[string]any{"type": "string"},
					"Bullets":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"Narrative":      map[string]any{"type": "string"},
					"TablesMarkdown": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
		},
	},
}

// UntitledSlide titles markdown sections that precede the first heading.
const UntitledSlide = "Slide"

var headingPattern = regexp.MustCompile(
	`^\s*(?:#{1,3}\s*)?(` +
		`[A-Z][A-Z0-9 &/\-]{3,}` +
		`|(?:\d{1,2}\.?\s+)?(ABOUT US|PROBLEM|PROBLEMS|SOLUTION|SOLUTIONS|GO TO MARKET|MARKET OPPORTUNITY|BUSINESS MODEL|COMPETITIVE ADVANTAGE|FUNDING|FINANCIALS|OUR TEAM|TEAM|INVESTORS|SUMMARY|OVERVIEW|TABLE OF CONTENTS?)` +
		`)\s*$`,
)

// ExtractedToChunks builds one chunk per extracted slide with text, preceded
// by a summary chunk when the deck has a title. Slides without a number take
// their 1-based position.
func ExtractedToChunks(fields map[string]any) []model.Chunk {
	var chunks []model.Chunk
	slides, _ := fields["Slides"].([]any)
	for i, s := range slides {
		slide, ok := s.(map[string]any)
		if !ok {
			continue
		}
		title := clean(stringOf(slide["Title"]))
		parts := []string{title}
		parts = append(parts, stringsOf(slide["Bullets"])...)
		parts = append(parts, stringOf(slide["Narrative"]))

		var kept []string
		for _, p := range parts {
			if p = clean(p); p != "" {
				kept = append(kept, p)
			}
		}

		if len(kept) == 0 {
			continue
		}
		ordinal := intOf(slide["SlideNumber"])
		if ordinal <= 0 {
			ordinal = i + 1
		}

		chunks = append(chunks, model.Chunk{
			Ordinal: ordinal,
			Title:   title,
			Text:    strings.Join(kept, " | "),
			Tables:  stringsOf(slide["TablesMarkdown"]),
			Tags:    []string{model.TagSlides},
		})
	}

	if docTitle := clean(stringOf(fields["DocTitle"])); docTitle != "" {
		summary := model.Chunk{
			Ordinal: 0,
			Title:   docTitle,
			Text:    "Deck: " + docTitle,
			Tags:    []string{model.TagSummary},
		}
		chunks = append([]model.Chunk{summary}, chunks...)
	}
	return chunks
}

// MarkdownToChunks splits markdown on headings that look like slide titles.
// Figure placeholders are dropped.
func MarkdownToChunks(markdown string) []model.Chunk {
	lines := strings.Split(strings.ReplaceAll(markdown, "\r", ""), "\n")

	var (
		sections []model.Chunk
		title    = UntitledSlide
		buf      []string
		slide    = 1
	)
	flush := func() {
		if text := clean(strings.Join(buf, " ")); text != "" {
			sections = append(sections, model.Chunk{
				Ordinal: slide,
				Title:   clean(title),
				Text:    text,
				Tags:    []string{model.TagSlides},
			})
			slide++
		}
		title, buf = UntitledSlide, nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if headingPattern.MatchString(trimmed) {
			flush()
			title = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "::figure::") || strings.Contains(lower, ":: scene ::") {
			continue
		}
		buf = append(buf, line)
	}
	flush()

	if len(sections) == 0 {
		return nil
	}
	summaryText := "Pitch Deck"
	if len(sections) > 1 {
		summaryText = sections[1].Title
	}
	summary := model.Chunk{
		Ordinal: 0,
		Title:   "Deck Summary",
		Text:    summaryText,
		Tags:    []string{model.TagSummary},
	}
	return append([]model.Chunk{summary}, sections...)
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func stringsOf(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intOf(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
