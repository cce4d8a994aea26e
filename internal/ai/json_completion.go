package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"
)

const trimMarker = "\n\n[...trimmed...]\n\n"

// CompleteJSON asks the model for a JSON object matching schema, extracted
// from input. Results are memoized by model, schema and the original input, so
// a repeated call never reaches the network.
func (c *Client) CompleteJSON(ctx context.Context, input string, schema map[string]any) (map[string]any, error) {
	if strings.TrimSpace(input) == "" || len(schema) == 0 {
		return nil, ErrEmptyInput
	}

	var key string
	if c.cache != nil {
		key = c.cache.Key(c.cfg.Model, schema, input)
		if cached, ok := c.cache.Get(key); ok {
			return cached, nil
		}
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema failed: %w", err)
	}
	shrunk := Shrink(input, c.cfg.MaxInputChars)

	completion, err := c.chat(ctx, chatRequest{
		Model:          c.cfg.Model,
		Temperature:    0,
		MaxTokens:      1000,
		ResponseFormat: &responseFormat{Type: "json_object"},
		Messages: []ChatMessage{
			{Role: "system", Content: "Extract JSON matching the provided schema. Output valid JSON only."},
			{Role: "user", Content: "SCHEMA:\n" + string(schemaJSON) + "\n\nDOCUMENT MARKDOWN:\n" + shrunk},
		},
	})
	if err != nil {
		return nil, err
	}

	parsed, err := parseJSONObject(completion.Text())
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.Put(key, parsed); err != nil {
			log.Printf("llm cache write failed: %v", err)
		}
	}
	return parsed, nil
}

// Shrink keeps the first 60% and the last 40% of a budget of maxChars runes,
// with a marker between them. Inputs within budget are returned unchanged.
func Shrink(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	head := int(float64(maxChars) * 0.6)
	tail := int(float64(maxChars) * 0.4)
	return string(runes[:head]) + trimMarker + string(runes[len(runes)-tail:])
}

// parseJSONObject decodes content as an object. On failure it makes one
// salvage attempt on the span from the first '{' to the last '}'.
func parseJSONObject(content string) (map[string]any, error) {
	var out map[string]any
	err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out)
	if err == nil && out != nil {
		return out, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		out = nil
		if salvageErr := json.Unmarshal([]byte(content[start:end+1]), &out); salvageErr == nil && out != nil {
			return out, nil
		}
	}
	if err == nil {
		err = fmt.Errorf("not a json object")
	}
	return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
}
