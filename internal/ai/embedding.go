package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	embedMaxChars   = 24000
	embedPieceChars = 1500
)

type embeddingRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	EncodingFormat string `json:"encoding_format"`
}

// Embed returns the embedding vector for text. Text longer than one piece is
// cut into fixed-size pieces that are embedded separately and averaged
// element-wise. Pieces of different dimensions are an error.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	runes := []rune(text)
	if len(runes) > embedMaxChars {
		runes = runes[:embedMaxChars]
	}

	var (
		sum   []float64
		count int
	)
	for start := 0; start < len(runes); start += embedPieceChars {
		end := start + embedPieceChars
		if end > len(runes) {
			end = len(runes)
		}
		vec, err := c.embedOne(ctx, string(runes[start:end]))
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = make([]float64, len(vec))
		} else if len(vec) != len(sum) {
			return nil, fmt.Errorf("%w: piece %d has %d dims, expected %d", ErrDimensionMismatch, count, len(vec), len(sum))
		}
		for i, v := range vec {
			sum[i] += float64(v)
		}
		count++
	}

	out := make([]float32, len(sum))
	for i := range sum {
		out[i] = float32(sum[i] / float64(count))
	}
	return out, nil
}

func (c *Client) embedOne(ctx context.Context, piece string) ([]float32, error) {
	raw, err := c.post(ctx, "/embeddings", embeddingRequest{
		Model:          c.cfg.EmbeddingModel,
		Input:          piece,
		EncodingFormat: "float",
	}, c.cfg.EmbedTimeout)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse embedding json failed: %v", ErrMalformed, err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding in response", ErrMalformed)
	}
	return parsed.Data[0].Embedding, nil
}
