// Package chunker splits plain text into overlapping, sentence-aligned pieces.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"deckqa/internal/model"
)

// DefaultChunkSize is the default soft bound, in characters, of one piece.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of characters carried over from
// the previous piece.
const DefaultChunkOverlap = 200

// Piece is one chunk of text produced by Split.
type Piece struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Size int    `json:"size"`
}

// Chunker splits text on sentence boundaries. A sentence is never cut, so the
// chunk size is a soft bound.
type Chunker struct {
	size    int
	overlap int
	newID   func() string
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the target piece size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the overlap budget in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithIDFunc replaces the UUID generator, mainly for tests.
func WithIDFunc(fn func() string) Option {
	return func(c *Chunker) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// New returns a Chunker with the default size and overlap, adjusted by opts.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Split normalizes whitespace and greedily packs sentences into pieces. When
// a piece closes, the next one is seeded with the trailing sentences of the
// closed piece that fit in the overlap budget.
func (c *Chunker) Split(text string) []Piece {
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return nil
	}
	sentences := splitSentences(normalized)

	var (
		pieces  []Piece
		current []string
		size    int
	)
	for _, sentence := range sentences {
		n := utf8.RuneCountInString(sentence)
		if size+n > c.size && len(current) > 0 {
			pieces = append(pieces, c.piece(current))

			var seed []string
			seedSize := 0
			for i := len(current) - 1; i >= 0; i-- {
				l := utf8.RuneCountInString(current[i])
				if seedSize+l > c.overlap {
					break
				}
				seed = append([]string{current[i]}, seed...)
				seedSize += l
			}
			current = seed
			size = seedSize
		}
		current = append(current, sentence)
		size += n
	}
	if len(current) > 0 {
		pieces = append(pieces, c.piece(current))
	}
	return pieces
}

// Chunks splits text and turns the pieces into document chunks numbered from 1.
func (c *Chunker) Chunks(text, title string) []model.Chunk {
	pieces := c.Split(text)
	out := make([]model.Chunk, len(pieces))
	for i, p := range pieces {
		out[i] = model.Chunk{
			ID:      p.ID,
			Ordinal: i + 1,
			Title:   title,
			Text:    p.Text,
			Tags:    []string{model.TagDocument},
		}
	}
	return out
}

func (c *Chunker) piece(sentences []string) Piece {
	text := strings.Join(sentences, " ")
	return Piece{
		ID:   c.newID(),
		Text: text,
		Size: utf8.RuneCountInString(text),
	}
}

// splitSentences cuts normalized text after '.', '!' or '?' when followed by
// a space or the end of input. Rejoining the result with single spaces gives
// back the input.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' {
				out = append(out, text[start:i+1])
				start = i + 2
				i++
			}
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
