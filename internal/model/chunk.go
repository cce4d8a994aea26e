package model

import "time"

// Tags carried by chunks.
const (
	TagSummary  = "summary"
	TagSlides   = "slides"
	TagDocument = "document"
)

// Chunk is the atomic retrievable unit of a document. Chunks are replaced
// wholesale and never edited in place once stored.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"doc_id"`
	Ordinal    int       `json:"slide"` // 0 = synthetic summary chunk
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	Tables     []string  `json:"tables"`
	Tags       []string  `json:"tags"`
	SourceName string    `json:"source"`
	CreatedAt  time.Time `json:"timestamp"`
}

// HasTag reports whether the chunk carries tag.
func (c Chunk) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Citation points an answer back at where it came from.
type Citation struct {
	DocumentID string `json:"doc_id,omitempty"`
	Ordinal    int    `json:"slide,omitempty"`
	Title      string `json:"title"`
	Source     string `json:"source,omitempty"`
	Score      int    `json:"score,omitempty"`
}
