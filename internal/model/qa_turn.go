package model

import (
	"encoding/json"
	"time"
)

// QATurn is one answered question, kept for conversation memory and the
// persisted audit log.
type QATurn struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	DocumentKey string    `gorm:"size:512;not null;index" json:"document_key"`
	Question    string    `gorm:"type:text;not null" json:"question"`
	Answer      string    `gorm:"type:text;not null" json:"answer"`
	Tier        string    `gorm:"size:16;not null;index" json:"tier"`
	Persona     string    `gorm:"size:32" json:"persona"`
	Citations   string    `gorm:"type:text" json:"-"` // JSON array of Citation
	CreatedAt   time.Time `json:"created_at"`
}

// CitationList returns the parsed citations; empty on parse error.
func (t *QATurn) CitationList() []Citation {
	if t.Citations == "" {
		return nil
	}
	var out []Citation
	_ = json.Unmarshal([]byte(t.Citations), &out)
	return out
}

// SetCitations stores the citations as JSON.
func (t *QATurn) SetCitations(citations []Citation) {
	if len(citations) == 0 {
		t.Citations = "[]"
		return
	}
	b, _ := json.Marshal(citations)
	t.Citations = string(b)
}

// RecentAnswer is one entry of the answer dedup window.
type RecentAnswer struct {
	Hash   string    `json:"hash"`
	Answer string    `json:"answer"`
	At     time.Time `json:"at"`
}
