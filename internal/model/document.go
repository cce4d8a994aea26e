package model

import "time"

// DocumentRecord is the durable bookkeeping row for an ingested document.
// The chunks themselves live only in the in-memory store.
type DocumentRecord struct {
	ID           string    `gorm:"primaryKey;size:36" json:"doc_id"`
	Filename     string    `gorm:"size:256;not null" json:"filename"`
	DocType      string    `gorm:"size:32;not null;index" json:"doc_type"`
	ChunkCount   int       `gorm:"not null" json:"chunk_count"`
	FileSize     int64     `json:"file_size"`
	MirrorStatus string    `gorm:"size:32" json:"mirror_status"`
	CreatedAt    time.Time `json:"created_at"`
}
