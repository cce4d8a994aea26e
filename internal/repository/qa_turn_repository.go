package repository

import (
	"fmt"

	"gorm.io/gorm"

	"deckqa/internal/model"
)

type QATurnRepository struct {
	db *gorm.DB
}

func NewQATurnRepository(db *gorm.DB) *QATurnRepository {
	return &QATurnRepository{db: db}
}

func (r *QATurnRepository) Create(turn *model.QATurn) error {
	if err := r.db.Create(turn).Error; err != nil {
		return fmt.Errorf("create qa turn failed: %w", err)
	}
	return nil
}

// ListByDocumentKey returns the newest turns for a document key, oldest first.
func (r *QATurnRepository) ListByDocumentKey(key string, limit int) ([]model.QATurn, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var turns []model.QATurn
	if err := r.db.Where("document_key = ?", key).Order("created_at DESC").Limit(limit).Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("list qa turns failed: %w", err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
