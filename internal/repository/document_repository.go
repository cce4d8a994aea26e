package repository

import (
	"fmt"

	"gorm.io/gorm"

	"deckqa/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(record *model.DocumentRecord) error {
	if err := r.db.Create(record).Error; err != nil {
		return fmt.Errorf("create document record failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) UpdateMirrorStatus(id, status string) error {
	err := r.db.Model(&model.DocumentRecord{}).Where("id = ?", id).Update("mirror_status", status).Error
	if err != nil {
		return fmt.Errorf("update mirror status failed: %w", err)
	}
	return nil
}

// AdvanceMirrorStatus only moves a record that still carries from, so a
// worker's final status is never overwritten by a late intermediate one.
func (r *DocumentRepository) AdvanceMirrorStatus(id, from, to string) error {
	err := r.db.Model(&model.DocumentRecord{}).
		Where("id = ? AND mirror_status = ?", id, from).
		Update("mirror_status", to).Error
	if err != nil {
		return fmt.Errorf("advance mirror status failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Delete(id string) error {
	if err := r.db.Where("id = ?", id).Delete(&model.DocumentRecord{}).Error; err != nil {
		return fmt.Errorf("delete document record failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) DeleteAll() error {
	if err := r.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.DocumentRecord{}).Error; err != nil {
		return fmt.Errorf("delete document records failed: %w", err)
	}
	return nil
}
