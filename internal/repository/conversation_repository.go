package repository

import (
	"errors"

	"github.com/relaychat/sync-backend/internal/models"
	"gorm.io/gorm"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) FindByIDs(tenantID string, ids []uint) ([]models.Conversation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var conversations []models.Conversation
	err := r.db.Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Order("id ASC").
		Find(&conversations).Error
	return conversations, err
}

// Watermark returns the highest sequence number durable for the tenant;
// zero for a tenant that has never written.
func (r *ConversationRepository) Watermark(tenantID string) (uint64, error) {
	var seq models.SyncSequence
	err := r.db.First(&seq, "tenant_id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq.LastSequence, nil
}
