package repository

import (
	"github.com/relaychat/sync-backend/internal/models"
	"gorm.io/gorm"
)

type ReadStateRepository struct {
	db *gorm.DB
}

func NewReadStateRepository(db *gorm.DB) *ReadStateRepository {
	return &ReadStateRepository{db: db}
}

// UpsertMonotonic advances a user's read position in a conversation.
// GREATEST keeps the position from moving backwards when receipts
// arrive out of order or are replayed.
func (r *ReadStateRepository) UpsertMonotonic(conversationID, userID uint, lastReadSequence uint64) error {
	return r.db.Exec(`
		INSERT INTO conversation_read_states (conversation_id, user_id, last_read_sequence, created_at, updated_at)
		VALUES (?, ?, ?, NOW(), NOW())
		ON CONFLICT (conversation_id, user_id) DO UPDATE
		SET last_read_sequence = GREATEST(conversation_read_states.last_read_sequence, EXCLUDED.last_read_sequence),
			updated_at = NOW()
	`, conversationID, userID, lastReadSequence).Error
}

func (r *ReadStateRepository) Get(conversationID, userID uint) (*models.ConversationReadState, error) {
	var state models.ConversationReadState
	err := r.db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).First(&state).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *ReadStateRepository) ListByConversation(conversationID uint) ([]models.ConversationReadState, error) {
	var states []models.ConversationReadState
	err := r.db.Where("conversation_id = ?", conversationID).Find(&states).Error
	return states, err
}
