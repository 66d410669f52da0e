package repository

import (
	"errors"
	"time"

	"github.com/relaychat/sync-backend/internal/models"
	"gorm.io/gorm"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// nextSequence draws the next per-tenant sequence number. The upsert
// keeps the counter row and the increment in a single statement so
// concurrent writers never observe the same value.
func nextSequence(tx *gorm.DB, tenantID string) (uint64, error) {
	var seq uint64
	err := tx.Raw(`
		INSERT INTO sync_sequences (tenant_id, last_sequence)
		VALUES (?, 1)
		ON CONFLICT (tenant_id) DO UPDATE
		SET last_sequence = sync_sequences.last_sequence + 1
		RETURNING last_sequence
	`, tenantID).Scan(&seq).Error
	return seq, err
}

// touchConversation upserts the conversation row and advances its
// last-touched sequence number.
func touchConversation(tx *gorm.DB, tenantID string, conversationID uint, seq uint64) error {
	return tx.Exec(`
		INSERT INTO conversations (id, tenant_id, last_sequence_number, created_at, updated_at)
		VALUES (?, ?, ?, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET last_sequence_number = GREATEST(conversations.last_sequence_number, EXCLUDED.last_sequence_number),
			updated_at = NOW()
	`, conversationID, tenantID, seq).Error
}

// Create inserts a message with a fresh sequence number. Replaying the
// same client id is not an error: the existing row is loaded instead,
// so at-least-once application stays idempotent.
func (r *MessageRepository) Create(message *models.Message) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		seq, err := nextSequence(tx, message.TenantID)
		if err != nil {
			return err
		}
		message.SequenceNumber = seq
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		return touchConversation(tx, message.TenantID, message.ConversationID, seq)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var existing models.Message
		if ferr := r.db.Unscoped().
			Where("tenant_id = ? AND client_id = ? AND sender_id = ?", message.TenantID, message.ClientID, message.SenderID).
			First(&existing).Error; ferr == nil {
			*message = existing
			return nil
		}
		return err
	}
	return err
}

// FindByID loads a message including soft-deleted rows; nil when the
// row was never created or was hard-deleted.
func (r *MessageRepository) FindByID(tenantID string, id uint) (*models.Message, error) {
	var message models.Message
	err := r.db.Unscoped().Where("tenant_id = ?", tenantID).First(&message, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// FindSince returns messages past the cursor in ascending sequence
// order, soft-deleted rows included so devices learn about deletions.
func (r *MessageRepository) FindSince(tenantID string, afterSequence uint64, conversationIDs []uint, limit int) ([]models.Message, error) {
	var messages []models.Message
	q := r.db.Unscoped().
		Where("tenant_id = ? AND sequence_number > ?", tenantID, afterSequence)
	if len(conversationIDs) > 0 {
		q = q.Where("conversation_id IN ?", conversationIDs)
	}
	err := q.Order("sequence_number ASC").Limit(limit).Find(&messages).Error
	return messages, err
}

// ApplyEdit updates content under a fresh sequence number and bumps the
// edit version.
func (r *MessageRepository) ApplyEdit(tenantID string, id uint, content string, editedAt time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var message models.Message
		if err := tx.Where("tenant_id = ?", tenantID).First(&message, id).Error; err != nil {
			return err
		}
		seq, err := nextSequence(tx, tenantID)
		if err != nil {
			return err
		}
		if err := tx.Model(&message).Updates(map[string]interface{}{
			"content":         content,
			"edited_at":       editedAt,
			"version":         gorm.Expr("version + 1"),
			"sequence_number": seq,
		}).Error; err != nil {
			return err
		}
		return touchConversation(tx, tenantID, message.ConversationID, seq)
	})
}

// SoftDelete marks a message deleted under a fresh sequence number.
// Deleting an already-deleted or missing message is a no-op.
func (r *MessageRepository) SoftDelete(tenantID string, id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var message models.Message
		err := tx.Where("tenant_id = ?", tenantID).First(&message, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		seq, err := nextSequence(tx, tenantID)
		if err != nil {
			return err
		}
		if err := tx.Model(&message).Updates(map[string]interface{}{
			"deleted_at":      time.Now(),
			"sequence_number": seq,
		}).Error; err != nil {
			return err
		}
		return touchConversation(tx, tenantID, message.ConversationID, seq)
	})
}

// HardDelete removes the row entirely and records a tombstone so delta
// sync can still report the deletion past any cursor.
func (r *MessageRepository) HardDelete(tenantID string, id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var message models.Message
		err := tx.Unscoped().Where("tenant_id = ?", tenantID).First(&message, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		seq, err := nextSequence(tx, tenantID)
		if err != nil {
			return err
		}
		tombstone := models.MessageTombstone{
			TenantID:       tenantID,
			ConversationID: message.ConversationID,
			MessageID:      message.ID,
			SequenceNumber: seq,
		}
		if err := tx.Create(&tombstone).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Delete(&message).Error; err != nil {
			return err
		}
		return touchConversation(tx, tenantID, message.ConversationID, seq)
	})
}

// ApplyResolved writes a resolved conflict outcome to the log as a
// single conditional update keyed by message id. Applying the same
// resolution twice converges to the same row, which is what the
// at-least-once resolution path needs.
func (r *MessageRepository) ApplyResolved(tenantID string, snapshot *models.MessageSnapshot) error {
	if snapshot == nil || snapshot.MessageID == 0 {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		seq, err := nextSequence(tx, tenantID)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"content":         snapshot.Content,
			"edited_at":       snapshot.EditedAt,
			"version":         snapshot.Version,
			"sequence_number": seq,
		}
		if snapshot.Deleted {
			updates["deleted_at"] = time.Now()
		} else {
			updates["deleted_at"] = nil
		}
		if err := tx.Unscoped().Model(&models.Message{}).
			Where("tenant_id = ? AND id = ?", tenantID, snapshot.MessageID).
			Updates(updates).Error; err != nil {
			return err
		}
		return touchConversation(tx, tenantID, snapshot.ConversationID, seq)
	})
}

// AddReaction upserts a reaction; replays are no-ops.
func (r *MessageRepository) AddReaction(tenantID string, messageID, userID uint, emoji string) error {
	reaction := models.MessageReaction{MessageID: messageID, UserID: userID, Emoji: emoji}
	err := r.db.Create(&reaction).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

// FindTombstonesSince lists hard deletions past the cursor.
func (r *MessageRepository) FindTombstonesSince(tenantID string, afterSequence uint64, conversationIDs []uint) ([]models.MessageTombstone, error) {
	var tombstones []models.MessageTombstone
	q := r.db.Where("tenant_id = ? AND sequence_number > ?", tenantID, afterSequence)
	if len(conversationIDs) > 0 {
		q = q.Where("conversation_id IN ?", conversationIDs)
	}
	err := q.Order("sequence_number ASC").Find(&tombstones).Error
	return tombstones, err
}
