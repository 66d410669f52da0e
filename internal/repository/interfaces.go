package repository

import (
	"time"

	"github.com/relaychat/sync-backend/internal/models"
)

// MessageRepositoryInterface defines the contract for authoritative-log
// message operations. Reads include soft-deleted rows; callers check the
// snapshot's Deleted flag.
type MessageRepositoryInterface interface {
	Create(message *models.Message) error
	FindByID(tenantID string, id uint) (*models.Message, error)
	FindSince(tenantID string, afterSequence uint64, conversationIDs []uint, limit int) ([]models.Message, error)
	ApplyEdit(tenantID string, id uint, content string, editedAt time.Time) error
	SoftDelete(tenantID string, id uint) error
	HardDelete(tenantID string, id uint) error
	ApplyResolved(tenantID string, snapshot *models.MessageSnapshot) error
	AddReaction(tenantID string, messageID, userID uint, emoji string) error
	FindTombstonesSince(tenantID string, afterSequence uint64, conversationIDs []uint) ([]models.MessageTombstone, error)
}

// ConversationRepositoryInterface defines the contract for conversation
// metadata and the tenant sequence watermark.
type ConversationRepositoryInterface interface {
	FindByIDs(tenantID string, ids []uint) ([]models.Conversation, error)
	Watermark(tenantID string) (uint64, error)
}

// ReadStateRepositoryInterface defines the contract for per-user
// conversation read receipts.
type ReadStateRepositoryInterface interface {
	UpsertMonotonic(conversationID, userID uint, lastReadSequence uint64) error
	Get(conversationID, userID uint) (*models.ConversationReadState, error)
	ListByConversation(conversationID uint) ([]models.ConversationReadState, error)
}
