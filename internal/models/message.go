package models

import (
	"time"

	"gorm.io/gorm"
)

// Message is a row in the authoritative log. Every write that changes a
// message (create, edit, soft delete, conflict resolution) assigns it a
// fresh per-tenant sequence number so delta sync picks the change up.
type Message struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	TenantID string `gorm:"type:varchar(64);not null;uniqueIndex:idx_tenant_seq,priority:1" json:"tenant_id"`

	// Client-generated operation id; the unique index makes replayed
	// sends idempotent.
	ClientID string `gorm:"type:varchar(64);not null;uniqueIndex:idx_client_sender,priority:1" json:"client_id"`
	SenderID uint   `gorm:"not null;uniqueIndex:idx_client_sender,priority:2;index" json:"sender_id"`

	ConversationID uint   `gorm:"not null;index" json:"conversation_id"`
	Content        string `gorm:"type:text;not null" json:"content"`

	SequenceNumber uint64 `gorm:"not null;uniqueIndex:idx_tenant_seq,priority:2" json:"sequence_number"`

	EditedAt *time.Time `json:"edited_at"`
	Version  int        `gorm:"default:1" json:"version"`
}

// Snapshot captures the message's current authoritative state.
func (m *Message) Snapshot() *MessageSnapshot {
	return &MessageSnapshot{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		EditedAt:       m.EditedAt,
		Deleted:        m.DeletedAt.Valid,
		Version:        m.Version,
		SequenceNumber: m.SequenceNumber,
	}
}

type MessageResponse struct {
	ID             uint       `json:"id"`
	ClientID       string     `json:"client_id"`
	SenderID       uint       `json:"sender_id"`
	ConversationID uint       `json:"conversation_id"`
	Content        string     `json:"content"`
	SequenceNumber uint64     `json:"sequence_number"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	Deleted        bool       `json:"deleted"`
	Version        int        `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (m *Message) ToResponse() MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ClientID:       m.ClientID,
		SenderID:       m.SenderID,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		SequenceNumber: m.SequenceNumber,
		EditedAt:       m.EditedAt,
		Deleted:        m.DeletedAt.Valid,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
	}
}

// MessageReaction is an idempotent per-user reaction on a message.
type MessageReaction struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	MessageID uint   `gorm:"not null;uniqueIndex:idx_msg_user_emoji,priority:1" json:"message_id"`
	UserID    uint   `gorm:"not null;uniqueIndex:idx_msg_user_emoji,priority:2" json:"user_id"`
	Emoji     string `gorm:"type:varchar(32);not null;uniqueIndex:idx_msg_user_emoji,priority:3" json:"emoji"`
}
