package models

import "time"

// Conversation rows are created implicitly the first time a message
// lands in them; LastSequenceNumber tracks the latest sequence number
// that touched the conversation.
type Conversation struct {
	ID        uint      `gorm:"primarykey;autoIncrement:false" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TenantID           string `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	Title              string `gorm:"type:varchar(255)" json:"title"`
	LastSequenceNumber uint64 `gorm:"default:0" json:"last_sequence_number"`
}

type ConversationResponse struct {
	ID                 uint      `json:"id"`
	Title              string    `json:"title"`
	LastSequenceNumber uint64    `json:"last_sequence_number"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (c *Conversation) ToResponse() ConversationResponse {
	return ConversationResponse{
		ID:                 c.ID,
		Title:              c.Title,
		LastSequenceNumber: c.LastSequenceNumber,
		UpdatedAt:          c.UpdatedAt,
	}
}

// SyncSequence is the per-tenant monotonic counter every authoritative
// write draws its sequence number from.
type SyncSequence struct {
	TenantID     string `gorm:"primarykey;type:varchar(64)" json:"tenant_id"`
	LastSequence uint64 `gorm:"default:0" json:"last_sequence"`
}

// MessageTombstone records a hard deletion with its own sequence number;
// hard-deleted rows cannot be found by a newer-than-cursor scan, so
// delta sync reports them from here instead.
type MessageTombstone struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	TenantID       string `gorm:"type:varchar(64);not null;index:idx_tomb_tenant_seq,priority:1" json:"tenant_id"`
	ConversationID uint   `gorm:"not null" json:"conversation_id"`
	MessageID      uint   `gorm:"not null" json:"message_id"`
	SequenceNumber uint64 `gorm:"not null;index:idx_tomb_tenant_seq,priority:2" json:"sequence_number"`
}

// ConversationReadState tracks the highest sequence number a user has
// read in a conversation; updates are monotonic.
type ConversationReadState struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ConversationID   uint   `gorm:"not null;uniqueIndex:idx_conv_user,priority:1" json:"conversation_id"`
	UserID           uint   `gorm:"not null;uniqueIndex:idx_conv_user,priority:2" json:"user_id"`
	LastReadSequence uint64 `gorm:"default:0" json:"last_read_sequence"`
}
