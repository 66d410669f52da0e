package models

import (
	"fmt"
	"time"
)

type OperationType string

const (
	OpSendMessage   OperationType = "send_message"
	OpEditMessage   OperationType = "edit_message"
	OpDeleteMessage OperationType = "delete_message"
	OpReaction      OperationType = "reaction"
	OpReadReceipt   OperationType = "read_receipt"
)

// OperationPayload carries the per-type fields of a pending operation.
// It is a closed struct rather than an open map so that merge and
// validation logic can enumerate fields; which fields are required
// depends on the operation type (see validation.ValidateOperation).
type OperationPayload struct {
	ConversationID uint `json:"conversation_id,omitempty"`

	// Target message for edit/delete/reaction operations.
	MessageID uint `json:"message_id,omitempty"`

	Content string `json:"content,omitempty"`

	// Sequence number the client believed was current at submission time.
	BaseSequenceNumber uint64 `json:"base_sequence_number,omitempty"`

	// Edit timestamp of the message as last seen by the client.
	KnownEditedAt *time.Time `json:"known_edited_at,omitempty"`

	Emoji string `json:"emoji,omitempty"`

	// Highest sequence number the device has read (read receipts).
	LastReadSequence uint64 `json:"last_read_sequence,omitempty"`
}

// PendingOperation is a client-originated intent not yet confirmed
// against the authoritative log. Owned by the submitting device.
type PendingOperation struct {
	ID        string           `json:"id"`
	Type      OperationType    `json:"type"`
	Payload   OperationPayload `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	ExpiresAt time.Time        `json:"ttl"`
}

// Expired reports whether the operation's TTL has elapsed.
func (o *PendingOperation) Expired(now time.Time) bool {
	return !o.ExpiresAt.After(now)
}

// Ref returns the lightweight view tracked on the client state record.
func (o *PendingOperation) Ref() PendingOperationRef {
	return PendingOperationRef{
		ID:                 o.ID,
		Type:               o.Type,
		BaseSequenceNumber: o.Payload.BaseSequenceNumber,
		ExpiresAt:          o.ExpiresAt,
	}
}

// DeviceKey identifies one device queue and its sync state.
type DeviceKey struct {
	TenantID string `json:"tenant_id"`
	UserID   uint   `json:"user_id"`
	DeviceID string `json:"device_id"`
}

func (k DeviceKey) String() string {
	return fmt.Sprintf("%s:%d:%s", k.TenantID, k.UserID, k.DeviceID)
}
