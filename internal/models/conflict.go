package models

import "time"

type ConflictType string

const (
	EditConflict     ConflictType = "edit_conflict"
	DeleteConflict   ConflictType = "delete_conflict"
	SequenceConflict ConflictType = "sequence_conflict"
)

type Resolution string

const (
	ServerWins Resolution = "server_wins"
	ClientWins Resolution = "client_wins"
	Merge      Resolution = "merge"
	Manual     Resolution = "manual"
)

// MessageSnapshot is a point-in-time view of a message used as the
// server/client side of a conflict record and as the resolved outcome.
type MessageSnapshot struct {
	MessageID      uint       `json:"message_id,omitempty"`
	ConversationID uint       `json:"conversation_id,omitempty"`
	Content        string     `json:"content,omitempty"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	Deleted        bool       `json:"deleted,omitempty"`
	Version        int        `json:"version,omitempty"`
	SequenceNumber uint64     `json:"sequence_number,omitempty"`
}

// Clone returns a copy the resolver can mutate without touching the
// stored record.
func (s *MessageSnapshot) Clone() *MessageSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	if s.EditedAt != nil {
		t := *s.EditedAt
		out.EditedAt = &t
	}
	return &out
}

// ConflictResolution records a detected divergence and, once resolved,
// its outcome. Resolved records are immutable history.
type ConflictResolution struct {
	ID          string       `json:"id"`
	OperationID string       `json:"operation_id,omitempty"`
	MessageID   uint         `json:"message_id,omitempty"`
	Type        ConflictType `json:"conflict_type"`

	ServerVersion *MessageSnapshot `json:"server_version,omitempty"`
	ClientVersion *MessageSnapshot `json:"client_version,omitempty"`

	Resolution      Resolution       `json:"resolution"`
	ResolvedMessage *MessageSnapshot `json:"resolved_message,omitempty"`

	DetectedAt time.Time  `json:"detected_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
