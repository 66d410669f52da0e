package models

// DeltaSyncRequest asks for everything past the device's cursor,
// optionally narrowed to specific conversations.
type DeltaSyncRequest struct {
	LastSequenceNumber uint64 `json:"last_sequence_number"`
	ConversationIDs    []uint `json:"conversation_ids,omitempty"`
}

// DeletedItem reports a hard-deleted message a cursor scan cannot see.
type DeletedItem struct {
	MessageID      uint   `json:"message_id"`
	ConversationID uint   `json:"conversation_id"`
	SequenceNumber uint64 `json:"sequence_number"`
}

// SyncMetrics is recorded for every delta sync round-trip.
type SyncMetrics struct {
	MessageCount      int   `json:"message_count"`
	ConversationCount int   `json:"conversation_count"`
	DeletedCount      int   `json:"deleted_count"`
	DurationMillis    int64 `json:"duration_ms"`
}

// DeltaSyncResponse is the ordered catch-up payload. HasMore signals the
// caller must re-invoke with the last returned sequence number as the
// new cursor.
type DeltaSyncResponse struct {
	Messages              []MessageResponse      `json:"messages"`
	Conversations         []ConversationResponse `json:"conversations"`
	DeletedItems          []DeletedItem          `json:"deleted_items"`
	CurrentSequenceNumber uint64                 `json:"current_sequence_number"`
	HasMore               bool                   `json:"has_more"`
	Metrics               SyncMetrics            `json:"metrics"`
}
