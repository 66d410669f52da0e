package models

import "time"

// PendingOperationRef is the lightweight view of a queued operation kept
// on the client state record, enough to classify it during reconcile
// without loading the full queue item.
type PendingOperationRef struct {
	ID                 string        `json:"id"`
	Type               OperationType `json:"type"`
	BaseSequenceNumber uint64        `json:"base_sequence_number,omitempty"`
	ExpiresAt          time.Time     `json:"ttl"`
}

// ClientState is the per-device reconciliation checkpoint.
// LastSequenceNumber is monotonically non-decreasing for a device.
type ClientState struct {
	TenantID string `json:"tenant_id"`
	UserID   uint   `json:"user_id"`
	DeviceID string `json:"device_id"`

	LastSyncAt         *time.Time `json:"last_sync_at"`
	LastSequenceNumber uint64     `json:"last_sequence_number"`

	PendingOperations []PendingOperationRef `json:"pending_operations"`

	// Bounded ring of recent conflict outcomes, newest last.
	ConflictResolutions []ConflictResolution `json:"conflict_resolutions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewClientState creates an empty checkpoint for a device.
func NewClientState(key DeviceKey, now time.Time) *ClientState {
	return &ClientState{
		TenantID:  key.TenantID,
		UserID:    key.UserID,
		DeviceID:  key.DeviceID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Key returns the device key the state belongs to.
func (s *ClientState) Key() DeviceKey {
	return DeviceKey{TenantID: s.TenantID, UserID: s.UserID, DeviceID: s.DeviceID}
}

// ClientStatePatch is a partial update; nil fields are left untouched.
// Nothing is bumped implicitly: callers set LastSyncAt themselves.
type ClientStatePatch struct {
	LastSyncAt         *time.Time `json:"last_sync_at,omitempty"`
	LastSequenceNumber *uint64    `json:"last_sequence_number,omitempty"`
}

// ReconcileResult classifies a device's tracked operations against a
// fresh server watermark.
type ReconcileResult struct {
	ValidOperations []PendingOperationRef `json:"valid_operations"`
	StaleOperations []PendingOperationRef `json:"stale_operations"`

	// True when at least one operation went stale because its base
	// sequence number was superseded, not just because its TTL lapsed.
	ConflictsDetected bool `json:"conflicts_detected"`
}
