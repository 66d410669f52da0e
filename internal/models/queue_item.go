package models

import "time"

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

type QueueItemStatus string

const (
	ItemPending    QueueItemStatus = "pending"
	ItemProcessing QueueItemStatus = "processing"
	ItemCompleted  QueueItemStatus = "completed"
	ItemFailed     QueueItemStatus = "failed"
)

// QueueItem is the durable, schedulable wrapper around a PendingOperation.
// Exactly one item per operation is live (pending or processing) at a time.
type QueueItem struct {
	ID        string           `json:"id"`
	Operation PendingOperation `json:"operation"`
	Priority  Priority         `json:"priority"`
	Status    QueueItemStatus  `json:"status"`
	Attempts  int              `json:"attempts"`

	// Earliest time the item is eligible for dequeue; pushed forward
	// by the backoff schedule on retriable failure.
	ScheduledAt time.Time `json:"scheduled_at"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	LastError   string    `json:"last_error,omitempty"`
}

// QueueStats is the per-device status breakdown surfaced to clients.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
