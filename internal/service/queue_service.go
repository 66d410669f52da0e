package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/relaychat/sync-backend/internal/cache"
	"github.com/relaychat/sync-backend/internal/models"
)

var (
	ErrOperationExpired   = errors.New("operation ttl already elapsed")
	ErrDuplicateOperation = errors.New("operation already queued for device")
	ErrItemNotFound       = errors.New("queue item not found")
	ErrNotRetryable       = errors.New("queue item is not in failed status")
)

const (
	maxAttempts = 5

	// Score bias applied per priority level. Large enough that
	// same-instant items dequeue strictly by priority, small enough
	// that a low-priority item's eligibility lag stays bounded.
	priorityOffset = 15 * time.Minute

	// How long a claimed item stays invisible before the sweeper may
	// hand it to another worker.
	visibilityTimeout = 60 * time.Second

	// Terminal items are retained briefly for status queries.
	completedRetention = 5 * time.Minute
	failedRetention    = 24 * time.Hour
)

// Retry delay per failed attempt, capped at the last entry.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// QueueService owns the per-device pending-operation queue: priority
// scheduling, bounded retry with backoff, TTL expiry, and the
// single-claim dequeue contract.
type QueueService struct {
	store cache.QueueStoreInterface
	clock Clock
}

func NewQueueService(store cache.QueueStoreInterface, clock Clock) *QueueService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &QueueService{store: store, clock: clock}
}

func scoreFor(at time.Time, priority models.Priority) int64 {
	score := at.UnixMilli()
	switch priority {
	case models.PriorityHigh:
		score -= priorityOffset.Milliseconds()
	case models.PriorityLow:
		score += priorityOffset.Milliseconds()
	}
	return score
}

// retention keeps the item blob around until the operation TTL plus the
// terminal-state grace, so status queries and manual retry stay possible
// after the last attempt.
func retention(item *models.QueueItem, now time.Time) time.Duration {
	ttl := item.Operation.ExpiresAt.Sub(now)
	if ttl < 0 {
		ttl = 0
	}
	return ttl + failedRetention
}

// Enqueue persists the operation and schedules it. Rejects operations
// whose TTL has already elapsed and operations already live for the
// device.
func (s *QueueService) Enqueue(key models.DeviceKey, op models.PendingOperation, priority models.Priority) (string, error) {
	now := s.clock.Now()
	if op.Expired(now) {
		return "", ErrOperationExpired
	}
	if priority == "" {
		priority = models.PriorityNormal
	}

	itemID := fmt.Sprintf("%s-%d", op.ID, now.UnixMilli())
	ok, err := s.store.TryMarkLive(key, op.ID, itemID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrDuplicateOperation
	}

	item := &models.QueueItem{
		ID:          itemID,
		Operation:   op,
		Priority:    priority,
		Status:      models.ItemPending,
		ScheduledAt: now,
		EnqueuedAt:  now,
	}
	if err := s.store.PutItem(key, item, retention(item, now)); err != nil {
		_ = s.store.ClearLive(key, op.ID)
		return "", err
	}
	if err := s.store.AddToIndex(key, itemID, scoreFor(now, priority)); err != nil {
		_ = s.store.DeleteItem(key, itemID)
		_ = s.store.ClearLive(key, op.ID)
		return "", err
	}
	if err := s.store.RegisterDevice(key); err != nil {
		return "", err
	}
	return itemID, nil
}

// Dequeue claims the lowest-score eligible item, or nil when nothing is
// due. The claim itself is a single atomic pop; everything after it
// tolerates interruption, so index entries without a detail blob are
// pruned here rather than surfaced.
func (s *QueueService) Dequeue(key models.DeviceKey) (*models.QueueItem, error) {
	now := s.clock.Now()
	deadline := now.Add(visibilityTimeout).UnixMilli()
	for {
		itemID, ok, err := s.store.Claim(key, now.UnixMilli(), deadline)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		item, err := s.store.GetItem(key, itemID)
		if err != nil {
			return nil, err
		}
		if item == nil {
			// Orphaned index entry, detail blob gone.
			_ = s.store.RemoveProcessing(key, itemID)
			continue
		}
		if item.Operation.Expired(now) {
			s.purge(key, item)
			continue
		}
		item.Status = models.ItemProcessing
		item.Attempts++
		if err := s.store.PutItem(key, item, retention(item, now)); err != nil {
			return nil, err
		}
		return item, nil
	}
}

// MarkCompleted finishes an item; the record lingers briefly for
// observability, then expires.
func (s *QueueService) MarkCompleted(key models.DeviceKey, itemID string) error {
	item, err := s.store.GetItem(key, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrItemNotFound
	}
	if err := s.store.RemoveProcessing(key, itemID); err != nil {
		return err
	}
	item.Status = models.ItemCompleted
	item.LastError = ""
	if err := s.store.PutItem(key, item, completedRetention); err != nil {
		return err
	}
	return s.store.ClearLive(key, item.Operation.ID)
}

// MarkFailed reschedules the item with backoff, or parks it FAILED once
// the attempt ceiling is reached.
func (s *QueueService) MarkFailed(key models.DeviceKey, itemID, cause string) error {
	now := s.clock.Now()
	item, err := s.store.GetItem(key, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrItemNotFound
	}
	if err := s.store.RemoveProcessing(key, itemID); err != nil {
		return err
	}
	item.LastError = cause

	if item.Attempts < maxAttempts {
		idx := item.Attempts - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(backoffSchedule) {
			idx = len(backoffSchedule) - 1
		}
		item.Status = models.ItemPending
		item.ScheduledAt = now.Add(backoffSchedule[idx])
		if err := s.store.PutItem(key, item, retention(item, now)); err != nil {
			return err
		}
		return s.store.AddToIndex(key, item.ID, scoreFor(item.ScheduledAt, item.Priority))
	}

	item.Status = models.ItemFailed
	if err := s.store.PutItem(key, item, failedRetention); err != nil {
		return err
	}
	return s.store.ClearLive(key, item.Operation.ID)
}

// RetryFailed re-enqueues a FAILED item immediately with a clean slate.
func (s *QueueService) RetryFailed(key models.DeviceKey, itemID string) error {
	now := s.clock.Now()
	item, err := s.store.GetItem(key, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrItemNotFound
	}
	if item.Status != models.ItemFailed {
		return ErrNotRetryable
	}
	ok, err := s.store.TryMarkLive(key, item.Operation.ID, item.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateOperation
	}
	item.Status = models.ItemPending
	item.Attempts = 0
	item.LastError = ""
	item.ScheduledAt = now
	if err := s.store.PutItem(key, item, retention(item, now)); err != nil {
		return err
	}
	return s.store.AddToIndex(key, item.ID, scoreFor(now, item.Priority))
}

// Stats counts retained items by status.
func (s *QueueService) Stats(key models.DeviceKey) (models.QueueStats, error) {
	var stats models.QueueStats
	items, err := s.store.ListItems(key)
	if err != nil {
		return stats, err
	}
	for _, item := range items {
		switch item.Status {
		case models.ItemPending:
			stats.Pending++
		case models.ItemProcessing:
			stats.Processing++
		case models.ItemCompleted:
			stats.Completed++
		case models.ItemFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// PurgeExpired drops every item whose operation TTL has elapsed,
// regardless of status. Returns the number purged.
func (s *QueueService) PurgeExpired(key models.DeviceKey) (int, error) {
	now := s.clock.Now()
	items, err := s.store.ListItems(key)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, item := range items {
		if item.Operation.Expired(now) {
			s.purge(key, item)
			purged++
		}
	}
	return purged, nil
}

// ReclaimStuck returns items abandoned in PROCESSING past the
// visibility deadline to the queue. Attempts already counted at claim
// time stand, so a crash-looping operation still converges to FAILED.
func (s *QueueService) ReclaimStuck(key models.DeviceKey) (int, error) {
	now := s.clock.Now()
	itemIDs, err := s.store.ExpiredProcessing(key, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, itemID := range itemIDs {
		if err := s.store.RemoveProcessing(key, itemID); err != nil {
			return reclaimed, err
		}
		item, err := s.store.GetItem(key, itemID)
		if err != nil {
			return reclaimed, err
		}
		if item == nil {
			continue
		}
		if item.Operation.Expired(now) {
			s.purge(key, item)
			continue
		}
		item.Status = models.ItemPending
		item.ScheduledAt = now
		if err := s.store.PutItem(key, item, retention(item, now)); err != nil {
			return reclaimed, err
		}
		if err := s.store.AddToIndex(key, item.ID, scoreFor(now, item.Priority)); err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}

// Reset hard-deletes the device's queue.
func (s *QueueService) Reset(key models.DeviceKey) error {
	return s.store.Drop(key)
}

// Devices lists devices with registered queues.
func (s *QueueService) Devices() ([]models.DeviceKey, error) {
	return s.store.Devices()
}

func (s *QueueService) purge(key models.DeviceKey, item *models.QueueItem) {
	_ = s.store.RemoveFromIndex(key, item.ID)
	_ = s.store.RemoveProcessing(key, item.ID)
	_ = s.store.DeleteItem(key, item.ID)
	_ = s.store.ClearLive(key, item.Operation.ID)
}
