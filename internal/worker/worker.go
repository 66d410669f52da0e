package worker

import (
	"fmt"
	"log"
	"time"

	"github.com/relaychat/sync-backend/internal/cache"
	"github.com/relaychat/sync-backend/internal/models"
	"github.com/relaychat/sync-backend/internal/repository"
	"github.com/relaychat/sync-backend/internal/service"
)

// Max items drained from one device queue per tick, so a noisy device
// cannot starve the rest.
const drainLimit = 25

// Worker pulls ready items off registered device queues, validates them
// against the authoritative log, and applies them. Safe to run on
// multiple instances concurrently: the dequeue claim is atomic and
// every apply path is idempotent.
type Worker struct {
	queue      *service.QueueService
	conflicts  *service.ConflictService
	messages   repository.MessageRepositoryInterface
	readStates repository.ReadStateRepositoryInterface
	notifier   *cache.Notifier
	interval   time.Duration
	stop       chan struct{}
}

func New(
	queue *service.QueueService,
	conflicts *service.ConflictService,
	messages repository.MessageRepositoryInterface,
	readStates repository.ReadStateRepositoryInterface,
	notifier *cache.Notifier,
	interval time.Duration,
) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{
		queue:      queue,
		conflicts:  conflicts,
		messages:   messages,
		readStates: readStates,
		notifier:   notifier,
		interval:   interval,
		stop:       make(chan struct{}),
	}
}

// Start launches the processing loop.
func (w *Worker) Start() {
	go w.loop()
}

// Stop terminates the processing loop.
func (w *Worker) Stop() {
	close(w.stop)
}

func (w *Worker) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Worker) tick() {
	devices, err := w.queue.Devices()
	if err != nil {
		log.Printf("worker: listing devices failed: %v", err)
		return
	}
	for _, key := range devices {
		w.drainDevice(key)
	}
}

func (w *Worker) drainDevice(key models.DeviceKey) {
	for i := 0; i < drainLimit; i++ {
		item, err := w.queue.Dequeue(key)
		if err != nil {
			log.Printf("worker: dequeue failed for device %s: %v", key, err)
			return
		}
		if item == nil {
			return
		}
		w.Process(key, item)
	}
}

// Process runs one claimed item to a terminal outcome: applied and
// completed, completed with conflicts recorded, or failed into the
// retry path.
func (w *Worker) Process(key models.DeviceKey, item *models.QueueItem) {
	records, err := w.conflicts.DetectConflicts(key, item.Operation)
	if err != nil {
		w.fail(key, item, err)
		return
	}
	if len(records) > 0 {
		// Divergence is an outcome, not a failure: the records wait in
		// the conflict store for resolution and the item is done.
		if err := w.queue.MarkCompleted(key, item.ID); err != nil {
			log.Printf("worker: completing conflicted item %s failed: %v", item.ID, err)
		}
		_ = w.notifier.Notify(key.TenantID, key.UserID, key.DeviceID, "conflict_detected")
		return
	}

	if err := w.apply(key, item.Operation); err != nil {
		w.fail(key, item, err)
		return
	}
	if err := w.queue.MarkCompleted(key, item.ID); err != nil {
		log.Printf("worker: completing item %s failed: %v", item.ID, err)
	}
	_ = w.notifier.Notify(key.TenantID, key.UserID, key.DeviceID, "operation_applied")
}

func (w *Worker) apply(key models.DeviceKey, op models.PendingOperation) error {
	switch op.Type {
	case models.OpSendMessage:
		message := &models.Message{
			TenantID:       key.TenantID,
			ClientID:       op.ID,
			SenderID:       key.UserID,
			ConversationID: op.Payload.ConversationID,
			Content:        op.Payload.Content,
		}
		return w.messages.Create(message)
	case models.OpEditMessage:
		return w.messages.ApplyEdit(key.TenantID, op.Payload.MessageID, op.Payload.Content, op.Timestamp)
	case models.OpDeleteMessage:
		return w.messages.SoftDelete(key.TenantID, op.Payload.MessageID)
	case models.OpReaction:
		return w.messages.AddReaction(key.TenantID, op.Payload.MessageID, key.UserID, op.Payload.Emoji)
	case models.OpReadReceipt:
		return w.readStates.UpsertMonotonic(op.Payload.ConversationID, key.UserID, op.Payload.LastReadSequence)
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

func (w *Worker) fail(key models.DeviceKey, item *models.QueueItem, cause error) {
	log.Printf("worker: operation %s attempt %d failed: %v", item.Operation.ID, item.Attempts, cause)
	if err := w.queue.MarkFailed(key, item.ID, cause.Error()); err != nil {
		log.Printf("worker: failing item %s failed: %v", item.ID, err)
	}
}
