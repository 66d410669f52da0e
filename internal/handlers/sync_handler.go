package handlers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/relaychat/sync-backend/internal/httpx"
	"github.com/relaychat/sync-backend/internal/models"
	"github.com/relaychat/sync-backend/internal/service"
	"github.com/relaychat/sync-backend/internal/validation"
)

const (
	defaultOperationTTL = 24 * time.Hour
	maxOperationTTL     = 72 * time.Hour
)

// SyncHandler is the HTTP surface of the sync core. The transport layer
// owns framing and auth; every handler just extracts the device key and
// returns plain result objects.
type SyncHandler struct {
	queueService    *service.QueueService
	stateService    *service.StateService
	conflictService *service.ConflictService
	syncService     *service.SyncService
}

func NewSyncHandler(
	queueService *service.QueueService,
	stateService *service.StateService,
	conflictService *service.ConflictService,
	syncService *service.SyncService,
) *SyncHandler {
	return &SyncHandler{
		queueService:    queueService,
		stateService:    stateService,
		conflictService: conflictService,
		syncService:     syncService,
	}
}

func deviceKey(c *fiber.Ctx) (models.DeviceKey, error) {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return models.DeviceKey{}, err
	}
	tenantID, err := httpx.LocalString(c, "tenantID")
	if err != nil {
		return models.DeviceKey{}, err
	}
	deviceID, err := httpx.LocalString(c, "deviceID")
	if err != nil {
		return models.DeviceKey{}, err
	}
	return models.DeviceKey{TenantID: tenantID, UserID: userID, DeviceID: deviceID}, nil
}

type enqueueRequest struct {
	Operation models.PendingOperation `json:"operation"`
	Priority  string                  `json:"priority"`
}

type enqueueResponse struct {
	QueueItemID string `json:"queue_item_id"`
	OperationID string `json:"operation_id"`
}

func (h *SyncHandler) EnqueueOperation(c *fiber.Ctx) error {
	key, err := deviceKey(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	var input enqueueRequest
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	op := input.Operation
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	op.Payload.Content = validation.TrimAndLimit(op.Payload.Content, validation.MaxContentLength())
	validation.ValidateOperationTTL(&op, defaultOperationTTL, maxOperationTTL)
	if err := validation.ValidateOperation(&op); err != nil {
		return httpx.BadRequest(c, "invalid_operation", err.Error())
	}
	priority, err := validation.ValidatePriority(input.Priority)
	if err != nil {
		return httpx.BadRequest(c, "invalid_priority", err.Error())
	}

	itemID, err := h.queueService.Enqueue(key, op, priority)
	if errors.Is(err, service.ErrOperationExpired) {
		return httpx.BadRequest(c, "operation_expired", "Operation ttl already elapsed")
	}
	if errors.Is(err, service.ErrDuplicateOperation) {
		return httpx.Conflict(c, "duplicate_operation", "Operation already queued for this device")
	}
	if err != nil {
		return httpx.Internal(c, "enqueue_failed")
	}

	// Best effort: the queue item is already durable and the state ref
	// is rebuilt on the next reconcile.
	if _, err := h.stateService.AddPendingOperation(key, op.Ref()); err != nil {
		log.Printf("enqueue: tracking operation %s on state failed: %v", op.ID, err)
	}
	return c.Status(fiber.StatusCreated).JSON(enqueueResponse{QueueItemID: itemID, OperationID: op.ID})
}

func (h *SyncHandler) DeltaSync(c *fiber.Ctx) error {
	key, err := deviceKey(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	var req models.DeltaSyncRequest
	if err := c.BodyParser(&req); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	resp, err := h.syncService.PerformDeltaSync(key, req)
	if err != nil {
		return httpx.Internal(c, "delta_sync_failed")
	}
	return c.JSON(resp)
}

func (h *SyncHandler) QueueStatus(c *fiber.Ctx) error {
	key, err := deviceKey(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	stats, err := h.queueService.Stats(key)
	if err != nil {
		return httpx.Internal(c, "queue_status_failed")
	}
	return c.JSON(stats)
}

func (h *SyncHandler) RetryFailed(c *fiber.Ctx) error {
	key, err := deviceKey(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	itemID := c.Params("id")
	if itemID == "" {
		return httpx.BadRequest(c, "missing_item_id", "Queue item id is required")
	}

	err = h.queueService.RetryFailed(key, itemID)
	if errors.Is(err, service.ErrItemNotFound) {
		return httpx.NotFound(c, "item_not_found", "Queue item not found")
	}
	if errors.Is(err, service.ErrNotRetryable) {
		return httpx.Conflict(c, "not_retryable", "Only failed items can be retried")
	}
	if err != nil {
		return httpx.Internal(c, "retry_failed")
	}
	return c.JSON(fiber.Map{"status": "requeued"})
}

func (h *SyncHandler) GetConflicts(c *fiber.Ctx) error {
	key, err := deviceKey(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	records, err := h.conflictService.GetConflicts(key.TenantID, key.UserID)
	if err != nil {
		return httpx.Internal(c, "get_conflicts_failed")
	}
	return c.JSON(fiber.Map{"conflicts": records})
}

func (h *SyncHandler) ClearConflicts(c *fiber.Ctx) error {
	key, err := deviceKey(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	if err := h.conflictService.ClearConflicts(key.TenantID, key.UserID); err != nil {
		return httpx.Internal(c, "clear_conflicts_failed")
	}
	return c.JSON(fiber.Map{"status": "cleared"})
}

type resolveRequest struct {
	Strategy string `json:"strategy"`
}

func (h *SyncHandler) ResolveConflict(c *fiber.Ctx) error {
	key, err := deviceKey(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	conflictID := c.Params("id")
	if conflictID == "" {
		return httpx.BadRequest(c, "missing_conflict_id", "Conflict id is required")
	}
	var input resolveRequest
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	record, err := h.conflictService.ResolveConflict(key, conflictID, models.Resolution(input.Strategy))
	if errors.Is(err, service.ErrConflictNotFound) {
		return httpx.NotFound(c, "conflict_not_found", "Conflict not found")
	}
	if errors.Is(err, service.ErrUnsupportedStrategy) {
		return httpx.BadRequest(c, "unsupported_strategy", "Unsupported resolution strategy")
	}
	if err != nil {
		return httpx.Internal(c, "resolve_conflict_failed")
	}
	return c.JSON(record)
}

func (h *SyncHandler) GetState(c *fiber.Ctx) error {
	key, err := deviceKey(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	state, err := h.stateService.Get(key)
	if err != nil {
		return httpx.Internal(c, "get_state_failed")
	}
	if state == nil {
		return httpx.NotFound(c, "state_not_found", "No sync state for this device")
	}
	return c.JSON(state)
}

// ResetState wipes the device's queue and checkpoint, e.g. on logout or
// device de-registration.
func (h *SyncHandler) ResetState(c *fiber.Ctx) error {
	key, err := deviceKey(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	if err := h.queueService.Reset(key); err != nil {
		return httpx.Internal(c, "reset_failed")
	}
	if err := h.stateService.Reset(key); err != nil {
		return httpx.Internal(c, "reset_failed")
	}
	return c.JSON(fiber.Map{"status": "reset"})
}
