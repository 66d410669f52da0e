package service

import (
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/relaychat/sync-backend/internal/cache"
	"github.com/relaychat/sync-backend/internal/models"
	"github.com/relaychat/sync-backend/internal/repository"
)

var (
	ErrUnsupportedStrategy = errors.New("unsupported resolution strategy")
	ErrConflictNotFound    = errors.New("conflict not found")
)

// ConflictService compares in-flight operations against the
// authoritative log, classifies divergence, and applies resolutions.
// Detected conflicts are a domain outcome, not an error.
type ConflictService struct {
	conflicts     cache.ConflictStoreInterface
	messages      repository.MessageRepositoryInterface
	conversations repository.ConversationRepositoryInterface
	state         *StateService
	strategies    map[models.Resolution]ResolutionStrategy
	clock         Clock
}

func NewConflictService(
	conflicts cache.ConflictStoreInterface,
	messages repository.MessageRepositoryInterface,
	conversations repository.ConversationRepositoryInterface,
	state *StateService,
	clock Clock,
) *ConflictService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &ConflictService{
		conflicts:     conflicts,
		messages:      messages,
		conversations: conversations,
		state:         state,
		strategies:    defaultStrategies(),
		clock:         clock,
	}
}

// DetectConflicts dispatches on the operation type and returns the
// divergences found, already persisted for later resolution when the
// list is non-empty.
func (s *ConflictService) DetectConflicts(key models.DeviceKey, op models.PendingOperation) ([]models.ConflictResolution, error) {
	var records []models.ConflictResolution
	var err error

	switch op.Type {
	case models.OpSendMessage:
		records, err = s.detectSequenceConflict(key, op)
	case models.OpEditMessage:
		records, err = s.detectEditConflict(key, op)
	case models.OpDeleteMessage:
		records, err = s.detectDeleteConflict(key, op)
	default:
		// Reactions and read receipts are commutative; nothing to check.
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	now := s.clock.Now()
	for i := range records {
		records[i].ID = uuid.NewString()
		records[i].OperationID = op.ID
		records[i].DetectedAt = now
	}
	if err := s.conflicts.Put(key.TenantID, key.UserID, records); err != nil {
		return nil, err
	}
	return records, nil
}

// detectSequenceConflict flags a send whose declared base sequence was
// superseded before the operation reached the server: the client's view
// was stale at submission time and it must resubmit against the fresh
// watermark.
func (s *ConflictService) detectSequenceConflict(key models.DeviceKey, op models.PendingOperation) ([]models.ConflictResolution, error) {
	watermark, err := s.conversations.Watermark(key.TenantID)
	if err != nil {
		return nil, err
	}
	if watermark <= op.Payload.BaseSequenceNumber {
		return nil, nil
	}
	return []models.ConflictResolution{{
		Type:       models.SequenceConflict,
		Resolution: models.ServerWins,
		ServerVersion: &models.MessageSnapshot{
			ConversationID: op.Payload.ConversationID,
			SequenceNumber: watermark,
		},
		ClientVersion: &models.MessageSnapshot{
			ConversationID: op.Payload.ConversationID,
			Content:        op.Payload.Content,
			SequenceNumber: op.Payload.BaseSequenceNumber,
		},
	}}, nil
}

// detectEditConflict compares the client's known edit time against the
// authoritative row. A vanished target is a delete conflict; a target
// edited after the client last saw it needs a human or strategy call.
func (s *ConflictService) detectEditConflict(key models.DeviceKey, op models.PendingOperation) ([]models.ConflictResolution, error) {
	msg, err := s.messages.FindByID(key.TenantID, op.Payload.MessageID)
	if err != nil {
		return nil, err
	}
	clientVersion := &models.MessageSnapshot{
		MessageID:      op.Payload.MessageID,
		ConversationID: op.Payload.ConversationID,
		Content:        op.Payload.Content,
		EditedAt:       op.Payload.KnownEditedAt,
	}
	if msg == nil || msg.DeletedAt.Valid {
		rec := models.ConflictResolution{
			MessageID:     op.Payload.MessageID,
			Type:          models.DeleteConflict,
			Resolution:    models.ServerWins,
			ClientVersion: clientVersion,
		}
		if msg != nil {
			rec.ServerVersion = msg.Snapshot()
		}
		return []models.ConflictResolution{rec}, nil
	}

	serverEdited := msg.CreatedAt
	if msg.EditedAt != nil {
		serverEdited = *msg.EditedAt
	}
	known := op.Payload.KnownEditedAt
	if known == nil || serverEdited.After(*known) {
		return []models.ConflictResolution{{
			MessageID:     msg.ID,
			Type:          models.EditConflict,
			Resolution:    models.Manual,
			ServerVersion: msg.Snapshot(),
			ClientVersion: clientVersion,
		}}, nil
	}
	return nil, nil
}

// detectDeleteConflict treats deleting an already-deleted or missing
// message as an idempotent no-op; deleting a message that still exists
// needs a decision.
func (s *ConflictService) detectDeleteConflict(key models.DeviceKey, op models.PendingOperation) ([]models.ConflictResolution, error) {
	msg, err := s.messages.FindByID(key.TenantID, op.Payload.MessageID)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.DeletedAt.Valid {
		return nil, nil
	}
	return []models.ConflictResolution{{
		MessageID:     msg.ID,
		Type:          models.DeleteConflict,
		Resolution:    models.Manual,
		ServerVersion: msg.Snapshot(),
		ClientVersion: &models.MessageSnapshot{
			MessageID: msg.ID,
			Deleted:   true,
		},
	}}, nil
}

// ResolveConflict applies a strategy to a stored conflict, writes the
// outcome to the authoritative log, deletes the stored record, and
// appends the decision to the device's audit ring.
func (s *ConflictService) ResolveConflict(key models.DeviceKey, conflictID string, strategy models.Resolution) (*models.ConflictResolution, error) {
	record, err := s.conflicts.Get(key.TenantID, key.UserID, conflictID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrConflictNotFound
	}

	strat, ok := s.strategies[strategy]
	if !ok {
		return nil, ErrUnsupportedStrategy
	}
	resolved, err := strat.Apply(record.ServerVersion, record.ClientVersion)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	record.Resolution = strategy
	record.ResolvedMessage = resolved
	record.ResolvedAt = &now

	if err := s.messages.ApplyResolved(key.TenantID, resolved); err != nil {
		return nil, err
	}
	if err := s.conflicts.Delete(key.TenantID, key.UserID, conflictID); err != nil {
		return nil, err
	}
	if err := s.state.AddConflictResolution(key, *record); err != nil {
		return nil, err
	}
	return record, nil
}

// GetConflicts lists pending conflicts for a user, oldest first.
func (s *ConflictService) GetConflicts(tenantID string, userID uint) ([]models.ConflictResolution, error) {
	records, err := s.conflicts.List(tenantID, userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].DetectedAt.Before(records[j].DetectedAt)
	})
	return records, nil
}

// ClearConflicts drops every pending conflict for a user.
func (s *ConflictService) ClearConflicts(tenantID string, userID uint) error {
	return s.conflicts.Clear(tenantID, userID)
}
