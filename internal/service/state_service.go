package service

import (
	"time"

	"github.com/relaychat/sync-backend/internal/cache"
	"github.com/relaychat/sync-backend/internal/models"
)

const (
	// Devices that have not synced for this long are forgotten.
	stateRetention = 7 * 24 * time.Hour

	// Bound on the per-device conflict audit ring.
	conflictHistoryLimit = 50
)

// StateService owns per-device reconciliation checkpoints.
type StateService struct {
	store cache.StateStoreInterface
	clock Clock
}

func NewStateService(store cache.StateStoreInterface, clock Clock) *StateService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &StateService{store: store, clock: clock}
}

// Get returns the device's state, or nil when the device is unknown.
func (s *StateService) Get(key models.DeviceKey) (*models.ClientState, error) {
	return s.store.Get(key)
}

func (s *StateService) load(key models.DeviceKey) (*models.ClientState, error) {
	state, err := s.store.Get(key)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = models.NewClientState(key, s.clock.Now())
	}
	return state, nil
}

func (s *StateService) save(state *models.ClientState) error {
	state.UpdatedAt = s.clock.Now()
	return s.store.Put(state, stateRetention)
}

// Update merges the patch into the device's state, creating a default
// state if absent. LastSequenceNumber only ever moves forward.
func (s *StateService) Update(key models.DeviceKey, patch models.ClientStatePatch) (*models.ClientState, error) {
	state, err := s.load(key)
	if err != nil {
		return nil, err
	}
	if patch.LastSyncAt != nil {
		state.LastSyncAt = patch.LastSyncAt
	}
	if patch.LastSequenceNumber != nil && *patch.LastSequenceNumber > state.LastSequenceNumber {
		state.LastSequenceNumber = *patch.LastSequenceNumber
	}
	if err := s.save(state); err != nil {
		return nil, err
	}
	return state, nil
}

// AddPendingOperation tracks an operation on the device's state.
// Already-expired operations are dropped instead of persisted.
func (s *StateService) AddPendingOperation(key models.DeviceKey, ref models.PendingOperationRef) (*models.ClientState, error) {
	state, err := s.load(key)
	if err != nil {
		return nil, err
	}
	if !ref.ExpiresAt.After(s.clock.Now()) {
		return state, nil
	}
	replaced := false
	for i, existing := range state.PendingOperations {
		if existing.ID == ref.ID {
			state.PendingOperations[i] = ref
			replaced = true
			break
		}
	}
	if !replaced {
		state.PendingOperations = append(state.PendingOperations, ref)
	}
	if err := s.save(state); err != nil {
		return nil, err
	}
	return state, nil
}

// RemovePendingOperation drops a tracked operation by id.
func (s *StateService) RemovePendingOperation(key models.DeviceKey, operationID string) (*models.ClientState, error) {
	state, err := s.load(key)
	if err != nil {
		return nil, err
	}
	kept := state.PendingOperations[:0]
	for _, ref := range state.PendingOperations {
		if ref.ID != operationID {
			kept = append(kept, ref)
		}
	}
	state.PendingOperations = kept
	if err := s.save(state); err != nil {
		return nil, err
	}
	return state, nil
}

// AddConflictResolution appends to the bounded audit ring, evicting the
// oldest entries.
func (s *StateService) AddConflictResolution(key models.DeviceKey, record models.ConflictResolution) error {
	state, err := s.load(key)
	if err != nil {
		return err
	}
	state.ConflictResolutions = append(state.ConflictResolutions, record)
	if overflow := len(state.ConflictResolutions) - conflictHistoryLimit; overflow > 0 {
		state.ConflictResolutions = state.ConflictResolutions[overflow:]
	}
	return s.save(state)
}

// Reconcile classifies tracked operations against a fresh server
// watermark: stale when the TTL lapsed or the declared base sequence
// was superseded. Only the valid subset is kept, and the device's
// sequence number advances (never retreats) to the watermark.
func (s *StateService) Reconcile(key models.DeviceKey, serverSequenceNumber uint64) (*models.ReconcileResult, error) {
	now := s.clock.Now()
	state, err := s.load(key)
	if err != nil {
		return nil, err
	}

	result := &models.ReconcileResult{}
	for _, ref := range state.PendingOperations {
		switch {
		case !ref.ExpiresAt.After(now):
			result.StaleOperations = append(result.StaleOperations, ref)
		case ref.BaseSequenceNumber > 0 && ref.BaseSequenceNumber < serverSequenceNumber:
			result.StaleOperations = append(result.StaleOperations, ref)
			result.ConflictsDetected = true
		default:
			result.ValidOperations = append(result.ValidOperations, ref)
		}
	}

	state.PendingOperations = result.ValidOperations
	if serverSequenceNumber > state.LastSequenceNumber {
		state.LastSequenceNumber = serverSequenceNumber
	}
	if err := s.save(state); err != nil {
		return nil, err
	}
	return result, nil
}

// Reset hard-deletes a single device's state.
func (s *StateService) Reset(key models.DeviceKey) error {
	return s.store.Delete(key)
}

// ClearUser hard-deletes state for every device of a user.
func (s *StateService) ClearUser(tenantID string, userID uint) error {
	return s.store.DeleteUser(tenantID, userID)
}

// SweepStale deletes device states whose last successful sync is older
// than the retention window. Returns the number removed.
func (s *StateService) SweepStale() (int, error) {
	now := s.clock.Now()
	states, err := s.store.All()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, state := range states {
		last := state.UpdatedAt
		if state.LastSyncAt != nil {
			last = *state.LastSyncAt
		}
		if now.Sub(last) > stateRetention {
			if err := s.store.Delete(state.Key()); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
