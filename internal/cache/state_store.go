package cache

import (
	"fmt"
	"time"

	"github.com/relaychat/sync-backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// StateStore persists per-device client state blobs. The key TTL acts
// as a hard staleness bound alongside the explicit sweep.
type StateStore struct {
	redis *RedisCache
}

// NewStateStore creates a new client state store
func NewStateStore(redis *RedisCache) *StateStore {
	return &StateStore{redis: redis}
}

// Get loads a device's state; nil when the device has none
func (ss *StateStore) Get(key models.DeviceKey) (*models.ClientState, error) {
	data, err := ss.redis.Get(stateKey(key))
	if err != nil || data == nil {
		return nil, err
	}
	var state models.ClientState
	if err := msgpack.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Put stores a device's state, refreshing its retention TTL
func (ss *StateStore) Put(state *models.ClientState, ttl time.Duration) error {
	data, err := msgpack.Marshal(state)
	if err != nil {
		return err
	}
	return ss.redis.Set(stateKey(state.Key()), data, ttl)
}

// Delete removes a single device's state
func (ss *StateStore) Delete(key models.DeviceKey) error {
	return ss.redis.Delete(stateKey(key))
}

// DeleteUser removes state for every device of a user
func (ss *StateStore) DeleteUser(tenantID string, userID uint) error {
	return ss.redis.DeletePattern(fmt.Sprintf("state:%s:%d:*", tenantID, userID))
}

// All loads every tracked device state (staleness sweep)
func (ss *StateStore) All() ([]*models.ClientState, error) {
	keys, err := ss.redis.ScanKeys("state:*")
	if err != nil {
		return nil, err
	}
	states := make([]*models.ClientState, 0, len(keys))
	for _, k := range keys {
		data, err := ss.redis.Get(k)
		if err != nil {
			return nil, err
		}
		if data == nil {
			continue
		}
		var state models.ClientState
		if err := msgpack.Unmarshal(data, &state); err != nil {
			continue
		}
		states = append(states, &state)
	}
	return states, nil
}
