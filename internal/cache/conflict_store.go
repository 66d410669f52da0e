package cache

import (
	"time"

	"github.com/relaychat/sync-backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// ConflictRetention bounds how long unresolved conflict records wait
// for a strategy decision.
const ConflictRetention = 24 * time.Hour

// ConflictStore keeps pending conflict records in a per-user hash.
type ConflictStore struct {
	redis *RedisCache
}

// NewConflictStore creates a new conflict store
func NewConflictStore(redis *RedisCache) *ConflictStore {
	return &ConflictStore{redis: redis}
}

// Put stores conflict records and refreshes the hash retention
func (cs *ConflictStore) Put(tenantID string, userID uint, records []models.ConflictResolution) error {
	key := conflictsKey(tenantID, userID)
	for _, rec := range records {
		data, err := msgpack.Marshal(&rec)
		if err != nil {
			return err
		}
		if err := cs.redis.HashSet(key, rec.ID, data); err != nil {
			return err
		}
	}
	return cs.redis.Expire(key, ConflictRetention)
}

// Get loads one conflict record; nil when absent
func (cs *ConflictStore) Get(tenantID string, userID uint, conflictID string) (*models.ConflictResolution, error) {
	data, err := cs.redis.HashGet(conflictsKey(tenantID, userID), conflictID)
	if err != nil || data == nil {
		return nil, err
	}
	var rec models.ConflictResolution
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns every pending conflict for a user
func (cs *ConflictStore) List(tenantID string, userID uint) ([]models.ConflictResolution, error) {
	fields, err := cs.redis.HashGetAll(conflictsKey(tenantID, userID))
	if err != nil {
		return nil, err
	}
	records := make([]models.ConflictResolution, 0, len(fields))
	for _, raw := range fields {
		var rec models.ConflictResolution
		if err := msgpack.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Delete removes one conflict record
func (cs *ConflictStore) Delete(tenantID string, userID uint, conflictID string) error {
	return cs.redis.HashDelete(conflictsKey(tenantID, userID), conflictID)
}

// Clear removes every pending conflict for a user
func (cs *ConflictStore) Clear(tenantID string, userID uint) error {
	return cs.redis.Delete(conflictsKey(tenantID, userID))
}
