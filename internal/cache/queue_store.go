package cache

import (
	"time"

	"github.com/relaychat/sync-backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// QueueStore persists queue items and their priority index in the
// coordination store. Item details and the sorted-set index are separate
// keys with no transaction across them; callers treat an indexed id
// without a detail blob as an orphan and prune it.
type QueueStore struct {
	redis *RedisCache
}

// NewQueueStore creates a new queue store
func NewQueueStore(redis *RedisCache) *QueueStore {
	return &QueueStore{redis: redis}
}

// PutItem stores the item detail blob with the given retention
func (qs *QueueStore) PutItem(key models.DeviceKey, item *models.QueueItem, ttl time.Duration) error {
	data, err := msgpack.Marshal(item)
	if err != nil {
		return err
	}
	return qs.redis.Set(itemKey(key, item.ID), data, ttl)
}

// GetItem loads an item detail blob; nil when absent
func (qs *QueueStore) GetItem(key models.DeviceKey, itemID string) (*models.QueueItem, error) {
	data, err := qs.redis.Get(itemKey(key, itemID))
	if err != nil || data == nil {
		return nil, err
	}
	var item models.QueueItem
	if err := msgpack.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteItem removes an item detail blob
func (qs *QueueStore) DeleteItem(key models.DeviceKey, itemID string) error {
	return qs.redis.Delete(itemKey(key, itemID))
}

// ListItems loads every item the device currently retains
func (qs *QueueStore) ListItems(key models.DeviceKey) ([]*models.QueueItem, error) {
	keys, err := qs.redis.ScanKeys(itemPattern(key))
	if err != nil {
		return nil, err
	}
	items := make([]*models.QueueItem, 0, len(keys))
	for _, k := range keys {
		data, err := qs.redis.Get(k)
		if err != nil {
			return nil, err
		}
		if data == nil {
			continue // expired between scan and read
		}
		var item models.QueueItem
		if err := msgpack.Unmarshal(data, &item); err != nil {
			continue
		}
		items = append(items, &item)
	}
	return items, nil
}

// AddToIndex inserts an item id into the priority index
func (qs *QueueStore) AddToIndex(key models.DeviceKey, itemID string, score int64) error {
	return qs.redis.SortedAdd(queueKey(key), itemID, score)
}

// RemoveFromIndex removes an item id from the priority index
func (qs *QueueStore) RemoveFromIndex(key models.DeviceKey, itemID string) error {
	return qs.redis.SortedRemove(queueKey(key), itemID)
}

// Claim atomically pops the lowest eligible item id and parks it in the
// processing set under a visibility deadline
func (qs *QueueStore) Claim(key models.DeviceKey, maxScore, deadline int64) (string, bool, error) {
	return qs.redis.ClaimByScore(queueKey(key), processingKey(key), maxScore, deadline)
}

// RemoveProcessing drops an item id from the processing set
func (qs *QueueStore) RemoveProcessing(key models.DeviceKey, itemID string) error {
	return qs.redis.SortedRemove(processingKey(key), itemID)
}

// ExpiredProcessing lists processing entries whose visibility deadline
// has passed, i.e. claims abandoned by a crashed worker
func (qs *QueueStore) ExpiredProcessing(key models.DeviceKey, now int64) ([]string, error) {
	return qs.redis.SortedRangeByScore(processingKey(key), now)
}

// TryMarkLive reserves the operation id for a live item; false when the
// operation is already queued for the device
func (qs *QueueStore) TryMarkLive(key models.DeviceKey, operationID, itemID string) (bool, error) {
	return qs.redis.HashSetNX(liveKey(key), operationID, []byte(itemID))
}

// ClearLive releases the operation id reservation
func (qs *QueueStore) ClearLive(key models.DeviceKey, operationID string) error {
	return qs.redis.HashDelete(liveKey(key), operationID)
}

// RegisterDevice records the device in the worker-visible registry
func (qs *QueueStore) RegisterDevice(key models.DeviceKey) error {
	return qs.redis.SetAdd(devicesKey, key.String())
}

// UnregisterDevice removes the device from the registry
func (qs *QueueStore) UnregisterDevice(key models.DeviceKey) error {
	return qs.redis.SetRemove(devicesKey, key.String())
}

// Devices lists every device with a registered queue
func (qs *QueueStore) Devices() ([]models.DeviceKey, error) {
	members, err := qs.redis.SetMembers(devicesKey)
	if err != nil {
		return nil, err
	}
	keys := make([]models.DeviceKey, 0, len(members))
	for _, m := range members {
		if key, ok := ParseDeviceKey(m); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Drop removes every queue key for the device
func (qs *QueueStore) Drop(key models.DeviceKey) error {
	if err := qs.redis.DeletePattern(itemPattern(key)); err != nil {
		return err
	}
	if err := qs.redis.Delete(queueKey(key), processingKey(key), liveKey(key)); err != nil {
		return err
	}
	return qs.UnregisterDevice(key)
}
