package cache

import (
	"time"

	"github.com/relaychat/sync-backend/internal/models"
)

// QueueStoreInterface defines the contract for queue persistence operations
type QueueStoreInterface interface {
	PutItem(key models.DeviceKey, item *models.QueueItem, ttl time.Duration) error
	GetItem(key models.DeviceKey, itemID string) (*models.QueueItem, error)
	DeleteItem(key models.DeviceKey, itemID string) error
	ListItems(key models.DeviceKey) ([]*models.QueueItem, error)
	AddToIndex(key models.DeviceKey, itemID string, score int64) error
	RemoveFromIndex(key models.DeviceKey, itemID string) error
	Claim(key models.DeviceKey, maxScore, deadline int64) (string, bool, error)
	RemoveProcessing(key models.DeviceKey, itemID string) error
	ExpiredProcessing(key models.DeviceKey, now int64) ([]string, error)
	TryMarkLive(key models.DeviceKey, operationID, itemID string) (bool, error)
	ClearLive(key models.DeviceKey, operationID string) error
	RegisterDevice(key models.DeviceKey) error
	UnregisterDevice(key models.DeviceKey) error
	Devices() ([]models.DeviceKey, error)
	Drop(key models.DeviceKey) error
}

// StateStoreInterface defines the contract for client state persistence
type StateStoreInterface interface {
	Get(key models.DeviceKey) (*models.ClientState, error)
	Put(state *models.ClientState, ttl time.Duration) error
	Delete(key models.DeviceKey) error
	DeleteUser(tenantID string, userID uint) error
	All() ([]*models.ClientState, error)
}

// ConflictStoreInterface defines the contract for pending conflict records
type ConflictStoreInterface interface {
	Put(tenantID string, userID uint, records []models.ConflictResolution) error
	Get(tenantID string, userID uint, conflictID string) (*models.ConflictResolution, error)
	List(tenantID string, userID uint) ([]models.ConflictResolution, error)
	Delete(tenantID string, userID uint, conflictID string) error
	Clear(tenantID string, userID uint) error
}
