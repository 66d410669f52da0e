package cache

import (
	"encoding/json"
	"time"
)

// SyncHint tells a user's connected devices that server state changed
// and a delta sync is worthwhile. Delivery is at-least-once and
// unordered; the hint carries no data beyond the reason.
type SyncHint struct {
	Event    string    `json:"event"`
	DeviceID string    `json:"device_id,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier publishes sync hints on the coordination store's pub/sub.
type Notifier struct {
	redis *RedisCache
}

// NewNotifier creates a new notifier
func NewNotifier(redis *RedisCache) *Notifier {
	return &Notifier{redis: redis}
}

// Notify publishes a hint to every subscriber of the user's channel.
// Best effort: a nil notifier or publish failure is not an error the
// sync path cares about.
func (n *Notifier) Notify(tenantID string, userID uint, deviceID, event string) error {
	if n == nil || n.redis == nil {
		return nil
	}
	payload, err := json.Marshal(SyncHint{Event: event, DeviceID: deviceID, At: time.Now()})
	if err != nil {
		return err
	}
	return n.redis.Publish(SyncChannel(tenantID, userID), payload)
}
