package cache

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relaychat/sync-backend/internal/models"
)

// Key namespaces in the coordination store. All per-device keys embed
// tenant, user, and device so cleanup can match by pattern.

func queueKey(k models.DeviceKey) string {
	return fmt.Sprintf("queue:%s:%d:%s", k.TenantID, k.UserID, k.DeviceID)
}

func processingKey(k models.DeviceKey) string {
	return fmt.Sprintf("processing:%s:%d:%s", k.TenantID, k.UserID, k.DeviceID)
}

func liveKey(k models.DeviceKey) string {
	return fmt.Sprintf("live:%s:%d:%s", k.TenantID, k.UserID, k.DeviceID)
}

func itemKey(k models.DeviceKey, itemID string) string {
	return fmt.Sprintf("item:%s:%d:%s:%s", k.TenantID, k.UserID, k.DeviceID, itemID)
}

func itemPattern(k models.DeviceKey) string {
	return fmt.Sprintf("item:%s:%d:%s:*", k.TenantID, k.UserID, k.DeviceID)
}

func stateKey(k models.DeviceKey) string {
	return fmt.Sprintf("state:%s:%d:%s", k.TenantID, k.UserID, k.DeviceID)
}

func conflictsKey(tenantID string, userID uint) string {
	return fmt.Sprintf("conflicts:%s:%d", tenantID, userID)
}

const devicesKey = "sync:devices"

// SyncChannel is the pub/sub channel sync hints for a user fan out on.
func SyncChannel(tenantID string, userID uint) string {
	return fmt.Sprintf("sync:%s:%d", tenantID, userID)
}

// SyncChannelPattern matches every tenant's sync channels.
const SyncChannelPattern = "sync:*"

// ParseSyncChannel extracts tenant and user from a sync channel name.
func ParseSyncChannel(channel string) (string, uint, bool) {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "sync" {
		return "", 0, false
	}
	userID, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[1], uint(userID), true
}

// ParseDeviceKey decodes the registry encoding produced by DeviceKey.String.
func ParseDeviceKey(s string) (models.DeviceKey, bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return models.DeviceKey{}, false
	}
	userID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return models.DeviceKey{}, false
	}
	return models.DeviceKey{TenantID: parts[0], UserID: uint(userID), DeviceID: parts[2]}, true
}
