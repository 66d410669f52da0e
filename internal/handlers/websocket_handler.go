package handlers

import (
	"log"

	"github.com/gofiber/websocket/v2"
	"github.com/relaychat/sync-backend/internal/cache"
	"github.com/relaychat/sync-backend/internal/handlers/ws"
	"github.com/relaychat/sync-backend/internal/models"
)

// WebSocketHandler attaches device sockets to the notification hub.
// The socket is hint-only: devices do all real work over the sync API.
type WebSocketHandler struct {
	hub *ws.Hub
}

func NewWebSocketHandler(redisCache *cache.RedisCache) *WebSocketHandler {
	hub := ws.NewHub()
	if redisCache != nil {
		hub.ListenPubSub(redisCache.PSubscribe(cache.SyncChannelPattern))
	}
	return &WebSocketHandler{hub: hub}
}

// GetHub returns the hub instance
func (h *WebSocketHandler) GetHub() *ws.Hub {
	return h.hub
}

func (h *WebSocketHandler) HandleWebSocket(c *websocket.Conn) {
	userID, _ := c.Locals("userID").(uint)
	tenantID, _ := c.Locals("tenantID").(string)
	deviceID, _ := c.Locals("deviceID").(string)
	if userID == 0 || tenantID == "" || deviceID == "" {
		c.Close()
		return
	}
	key := models.DeviceKey{TenantID: tenantID, UserID: userID, DeviceID: deviceID}

	h.hub.Register(key, c)
	defer h.hub.Unregister(key)

	// Drain the socket; clients only listen, but reading keeps the
	// pong handler running and surfaces closure.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error for device %s: %v", key, err)
			}
			return
		}
	}
}
