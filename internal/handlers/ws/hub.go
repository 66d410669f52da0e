package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"github.com/relaychat/sync-backend/internal/cache"
	"github.com/relaychat/sync-backend/internal/models"
)

// ClientConnection wraps a device's WebSocket connection with metadata
type ClientConnection struct {
	Conn       *websocket.Conn
	Key        models.DeviceKey
	LastPong   time.Time
	PingTicker *time.Ticker
	CloseChan  chan struct{}
}

// Hub fans sync hints out to connected device sockets. Hints originate
// on the coordination store's pub/sub, so a device connected to any
// instance hears about changes applied on any other.
type Hub struct {
	clients      map[string]*ClientConnection
	clientsMux   sync.RWMutex
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:      make(map[string]*ClientConnection),
		pingInterval: 30 * time.Second,
		pongTimeout:  90 * time.Second,
	}
}

// ListenPubSub forwards hints from the sync channels to local sockets.
// Runs until the subscription is closed.
func (h *Hub) ListenPubSub(pubsub *redis.PubSub) {
	go func() {
		for msg := range pubsub.Channel() {
			tenantID, userID, ok := cache.ParseSyncChannel(msg.Channel)
			if !ok {
				continue
			}
			h.NotifyUser(tenantID, userID, []byte(msg.Payload))
		}
	}()
}

// Register adds a device connection with health monitoring
func (h *Hub) Register(key models.DeviceKey, conn *websocket.Conn) {
	clientConn := &ClientConnection{
		Conn:       conn,
		Key:        key,
		LastPong:   time.Now(),
		PingTicker: time.NewTicker(h.pingInterval),
		CloseChan:  make(chan struct{}),
	}

	conn.SetPongHandler(func(appData string) error {
		h.clientsMux.Lock()
		if client, exists := h.clients[key.String()]; exists {
			client.LastPong = time.Now()
		}
		h.clientsMux.Unlock()
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(h.pongTimeout))

	h.clientsMux.Lock()
	h.clients[key.String()] = clientConn
	total := len(h.clients)
	h.clientsMux.Unlock()

	go h.pingRoutine(clientConn)

	log.Printf("Device %s connected to hub (total: %d)", key, total)
}

// Unregister removes a device connection
func (h *Hub) Unregister(key models.DeviceKey) {
	h.clientsMux.Lock()
	if client, exists := h.clients[key.String()]; exists {
		if client.PingTicker != nil {
			client.PingTicker.Stop()
		}
		close(client.CloseChan)
	}
	delete(h.clients, key.String())
	count := len(h.clients)
	h.clientsMux.Unlock()
	log.Printf("Device %s disconnected from hub (total: %d)", key, count)
}

// IsOnline checks if a device is connected
func (h *Hub) IsOnline(key models.DeviceKey) bool {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	_, exists := h.clients[key.String()]
	return exists
}

// NotifyUser pushes a hint frame to every connected device of a user.
// Offline devices miss nothing: the hint only says "sync now", and a
// reconnecting device delta-syncs anyway.
func (h *Hub) NotifyUser(tenantID string, userID uint, payload []byte) {
	var hint cache.SyncHint
	if err := json.Unmarshal(payload, &hint); err != nil {
		return
	}
	frame, err := json.Marshal(map[string]interface{}{
		"type": "sync_hint",
		"data": hint,
	})
	if err != nil {
		return
	}

	h.clientsMux.RLock()
	targets := make([]*ClientConnection, 0, 2)
	for _, client := range h.clients {
		if client.Key.TenantID == tenantID && client.Key.UserID == userID {
			targets = append(targets, client)
		}
	}
	h.clientsMux.RUnlock()

	for _, client := range targets {
		if err := client.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("Error sending hint to device %s: %v", client.Key, err)
		}
	}
}

func (h *Hub) pingRoutine(client *ClientConnection) {
	for {
		select {
		case <-client.CloseChan:
			return
		case <-client.PingTicker.C:
			h.clientsMux.RLock()
			stale := time.Since(client.LastPong) > h.pongTimeout
			h.clientsMux.RUnlock()
			if stale {
				h.Unregister(client.Key)
				client.Conn.Close()
				return
			}
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Unregister(client.Key)
				client.Conn.Close()
				return
			}
			client.Conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
		}
	}
}
