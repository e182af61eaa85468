package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/yshr-dev/felica-agent/internal/comm"
)

// Hub tracks the websocket clients watching the local event stream.
// Broadcast is only called from the agent's single read loop, so writes
// to a connection are never concurrent.
type Hub struct {
	connMap sync.Map // socketId -> *websocket.Conn
}

func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) StoreConnection(socketId string, conn *websocket.Conn) {
	h.connMap.Store(socketId, conn)
}

func (h *Hub) RemoveConnection(socketId string) {
	if conn, ok := h.connMap.LoadAndDelete(socketId); ok {
		conn.(*websocket.Conn).Close()
	}
}

// Broadcast sends an event to every connected client. Clients that fail
// to receive are dropped.
func (h *Hub) Broadcast(event comm.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Errorf("failed to marshal event %s: %v", event.Type, err)
		return
	}

	h.connMap.Range(func(key, value interface{}) bool {
		conn := value.(*websocket.Conn)
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warnf("dropping websocket client %s: %v", key, err)
			h.RemoveConnection(key.(string))
		}
		return true // continue iterating
	})
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	count := 0
	h.connMap.Range(func(key, value any) bool {
		count++
		return true
	})
	return count
}
