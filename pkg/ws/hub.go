// Package ws 提供了按上传会话分组的 WebSocket 进度推送。
package ws

import (
	"coderag-go/pkg/log"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub 按 upload_id 维护订阅连接，由处理管道在进度变化时广播快照。
// 订阅方（前端）只读；写失败的连接被直接摘除。
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*websocket.Conn]struct{}
}

// NewHub 创建一个新的 Hub 实例。
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*websocket.Conn]struct{})}
}

// Subscribe 将一个连接注册到指定 upload_id 的房间。
func (h *Hub) Subscribe(uploadID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[uploadID]
	if !ok {
		room = make(map[*websocket.Conn]struct{})
		h.rooms[uploadID] = room
	}
	room[conn] = struct{}{}
}

// Unsubscribe 将连接从房间移除，房间空了则回收。
func (h *Hub) Unsubscribe(uploadID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[uploadID]; ok {
		delete(room, conn)
		if len(room) == 0 {
			delete(h.rooms, uploadID)
		}
	}
}

// Broadcast 将任意可序列化的负载以 JSON 文本帧推送给房间内的所有订阅者。
func (h *Hub) Broadcast(uploadID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("序列化进度推送失败: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[uploadID]
	if !ok {
		return
	}
	for conn := range room {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// 写失败说明对端已断开，摘除连接
			_ = conn.Close()
			delete(room, conn)
		}
	}
	if len(room) == 0 {
		delete(h.rooms, uploadID)
	}
}
