// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"coderag-go/pkg/log"
	"coderag-go/pkg/ws"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 前端与 API 不同源部署
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ProgressHandler 将作业进度快照通过 WebSocket 推送给订阅者。
// 这是轮询接口之外的实时通道，语义与 status 接口返回的快照一致。
type ProgressHandler struct {
	hub *ws.Hub
}

// NewProgressHandler 创建一个新的 ProgressHandler 实例。
func NewProgressHandler(hub *ws.Hub) *ProgressHandler {
	return &ProgressHandler{hub: hub}
}

// Subscribe 升级连接并订阅指定 upload_id 的进度推送。
func (h *ProgressHandler) Subscribe(c *gin.Context) {
	uploadID := c.Query("upload_id")
	if uploadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 upload_id 参数"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("WebSocket 升级失败: %v", err)
		return
	}

	h.hub.Subscribe(uploadID, conn)
	log.Infof("进度订阅已建立, upload_id: %s", uploadID)

	// 读循环只用于感知对端关闭
	go func() {
		defer func() {
			h.hub.Unsubscribe(uploadID, conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
