package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coderag-go/pkg/log"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.InitForTest()
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// dialHub 建立一条经由 Hub 订阅的 WebSocket 连接。
func dialHub(t *testing.T, hub *Hub, uploadID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Subscribe(uploadID, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastReachesSubscriber(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "sess-1")

	hub.Broadcast("sess-1", map[string]interface{}{"status": "processing", "files_done": 3})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "processing", payload["status"])
	assert.EqualValues(t, 3, payload["files_done"])
}

func TestHubBroadcastIsScopedToRoom(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "sess-1")

	hub.Broadcast("other", map[string]string{"status": "completed"})

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "不属于房间的广播不应送达")
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()

	// 直接用服务端侧连接验证取消订阅后房间被清空
	srvConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		srvConns <- conn
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	serverSide := <-srvConns
	hub.Subscribe("sess-1", serverSide)
	hub.Unsubscribe("sess-1", serverSide)

	hub.Broadcast("sess-1", map[string]string{"status": "completed"})

	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = client.ReadMessage()
	assert.Error(t, err, "取消订阅后不应再收到推送")
}
