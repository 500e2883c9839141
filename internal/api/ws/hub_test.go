package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/pitchtrack/internal/models"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readResult(t *testing.T, conn *websocket.Conn) models.FrameResult {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var res models.FrameResult
	require.NoError(t, json.Unmarshal(data, &res))
	return res
}

func TestHubFiltersByStream(t *testing.T) {
	hub, url := startHub(t)
	a, b := uuid.New(), uuid.New()

	all := dial(t, url)
	onlyA := dial(t, url+"?stream_id="+a.String())
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 5*time.Millisecond)

	hub.BroadcastResult(models.FrameResult{StreamID: b, Frame: 1})
	hub.BroadcastResult(models.FrameResult{StreamID: a, Frame: 2})

	assert.Equal(t, b, readResult(t, all).StreamID)
	assert.Equal(t, a, readResult(t, all).StreamID)

	got := readResult(t, onlyA)
	assert.Equal(t, a, got.StreamID)
	assert.Equal(t, 2, got.Frame)
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub, url := startHub(t)

	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}
