package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialChat(t *testing.T, ts *testServer, deviceID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(ts.router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/" + deviceID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) outboundFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame outboundFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestChatHandler_HistoryThenLiveMessages(t *testing.T) {
	ts := newTestServer(t)
	w, _ := ts.do(t, http.MethodPost, "/api/v1/chat/device-1/messages", "", gin.H{"text": "hi"})
	require.Equal(t, http.StatusOK, w.Code)

	conn := dialChat(t, ts, "device-1")
	history := readFrame(t, conn)
	require.Equal(t, frameHistory, history.Type)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "hi", history.Messages[0].Text)

	require.NoError(t, conn.WriteJSON(inboundFrame{Text: "what is 6 * 7"}))

	var (
		pushed     []string
		resolution *outboundFrame
	)
	for resolution == nil || len(pushed) < 2 {
		frame := readFrame(t, conn)
		switch frame.Type {
		case frameMessage:
			require.NotNil(t, frame.Message)
			pushed = append(pushed, frame.Message.Text)
		case frameResolution:
			f := frame
			resolution = &f
		default:
			t.Fatalf("unexpected frame %q", frame.Type)
		}
	}
	assert.Equal(t, []string{"what is 6 * 7", "The answer is 42"}, pushed)
	require.NotNil(t, resolution.Reply)
	assert.Equal(t, "arithmetic", string(resolution.Reply.Result.Origin))
	assert.Equal(t, "The answer is 42", resolution.Reply.BotMessage.Text)
}

func TestChatHandler_ClearedEvent(t *testing.T) {
	ts := newTestServer(t)
	conn := dialChat(t, ts, "device-2")
	history := readFrame(t, conn)
	require.Equal(t, frameHistory, history.Type)
	assert.Empty(t, history.Messages)

	w, _ := ts.do(t, http.MethodDelete, "/api/v1/chat/device-2/messages", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	frame := readFrame(t, conn)
	assert.Equal(t, frameCleared, frame.Type)
}

func TestChatHandler_MalformedFrame(t *testing.T) {
	ts := newTestServer(t)
	conn := dialChat(t, ts, "device-3")
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readFrame(t, conn)
	assert.Equal(t, frameError, frame.Type)
	assert.Equal(t, http.StatusBadRequest, frame.Code)
}

func TestChatHandler_InvalidDevice(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/chat/bad.id", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
