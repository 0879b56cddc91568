package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sentorial-chat/internal/model"
	"sentorial-chat/internal/service"
	"sentorial-chat/pkg/log"
	"sentorial-chat/pkg/metrics"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsMaxFrame     = 16 << 10
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// 下行帧类型
const (
	frameHistory    = "history"
	frameMessage    = "message"
	frameCleared    = "cleared"
	frameResolution = "resolution"
	frameError      = "error"
)

// outboundFrame 是服务端推送给客户端的帧。
type outboundFrame struct {
	Type     string          `json:"type"`
	Messages []model.Message `json:"messages,omitempty"`
	Message  *model.Message  `json:"message,omitempty"`
	Reply    *service.Reply  `json:"reply,omitempty"`
	Code     int             `json:"code,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// inboundFrame 是客户端发送的帧。
type inboundFrame struct {
	Text string `json:"text"`
}

// wsConn 串行化对同一连接的写操作。
type wsConn struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	metrics *metrics.Metrics
}

func (w *wsConn) writeFrame(frame outboundFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := w.conn.WriteJSON(frame); err != nil {
		return err
	}
	w.metrics.WSMessage("out", frame.Type)
	return nil
}

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	chatService service.ChatService
	metrics     *metrics.Metrics
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, m *metrics.Metrics) *ChatHandler {
	return &ChatHandler{chatService: chatService, metrics: m}
}

// Handle 处理一个传入的 WebSocket 连接：先推送已有消息，再持续推送该会话的新消息，
// 并把客户端发来的 {"text": "..."} 交给聊天服务解析。
func (h *ChatHandler) Handle(c *gin.Context) {
	deviceID, ok := deviceIDParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// 先订阅再读取历史，避免两者之间的消息丢失
	events, unsubscribe, err := h.chatService.Subscribe(ctx, deviceID)
	if err != nil {
		log.Errorf("订阅会话消息失败, device: %s, error: %v", deviceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "订阅消息失败", "data": nil})
		return
	}
	defer unsubscribe()

	history, err := h.chatService.ListMessages(ctx, deviceID)
	if err != nil {
		log.Errorf("获取会话消息失败, device: %s, error: %v", deviceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取消息失败", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxFrame)

	logger := log.With("device", deviceID)
	logger.Infof("WebSocket 连接已建立")
	ws := &wsConn{conn: conn, metrics: h.metrics}

	if err := ws.writeFrame(outboundFrame{Type: frameHistory, Messages: history}); err != nil {
		logger.Warnf("发送历史消息失败: %v", err)
		return
	}

	// 推送订阅到的新消息
	go func() {
		for ev := range events {
			frame := outboundFrame{Type: frameMessage, Message: ev.Message}
			if ev.Type == model.MessageEventCleared {
				frame = outboundFrame{Type: frameCleared}
			}
			if err := ws.writeFrame(frame); err != nil {
				logger.Warnf("推送消息失败: %v", err)
				cancel()
				return
			}
		}
	}()

	var turns sync.WaitGroup
	defer turns.Wait()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}
		h.metrics.WSMessage("in", "text")

		var in inboundFrame
		if err := json.Unmarshal(raw, &in); err != nil {
			_ = ws.writeFrame(outboundFrame{Type: frameError, Code: http.StatusBadRequest, Error: "无法解析消息, 期望 {\"text\": \"...\"}"})
			continue
		}

		// 异步解析，使解析期间到达的第二条消息能立即得到"处理中"的错误
		turns.Add(1)
		go func(text string) {
			defer turns.Done()
			reply, err := h.chatService.SendMessage(ctx, deviceID, text)
			switch {
			case errors.Is(err, service.ErrResolutionInFlight):
				_ = ws.writeFrame(outboundFrame{Type: frameError, Code: http.StatusConflict, Error: err.Error()})
			case errors.Is(err, service.ErrEmptyMessage):
				_ = ws.writeFrame(outboundFrame{Type: frameError, Code: http.StatusBadRequest, Error: err.Error()})
			case err != nil:
				logger.Errorf("处理消息失败: %v", err)
				_ = ws.writeFrame(outboundFrame{Type: frameError, Code: http.StatusInternalServerError, Error: "处理消息失败"})
			default:
				_ = ws.writeFrame(outboundFrame{Type: frameResolution, Reply: reply})
			}
		}(in.Text)
	}
}
