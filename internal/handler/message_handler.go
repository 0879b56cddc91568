// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"sentorial-chat/internal/service"
	"sentorial-chat/pkg/log"
	"strings"

	"github.com/gin-gonic/gin"
)

// MessageHandler 负责聊天消息的 REST 接口。
type MessageHandler struct {
	chatService service.ChatService
}

// NewMessageHandler 创建一个新的 MessageHandler。
func NewMessageHandler(chatService service.ChatService) *MessageHandler {
	return &MessageHandler{chatService: chatService}
}

// SendMessageRequest 定义了发送消息 API 的请求体结构。
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// 设备标识作为会话分区键，限制长度与字符集。
func validDeviceID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	return strings.IndexFunc(id, func(r rune) bool {
		return !(r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	}) < 0
}

func deviceIDParam(c *gin.Context) (string, bool) {
	id := c.Param("deviceId")
	if !validDeviceID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的设备标识", "data": nil})
		return "", false
	}
	return id, true
}

// RegisterDevice 生成一个新的设备标识。
func (h *MessageHandler) RegisterDevice(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"deviceId": h.chatService.NewDeviceID()}})
}

// ListMessages 返回会话的全部消息，按时间升序。
func (h *MessageHandler) ListMessages(c *gin.Context) {
	deviceID, ok := deviceIDParam(c)
	if !ok {
		return
	}
	messages, err := h.chatService.ListMessages(c.Request.Context(), deviceID)
	if err != nil {
		log.Errorf("ListMessages: 获取消息失败, device: %s, error: %v", deviceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取消息失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": messages})
}

// SendMessage 发送一条用户消息并返回机器人回复。
func (h *MessageHandler) SendMessage(c *gin.Context) {
	deviceID, ok := deviceIDParam(c)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "消息内容不能为空", "data": nil})
		return
	}

	reply, err := h.chatService.SendMessage(c.Request.Context(), deviceID, req.Text)
	switch {
	case errors.Is(err, service.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
	case errors.Is(err, service.ErrResolutionInFlight):
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": err.Error(), "data": nil})
	case err != nil:
		log.Errorf("SendMessage: 处理消息失败, device: %s, error: %v", deviceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "处理消息失败", "data": nil})
	default:
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": reply})
	}
}

// ClearMessages 清空会话消息。
func (h *MessageHandler) ClearMessages(c *gin.Context) {
	deviceID, ok := deviceIDParam(c)
	if !ok {
		return
	}
	if err := h.chatService.ClearMessages(c.Request.Context(), deviceID); err != nil {
		log.Errorf("ClearMessages: 清空消息失败, device: %s, error: %v", deviceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "清空消息失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "消息已清空", "data": nil})
}

// QuickMessages 返回聊天界面的快捷消息。
func (h *MessageHandler) QuickMessages(c *gin.Context) {
	messages, err := h.chatService.QuickMessages(c.Request.Context())
	if err != nil {
		log.Errorf("QuickMessages: 获取快捷消息失败, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取快捷消息失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": messages})
}
