// Package model 包含了应用的数据模型定义。
package model

import (
	"strconv"
	"time"
)

// Sender 标识消息的发送方。
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message 是对外暴露的聊天消息，创建后不可变。
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
	Sender         Sender `json:"sender"`
	Timestamp      int64  `json:"timestamp"` // 毫秒
}

// ChatMessage 对应 chat_messages 表，按会话（设备）分区、只追加。
type ChatMessage struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	ConversationID string    `gorm:"type:varchar(64);not null;index:idx_conv_ts,priority:1"`
	Text           string    `gorm:"type:text;not null"`
	Sender         string    `gorm:"type:varchar(8);not null"`
	Timestamp      int64     `gorm:"not null;index:idx_conv_ts,priority:2"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ChatMessage) TableName() string {
	return "chat_messages"
}

// ToMessage 将存储记录转换为对外消息，ID 由存储分配。
func (m ChatMessage) ToMessage() Message {
	return Message{
		ID:             strconv.FormatUint(uint64(m.ID), 10),
		ConversationID: m.ConversationID,
		Text:           m.Text,
		Sender:         Sender(m.Sender),
		Timestamp:      m.Timestamp,
	}
}

// MessageEventType 区分消息流中的事件。
type MessageEventType string

const (
	MessageEventAppended MessageEventType = "message"
	MessageEventCleared  MessageEventType = "cleared"
)

// MessageEvent 是会话消息流（订阅）推送的单个事件。
type MessageEvent struct {
	Type    MessageEventType `json:"type"`
	Message *Message         `json:"message,omitempty"`
}
