package model

import (
	"strings"
	"time"
)

// MaxQuestionLength 是规范化问题的最大字符数，与 question 列宽一致。
const MaxQuestionLength = 512

// TaughtResponse 对应 taught_responses 表：规范化问题 -> 答案。
// 自增 ID 决定插入顺序，关键词匹配按该顺序取第一个命中项。
type TaughtResponse struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	Question  string    `gorm:"type:varchar(512);not null;uniqueIndex" json:"question"`
	Answer    string    `gorm:"type:text;not null" json:"answer"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (TaughtResponse) TableName() string {
	return "taught_responses"
}

// NormalizeQuestion 返回小写并去除首尾空白的问题文本，用作查找与去重的键。
func NormalizeQuestion(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// DefaultResponses 是应答表为空时写入的初始数据，顺序即插入顺序。
var DefaultResponses = []TaughtResponse{
	{Question: "hello", Answer: "Hello! I'm Doro GPT. How can I help you today? 😊"},
	{Question: "hi", Answer: "Hi there! What can I do for you?"},
	{Question: "how are you", Answer: "I'm doing great! Thanks for asking. How are you?"},
	{Question: "what is your name", Answer: "I'm Doro GPT, your learning chatbot assistant!"},
	{Question: "help", Answer: "I'm here to help! Ask me anything and I'll do my best to answer."},
	{Question: "thank you", Answer: "You're welcome! Is there anything else I can help you with?"},
	{Question: "thanks", Answer: "Happy to help! 😊"},
	{Question: "bye", Answer: "Goodbye! Have a wonderful day! 👋"},
	{Question: "goodbye", Answer: "See you later! Take care! 👋"},
}
