package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sentorial-chat/internal/model"
	"sentorial-chat/pkg/log"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// MessageRepository 定义了按会话分区、只追加的消息日志操作。
type MessageRepository interface {
	// Append 追加一条消息并返回存储分配的 ID，同一会话内时间戳不递减。
	Append(ctx context.Context, conversationID string, sender model.Sender, text string) (model.Message, error)
	// List 按时间戳升序（相同时按 ID）返回会话的全部消息。
	List(ctx context.Context, conversationID string) ([]model.Message, error)
	// Clear 清空会话的全部消息。
	Clear(ctx context.Context, conversationID string) error
	// Subscribe 订阅会话的消息流，返回的 cancel 用于退订并关闭通道。
	Subscribe(ctx context.Context, conversationID string) (<-chan model.MessageEvent, func(), error)
}

type messageRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
	now         func() time.Time
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB, redisClient *redis.Client) MessageRepository {
	return &messageRepository{db: db, redisClient: redisClient, now: time.Now}
}

func messageChannel(conversationID string) string {
	return "messages:" + conversationID
}

// Append 写入消息后通过 Redis 发布事件；发布失败只记录日志，不影响写入结果。
func (r *messageRepository) Append(ctx context.Context, conversationID string, sender model.Sender, text string) (model.Message, error) {
	var last int64
	err := r.db.WithContext(ctx).Model(&model.ChatMessage{}).
		Where("conversation_id = ?", conversationID).
		Select("COALESCE(MAX(timestamp), 0)").
		Scan(&last).Error
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to read last message timestamp: %w", err)
	}

	ts := r.now().UnixMilli()
	if ts < last {
		ts = last
	}
	record := &model.ChatMessage{
		ConversationID: conversationID,
		Text:           text,
		Sender:         string(sender),
		Timestamp:      ts,
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return model.Message{}, fmt.Errorf("failed to append message: %w", err)
	}

	msg := record.ToMessage()
	r.publish(ctx, conversationID, model.MessageEvent{Type: model.MessageEventAppended, Message: &msg})
	return msg, nil
}

// List 按时间戳升序返回消息。
func (r *messageRepository) List(ctx context.Context, conversationID string) ([]model.Message, error) {
	var records []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp asc").Order("id asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	messages := make([]model.Message, 0, len(records))
	for _, rec := range records {
		messages = append(messages, rec.ToMessage())
	}
	return messages, nil
}

// Clear 删除会话的全部消息，并通知订阅者。
func (r *messageRepository) Clear(ctx context.Context, conversationID string) error {
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&model.ChatMessage{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	r.publish(ctx, conversationID, model.MessageEvent{Type: model.MessageEventCleared})
	return nil
}

func (r *messageRepository) publish(ctx context.Context, conversationID string, event model.MessageEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error("序列化消息事件失败", err)
		return
	}
	if err := r.redisClient.Publish(ctx, messageChannel(conversationID), payload).Err(); err != nil {
		log.Warnw("发布消息事件失败", "conversation", conversationID, "error", err)
	}
}

// Subscribe 在确认订阅生效后返回事件通道。ctx 结束或调用 cancel 时通道关闭。
func (r *messageRepository) Subscribe(ctx context.Context, conversationID string) (<-chan model.MessageEvent, func(), error) {
	pubsub := r.redisClient.Subscribe(ctx, messageChannel(conversationID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to conversation %s: %w", conversationID, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	events := make(chan model.MessageEvent, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(events)
		defer pubsub.Close()
		raw := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-raw:
				if !ok {
					return
				}
				var event model.MessageEvent
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					log.Warnw("忽略无法解析的消息事件", "channel", m.Channel, "error", err)
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, func() {
		cancel()
		<-done
	}, nil
}
