package repository

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const quickMessagesKey = "quick_messages"

// QuickMessageRepository 存储聊天界面展示的快捷消息，按顺序保存。
type QuickMessageRepository interface {
	GetAll(ctx context.Context) ([]string, error)
	Replace(ctx context.Context, messages []string) error
}

type redisQuickMessageRepository struct {
	redisClient *redis.Client
}

// NewQuickMessageRepository 创建一个新的 QuickMessageRepository 实例。
func NewQuickMessageRepository(redisClient *redis.Client) QuickMessageRepository {
	return &redisQuickMessageRepository{redisClient: redisClient}
}

func (r *redisQuickMessageRepository) GetAll(ctx context.Context) ([]string, error) {
	messages, err := r.redisClient.LRange(ctx, quickMessagesKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get quick messages: %w", err)
	}
	return messages, nil
}

// Replace 整体替换快捷消息列表。
func (r *redisQuickMessageRepository) Replace(ctx context.Context, messages []string) error {
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, quickMessagesKey)
		if len(messages) > 0 {
			values := make([]interface{}, len(messages))
			for i, m := range messages {
				values[i] = m
			}
			pipe.RPush(ctx, quickMessagesKey, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace quick messages: %w", err)
	}
	return nil
}
