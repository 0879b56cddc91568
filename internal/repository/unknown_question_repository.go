package repository

import (
	"context"
	"encoding/base64"
	"fmt"
	"sentorial-chat/internal/model"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	unknownQuestionKeyPrefix = "unknown_question:"
	unknownQuestionIndexKey  = "unknown_questions"
)

// UnknownQuestionRepository 定义了未知问题日志的操作接口。
type UnknownQuestionRepository interface {
	// IncrementOrCreate 原子地创建记录或将计数加一，返回写入后的记录。
	IncrementOrCreate(ctx context.Context, normalized, original, submitterID string, now time.Time) (*model.UnknownQuestion, error)
	// Get 返回记录，不存在时返回 (nil, nil)。
	Get(ctx context.Context, normalized string) (*model.UnknownQuestion, error)
	// List 按计数降序返回全部记录。
	List(ctx context.Context) ([]model.UnknownQuestion, error)
	Delete(ctx context.Context, normalized string) error
}

type redisUnknownQuestionRepository struct {
	redisClient *redis.Client
}

// NewUnknownQuestionRepository 创建一个新的 UnknownQuestionRepository 实例。
func NewUnknownQuestionRepository(redisClient *redis.Client) UnknownQuestionRepository {
	return &redisUnknownQuestionRepository{redisClient: redisClient}
}

// 规范化文本经 base64url 编码后作为键，避免 ':' 等字符冲突。
func encodeQuestionKey(normalized string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(normalized))
}

func unknownQuestionKey(encoded string) string {
	return unknownQuestionKeyPrefix + encoded
}

// IncrementOrCreate 在一个 MULTI/EXEC 事务中完成首写字段、计数加一与索引更新。
func (r *redisUnknownQuestionRepository) IncrementOrCreate(ctx context.Context, normalized, original, submitterID string, now time.Time) (*model.UnknownQuestion, error) {
	encoded := encodeQuestionKey(normalized)
	key := unknownQuestionKey(encoded)

	var snapshot *redis.StringStringMapCmd
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "id", normalized)
		pipe.HSetNX(ctx, key, "question", original)
		pipe.HSetNX(ctx, key, "text", original)
		pipe.HSetNX(ctx, key, "timestamp", now.UnixMilli())
		pipe.HSetNX(ctx, key, "submitterId", submitterID)
		pipe.HIncrBy(ctx, key, "count", 1)
		pipe.ZIncrBy(ctx, unknownQuestionIndexKey, 1, encoded)
		snapshot = pipe.HGetAll(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record unknown question: %w", err)
	}
	return parseUnknownQuestion(snapshot.Val())
}

// Get 读取单条记录。
func (r *redisUnknownQuestionRepository) Get(ctx context.Context, normalized string) (*model.UnknownQuestion, error) {
	fields, err := r.redisClient.HGetAll(ctx, unknownQuestionKey(encodeQuestionKey(normalized))).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get unknown question: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseUnknownQuestion(fields)
}

// List 通过有序集合索引按计数降序读取记录；索引中残留的孤立成员会被跳过。
func (r *redisUnknownQuestionRepository) List(ctx context.Context) ([]model.UnknownQuestion, error) {
	members, err := r.redisClient.ZRevRange(ctx, unknownQuestionIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read unknown question index: %w", err)
	}
	if len(members) == 0 {
		return []model.UnknownQuestion{}, nil
	}

	pipe := r.redisClient.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(members))
	for i, encoded := range members {
		cmds[i] = pipe.HGetAll(ctx, unknownQuestionKey(encoded))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load unknown questions: %w", err)
	}

	questions := make([]model.UnknownQuestion, 0, len(members))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		q, err := parseUnknownQuestion(fields)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, nil
}

// Delete 删除记录及其索引项，记录不存在时不报错。
func (r *redisUnknownQuestionRepository) Delete(ctx context.Context, normalized string) error {
	encoded := encodeQuestionKey(normalized)
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, unknownQuestionKey(encoded))
		pipe.ZRem(ctx, unknownQuestionIndexKey, encoded)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete unknown question: %w", err)
	}
	return nil
}

func parseUnknownQuestion(fields map[string]string) (*model.UnknownQuestion, error) {
	q := &model.UnknownQuestion{
		ID:          fields["id"],
		Question:    fields["question"],
		Text:        fields["text"],
		SubmitterID: fields["submitterId"],
	}
	var err error
	if v := fields["timestamp"]; v != "" {
		if q.Timestamp, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid unknown question timestamp %q: %w", v, err)
		}
	}
	if v := fields["count"]; v != "" {
		if q.Count, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid unknown question count %q: %w", v, err)
		}
	}
	return q, nil
}
