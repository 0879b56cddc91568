// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sentorial-chat/internal/config"
	"sentorial-chat/pkg/log"
	"sentorial-chat/pkg/tasks"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// 同一任务失败达到该次数后提交 offset，不再重试。
const maxAttempts = 3

// 两次重试之间的基础等待时间，按已失败次数线性增长。
var retryBackoff = 2 * time.Second

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.ResponseImportTask) error
}

var producer *kafka.Writer

func brokerList(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:                   kafka.TCP(brokerList(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
}

// CloseProducer 关闭生产者，刷新未发送的消息。
func CloseProducer() {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		log.Error("关闭 Kafka 生产者失败", err)
	}
}

// ProduceImportTask 发送一个应答表导入任务到 Kafka，以 ImportID 作为消息键。
func ProduceImportTask(ctx context.Context, task tasks.ResponseImportTask) error {
	if producer == nil {
		return errors.New("kafka producer not initialized")
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.ImportID),
		Value: taskBytes,
	})
}

// Queue 将导入任务写入 Kafka。
type Queue struct{}

// Enqueue 发送任务。
func (Queue) Enqueue(ctx context.Context, task tasks.ResponseImportTask) error {
	return ProduceImportTask(ctx, task)
}

// StartConsumer 启动一个 Kafka 消费者来处理导入任务，ctx 结束时退出。
// 失败次数记录在 Redis 中，达到阈值后提交 offset 终止重试。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, rdb *redis.Client, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}

		log.Infof("收到 Kafka 消息: offset %d", m.Offset)

		var task tasks.ResponseImportTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		log.Infof("开始处理导入任务: ImportID=%s, FileName=%s", task.ImportID, task.FileName)
		if !processWithRetry(ctx, rdb, processor, task) {
			break
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

func attemptsKey(importID string) string {
	return fmt.Sprintf("kafka:attempts:%s", importID)
}

// processWithRetry 处理任务，失败时退避重试，直到成功或累计失败达到 maxAttempts。
// 失败次数记录在 Redis 中，进程重启后继续累计；Redis 不可用时退回进程内计数。
// 返回 false 表示 ctx 已结束，消息不应提交。
func processWithRetry(ctx context.Context, rdb *redis.Client, processor TaskProcessor, task tasks.ResponseImportTask) bool {
	key := attemptsKey(task.ImportID)
	var local int64
	for {
		err := processor.Process(ctx, task)
		if err == nil {
			log.Infof("导入任务处理成功: ImportID=%s", task.ImportID)
			_ = rdb.Del(ctx, key).Err()
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.Errorf("处理导入任务失败: ImportID=%s, Error: %v", task.ImportID, err)

		local++
		attempts := local
		if n, incErr := rdb.Incr(ctx, key).Result(); incErr == nil {
			_ = rdb.Expire(ctx, key, 24*time.Hour).Err()
			if n > attempts {
				attempts = n
			}
		} else {
			log.Warnf("记录导入失败次数失败: ImportID=%s, Error: %v", task.ImportID, incErr)
		}
		if attempts >= maxAttempts {
			log.Errorf("导入任务多次失败(>=%d)，提交 offset 终止重试: ImportID=%s", maxAttempts, task.ImportID)
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(retryBackoff * time.Duration(attempts)):
		}
	}
}
