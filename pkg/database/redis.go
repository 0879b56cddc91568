package database

import (
	"context"
	"sentorial-chat/internal/config"
	"sentorial-chat/pkg/log"
	"time"

	"github.com/go-redis/redis/v8"
)

// RDB 存放未知问题计数、快捷消息、消息推送频道和 token 黑名单。
var RDB *redis.Client

// InitRedis 按配置创建 Redis 客户端，启动时连不上直接退出。
func InitRedis(cfg config.RedisConfig) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 20
	}
	RDB = redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    poolSize,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Infow("Redis client connected", "addr", cfg.Addr, "db", cfg.DB, "poolSize", poolSize)
}

// CloseRedis 关闭 Redis 客户端。
func CloseRedis() {
	if RDB != nil {
		_ = RDB.Close()
	}
}
