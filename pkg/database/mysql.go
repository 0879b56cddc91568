package database

import (
	"fmt"
	"sentorial-chat/internal/config"
	"sentorial-chat/internal/model"
	"sentorial-chat/pkg/log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB 存放应答表和聊天消息。
var DB *gorm.DB

// InitMySQL 打开 MySQL 连接并按配置设置连接池。
func InitMySQL(cfg config.MySQLConfig) {
	var err error
	DB, err = gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}

	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = 50
	}
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = maxOpen / 5
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Infow("MySQL database connected", "maxOpenConns", maxOpen, "maxIdleConns", maxIdle)
}

// Migrate 创建或更新应用所需的表结构。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.TaughtResponse{}, &model.ChatMessage{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// CloseMySQL 关闭连接池。
func CloseMySQL() {
	if DB == nil {
		return
	}
	if sqlDB, err := DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
