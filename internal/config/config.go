// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Topic 承载应答表导入任务。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// LLMConfig 存储生成式应答服务的配置。
// 生成参数（temperature、topP、topK、maxOutputTokens）是固定常量，不在此处配置。
type LLMConfig struct {
	Provider       string          `mapstructure:"provider"` // "gemini" 或 "openai"
	APIKey         string          `mapstructure:"api_key"`
	BaseURL        string          `mapstructure:"base_url"`
	Model          string          `mapstructure:"model"`
	TimeoutSeconds int             `mapstructure:"timeout_seconds"`
	Prompt         LLMPromptConfig `mapstructure:"prompt"`
}

// LLMPromptConfig 配置人设前言与静态知识块。
type LLMPromptConfig struct {
	Persona   string `mapstructure:"persona"`
	Knowledge string `mapstructure:"knowledge"`
}

// ChatConfig 存储应答解析流程相关的配置。
type ChatConfig struct {
	HistorySize         int     `mapstructure:"history_size"`
	FallbackProbability float64 `mapstructure:"fallback_probability"`
	SubmitterID         string  `mapstructure:"submitter_id"`
	// 会话空闲多久后回收其历史缓冲
	SessionIdleMinutes  int     `mapstructure:"session_idle_minutes"`
}

// AdminConfig 存储管理端口令与 JWT 的配置。
type AdminConfig struct {
	PassphraseHash   string `mapstructure:"passphrase_hash"`
	JWTSecret        string `mapstructure:"jwt_secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

// SchedulerConfig 存储定时任务的配置。
type SchedulerConfig struct {
	BackupCron string `mapstructure:"backup_cron"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "response-import")
	v.SetDefault("kafka.group_id", "sentorial-chat-importer")
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.timeout_seconds", 30)
	v.SetDefault("chat.history_size", 10)
	v.SetDefault("chat.fallback_probability", 0.7)
	v.SetDefault("chat.submitter_id", "anonymous")
	v.SetDefault("chat.session_idle_minutes", 60)
	v.SetDefault("admin.token_expire_hours", 12)
	v.SetDefault("scheduler.backup_cron", "0 3 * * *")
}

// Load 从指定路径读取 YAML 配置，并允许环境变量覆盖（如 LLM_API_KEY）。
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
