package service

import (
	"context"
	"errors"
	"fmt"
	"sentorial-chat/pkg/hash"
	"sentorial-chat/pkg/log"
	"sentorial-chat/pkg/token"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	adminSubject    = "admin"
	blacklistPrefix = "blacklist:"
)

var (
	// ErrInvalidPassphrase 表示管理口令错误。
	ErrInvalidPassphrase = errors.New("管理口令错误")
	// ErrTokenRevoked 表示 token 已登出。
	ErrTokenRevoked = errors.New("token 已失效")
)

// AuthService 负责管理端的口令登录与会话 token。
type AuthService interface {
	Login(ctx context.Context, passphrase string) (string, time.Time, error)
	Logout(ctx context.Context, tokenString string) error
	Authenticate(ctx context.Context, tokenString string) (*token.CustomClaims, error)
}

type authService struct {
	passphraseHash string
	jwtManager     *token.JWTManager
	redisClient    *redis.Client
}

// NewAuthService 创建一个新的 AuthService 实例。passphraseHash 是 bcrypt 哈希。
func NewAuthService(passphraseHash string, jwtManager *token.JWTManager, redisClient *redis.Client) AuthService {
	if passphraseHash == "" {
		log.Warnf("[AuthService] 未配置管理口令哈希, 管理端登录将始终失败")
	}
	return &authService{passphraseHash: passphraseHash, jwtManager: jwtManager, redisClient: redisClient}
}

// Login 校验共享口令并签发管理端 token。
func (s *authService) Login(_ context.Context, passphrase string) (string, time.Time, error) {
	if s.passphraseHash == "" || !hash.CheckPasswordHash(passphrase, s.passphraseHash) {
		return "", time.Time{}, ErrInvalidPassphrase
	}
	return s.jwtManager.GenerateToken(adminSubject, token.RoleAdmin)
}

// Logout 将 token 加入 Redis 黑名单直到其过期。
func (s *authService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return err
	}
	expiration := time.Until(claims.ExpiresAt.Time)
	if expiration <= 0 {
		return nil
	}
	if err := s.redisClient.Set(ctx, blacklistPrefix+tokenString, "true", expiration).Err(); err != nil {
		return fmt.Errorf("写入 token 黑名单失败: %w", err)
	}
	return nil
}

// Authenticate 校验 token 签名、有效期与黑名单。
func (s *authService) Authenticate(ctx context.Context, tokenString string) (*token.CustomClaims, error) {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	revoked, err := s.redisClient.Exists(ctx, blacklistPrefix+tokenString).Result()
	if err != nil {
		return nil, fmt.Errorf("查询 token 黑名单失败: %w", err)
	}
	if revoked > 0 {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}
