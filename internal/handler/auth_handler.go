package handler

import (
	"errors"
	"net/http"
	"sentorial-chat/internal/service"
	"sentorial-chat/pkg/log"

	"github.com/gin-gonic/gin"
)

// AuthHandler 负责管理端的口令登录与登出。
type AuthHandler struct {
	authService service.AuthService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(authService service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// LoginRequest 定义了管理端登录 API 的请求体结构。
type LoginRequest struct {
	Passphrase string `json:"passphrase" binding:"required"`
}

// Login 校验共享口令并返回管理端 token。
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：passphrase 不能为空", "data": nil})
		return
	}

	tokenString, expiresAt, err := h.authService.Login(c.Request.Context(), req.Passphrase)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPassphrase) {
			log.Warnf("Login: 管理口令校验失败, clientIP: %s", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": err.Error(), "data": nil})
			return
		}
		log.Error("Login: 签发 token 失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "登录失败", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Login successful",
		"data": gin.H{
			"token":     tokenString,
			"expiresAt": expiresAt.UnixMilli(),
		},
	})
}

// Logout 使当前 token 失效。
func (h *AuthHandler) Logout(c *gin.Context) {
	tokenString := c.GetString("token")
	if err := h.authService.Logout(c.Request.Context(), tokenString); err != nil {
		log.Error("Logout: 登出失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "登出失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "Logout successful", "data": nil})
}
