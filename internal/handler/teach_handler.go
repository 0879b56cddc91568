package handler

import (
	"errors"
	"net/http"
	"sentorial-chat/internal/repository"
	"sentorial-chat/internal/service"
	"sentorial-chat/pkg/log"

	"github.com/gin-gonic/gin"
)

// TeachHandler 负责公开的教学接口。
type TeachHandler struct {
	adminService service.AdminService
}

// NewTeachHandler 创建一个新的 TeachHandler。
func NewTeachHandler(adminService service.AdminService) *TeachHandler {
	return &TeachHandler{adminService: adminService}
}

// TeachRequest 定义了教学 API 的请求体结构。
type TeachRequest struct {
	Question string `json:"question" binding:"required"`
	Answer   string `json:"answer" binding:"required"`
}

// Teach 保存一条问答，后续相同问题将直接命中。
func (h *TeachHandler) Teach(c *gin.Context) {
	var req TeachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "问题和答案不能为空", "data": nil})
		return
	}
	if err := h.adminService.Teach(c.Request.Context(), req.Question, req.Answer); err != nil {
		writeResponseError(c, "Teach", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "已学会", "data": nil})
}

// writeResponseError 将应答表写入错误映射为 HTTP 响应。
func writeResponseError(c *gin.Context, op string, err error) {
	if errors.Is(err, repository.ErrEmptyQuestion) ||
		errors.Is(err, repository.ErrQuestionTooLong) ||
		errors.Is(err, service.ErrEmptyAnswer) {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	}
	log.Errorf("%s: 保存应答失败, error: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "保存应答失败", "data": nil})
}
