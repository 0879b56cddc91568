package handler

import (
	"errors"
	"io"
	"net/http"
	"sentorial-chat/internal/pipeline"
	"sentorial-chat/internal/service"
	"sentorial-chat/pkg/log"
	"strconv"

	"github.com/gin-gonic/gin"
)

// 导入文件大小上限
const maxImportUpload = 10 << 20

// AdminHandler 负责处理所有与管理端相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// SetResponseRequest 定义了保存应答 API 的请求体结构。
// OriginalQuestion 非空且与 Question 不同时视为改名。
type SetResponseRequest struct {
	Question         string `json:"question" binding:"required"`
	Answer           string `json:"answer" binding:"required"`
	OriginalQuestion string `json:"originalQuestion"`
}

// QuickMessagesRequest 定义了更新快捷消息 API 的请求体结构。
type QuickMessagesRequest struct {
	Messages []string `json:"messages"`
}

// ListResponses 分页列出应答表。
func (h *AdminHandler) ListResponses(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	list, err := h.adminService.ListResponses(c.Request.Context(), page, size)
	if err != nil {
		log.Error("ListResponses: 获取应答列表失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取应答列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": list})
}

// SetResponse 新增、覆盖或改名一条应答。
func (h *AdminHandler) SetResponse(c *gin.Context) {
	var req SetResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "问题和答案不能为空", "data": nil})
		return
	}

	var err error
	if req.OriginalQuestion != "" {
		err = h.adminService.UpdateResponse(c.Request.Context(), req.OriginalQuestion, req.Question, req.Answer)
	} else {
		err = h.adminService.SetResponse(c.Request.Context(), req.Question, req.Answer)
	}
	if err != nil {
		writeResponseError(c, "SetResponse", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "应答已保存", "data": nil})
}

// DeleteResponse 删除一条应答，问题通过查询参数 question 传入。
func (h *AdminHandler) DeleteResponse(c *gin.Context) {
	question := c.Query("question")
	if question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 question 参数", "data": nil})
		return
	}
	if err := h.adminService.DeleteResponse(c.Request.Context(), question); err != nil {
		log.Errorf("DeleteResponse: 删除应答失败, question: %s, error: %v", question, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除应答失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "应答已删除", "data": nil})
}

// ExportResponses 以附件形式下载应答表。
func (h *AdminHandler) ExportResponses(c *gin.Context) {
	file, err := h.adminService.ExportResponses(c.Request.Context())
	if err != nil {
		log.Error("ExportResponses: 导出失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "导出应答表失败", "data": nil})
		return
	}
	writeAttachment(c, file)
}

// ImportResponses 接收 multipart 字段 file，校验后投递异步导入任务。
func (h *AdminHandler) ImportResponses(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少上传文件", "data": nil})
		return
	}
	if fileHeader.Size > maxImportUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": http.StatusRequestEntityTooLarge, "message": "导入文件过大", "data": nil})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("ImportResponses: 打开上传文件失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取上传文件失败", "data": nil})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		log.Error("ImportResponses: 读取上传文件失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取上传文件失败", "data": nil})
		return
	}

	task, err := h.adminService.ImportResponses(c.Request.Context(), fileHeader.Filename, data, "admin")
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidImport) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
			return
		}
		log.Error("ImportResponses: 投递导入任务失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "导入失败", "data": nil})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "导入任务已提交", "data": task})
}

// BackupResponses 立即备份应答表。
func (h *AdminHandler) BackupResponses(c *gin.Context) {
	objectName, err := h.adminService.BackupResponses(c.Request.Context())
	if err != nil {
		log.Error("BackupResponses: 备份失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "备份失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "备份成功", "data": gin.H{"objectName": objectName}})
}

// ListBackups 列出已有备份。
func (h *AdminHandler) ListBackups(c *gin.Context) {
	backups, err := h.adminService.ListBackups(c.Request.Context())
	if err != nil {
		log.Error("ListBackups: 获取备份列表失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取备份列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": backups})
}

// ListUnknownQuestions 按出现次数降序列出未知问题。
func (h *AdminHandler) ListUnknownQuestions(c *gin.Context) {
	questions, err := h.adminService.ListUnknownQuestions(c.Request.Context())
	if err != nil {
		log.Error("ListUnknownQuestions: 获取未知问题失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取未知问题失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": questions})
}

// DeleteUnknownQuestion 删除一条未知问题，标识通过查询参数 id 传入。
func (h *AdminHandler) DeleteUnknownQuestion(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 id 参数", "data": nil})
		return
	}
	if err := h.adminService.DeleteUnknownQuestion(c.Request.Context(), id); err != nil {
		log.Errorf("DeleteUnknownQuestion: 删除失败, id: %s, error: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除未知问题失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "未知问题已删除", "data": nil})
}

// ExportUnknownQuestions 以附件形式下载未知问题。
func (h *AdminHandler) ExportUnknownQuestions(c *gin.Context) {
	file, err := h.adminService.ExportUnknownQuestions(c.Request.Context())
	if err != nil {
		log.Error("ExportUnknownQuestions: 导出失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "导出未知问题失败", "data": nil})
		return
	}
	writeAttachment(c, file)
}

// SetQuickMessages 替换聊天界面的快捷消息。
func (h *AdminHandler) SetQuickMessages(c *gin.Context) {
	var req QuickMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}
	if err := h.adminService.SetQuickMessages(c.Request.Context(), req.Messages); err != nil {
		log.Error("SetQuickMessages: 保存快捷消息失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "保存快捷消息失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "快捷消息已更新", "data": nil})
}

func writeAttachment(c *gin.Context, file *service.ExportFile) {
	c.Header("Content-Disposition", "attachment; filename=\""+file.FileName+"\"")
	c.Data(http.StatusOK, "application/json; charset=utf-8", file.Content)
}
