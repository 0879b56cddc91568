package middleware

import (
	"bytes"
	"io"
	"sentorial-chat/pkg/log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// 日志中请求体与响应体的最大长度。
const maxLoggedBody = 2048

// 这些路径的请求体不写入日志（口令、上传文件）。
var redactedPaths = map[string]bool{
	"/api/v1/admin/login":            true,
	"/api/v1/admin/responses/import": true,
}

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func truncateBody(b string) string {
	if len(b) > maxLoggedBody {
		return b[:maxLoggedBody] + "...(truncated)"
	}
	return b
}

// RequestLogger 是一个 Gin 中间件，用于记录详细的请求和响应日志。
// WebSocket 升级请求只记录概要，不包装 ResponseWriter。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		path := c.Request.URL.Path

		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			c.Next()
			log.Infow("WebSocket Session Log",
				"latency", time.Since(startTime).String(),
				"clientIP", c.ClientIP(),
				"path", path,
			)
			return
		}

		// 读取并重新缓存请求体
		var requestBody []byte
		if c.Request.Body != nil && !redactedPaths[path] {
			requestBody, _ = io.ReadAll(c.Request.Body)
			// 将读取的请求体重新设置回 c.Request.Body，以便后续处理函数可以正常读取
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		// 使用自定义的 ResponseWriter 捕获响应
		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"requestBody", truncateBody(string(requestBody)),
			"responseBody", truncateBody(blw.body.String()),
		)
	}
}
