// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"coderag-go/pkg/log"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

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

// loggableBody 判断请求体是否适合进日志。
// 分片上传是裸二进制、单文件上传是 multipart，两者都不该被完整缓存进日志。
func loggableBody(contentType string) bool {
	if strings.HasPrefix(contentType, "application/octet-stream") {
		return false
	}
	if strings.HasPrefix(contentType, "multipart/form-data") {
		return false
	}
	return true
}

// RequestLogger 是一个 Gin 中间件，用于记录详细的请求和响应日志。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		// 读取并重新缓存请求体（二进制请求体只记录大小）
		requestBody := "<binary>"
		if c.Request.Body != nil && loggableBody(c.ContentType()) {
			raw, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(raw))
			requestBody = string(raw)
		}

		// 使用自定义的 ResponseWriter 捕获响应
		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		latency := time.Since(startTime)

		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", latency.String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", requestBody,
			"responseBody", blw.body.String(),
		)
	}
}
