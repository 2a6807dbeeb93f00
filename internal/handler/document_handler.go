// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"coderag-go/internal/service"
	"coderag-go/pkg/log"
	"coderag-go/pkg/token"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// maxSingleUploadBytes 是单文件上传（同步快路径）的体积上限。
const maxSingleUploadBytes = 10 * 1024 * 1024

// DocumentHandler 负责处理文件管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// Upload 处理单文件上传的请求（multipart，同步索引）。
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未能获取上传的文件"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSingleUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取上传的文件失败"})
		return
	}
	if len(data) > maxSingleUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "文件超过大小上限"})
		return
	}

	claims := c.MustGet("claims").(*token.CustomClaims)

	if err := h.docService.UploadSingle(c.Request.Context(), header.Filename, data, claims.UserID); err != nil {
		log.Error("Upload: failed to upload file", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "文件上传失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "File uploaded and indexed."})
}

// ListUploaded 处理获取已索引文件列表的请求。响应体是纯文件名数组。
func (h *DocumentHandler) ListUploaded(c *gin.Context) {
	claims := c.MustGet("claims").(*token.CustomClaims)

	names, err := h.docService.ListUploaded(claims.UserID)
	if err != nil {
		log.Error("ListUploaded: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取文件列表失败"})
		return
	}

	c.JSON(http.StatusOK, names)
}

// DeleteUploadedRequest 定义了删除文件 API 的请求体结构。
type DeleteUploadedRequest struct {
	FileName string `json:"filename" binding:"required"`
}

// DeleteUploaded 处理删除已索引文件的请求。
func (h *DocumentHandler) DeleteUploaded(c *gin.Context) {
	var req DeleteUploadedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	claims := c.MustGet("claims").(*token.CustomClaims)

	if err := h.docService.Delete(c.Request.Context(), req.FileName, claims.UserID); err != nil {
		if errors.Is(err, service.ErrFileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "文件不存在"})
			return
		}
		log.Errorf("DeleteUploaded: 删除失败, file: %s, err: %v", req.FileName, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "文件删除失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "File deleted."})
}
