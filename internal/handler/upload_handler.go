// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"coderag-go/internal/service"
	"coderag-go/pkg/log"
	"coderag-go/pkg/token"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// 分片上传的元数据通过请求头携带，请求体保持为裸二进制。
const (
	HeaderUploadID    = "X-Upload-Id"
	HeaderChunkIndex  = "X-Chunk-Index"
	HeaderTotalChunks = "X-Total-Chunks"
	HeaderFileName    = "X-File-Name"
)

// UploadHandler 负责处理所有与分片上传会话相关的 API 请求。
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// InitZip 处理上传会话初始化的请求。
func (h *UploadHandler) InitZip(c *gin.Context) {
	claims := c.MustGet("claims").(*token.CustomClaims)

	uploadID, err := h.uploadService.InitSession(c.Request.Context(), claims.UserID)
	if err != nil {
		log.Error("InitZip: failed to create session", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "创建上传会话失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"upload_id": uploadID})
}

// UploadZipChunk 处理单个分片的接收请求。
func (h *UploadHandler) UploadZipChunk(c *gin.Context) {
	uploadID := c.GetHeader(HeaderUploadID)
	chunkIndexStr := c.GetHeader(HeaderChunkIndex)
	totalChunksStr := c.GetHeader(HeaderTotalChunks)
	fileName := c.GetHeader(HeaderFileName)

	if uploadID == "" || chunkIndexStr == "" || totalChunksStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "缺少分片元数据请求头"})
		return
	}

	chunkIndex, err := strconv.Atoi(chunkIndexStr)
	if err != nil || chunkIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "无效的分片序号"})
		return
	}
	totalChunks, err := strconv.Atoi(totalChunksStr)
	if err != nil || totalChunks <= 0 || chunkIndex >= totalChunks {
		c.JSON(http.StatusBadRequest, gin.H{"message": "无效的总分片数"})
		return
	}

	// 读取裸二进制请求体，超限在读取阶段截断
	body := http.MaxBytesReader(c.Writer, c.Request.Body, service.ChunkSize+1)
	data, err := io.ReadAll(body)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "分片超过大小上限"})
		return
	}

	claims := c.MustGet("claims").(*token.CustomClaims)

	err = h.uploadService.SaveChunk(c.Request.Context(), uploadID, chunkIndex, totalChunks, fileName, data, claims.UserID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			status = http.StatusNotFound
		case errors.Is(err, service.ErrChunkTooLarge):
			status = http.StatusRequestEntityTooLarge
		case errors.Is(err, service.ErrChunkOutOfOrder):
			status = http.StatusConflict
		}
		log.Errorf("UploadZipChunk: 分片接收失败, upload_id: %s, index: %d, err: %v", uploadID, chunkIndex, err)
		c.JSON(status, gin.H{"message": err.Error()})
		return
	}

	c.Status(http.StatusOK)
}

// CompleteZipRequest 定义了 complete 接口的请求体结构。
type CompleteZipRequest struct {
	UploadID string `json:"upload_id" binding:"required"`
	FileName string `json:"filename" binding:"required"`
}

// CompleteZip 处理所有分片发送完毕的确认请求。
func (h *UploadHandler) CompleteZip(c *gin.Context) {
	var req CompleteZipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "无效的请求负载"})
		return
	}

	claims := c.MustGet("claims").(*token.CustomClaims)

	result, err := h.uploadService.Complete(c.Request.Context(), req.UploadID, req.FileName, claims.UserID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			status = http.StatusNotFound
		case errors.Is(err, service.ErrIncomplete):
			status = http.StatusConflict
		}
		log.Errorf("CompleteZip: 合并失败, upload_id: %s, err: %v", req.UploadID, err)
		c.JSON(status, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// ZipStatus 处理作业进度轮询请求。
func (h *UploadHandler) ZipStatus(c *gin.Context) {
	uploadID := c.Query("upload_id")
	if uploadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 upload_id 参数"})
		return
	}

	progress, err := h.uploadService.GetStatus(c.Request.Context(), uploadID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "未找到上传会话"})
			return
		}
		log.Error("ZipStatus: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取作业状态失败"})
		return
	}

	c.JSON(http.StatusOK, progress)
}
