// Package uploadclient 提供上传服务的 Go 客户端：
// 分片上传大文件、提交合并、轮询异步处理状态，以及单文件上传与文件管理。
package uploadclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultChunkSize 是分片的固定大小，与服务端保持一致。
	// 取 4 MiB 是为了稳定落在常见反向代理的单请求体积限制之下。
	DefaultChunkSize = 4 * 1024 * 1024

	// DefaultRetryMax 是单个请求的最大重试次数（针对网络错误与 5xx）。
	DefaultRetryMax = 3
)

// 与服务端约定的分片元数据请求头。
const (
	headerUploadID    = "X-Upload-Id"
	headerChunkIndex  = "X-Chunk-Index"
	headerTotalChunks = "X-Total-Chunks"
	headerFileName    = "X-File-Name"
)

// Config 是客户端的配置项。
type Config struct {
	BaseURL   string // 服务端地址，例如 http://localhost:8080
	Token     string // Bearer token，留空表示服务端未启用认证
	ChunkSize int64  // 分片大小，0 表示使用 DefaultChunkSize
	RetryMax  int    // 单请求最大重试次数，0 表示使用 DefaultRetryMax
}

// Client 封装上传服务的 HTTP 接口。
// 所有请求在网络错误和 5xx 响应时做有界退避重试；
// 分片重试始终针对同一个下标，不会在失败时推进顺序。
type Client struct {
	baseURL    string
	token      string
	chunkSize  int64
	httpClient *retryablehttp.Client
}

// NewClient 创建一个上传客户端。
func NewClient(cfg Config) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = cfg.RetryMax
	if rc.RetryMax <= 0 {
		rc.RetryMax = DefaultRetryMax
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		chunkSize:  chunkSize,
		httpClient: rc,
	}
}

// ChunkSize 返回客户端使用的分片大小。
func (c *Client) ChunkSize() int64 {
	return c.chunkSize
}

// ChunkError 表示某个分片被服务端拒绝。
type ChunkError struct {
	Index      int    // 失败分片的下标
	StatusCode int    // 服务端返回的 HTTP 状态码
	Message    string // 服务端返回的错误信息（可能为空）
}

func (e *ChunkError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("分片 %d 上传失败: 状态码 %d: %s", e.Index, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("分片 %d 上传失败: 状态码 %d", e.Index, e.StatusCode)
}

// CompleteResult 是提交合并后的结果。
type CompleteResult struct {
	Message string `json:"message"`
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
}

// JobStatus 是异步处理任务的状态快照。
// Status 是判别字段，进度字段只在 processing/completed 状态下有意义。
type JobStatus struct {
	Status        string   `json:"status"`
	Message       string   `json:"message,omitempty"`
	FilesTotal    int      `json:"files_total,omitempty"`
	FilesDone     int      `json:"files_done,omitempty"`
	PctCompletion float64  `json:"pct_completion,omitempty"`
	PctIndexing   float64  `json:"pct_indexing,omitempty"`
	IndexedIDs    []string `json:"indexed_ids,omitempty"`
}

// Init 创建一个新的分片上传会话，返回服务端分配的 upload_id。
// 初始化失败不做业务级重试，错误直接返回给调用方。
func (c *Client) Init(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/upload-zip-init", "", nil)
	if err != nil {
		return "", fmt.Errorf("初始化上传会话失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("初始化上传会话失败: 状态码 %d: %s", resp.StatusCode, readMessage(resp.Body))
	}
	var body struct {
		UploadID string `json:"upload_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("解析会话响应失败: %w", err)
	}
	return body.UploadID, nil
}

// SendChunk 上传一个分片。调用方必须按下标 0..totalChunks-1 严格递增地串行调用，
// 前一个分片确认之前不得发送下一个分片。
func (c *Client) SendChunk(ctx context.Context, uploadID string, index, totalChunks int, fileName string, data []byte) error {
	req, err := retryablehttp.NewRequest(http.MethodPost, c.baseURL+"/upload-zip-chunk", data)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(headerUploadID, uploadID)
	req.Header.Set(headerChunkIndex, strconv.Itoa(index))
	req.Header.Set(headerTotalChunks, strconv.Itoa(totalChunks))
	req.Header.Set(headerFileName, fileName)
	c.setAuth(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("分片 %d 上传失败: %w", index, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ChunkError{Index: index, StatusCode: resp.StatusCode, Message: readMessage(resp.Body)}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Complete 通知服务端所有分片已发送完毕。
// 成功响应的 body 可能为空或不是 JSON，此时合成一个 "Processing started." 结果；
// 失败响应则始终是硬错误并带上状态码。
func (c *Client) Complete(ctx context.Context, uploadID, fileName string) (*CompleteResult, error) {
	payload := map[string]string{"upload_id": uploadID, "filename": fileName}
	resp, err := c.doJSON(ctx, http.MethodPost, "/upload-zip-complete", payload)
	if err != nil {
		return nil, fmt.Errorf("提交合并失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("提交合并失败: 状态码 %d: %s", resp.StatusCode, readMessage(resp.Body))
	}

	result := &CompleteResult{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		// 服务端可能直接返回纯文本确认，按已入队处理
		result = &CompleteResult{Message: "Processing started.", Status: "queued"}
	}
	if result.JobID == "" {
		result.JobID = uploadID
	}
	return result, nil
}

// Status 查询一次任务状态。
func (c *Client) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/upload-zip-status?upload_id="+url.QueryEscape(jobID), "", nil)
	if err != nil {
		return nil, fmt.Errorf("查询任务状态失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
			return nil, fmt.Errorf("查询任务状态失败: %s", body.Error)
		}
		return nil, fmt.Errorf("查询任务状态失败: 状态码 %d", resp.StatusCode)
	}
	status := &JobStatus{}
	if err := json.NewDecoder(resp.Body).Decode(status); err != nil {
		return nil, fmt.Errorf("解析任务状态失败: %w", err)
	}
	return status, nil
}

// UploadZip 执行完整的分片上传流程：初始化会话、按序发送全部分片、提交合并。
// 分片数等于 ceil(size/chunkSize)，最后一个分片可以小于固定分片大小。
// ctx 取消会在分片边界以及在途请求上生效。
func (c *Client) UploadZip(ctx context.Context, fileName string, r io.Reader, size int64) (*CompleteResult, error) {
	if size <= 0 {
		return nil, fmt.Errorf("文件为空: %s", fileName)
	}
	uploadID, err := c.Init(ctx)
	if err != nil {
		return nil, err
	}

	totalChunks := int((size + c.chunkSize - 1) / c.chunkSize)
	buf := make([]byte, c.chunkSize)
	for i := 0; i < totalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		want := c.chunkSize
		if i == totalChunks-1 {
			want = size - int64(totalChunks-1)*c.chunkSize
		}
		n, err := io.ReadFull(r, buf[:want])
		if err != nil {
			return nil, fmt.Errorf("读取分片 %d 失败: %w", i, err)
		}
		if err := c.SendChunk(ctx, uploadID, i, totalChunks, fileName, buf[:n]); err != nil {
			return nil, err
		}
	}
	return c.Complete(ctx, uploadID, fileName)
}

// Upload 以 multipart 表单同步上传并索引单个文件，返回服务端的确认消息。
func (c *Client) Upload(ctx context.Context, fileName string, r io.Reader) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	resp, err := c.do(ctx, http.MethodPost, "/upload", writer.FormDataContentType(), body.Bytes())
	if err != nil {
		return "", fmt.Errorf("文件上传失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("文件上传失败: 状态码 %d: %s", resp.StatusCode, readMessage(resp.Body))
	}
	var result struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("解析上传响应失败: %w", err)
	}
	return result.Message, nil
}

// ListUploaded 返回当前用户已索引的文件名列表。
func (c *Client) ListUploaded(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/list_uploaded", "", nil)
	if err != nil {
		return nil, fmt.Errorf("获取文件列表失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("获取文件列表失败: 状态码 %d", resp.StatusCode)
	}
	var names []string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		return nil, fmt.Errorf("解析文件列表失败: %w", err)
	}
	return names, nil
}

// Delete 删除一个已上传文件及其索引。
func (c *Client) Delete(ctx context.Context, fileName string) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/delete_uploaded", map[string]string{"filename": fileName})
	if err != nil {
		return fmt.Errorf("删除文件失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("删除文件失败: 状态码 %d: %s", resp.StatusCode, readMessage(resp.Body))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) (*http.Response, error) {
	var rawBody interface{}
	if body != nil {
		rawBody = body
	}
	req, err := retryablehttp.NewRequest(method, c.baseURL+path, rawBody)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.setAuth(req.Header)
	return c.httpClient.Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload interface{}) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, method, path, "application/json", data)
}

func (c *Client) setAuth(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

// readMessage 尝试从错误响应中取出 message 字段，取不到则返回原始文本。
func readMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return string(bytes.TrimSpace(data))
}
