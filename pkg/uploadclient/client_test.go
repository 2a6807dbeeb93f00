package uploadclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCoordinator 模拟服务端的分片上传协调器：
// 按会话记录收到的分片，并拒绝乱序到达。
type fakeCoordinator struct {
	mu          sync.Mutex
	uploadID    string
	chunkSizes  []int
	chunkNames  []string
	completed   bool
	completeRes map[string]interface{}
	failIndex   int // 该下标的分片返回 400，-1 表示不注入失败
	flakyIndex  int // 该下标的分片第一次返回 500，之后正常，-1 表示关闭
	flakyHits   int
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		uploadID:   "sess-1",
		failIndex:  -1,
		flakyIndex: -1,
	}
}

func (f *fakeCoordinator) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload-zip-init", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"upload_id": f.uploadID})
	})
	mux.HandleFunc("/upload-zip-chunk", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		index, err := strconv.Atoi(r.Header.Get("X-Chunk-Index"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if index == f.flakyIndex && f.flakyHits == 0 {
			f.flakyHits++
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if index == f.failIndex {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"message": "chunk rejected"})
			return
		}
		// 乱序或并发到达直接拒绝
		if index != len(f.chunkSizes) {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"message": "out of order"})
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.chunkSizes = append(f.chunkSizes, len(body))
		f.chunkNames = append(f.chunkNames, r.Header.Get("X-File-Name"))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/upload-zip-complete", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.completed = true
		if f.completeRes == nil {
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, "Processing started.")
			return
		}
		json.NewEncoder(w).Encode(f.completeRes)
	})
	return mux
}

func TestUploadZipSendsOrderedChunks(t *testing.T) {
	coord := newFakeCoordinator()
	coord.completeRes = map[string]interface{}{"message": "Processing started.", "jobId": "abc"}
	srv := httptest.NewServer(coord.handler())
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})

	// 10 MiB / 4 MiB → 三个分片：4 MiB、4 MiB、2 MiB
	size := int64(10 * 1024 * 1024)
	data := bytes.Repeat([]byte{0xA5}, int(size))

	result, err := client.UploadZip(context.Background(), "repo.zip", bytes.NewReader(data), size)
	require.NoError(t, err)

	assert.Equal(t, []int{4 * 1024 * 1024, 4 * 1024 * 1024, 2 * 1024 * 1024}, coord.chunkSizes)
	assert.Equal(t, []string{"repo.zip", "repo.zip", "repo.zip"}, coord.chunkNames)
	assert.True(t, coord.completed)
	assert.Equal(t, "abc", result.JobID)
	assert.Equal(t, "Processing started.", result.Message)
}

func TestUploadZipChunkCount(t *testing.T) {
	cases := []struct {
		size      int64
		chunkSize int64
		chunks    []int
	}{
		{size: 10, chunkSize: 4, chunks: []int{4, 4, 2}},
		{size: 8, chunkSize: 4, chunks: []int{4, 4}},
		{size: 3, chunkSize: 4, chunks: []int{3}},
		{size: 1, chunkSize: 1, chunks: []int{1}},
	}
	for _, tc := range cases {
		coord := newFakeCoordinator()
		srv := httptest.NewServer(coord.handler())

		client := NewClient(Config{BaseURL: srv.URL, ChunkSize: tc.chunkSize})
		data := bytes.Repeat([]byte{1}, int(tc.size))
		_, err := client.UploadZip(context.Background(), "a.zip", bytes.NewReader(data), tc.size)
		require.NoError(t, err)
		assert.Equal(t, tc.chunks, coord.chunkSizes, "size=%d chunkSize=%d", tc.size, tc.chunkSize)

		srv.Close()
	}
}

func TestUploadZipAbortsOnChunkFailure(t *testing.T) {
	coord := newFakeCoordinator()
	coord.failIndex = 1
	srv := httptest.NewServer(coord.handler())
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, ChunkSize: 4})
	data := bytes.Repeat([]byte{1}, 12)

	_, err := client.UploadZip(context.Background(), "a.zip", bytes.NewReader(data), 12)
	require.Error(t, err)

	var chunkErr *ChunkError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 1, chunkErr.Index)
	assert.Equal(t, http.StatusBadRequest, chunkErr.StatusCode)
	assert.Contains(t, err.Error(), "分片 1")

	// 失败之后不再发送任何分片
	assert.Equal(t, []int{4}, coord.chunkSizes)
	assert.False(t, coord.completed)
}

func TestSendChunkRetriesSameIndex(t *testing.T) {
	coord := newFakeCoordinator()
	coord.flakyIndex = 0
	srv := httptest.NewServer(coord.handler())
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, ChunkSize: 4})
	data := bytes.Repeat([]byte{1}, 6)

	// 下标 0 第一次返回 500，重试仍发同一下标，顺序不变
	_, err := client.UploadZip(context.Background(), "a.zip", bytes.NewReader(data), 6)
	require.NoError(t, err)
	assert.Equal(t, 1, coord.flakyHits)
	assert.Equal(t, []int{4, 2}, coord.chunkSizes)
}

func TestUploadZipCancellation(t *testing.T) {
	coord := newFakeCoordinator()
	srv := httptest.NewServer(coord.handler())
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, ChunkSize: 4})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := bytes.Repeat([]byte{1}, 12)
	_, err := client.UploadZip(ctx, "a.zip", bytes.NewReader(data), 12)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCompleteToleratesNonJSONBody(t *testing.T) {
	coord := newFakeCoordinator()
	srv := httptest.NewServer(coord.handler())
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	result, err := client.Complete(context.Background(), "sess-1", "a.zip")
	require.NoError(t, err)

	// 纯文本成功响应被合成为已入队结果，jobId 回退为会话 id
	assert.Equal(t, "Processing started.", result.Message)
	assert.Equal(t, "sess-1", result.JobID)
	assert.Equal(t, "queued", result.Status)
}

func TestCompleteFailureIsHardError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"message": "会话尚未收齐全部分片"})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.Complete(context.Background(), "sess-1", "a.zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "会话尚未收齐全部分片")
}

func TestClientAttachesBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]string{})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Token: "tok-123"})
	_, err := client.ListUploaded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestListUploaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/list_uploaded", r.URL.Path)
		json.NewEncoder(w).Encode([]string{"a.md", "b.ts"})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	names, err := client.ListUploaded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.ts"}, names)
}

func TestDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a.md", body["filename"])
		json.NewEncoder(w).Encode(map[string]string{"message": "File deleted."})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, client.Delete(context.Background(), "a.md"))
}

func TestStatusParsesProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "job-1", r.URL.Query().Get("upload_id"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "processing",
			"files_total": 10,
			"files_done":  5,
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	status, err := client.Status(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "processing", status.Status)
	assert.Equal(t, 10, status.FilesTotal)
	assert.Equal(t, 5, status.FilesDone)
}
