package model

// 作业状态常量。status 是开放集合：消费方只把 terminal 状态当作结束信号。
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// JobProgress 是异步 zip 作业的进度快照。
// 由处理管道独占写入，status 接口和 WebSocket 推送只读取它的投影。
type JobProgress struct {
	Status        string   `json:"status"`
	Message       string   `json:"message,omitempty"`
	FilesTotal    int      `json:"files_total,omitempty"`
	FilesDone     int      `json:"files_done,omitempty"`
	PctCompletion float64  `json:"pct_completion,omitempty"`
	PctIndexing   float64  `json:"pct_indexing,omitempty"`
	IndexedIDs    []string `json:"indexed_ids,omitempty"`
}

// NewJobProgress 构造一个带派生百分比字段的进度快照。
func NewJobProgress(status string, filesTotal, filesDone int, indexedIDs []string) JobProgress {
	p := JobProgress{
		Status:     status,
		FilesTotal: filesTotal,
		FilesDone:  filesDone,
		IndexedIDs: indexedIDs,
	}
	if filesTotal > 0 {
		p.PctCompletion = float64(filesDone) / float64(filesTotal) * 100
		p.PctIndexing = float64(len(indexedIDs)) / float64(filesTotal) * 100
	}
	return p
}
