// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// ZipIndexTask 描述一个等待异步处理的 zip 索引作业。
// 它在 complete 接口确认最后一个分片后写入 Kafka，由后台消费者拾取。
type ZipIndexTask struct {
	UploadID   string `json:"upload_id"`
	FileName   string `json:"file_name"`
	ObjectURL  string `json:"object_url"`
	UserID     uint   `json:"user_id"`
	EnqueuedAt int64  `json:"enqueued_at"`
}
