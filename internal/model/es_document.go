package model

// EsDocument 定义了存储在 Elasticsearch 中的文档切片结构。
type EsDocument struct {
	ChunkKey     string    `json:"chunk_key"` // 唯一标识，uploadID/fileName + chunkID
	UploadID     string    `json:"upload_id"`
	FileName     string    `json:"file_name"` // 扁平化后的文件名（blob 名）
	SourcePath   string    `json:"source_path"` // zip 内原始相对路径
	ChunkID      int       `json:"chunk_id"`
	Content      string    `json:"content"`
	Embedding    []float32 `json:"embedding"` // 文本内容的向量表示
	ModelVersion string    `json:"model_version"`
	UserID       uint      `json:"user_id"`
}
