// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 会话状态常量。
const (
	SessionReceiving = 0 // 分片接收中
	SessionQueued    = 1 // 已入队等待异步处理
	SessionDone      = 2 // 处理完成
	SessionFailed    = 3 // 处理失败
)

// UploadSession 定义了 upload_session 表的 ORM 模型。
// 每次分片上传尝试对应一条记录，以服务端生成的 upload_id 为关联键。
type UploadSession struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	UploadID    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"uploadId"`
	FileName    string     `gorm:"type:varchar(255)" json:"fileName"`
	UserID      uint       `gorm:"not null;index" json:"userId"`
	TotalChunks int        `gorm:"not null;default:0" json:"totalChunks"`
	Status      int        `gorm:"type:tinyint;not null;default:0" json:"status"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	CompletedAt *time.Time `gorm:"default:null" json:"completedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (UploadSession) TableName() string {
	return "upload_session"
}

// IndexedFile 对应于数据库中的 'indexed_file' 表。
// 记录每个已进入搜索索引的文件（zip 解包成员或单文件上传）。
type IndexedFile struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     uint      `gorm:"not null;index" json:"userId"`
	UploadID   string    `gorm:"type:varchar(64);index" json:"uploadId"` // 单文件上传时为空
	FileName   string    `gorm:"type:varchar(512);not null" json:"fileName"`
	SourcePath string    `gorm:"type:varchar(512)" json:"sourcePath"`
	Size       int64     `gorm:"not null;default:0" json:"size"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (IndexedFile) TableName() string {
	return "indexed_file"
}
