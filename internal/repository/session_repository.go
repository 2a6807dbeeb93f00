// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"coderag-go/internal/model"
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// progressTTL 是进度快照的保留时长。会话清理保留进度（keep progress），
// 让迟到的轮询仍能拿到终态，超时后由 Redis 过期回收。
const progressTTL = 24 * time.Hour

// SessionRepository 接口定义了上传会话相关的数据持久化操作。
type SessionRepository interface {
	// UploadSession operations (GORM)
	CreateSession(session *model.UploadSession) error
	GetSession(uploadID string) (*model.UploadSession, error)
	UpdateSession(session *model.UploadSession) error
	UpdateSessionStatus(uploadID string, status int) error

	// Chunk tracking (Redis)
	MarkChunkReceived(ctx context.Context, uploadID string, chunkIndex int) error
	ReceivedChunkCount(ctx context.Context, uploadID string) (int, error)
	ClearChunkMarks(ctx context.Context, uploadID string) error

	// Progress snapshots (Redis)
	SaveProgress(ctx context.Context, uploadID string, progress model.JobProgress) error
	GetProgress(ctx context.Context, uploadID string) (*model.JobProgress, error)
}

// sessionRepository 是 SessionRepository 接口的 GORM+Redis 实现。
type sessionRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(db *gorm.DB, redisClient *redis.Client) SessionRepository {
	return &sessionRepository{db: db, redisClient: redisClient}
}

func (r *sessionRepository) chunkKey(uploadID string) string {
	return "upload:chunks:" + uploadID
}

func (r *sessionRepository) progressKey(uploadID string) string {
	return "zipjob:progress:" + uploadID
}

// CreateSession 在数据库中创建一条新的上传会话记录。
func (r *sessionRepository) CreateSession(session *model.UploadSession) error {
	return r.db.Create(session).Error
}

// GetSession 根据 upload_id 检索上传会话记录。
func (r *sessionRepository) GetSession(uploadID string) (*model.UploadSession, error) {
	var session model.UploadSession
	err := r.db.Where("upload_id = ?", uploadID).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateSession 保存一条上传会话记录。
func (r *sessionRepository) UpdateSession(session *model.UploadSession) error {
	return r.db.Save(session).Error
}

// UpdateSessionStatus 更新指定会话的状态。
func (r *sessionRepository) UpdateSessionStatus(uploadID string, status int) error {
	return r.db.Model(&model.UploadSession{}).
		Where("upload_id = ?", uploadID).
		Update("status", status).Error
}

// MarkChunkReceived 在 Redis 位图中标记分片已接收。
func (r *sessionRepository) MarkChunkReceived(ctx context.Context, uploadID string, chunkIndex int) error {
	key := r.chunkKey(uploadID)
	if err := r.redisClient.SetBit(ctx, key, int64(chunkIndex), 1).Err(); err != nil {
		return err
	}
	return r.redisClient.Expire(ctx, key, progressTTL).Err()
}

// ReceivedChunkCount 返回已接收的分片数。
// 分片严格按序写入，因此计数同时就是下一个期望的分片序号。
func (r *sessionRepository) ReceivedChunkCount(ctx context.Context, uploadID string) (int, error) {
	count, err := r.redisClient.BitCount(ctx, r.chunkKey(uploadID), nil).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return int(count), nil
}

// ClearChunkMarks 删除会话的分片接收标记。
func (r *sessionRepository) ClearChunkMarks(ctx context.Context, uploadID string) error {
	return r.redisClient.Del(ctx, r.chunkKey(uploadID)).Err()
}

// SaveProgress 将进度快照以 JSON 写入 Redis，并刷新保留期。
func (r *sessionRepository) SaveProgress(ctx context.Context, uploadID string, progress model.JobProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	return r.redisClient.Set(ctx, r.progressKey(uploadID), data, progressTTL).Err()
}

// GetProgress 读取进度快照。快照不存在时返回 (nil, nil)。
func (r *sessionRepository) GetProgress(ctx context.Context, uploadID string) (*model.JobProgress, error) {
	data, err := r.redisClient.Get(ctx, r.progressKey(uploadID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var progress model.JobProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}
