// Package service 包含了应用的业务逻辑层。
package service

import (
	"bytes"
	"coderag-go/internal/config"
	"coderag-go/internal/model"
	"coderag-go/internal/repository"
	"coderag-go/pkg/kafka"
	"coderag-go/pkg/log"
	"coderag-go/pkg/storage"
	"coderag-go/pkg/tasks"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"
)

const (
	// ChunkSize 是系统级的固定分片大小 (4 MiB)。
	// 选取这个值是为了稳定落在常见反向代理的单请求体积上限之下，
	// 与前端和客户端 SDK 的分片逻辑保持一致。
	ChunkSize = 4 * 1024 * 1024
)

// 上传会话相关的业务错误，handler 依据它们映射 HTTP 状态码。
var (
	ErrSessionNotFound = errors.New("上传会话不存在")
	ErrChunkTooLarge   = errors.New("分片超过大小上限")
	ErrChunkOutOfOrder = errors.New("分片序号不连续")
	ErrIncomplete      = errors.New("分片未全部上传")
)

// CompleteResult 是 complete 接口返回给客户端的确认信息。
type CompleteResult struct {
	Message string `json:"message"`
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
}

// UploadService 接口定义了分片上传会话相关的业务操作。
// 分片必须按序号 0..totalChunks-1 严格递增到达：服务端按追加语义重组，
// 不接受乱序或并发写入同一会话。
type UploadService interface {
	InitSession(ctx context.Context, userID uint) (string, error)
	SaveChunk(ctx context.Context, uploadID string, chunkIndex, totalChunks int, fileName string, data []byte, userID uint) error
	Complete(ctx context.Context, uploadID, fileName string, userID uint) (*CompleteResult, error)
	GetStatus(ctx context.Context, uploadID string) (*model.JobProgress, error)
}

type uploadService struct {
	sessionRepo repository.SessionRepository
	minioCfg    config.MinIOConfig
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(sessionRepo repository.SessionRepository, minioCfg config.MinIOConfig) UploadService {
	return &uploadService{
		sessionRepo: sessionRepo,
		minioCfg:    minioCfg,
	}
}

// chunkObjectName 返回分片在对象存储中的路径。
func chunkObjectName(uploadID string, chunkIndex int) string {
	return fmt.Sprintf("_sessions/%s/chunks/%d", uploadID, chunkIndex)
}

// ArchiveObjectName 返回会话合并后归档对象的路径。
func ArchiveObjectName(uploadID string) string {
	return fmt.Sprintf("_sessions/%s/archive.zip", uploadID)
}

// SessionPrefix 返回会话在对象存储中的前缀（用于清理）。
func SessionPrefix(uploadID string) string {
	return fmt.Sprintf("_sessions/%s/", uploadID)
}

// InitSession 分配一个新的上传会话并返回 upload_id。
func (s *uploadService) InitSession(ctx context.Context, userID uint) (string, error) {
	uploadID := uuid.NewString()
	session := &model.UploadSession{
		UploadID: uploadID,
		UserID:   userID,
		Status:   model.SessionReceiving,
	}
	if err := s.sessionRepo.CreateSession(session); err != nil {
		log.Errorf("[InitSession] 创建上传会话记录失败, error: %v", err)
		return "", err
	}
	log.Infof("[InitSession] 新上传会话已创建, upload_id: %s, 用户ID: %d", uploadID, userID)
	return uploadID, nil
}

// SaveChunk 处理单个分片的接收。
func (s *uploadService) SaveChunk(ctx context.Context, uploadID string, chunkIndex, totalChunks int, fileName string, data []byte, userID uint) error {
	session, err := s.sessionRepo.GetSession(uploadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		log.Errorf("[SaveChunk] 查询上传会话失败, upload_id: %s, error: %v", uploadID, err)
		return err
	}
	if session.UserID != userID {
		return ErrSessionNotFound // 不向调用方泄露他人会话的存在
	}

	if len(data) > ChunkSize {
		return fmt.Errorf("%w: %d 字节 (上限 %d)", ErrChunkTooLarge, len(data), ChunkSize)
	}

	// 乱序检查：已接收数即为下一个期望序号
	received, err := s.sessionRepo.ReceivedChunkCount(ctx, uploadID)
	if err != nil {
		log.Errorf("[SaveChunk] 从Redis获取已接收分片数失败, error: %v", err)
		return fmt.Errorf("failed to get received chunk count: %w", err)
	}
	if chunkIndex != received {
		return fmt.Errorf("%w: 期望 %d, 收到 %d", ErrChunkOutOfOrder, received, chunkIndex)
	}

	// 将分片写入 MinIO
	objectName := chunkObjectName(uploadID, chunkIndex)
	_, err = storage.MinioClient.PutObject(ctx, s.minioCfg.BucketName, objectName,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		log.Errorf("[SaveChunk] 写入分片到MinIO失败, objectName: %s, error: %v", objectName, err)
		return err
	}

	// 在 Redis 中标记分片已接收
	if err := s.sessionRepo.MarkChunkReceived(ctx, uploadID, chunkIndex); err != nil {
		log.Errorf("[SaveChunk] 严重错误：在Redis中标记分片已接收失败, error: %v", err)
		return err
	}

	// 首个分片携带文件名与总分片数，落到会话记录
	if session.TotalChunks == 0 || session.FileName == "" {
		session.FileName = fileName
		session.TotalChunks = totalChunks
		if err := s.sessionRepo.UpdateSession(session); err != nil {
			log.Warnf("[SaveChunk] 更新会话元数据失败, upload_id: %s, error: %v", uploadID, err)
		}
	}

	log.Infof("[SaveChunk] 分片接收成功, upload_id: %s, 序号: %d/%d, 大小: %d 字节",
		uploadID, chunkIndex, totalChunks, len(data))
	return nil
}

// Complete 确认所有分片已上传：合并归档对象、写入排队进度并投递异步作业。
func (s *uploadService) Complete(ctx context.Context, uploadID, fileName string, userID uint) (*CompleteResult, error) {
	session, err := s.sessionRepo.GetSession(uploadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrSessionNotFound
	}

	received, err := s.sessionRepo.ReceivedChunkCount(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get received chunk count: %w", err)
	}
	if session.TotalChunks == 0 || received < session.TotalChunks {
		log.Warnf("[Complete] 拒绝合并请求：分片未完全上传。upload_id: %s, 期望: %d, 实际: %d",
			uploadID, session.TotalChunks, received)
		return nil, fmt.Errorf("%w (期望: %d, 实际: %d)", ErrIncomplete, session.TotalChunks, received)
	}

	// 根据分片数量选择合并策略
	destObjectName := ArchiveObjectName(uploadID)
	if session.TotalChunks == 1 {
		// 对于单分片文件，使用 CopyObject
		src := minio.CopySrcOptions{
			Bucket: s.minioCfg.BucketName,
			Object: chunkObjectName(uploadID, 0),
		}
		dst := minio.CopyDestOptions{
			Bucket: s.minioCfg.BucketName,
			Object: destObjectName,
		}
		if _, err := storage.MinioClient.CopyObject(ctx, dst, src); err != nil {
			log.Errorf("[Complete] 单分片归档复制失败, error: %v", err)
			return nil, fmt.Errorf("failed to copy single chunk object: %w", err)
		}
	} else {
		// 对于多分片文件，使用 ComposeObject 按序拼接
		var srcs []minio.CopySrcOptions
		for i := 0; i < session.TotalChunks; i++ {
			srcs = append(srcs, minio.CopySrcOptions{
				Bucket: s.minioCfg.BucketName,
				Object: chunkObjectName(uploadID, i),
			})
		}
		dst := minio.CopyDestOptions{
			Bucket: s.minioCfg.BucketName,
			Object: destObjectName,
		}
		if _, err := storage.MinioClient.ComposeObject(ctx, dst, srcs...); err != nil {
			log.Errorf("[Complete] 多分片归档合并失败, error: %v", err)
			return nil, err
		}
	}
	log.Infof("[Complete] 归档对象合并完成, upload_id: %s, 分片数: %d", uploadID, session.TotalChunks)

	// 更新会话记录状态
	now := time.Now()
	session.FileName = fileName
	session.Status = model.SessionQueued
	session.CompletedAt = &now
	if err := s.sessionRepo.UpdateSession(session); err != nil {
		log.Errorf("[Complete] 更新会话状态为已入队失败, error: %v", err)
		return nil, err
	}

	// 写入初始进度快照：从此刻起客户端可以开始轮询
	queued := model.JobProgress{Status: model.JobStatusQueued}
	if err := s.sessionRepo.SaveProgress(ctx, uploadID, queued); err != nil {
		log.Errorf("[Complete] 写入排队进度快照失败, error: %v", err)
		return nil, err
	}

	// 投递异步作业。投递失败意味着作业永远不会被处理，必须让本次请求失败，
	// 客户端可以安全地重试 complete（归档合并是幂等的）。
	objectURL, _ := storage.GetPresignedURL(s.minioCfg.BucketName, destObjectName, time.Hour)
	task := tasks.ZipIndexTask{
		UploadID:   uploadID,
		FileName:   fileName,
		ObjectURL:  objectURL,
		UserID:     userID,
		EnqueuedAt: now.Unix(),
	}
	if err := kafka.ProduceZipTask(task); err != nil {
		log.Errorf("[Complete] 发送 zip 作业到Kafka失败, error: %v", err)
		return nil, fmt.Errorf("failed to enqueue zip job: %w", err)
	}
	log.Infof("[Complete] zip 作业已投递, upload_id: %s, file: %s", uploadID, fileName)

	return &CompleteResult{
		Message: "Processing started.",
		JobID:   uploadID,
		Status:  model.JobStatusQueued,
	}, nil
}

// GetStatus 返回作业进度快照。快照尚未写入但会话存在时返回排队状态。
func (s *uploadService) GetStatus(ctx context.Context, uploadID string) (*model.JobProgress, error) {
	progress, err := s.sessionRepo.GetProgress(ctx, uploadID)
	if err != nil {
		log.Errorf("[GetStatus] 读取进度快照失败, upload_id: %s, error: %v", uploadID, err)
		return nil, err
	}
	if progress != nil {
		return progress, nil
	}

	if _, err := s.sessionRepo.GetSession(uploadID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &model.JobProgress{Status: model.JobStatusQueued}, nil
}
