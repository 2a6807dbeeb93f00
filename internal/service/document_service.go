// Package service 包含了应用的业务逻辑层。
package service

import (
	"bytes"
	"coderag-go/internal/config"
	"coderag-go/internal/model"
	"coderag-go/internal/repository"
	"coderag-go/pkg/es"
	"coderag-go/pkg/log"
	"coderag-go/pkg/storage"
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"
)

// ErrFileNotFound 表示目标文件不存在或不属于该用户。
var ErrFileNotFound = errors.New("文件不存在")

// FileIndexer 抽象了单个文件的切块/向量化/索引流程。
// 由 pipeline.Processor 实现；单文件上传走它的同步路径。
type FileIndexer interface {
	IndexFile(ctx context.Context, userID uint, uploadID, fileName, sourcePath string, data []byte) (int, error)
}

// DocumentService 接口定义了文件管理相关的业务操作。
type DocumentService interface {
	UploadSingle(ctx context.Context, fileName string, data []byte, userID uint) error
	ListUploaded(userID uint) ([]string, error)
	Delete(ctx context.Context, fileName string, userID uint) error
}

type documentService struct {
	fileRepo repository.FileRepository
	indexer  FileIndexer
	minioCfg config.MinIOConfig
	esCfg    config.ElasticsearchConfig
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(fileRepo repository.FileRepository, indexer FileIndexer, minioCfg config.MinIOConfig, esCfg config.ElasticsearchConfig) DocumentService {
	return &documentService{
		fileRepo: fileRepo,
		indexer:  indexer,
		minioCfg: minioCfg,
		esCfg:    esCfg,
	}
}

// UploadSingle 处理单文件上传：存储文件并同步完成索引。
// 这是小文件的快路径，不经过分片会话和异步作业。
func (s *documentService) UploadSingle(ctx context.Context, fileName string, data []byte, userID uint) error {
	blobName := fmt.Sprintf("uploads/%d/%s", userID, fileName)
	_, err := storage.MinioClient.PutObject(ctx, s.minioCfg.BucketName, blobName,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		log.Errorf("[UploadSingle] 存储文件失败, blob: %s, error: %v", blobName, err)
		return err
	}

	if _, err := s.indexer.IndexFile(ctx, userID, "", fileName, fileName, data); err != nil {
		log.Errorf("[UploadSingle] 同步索引失败, file: %s, error: %v", fileName, err)
		return err
	}

	if err := s.fileRepo.Create(&model.IndexedFile{
		UserID:     userID,
		FileName:   fileName,
		SourcePath: fileName,
		Size:       int64(len(data)),
	}); err != nil {
		log.Warnf("[UploadSingle] 写入 indexed_file 记录失败, file: %s, error: %v", fileName, err)
	}

	log.Infof("[UploadSingle] 单文件上传并索引完成, file: %s, 用户ID: %d", fileName, userID)
	return nil
}

// ListUploaded 返回用户全部已索引文件的文件名列表。
func (s *documentService) ListUploaded(userID uint) ([]string, error) {
	files, err := s.fileRepo.FindByUserID(userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.FileName)
	}
	return names, nil
}

// Delete 删除一个已索引文件：对象存储、搜索索引与数据库记录。
// blob 删除失败不阻断：记录级清理保证列表立即收敛，存储残留由运维回收。
func (s *documentService) Delete(ctx context.Context, fileName string, userID uint) error {
	record, err := s.fileRepo.GetByName(userID, fileName)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFileNotFound
		}
		return err
	}

	blobName := fmt.Sprintf("uploads/%d/%s", userID, record.FileName)
	if err := storage.MinioClient.RemoveObject(ctx, s.minioCfg.BucketName, blobName, minio.RemoveObjectOptions{}); err != nil {
		log.Warnf("[Delete] 删除对象失败, blob: %s, error: %v", blobName, err)
	}

	if err := es.DeleteByFileName(ctx, s.esCfg.IndexName, record.FileName, userID); err != nil {
		log.Errorf("[Delete] 删除搜索索引切片失败, file: %s, error: %v", fileName, err)
		return err
	}

	return s.fileRepo.DeleteByName(userID, fileName)
}
