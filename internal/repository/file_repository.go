package repository

import (
	"coderag-go/internal/model"

	"gorm.io/gorm"
)

// FileRepository 接口定义了已索引文件相关的数据持久化操作。
type FileRepository interface {
	Create(file *model.IndexedFile) error
	BatchCreate(files []*model.IndexedFile) error
	FindByUserID(userID uint) ([]model.IndexedFile, error)
	GetByName(userID uint, fileName string) (*model.IndexedFile, error)
	DeleteByName(userID uint, fileName string) error
	DeleteByUploadID(uploadID string) error
}

// fileRepository 是 FileRepository 接口的 GORM 实现。
type fileRepository struct {
	db *gorm.DB
}

// NewFileRepository 创建一个新的 FileRepository 实例。
func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) Create(file *model.IndexedFile) error {
	return r.db.Create(file).Error
}

// BatchCreate 批量写入已索引文件记录。
func (r *fileRepository) BatchCreate(files []*model.IndexedFile) error {
	if len(files) == 0 {
		return nil
	}
	return r.db.Create(files).Error
}

// FindByUserID 查找指定用户的全部已索引文件，按文件名排序。
func (r *fileRepository) FindByUserID(userID uint) ([]model.IndexedFile, error) {
	var files []model.IndexedFile
	err := r.db.Where("user_id = ?", userID).Order("file_name asc").Find(&files).Error
	return files, err
}

func (r *fileRepository) GetByName(userID uint, fileName string) (*model.IndexedFile, error) {
	var file model.IndexedFile
	err := r.db.Where("user_id = ? AND file_name = ?", userID, fileName).First(&file).Error
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *fileRepository) DeleteByName(userID uint, fileName string) error {
	return r.db.Where("user_id = ? AND file_name = ?", userID, fileName).
		Delete(&model.IndexedFile{}).Error
}

// DeleteByUploadID 删除某次 zip 上传产生的全部文件记录（重新处理前的幂等清理）。
func (r *fileRepository) DeleteByUploadID(uploadID string) error {
	return r.db.Where("upload_id = ?", uploadID).Delete(&model.IndexedFile{}).Error
}
