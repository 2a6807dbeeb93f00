// Package pipeline 定义了 zip 作业的异步处理流程。
package pipeline

import (
	"archive/zip"
	"bytes"
	"coderag-go/internal/config"
	"coderag-go/internal/model"
	"coderag-go/internal/repository"
	"coderag-go/pkg/embedding"
	"coderag-go/pkg/es"
	"coderag-go/pkg/log"
	"coderag-go/pkg/storage"
	"coderag-go/pkg/tasks"
	"coderag-go/pkg/ws"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
)

const (
	// 文本切块参数
	textChunkSize    = 1000
	textChunkOverlap = 100
)

// supportedExtensions 列出可以被解析索引的文本/代码文件类型。
// 二进制与不可解析的成员直接跳过。
var supportedExtensions = map[string]struct{}{
	".ts":   {},
	".tsx":  {},
	".js":   {},
	".jsx":  {},
	".css":  {},
	".json": {},
	".md":   {},
	".html": {},
}

// Processor 封装了 zip 作业处理的所有依赖和逻辑。
type Processor struct {
	embeddingClient embedding.Client
	esCfg           config.ElasticsearchConfig
	minioCfg        config.MinIOConfig
	embeddingCfg    config.EmbeddingConfig
	uploadCfg       config.UploadConfig
	sessionRepo     repository.SessionRepository
	fileRepo        repository.FileRepository
	hub             *ws.Hub
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	embeddingClient embedding.Client,
	esCfg config.ElasticsearchConfig,
	minioCfg config.MinIOConfig,
	embeddingCfg config.EmbeddingConfig,
	uploadCfg config.UploadConfig,
	sessionRepo repository.SessionRepository,
	fileRepo repository.FileRepository,
	hub *ws.Hub,
) *Processor {
	return &Processor{
		embeddingClient: embeddingClient,
		esCfg:           esCfg,
		minioCfg:        minioCfg,
		embeddingCfg:    embeddingCfg,
		uploadCfg:       uploadCfg,
		sessionRepo:     sessionRepo,
		fileRepo:        fileRepo,
		hub:             hub,
	}
}

// memberPlan 是 zip 中一个待处理成员的展开计划。
type memberPlan struct {
	Name     string // zip 内原始成员名
	RelPath  string // 规范化后的相对路径（索引中保留目录结构）
	FlatName string // 扁平化后的文件名，用作 blob 名和稳定 id
}

// Process 是 zip 作业处理的主函数。
// 单个成员的失败只记录并跳过；作业级失败写入 failed 快照后向消费者传播。
func (p *Processor) Process(ctx context.Context, task tasks.ZipIndexTask) error {
	log.Infof("[Processor] 开始处理 zip 作业, upload_id: %s, file: %s, 用户ID: %d",
		task.UploadID, task.FileName, task.UserID)

	if err := p.process(ctx, task); err != nil {
		failed := model.JobProgress{Status: model.JobStatusFailed, Message: err.Error()}
		if saveErr := p.sessionRepo.SaveProgress(ctx, task.UploadID, failed); saveErr != nil {
			log.Errorf("[Processor] 写入失败快照出错, upload_id: %s, error: %v", task.UploadID, saveErr)
		}
		p.hub.Broadcast(task.UploadID, failed)
		_ = p.sessionRepo.UpdateSessionStatus(task.UploadID, model.SessionFailed)
		return err
	}
	return nil
}

func (p *Processor) process(ctx context.Context, task tasks.ZipIndexTask) error {
	// 1. 从 MinIO 下载归档对象
	objectName := fmt.Sprintf("_sessions/%s/archive.zip", task.UploadID)
	object, err := storage.MinioClient.GetObject(ctx, p.minioCfg.BucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("从 MinIO 下载归档失败: %w", err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(object)
	if err != nil {
		return fmt.Errorf("读取归档对象流失败: %w", err)
	}
	log.Infof("[Processor] 归档下载完成, upload_id: %s, 大小: %d 字节", task.UploadID, size)

	maxZipSize := p.uploadCfg.MaxZipSizeMB * 1024 * 1024
	if size == 0 {
		return fmt.Errorf("归档内容为空")
	}
	if size > maxZipSize {
		return fmt.Errorf("归档超过 %d MB 上限", p.uploadCfg.MaxZipSizeMB)
	}

	// 2. 打开 zip 并制定成员展开计划
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), size)
	if err != nil {
		return fmt.Errorf("解析 zip 失败: %w", err)
	}

	plans, err := planMembers(zr, zipBaseName(task.FileName), p.uploadCfg.MaxZipFileCount)
	if err != nil {
		return err
	}
	filesTotal := len(plans)
	log.Infof("[Processor] 成员展开计划完成, upload_id: %s, 待索引文件数: %d", task.UploadID, filesTotal)

	// 重新处理前清理既有记录（幂等）
	if err := p.fileRepo.DeleteByUploadID(task.UploadID); err != nil {
		log.Warnf("[Processor] 清理 indexed_file 旧记录失败 (upload_id=%s): %v", task.UploadID, err)
	}

	indexedIDs := make([]string, 0, filesTotal)
	filesDone := 0
	p.publishProgress(ctx, task.UploadID, model.JobStatusProcessing, filesTotal, filesDone, indexedIDs)

	// 3. 逐个成员：读取 → 存储 blob → 切块向量化 → 索引 → 更新进度
	for _, plan := range plans {
		data, err := readMember(zr, plan.Name)
		if err != nil {
			log.Errorf("[Processor] 读取 zip 成员失败, member: %s, error: %v", plan.Name, err)
			continue
		}

		blobName := fmt.Sprintf("uploads/%d/%s", task.UserID, plan.FlatName)
		_, err = storage.MinioClient.PutObject(ctx, p.minioCfg.BucketName, blobName,
			bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
		if err != nil {
			log.Errorf("[Processor] 存储解包文件失败, blob: %s, error: %v", blobName, err)
			continue
		}

		if _, err := p.IndexFile(ctx, task.UserID, task.UploadID, plan.FlatName, plan.RelPath, data); err != nil {
			log.Errorf("[Processor] 索引文件失败, member: %s, error: %v", plan.RelPath, err)
			continue
		}

		if err := p.fileRepo.Create(&model.IndexedFile{
			UserID:     task.UserID,
			UploadID:   task.UploadID,
			FileName:   plan.FlatName,
			SourcePath: plan.RelPath,
			Size:       int64(len(data)),
		}); err != nil {
			log.Warnf("[Processor] 写入 indexed_file 记录失败, file: %s, error: %v", plan.FlatName, err)
		}

		indexedIDs = append(indexedIDs, plan.FlatName)
		filesDone++
		p.publishProgress(ctx, task.UploadID, model.JobStatusProcessing, filesTotal, filesDone, indexedIDs)
		log.Infof("[Processor] 已索引 %s (%d/%d)", plan.RelPath, filesDone, filesTotal)
	}

	// 4. 终态快照与会话收尾
	p.publishProgress(ctx, task.UploadID, model.JobStatusCompleted, filesTotal, filesDone, indexedIDs)
	if err := p.sessionRepo.UpdateSessionStatus(task.UploadID, model.SessionDone); err != nil {
		log.Warnf("[Processor] 更新会话状态为完成失败, upload_id: %s, error: %v", task.UploadID, err)
	}

	// 5. 清理会话分片与归档，保留进度快照（迟到的轮询仍能拿到终态）
	storage.RemovePrefix(ctx, p.minioCfg.BucketName, fmt.Sprintf("_sessions/%s/", task.UploadID))
	if err := p.sessionRepo.ClearChunkMarks(ctx, task.UploadID); err != nil {
		log.Warnf("[Processor] 清理分片标记失败, upload_id: %s, error: %v", task.UploadID, err)
	}

	log.Infof("[Processor] zip 作业处理完成, upload_id: %s, 成功: %d/%d", task.UploadID, filesDone, filesTotal)
	return nil
}

// IndexFile 对单个文本/代码文件切块、向量化并索引到 Elasticsearch。
// 返回写入的切片数。同时服务于 zip 管道和单文件上传的同步路径。
func (p *Processor) IndexFile(ctx context.Context, userID uint, uploadID, fileName, sourcePath string, data []byte) (int, error) {
	chunks := splitText(string(data), textChunkSize, textChunkOverlap)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("文件内容为空: %s", fileName)
	}

	for i, chunk := range chunks {
		vector, err := p.embeddingClient.CreateEmbedding(ctx, chunk)
		if err != nil {
			return i, fmt.Errorf("切片 %d 向量化失败: %w", i, err)
		}

		doc := model.EsDocument{
			ChunkKey:     fmt.Sprintf("%s::%d", fileName, i),
			UploadID:     uploadID,
			FileName:     fileName,
			SourcePath:   sourcePath,
			ChunkID:      i,
			Content:      chunk,
			Embedding:    vector,
			ModelVersion: p.embeddingCfg.Model,
			UserID:       userID,
		}
		if err := es.IndexDocument(ctx, p.esCfg.IndexName, doc); err != nil {
			return i, fmt.Errorf("索引切片 %d 到 Elasticsearch 失败: %w", i, err)
		}
	}
	return len(chunks), nil
}

// publishProgress 写入进度快照并推送给 WebSocket 订阅者。
func (p *Processor) publishProgress(ctx context.Context, uploadID, status string, filesTotal, filesDone int, indexedIDs []string) {
	progress := model.NewJobProgress(status, filesTotal, filesDone, indexedIDs)
	if err := p.sessionRepo.SaveProgress(ctx, uploadID, progress); err != nil {
		log.Warnf("[Processor] 写入进度快照失败, upload_id: %s, error: %v", uploadID, err)
	}
	p.hub.Broadcast(uploadID, progress)
}

// planMembers 过滤出受支持的成员并生成扁平化名称。
// 目录项跳过；成员总数超限时整个作业失败。
func planMembers(zr *zip.Reader, baseName string, maxFileCount int) ([]memberPlan, error) {
	var members []string
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir() {
			continue
		}
		members = append(members, f.Name)
	}
	if len(members) > maxFileCount {
		return nil, fmt.Errorf("zip 内文件数超过上限 (最多 %d)", maxFileCount)
	}

	var plans []memberPlan
	for _, name := range members {
		relPath := strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")
		ext := strings.ToLower(path.Ext(relPath))
		if _, ok := supportedExtensions[ext]; !ok {
			continue
		}
		plans = append(plans, memberPlan{
			Name:     name,
			RelPath:  relPath,
			FlatName: flattenName(baseName, relPath),
		})
	}
	return plans, nil
}

// flattenName 把 zip 内相对路径压成单层文件名，用作 blob 名和稳定 id。
func flattenName(baseName, relPath string) string {
	return baseName + "__" + strings.ReplaceAll(relPath, "/", "__")
}

// zipBaseName 去掉归档文件名的扩展名。
func zipBaseName(fileName string) string {
	if idx := strings.LastIndex(fileName, "."); idx > 0 {
		return fileName[:idx]
	}
	if fileName == "" {
		return "archive"
	}
	return fileName
}

// readMember 读取单个 zip 成员的全部内容。
func readMember(zr *zip.Reader, name string) ([]byte, error) {
	rc, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// splitText 将长文本按指定大小和重叠进行切分。
func splitText(text string, chunkSize int, chunkOverlap int) []string {
	if chunkSize <= chunkOverlap {
		return simpleSplit(text, chunkSize)
	}

	var chunks []string
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := chunkSize - chunkOverlap
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func simpleSplit(text string, chunkSize int) []string {
	var chunks []string
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
