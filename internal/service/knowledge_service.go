package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"citizen-safety-go/internal/model"
	"citizen-safety-go/internal/repository"
	"citizen-safety-go/pkg/log"
	"citizen-safety-go/pkg/storage"
	"citizen-safety-go/pkg/tasks"
)

// UploadReport 是一次批量上传的处理结果。
type UploadReport struct {
	Message string   `json:"message"`
	Files   []string `json:"files"`
}

// KnowledgeStatus 是知识库状态接口的返回结构。
type KnowledgeStatus struct {
	PermanentChunks    int64 `json:"permanent_chunks"`
	TemporaryChunks    int64 `json:"temporary_chunks"`
	TotalChunks        int64 `json:"total_chunks"`
	PermanentDocuments int   `json:"permanent_documents"`
	TemporaryDocuments int   `json:"temporary_documents"`
}

// KnowledgeService 定义了知识库管理的接口。
type KnowledgeService interface {
	// IngestUploads 处理一批上传文件。permanent=true 走异步队列（需管理员权限），
	// 否则同步入库到临时分区。
	IngestUploads(ctx context.Context, files []model.IngestFile, permanent bool) (*UploadReport, error)
	// Rebuild 清空整个索引并从永久语料重新入库，返回入队的文档数。
	Rebuild(ctx context.Context) (int, error)
	// ClearTemporary 清空临时分区，返回删除的向量记录数。
	ClearTemporary(ctx context.Context) (int64, error)
	// Status 返回两个分区的记录数。
	Status(ctx context.Context) (*KnowledgeStatus, error)
	// SeedFromDir 将目录下的种子语料导入永久分区（按 MD5 幂等）。
	SeedFromDir(ctx context.Context, dir string) error
}

// indexMaintainer 是知识库服务对向量索引维护操作的最小依赖（由 es.Store 实现）。
type indexMaintainer interface {
	Recreate(ctx context.Context) error
	DeleteTemporary(ctx context.Context) (int64, error)
	Counts(ctx context.Context) (permanent, temporary int64, err error)
}

// textIngester 是对入库流水线的最小依赖（由 pipeline.Processor 实现）。
type textIngester interface {
	IngestText(ctx context.Context, fileMD5, fileName, text string, temporary bool) (int, error)
}

// corpusStore 是对语料对象存储的最小依赖（由 storage.BucketStore 实现）。
type corpusStore interface {
	Put(ctx context.Context, objectKey, text string) error
	Remove(ctx context.Context, objectKey string) error
}

type knowledgeService struct {
	// writeMu 串行化所有写操作（上传、清理、重建）之间的业务互斥；
	// 读写一致性由 es.Store 内部的读写锁保证。
	writeMu   sync.Mutex
	index     indexMaintainer
	ingester  textIngester
	docRepo   repository.DocumentRepository
	chunkRepo repository.DocumentChunkRepository
	corpus    corpusStore
	enqueue   func(task tasks.DocumentIngestTask) error
}

// NewKnowledgeService 创建一个新的 KnowledgeService 实例。
// enqueue 通常是 kafka.ProduceIngestTask。
func NewKnowledgeService(
	index indexMaintainer,
	ingester textIngester,
	docRepo repository.DocumentRepository,
	chunkRepo repository.DocumentChunkRepository,
	corpus corpusStore,
	enqueue func(task tasks.DocumentIngestTask) error,
) KnowledgeService {
	return &knowledgeService{
		index:     index,
		ingester:  ingester,
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		corpus:    corpus,
		enqueue:   enqueue,
	}
}

func (s *knowledgeService) IngestUploads(ctx context.Context, files []model.IngestFile, permanent bool) (*UploadReport, error) {
	if permanent {
		return s.ingestPermanent(ctx, files)
	}
	return s.ingestTemporary(ctx, files)
}

// ingestTemporary 同步逐个入库到临时分区。单个文件失败不会中止批次，
// 失败在最后汇总上报。
func (s *knowledgeService) ingestTemporary(ctx context.Context, files []model.IngestFile) (*UploadReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var succeeded []string
	var failures []string
	for _, f := range files {
		fileMD5 := textMD5(f.Text)
		doc := &model.Document{
			FileMD5:   fileMD5,
			FileName:  f.FileName,
			Origin:    model.OriginTemporary,
			Status:    model.DocStatusPending,
			PageCount: len(f.Pages()),
		}
		if err := s.docRepo.Create(doc); err != nil {
			log.Errorf("[Knowledge] 登记临时文档失败, FileName: %s, Error: %v", f.FileName, err)
			failures = append(failures, fmt.Sprintf("%s: %v", f.FileName, err))
			continue
		}
		count, err := s.ingester.IngestText(ctx, fileMD5, f.FileName, f.Text, true)
		if err != nil {
			_ = s.docRepo.UpdateStatus(fileMD5, model.DocStatusFailed, 0)
			log.Errorf("[Knowledge] 临时文档入库失败, FileName: %s, Error: %v", f.FileName, err)
			failures = append(failures, fmt.Sprintf("%s: %v", f.FileName, err))
			continue
		}
		_ = s.docRepo.UpdateStatus(fileMD5, model.DocStatusIndexed, count)
		succeeded = append(succeeded, f.FileName)
	}

	report := &UploadReport{
		Message: fmt.Sprintf("%d 个文件已入库到临时分区", len(succeeded)),
		Files:   succeeded,
	}
	if len(failures) > 0 {
		return report, fmt.Errorf("%d/%d 个文件入库失败: %s", len(failures), len(files), strings.Join(failures, "; "))
	}
	return report, nil
}

// ingestPermanent 把原始文本写入对象存储并登记，然后投递异步入库任务。
// 同一份内容（MD5 相同）的永久文档不会重复入队。
func (s *knowledgeService) ingestPermanent(ctx context.Context, files []model.IngestFile) (*UploadReport, error) {
	var queued []string
	var failures []string
	for _, f := range files {
		fileMD5 := textMD5(f.Text)
		existing, err := s.docRepo.FindByMD5(fileMD5)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", f.FileName, err))
			continue
		}
		if existing != nil && existing.Origin == model.OriginPermanent {
			log.Infof("[Knowledge] 永久文档已存在, 跳过: %s (md5=%s)", f.FileName, fileMD5)
			continue
		}

		objectKey := storage.CorpusObjectKey(fileMD5)
		if err := s.corpus.Put(ctx, objectKey, f.Text); err != nil {
			log.Errorf("[Knowledge] 写入语料对象失败, FileName: %s, Error: %v", f.FileName, err)
			failures = append(failures, fmt.Sprintf("%s: %v", f.FileName, err))
			continue
		}
		doc := &model.Document{
			FileMD5:   fileMD5,
			FileName:  f.FileName,
			Origin:    model.OriginPermanent,
			Status:    model.DocStatusPending,
			PageCount: len(f.Pages()),
		}
		if err := s.docRepo.Create(doc); err != nil {
			// 登记失败时回收刚写入的对象，避免留下无主语料
			if rmErr := s.corpus.Remove(ctx, objectKey); rmErr != nil {
				log.Warnf("[Knowledge] 回收语料对象失败, Object: %s, Error: %v", objectKey, rmErr)
			}
			failures = append(failures, fmt.Sprintf("%s: %v", f.FileName, err))
			continue
		}
		task := tasks.DocumentIngestTask{FileMD5: fileMD5, FileName: f.FileName, ObjectKey: objectKey}
		if err := s.enqueue(task); err != nil {
			_ = s.docRepo.UpdateStatus(fileMD5, model.DocStatusFailed, 0)
			log.Errorf("[Knowledge] 投递入库任务失败, FileName: %s, Error: %v", f.FileName, err)
			failures = append(failures, fmt.Sprintf("%s: %v", f.FileName, err))
			continue
		}
		queued = append(queued, f.FileName)
	}

	report := &UploadReport{
		Message: fmt.Sprintf("%d 个文件已进入异步入库队列", len(queued)),
		Files:   queued,
	}
	if len(failures) > 0 {
		return report, fmt.Errorf("%d/%d 个文件处理失败: %s", len(failures), len(files), strings.Join(failures, "; "))
	}
	return report, nil
}

// Rebuild 清空索引后从永久文档登记重新投递入库任务。
// 临时上传在重建中被整体丢弃。索引清空在写锁内原子完成，
// 重新灌入是异步的，期间的查询可能命中部分重建的索引。
func (s *knowledgeService) Rebuild(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	docs, err := s.docRepo.FindByOrigin(model.OriginPermanent)
	if err != nil {
		return 0, fmt.Errorf("查询永久文档登记失败: %w", err)
	}

	log.Infof("[Knowledge] 开始全量重建, 永久文档数: %d", len(docs))
	if err := s.index.Recreate(ctx); err != nil {
		return 0, fmt.Errorf("重建向量索引失败: %w", err)
	}
	if err := s.chunkRepo.DeleteTemporary(); err != nil {
		log.Warnf("[Knowledge] 清理临时分块记录失败: %v", err)
	}
	if err := s.docRepo.DeleteTemporary(); err != nil {
		log.Warnf("[Knowledge] 清理临时文档登记失败: %v", err)
	}

	enqueued := 0
	for _, doc := range docs {
		if err := s.docRepo.UpdateStatus(doc.FileMD5, model.DocStatusPending, 0); err != nil {
			log.Warnf("[Knowledge] 重置文档状态失败 (file_md5=%s): %v", doc.FileMD5, err)
		}
		task := tasks.DocumentIngestTask{
			FileMD5:   doc.FileMD5,
			FileName:  doc.FileName,
			ObjectKey: storage.CorpusObjectKey(doc.FileMD5),
		}
		if err := s.enqueue(task); err != nil {
			log.Errorf("[Knowledge] 重建任务投递失败 (file_md5=%s): %v", doc.FileMD5, err)
			continue
		}
		enqueued++
	}
	log.Infof("[Knowledge] 全量重建已触发, %d/%d 个文档入队", enqueued, len(docs))
	return enqueued, nil
}

// ClearTemporary 精确清空临时分区。永久分区的记录不受任何影响。
func (s *knowledgeService) ClearTemporary(ctx context.Context) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deleted, err := s.index.DeleteTemporary(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.chunkRepo.DeleteTemporary(); err != nil {
		log.Warnf("[Knowledge] 清理临时分块记录失败: %v", err)
	}
	if err := s.docRepo.DeleteTemporary(); err != nil {
		log.Warnf("[Knowledge] 清理临时文档登记失败: %v", err)
	}
	log.Infof("[Knowledge] 临时分区已清空, 删除向量记录 %d 条", deleted)
	return deleted, nil
}

func (s *knowledgeService) Status(ctx context.Context) (*KnowledgeStatus, error) {
	permanent, temporary, err := s.index.Counts(ctx)
	if err != nil {
		return nil, err
	}
	permDocs, err := s.docRepo.FindByOrigin(model.OriginPermanent)
	if err != nil {
		return nil, err
	}
	tempDocs, err := s.docRepo.FindByOrigin(model.OriginTemporary)
	if err != nil {
		return nil, err
	}
	return &KnowledgeStatus{
		PermanentChunks:    permanent,
		TemporaryChunks:    temporary,
		TotalChunks:        permanent + temporary,
		PermanentDocuments: len(permDocs),
		TemporaryDocuments: len(tempDocs),
	}, nil
}

// SeedFromDir 读取目录下的 .txt 种子文件并导入永久分区。
// 已按相同内容登记过的文件会被跳过，服务重启不会重复入库。
func (s *knowledgeService) SeedFromDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("读取种子语料目录失败: %w", err)
	}

	var files []model.IngestFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Warnf("[Knowledge] 读取种子文件失败, 跳过: %s, Error: %v", entry.Name(), err)
			continue
		}
		files = append(files, model.IngestFile{FileName: entry.Name(), Text: string(data)})
	}
	if len(files) == 0 {
		log.Infof("[Knowledge] 种子语料目录为空: %s", dir)
		return nil
	}

	report, err := s.ingestPermanent(ctx, files)
	if err != nil {
		return err
	}
	log.Infof("[Knowledge] 种子语料导入: %s", report.Message)
	return nil
}

func textMD5(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
