// Package pipeline 定义了文档入库处理的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/internal/model"
	"citizen-safety-go/internal/repository"
	"citizen-safety-go/pkg/embedding"
	"citizen-safety-go/pkg/log"
	"citizen-safety-go/pkg/tasks"
)

// recordIndexer 是入库流水线对向量索引写入的最小依赖（由 es.Store 实现）。
type recordIndexer interface {
	BulkIndex(ctx context.Context, records []model.VectorRecord) error
}

// corpusGetter 读取永久语料的原始文本（由 storage.BucketStore 实现）。
type corpusGetter interface {
	Get(ctx context.Context, objectKey string) (string, error)
}

// ErrEmptyDocument 表示源文档为空或没有可用文本（IngestionError）。
// 批量入库时该文档被拒绝，批次中的其余文档继续处理。
var ErrEmptyDocument = errors.New("document contains no text")

// Processor 封装了文档入库的所有依赖和逻辑。
// 入库分两阶段：先把分块文本落库（MySQL），再读出做向量化并写入向量索引。
type Processor struct {
	embeddingClient embedding.Client
	store           recordIndexer
	corpus          corpusGetter
	embeddingCfg    config.EmbeddingConfig
	chunkingCfg     config.ChunkingConfig
	docRepo         repository.DocumentRepository
	chunkRepo       repository.DocumentChunkRepository
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	embeddingClient embedding.Client,
	store recordIndexer,
	corpus corpusGetter,
	embeddingCfg config.EmbeddingConfig,
	chunkingCfg config.ChunkingConfig,
	docRepo repository.DocumentRepository,
	chunkRepo repository.DocumentChunkRepository,
) *Processor {
	return &Processor{
		embeddingClient: embeddingClient,
		store:           store,
		corpus:          corpus,
		embeddingCfg:    embeddingCfg,
		chunkingCfg:     chunkingCfg,
		docRepo:         docRepo,
		chunkRepo:       chunkRepo,
	}
}

// Process 处理一个来自 Kafka 的永久语料入库任务。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentIngestTask) error {
	log.Infof("[Processor] 开始处理永久文档, FileMD5: %s, FileName: %s", task.FileMD5, task.FileName)

	// 1. 从对象存储读取原始文本
	log.Infof("[Processor] 步骤1: 从对象存储读取原始文本, Object: %s", task.ObjectKey)
	text, err := p.corpus.Get(ctx, task.ObjectKey)
	if err != nil {
		log.Errorf("[Processor] 读取语料文本失败, Object: %s, Error: %v", task.ObjectKey, err)
		return fmt.Errorf("读取语料文本失败: %w", err)
	}

	// 2. 入库（永久分区）
	chunkCount, err := p.IngestText(ctx, task.FileMD5, task.FileName, text, false)
	if err != nil {
		_ = p.docRepo.UpdateStatus(task.FileMD5, model.DocStatusFailed, 0)
		return err
	}
	if err := p.docRepo.UpdateStatus(task.FileMD5, model.DocStatusIndexed, chunkCount); err != nil {
		log.Warnf("[Processor] 更新文档状态失败 (file_md5=%s): %v", task.FileMD5, err)
	}
	log.Infof("[Processor] 永久文档处理成功完成, FileMD5: %s, 分块数: %d", task.FileMD5, chunkCount)
	return nil
}

// IngestText 对一篇文档执行分块、向量化与索引写入，返回写入的分块数。
// temporary=true 时记录写入临时分区，重复调用会产生重复记录（不保证幂等）。
func (p *Processor) IngestText(ctx context.Context, fileMD5, fileName, text string, temporary bool) (int, error) {
	if strings.TrimSpace(text) == "" {
		log.Warnf("[Processor] 文档 '%s' 内容为空, 处理中止", fileName)
		return 0, ErrEmptyDocument
	}
	log.Infof("[Processor] 文本读取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	// 1. 按页切分后逐页分块；分块永远不会跨页或跨文档
	chunkSize := p.chunkingCfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	overlap := p.chunkingCfg.ChunkOverlap
	if temporary && p.chunkingCfg.TempOverlap > 0 {
		overlap = p.chunkingCfg.TempOverlap
	}
	log.Infof("[Processor] 步骤2: 进行文本分块, chunkSize: %d, chunkOverlap: %d", chunkSize, overlap)

	pages := (model.IngestFile{FileName: fileName, Text: text}).Pages()
	type pagedChunk struct {
		page int
		text string
	}
	var paged []pagedChunk
	for pageIdx, pageText := range pages {
		for _, chunk := range SplitText(pageText, chunkSize, overlap) {
			paged = append(paged, pagedChunk{page: pageIdx + 1, text: chunk})
		}
	}
	if len(paged) == 0 {
		log.Warnf("[Processor] 未生成任何文本分块, 处理中止, FileName: %s", fileName)
		return 0, ErrEmptyDocument
	}
	log.Infof("[Processor] 步骤2: 文本分块完成, 共生成 %d 个分块", len(paged))

	// 阶段一：将分块文本和元数据存入数据库
	log.Info("[Processor] 阶段一: 开始将分块文本存入数据库")
	if !temporary {
		// 永久路径（重建/Kafka 重试）先清理该文件既有分块，保证重复处理不膨胀
		if err := p.chunkRepo.DeleteByFileMD5(fileMD5); err != nil {
			log.Warnf("[Processor] 清理 document_chunks 旧记录失败 (file_md5=%s): %v", fileMD5, err)
		}
	}
	dbChunks := make([]*model.DocumentChunk, 0, len(paged))
	for i, pc := range paged {
		dbChunks = append(dbChunks, &model.DocumentChunk{
			FileMD5:     fileMD5,
			ChunkID:     i,
			Page:        pc.page,
			TextContent: pc.text,
			IsTemporary: temporary,
		})
	}
	if err := p.chunkRepo.BatchCreate(dbChunks); err != nil {
		log.Errorf("[Processor] 阶段一: 批量保存文本分块到数据库失败, Error: %v", err)
		return 0, fmt.Errorf("批量保存文本分块失败: %w", err)
	}
	log.Infof("[Processor] 阶段一: 成功将 %d 个分块存入数据库", len(dbChunks))

	// 阶段二：批量向量化，然后一次 bulk 写入向量索引
	log.Info("[Processor] 阶段二: 开始批量向量化")
	texts := make([]string, 0, len(paged))
	for _, pc := range paged {
		texts = append(texts, pc.text)
	}
	vectors, err := p.embeddingClient.CreateEmbeddings(ctx, texts)
	if err != nil {
		// embedding 服务重试耗尽对入库是致命错误，该文档被拒绝
		log.Errorf("[Processor] 批量向量化失败, FileName: %s, Error: %v", fileName, err)
		return 0, fmt.Errorf("批量向量化失败: %w", err)
	}

	idSuffix := ""
	if temporary {
		// 临时记录的 vector_id 带时间戳后缀，重复上传产生新记录而非覆盖
		idSuffix = fmt.Sprintf("_%d", time.Now().UnixNano())
	}
	records := make([]model.VectorRecord, 0, len(paged))
	for i, pc := range paged {
		records = append(records, model.VectorRecord{
			VectorID:     fmt.Sprintf("%s%s_%d", fileMD5, idSuffix, i),
			FileMD5:      fileMD5,
			FileName:     fileName,
			ChunkID:      i,
			Page:         pc.page,
			TextContent:  pc.text,
			Vector:       vectors[i],
			ModelVersion: p.embeddingCfg.Model,
			IsTemporary:  temporary,
		})
	}
	if err := p.store.BulkIndex(ctx, records); err != nil {
		log.Errorf("[Processor] 写入向量索引失败, FileName: %s, Error: %v", fileName, err)
		return 0, fmt.Errorf("写入向量索引失败: %w", err)
	}
	log.Infof("[Processor] 阶段二: %d 个分块已向量化并写入索引", len(records))

	return len(records), nil
}
