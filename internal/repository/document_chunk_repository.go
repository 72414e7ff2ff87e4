package repository

import (
	"citizen-safety-go/internal/model"

	"gorm.io/gorm"
)

// DocumentChunkRepository 定义了对 document_chunks 表的数据操作接口。
type DocumentChunkRepository interface {
	BatchCreate(chunks []*model.DocumentChunk) error
	DeleteByFileMD5(fileMD5 string) error
	DeleteTemporary() error
}

type documentChunkRepository struct {
	db *gorm.DB
}

// NewDocumentChunkRepository 创建一个新的 DocumentChunkRepository 实例。
func NewDocumentChunkRepository(db *gorm.DB) DocumentChunkRepository {
	return &documentChunkRepository{db: db}
}

// BatchCreate 批量创建分块记录。
func (r *documentChunkRepository) BatchCreate(chunks []*model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.CreateInBatches(chunks, 100).Error // 每100条记录一批
}

// DeleteByFileMD5 根据文件 MD5 删除所有分块记录。
func (r *documentChunkRepository) DeleteByFileMD5(fileMD5 string) error {
	return r.db.Where("file_md5 = ?", fileMD5).Delete(&model.DocumentChunk{}).Error
}

// DeleteTemporary 删除全部临时分块记录。
func (r *documentChunkRepository) DeleteTemporary() error {
	return r.db.Where("is_temporary = ?", true).Delete(&model.DocumentChunk{}).Error
}
