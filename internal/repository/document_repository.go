package repository

import (
	"citizen-safety-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 定义了对 documents 登记表的数据操作接口。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByMD5(fileMD5 string) (*model.Document, error)
	FindByOrigin(origin string) ([]*model.Document, error)
	UpdateStatus(fileMD5, status string, chunkCount int) error
	DeleteTemporary() error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 登记一个新文档。
func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// FindByMD5 根据文件 MD5 查找登记记录；未找到时返回 (nil, nil)。
func (r *documentRepository) FindByMD5(fileMD5 string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("file_md5 = ?", fileMD5).First(&doc).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByOrigin 返回指定分区的全部登记文档。rebuild 用它拿到永久文档集合。
func (r *documentRepository) FindByOrigin(origin string) ([]*model.Document, error) {
	var docs []*model.Document
	err := r.db.Where("origin = ?", origin).Find(&docs).Error
	return docs, err
}

// UpdateStatus 更新文档处理状态与分块数。
func (r *documentRepository) UpdateStatus(fileMD5, status string, chunkCount int) error {
	return r.db.Model(&model.Document{}).
		Where("file_md5 = ?", fileMD5).
		Updates(map[string]interface{}{"status": status, "chunk_count": chunkCount}).Error
}

// DeleteTemporary 删除全部临时文档登记；永久登记不受影响。
func (r *documentRepository) DeleteTemporary() error {
	return r.db.Where("origin = ?", model.OriginTemporary).Delete(&model.Document{}).Error
}
