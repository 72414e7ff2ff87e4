package model

import "time"

// 文档归属分区：permanent 为核心语料库，temporary 为会话级临时上传。
const (
	OriginPermanent = "permanent"
	OriginTemporary = "temporary"
)

// 文档处理状态。
const (
	DocStatusPending = "pending"
	DocStatusIndexed = "indexed"
	DocStatusFailed  = "failed"
)

// Document 对应于数据库中的 documents 表，是知识库的文档登记表。
// rebuild 只会从 origin=permanent 的登记记录重建索引。
type Document struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	// MD5 不做唯一约束：临时文档重复上传会产生重复记录（幂等由调用方负责）。
	FileMD5    string    `gorm:"type:varchar(32);not null;index;column:file_md5"`
	FileName   string    `gorm:"type:varchar(255);not null;column:file_name"`
	Origin     string    `gorm:"type:varchar(16);not null;index;column:origin"`
	Status     string    `gorm:"type:varchar(16);not null;default:pending;column:status"`
	PageCount  int       `gorm:"not null;default:0;column:page_count"`
	ChunkCount int       `gorm:"not null;default:0;column:chunk_count"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (Document) TableName() string {
	return "documents"
}

// DocumentChunk 对应于数据库中的 document_chunks 表。
// 入库分两阶段：先把分块文本落库，再读出做向量化并写入 Elasticsearch。
type DocumentChunk struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	FileMD5     string `gorm:"type:varchar(32);not null;index;column:file_md5"`
	ChunkID     int    `gorm:"not null;column:chunk_id"`
	Page        int    `gorm:"not null;column:page"`
	TextContent string `gorm:"type:text;column:text_content"`
	IsTemporary bool   `gorm:"not null;default:false;index;column:is_temporary"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// IngestFile 是入库入口接收的单个文件：文件名加已抽取好的纯文本。
// 页与页之间以换页符（\f）分隔。
type IngestFile struct {
	FileName string
	Text     string
}

// Pages 将原始文本按换页符切分为页（1 起始页码由调用方负责）。
func (f IngestFile) Pages() []string {
	var pages []string
	start := 0
	for i, r := range f.Text {
		if r == '\f' {
			pages = append(pages, f.Text[start:i])
			start = i + 1
		}
	}
	pages = append(pages, f.Text[start:])
	return pages
}
