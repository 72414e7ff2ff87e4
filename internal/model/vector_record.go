package model

// VectorRecord 是写入 Elasticsearch 的向量记录，对应索引的 mapping 结构。
// 记录在入库时创建，之后不可变；只有全量重建或临时分区清理会删除它。
type VectorRecord struct {
	VectorID     string    `json:"vector_id"`
	FileMD5      string    `json:"file_md5"`
	FileName     string    `json:"file_name"`
	ChunkID      int       `json:"chunk_id"`
	Page         int       `json:"page"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
	IsTemporary  bool      `json:"is_temporary"`
}

// ScoredRecord 是一次 kNN 检索命中的记录及其 Elasticsearch 评分。
type ScoredRecord struct {
	Record VectorRecord
	Score  float64
}
