// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentIngestTask represents the data structure for a permanent-corpus ingestion job.
// ObjectKey 指向 MinIO 中保存的原始文本对象。
type DocumentIngestTask struct {
	FileMD5   string `json:"file_md5"`
	FileName  string `json:"file_name"`
	ObjectKey string `json:"object_key"`
}
