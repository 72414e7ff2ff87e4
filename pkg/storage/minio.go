// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
// 核心语料库的原始文本保存在这里，全量重建时从这里重新读取。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 检查存储桶是否存在，如果不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		if err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// CorpusObjectKey 返回某个永久文档原始文本的对象键。
func CorpusObjectKey(fileMD5 string) string {
	return fmt.Sprintf("corpus/%s.txt", fileMD5)
}

// PutCorpusText 将永久文档的原始文本写入对象存储。
func PutCorpusText(ctx context.Context, bucketName, objectKey, text string) error {
	reader := strings.NewReader(text)
	_, err := MinioClient.PutObject(ctx, bucketName, objectKey, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return fmt.Errorf("写入语料对象失败: %w", err)
	}
	return nil
}

// GetCorpusText 读取某个永久文档的原始文本。
func GetCorpusText(ctx context.Context, bucketName, objectKey string) (string, error) {
	object, err := MinioClient.GetObject(ctx, bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("读取语料对象失败: %w", err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, object); err != nil {
		return "", fmt.Errorf("读取语料对象流失败: %w", err)
	}
	return buf.String(), nil
}

// RemoveCorpusText 删除某个文档的原始文本对象。
func RemoveCorpusText(ctx context.Context, bucketName, objectKey string) error {
	if err := MinioClient.RemoveObject(ctx, bucketName, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除语料对象失败: %w", err)
	}
	return nil
}

// BucketStore 把语料对象操作绑定到配置的存储桶上，
// 供服务层以接口形式依赖，而不是到处传递桶名。
type BucketStore struct {
	bucketName string
}

// NewBucketStore 创建一个绑定到配置存储桶的 BucketStore。
func NewBucketStore(cfg config.MinIOConfig) *BucketStore {
	return &BucketStore{bucketName: cfg.BucketName}
}

// Put 写入一个语料对象。
func (s *BucketStore) Put(ctx context.Context, objectKey, text string) error {
	return PutCorpusText(ctx, s.bucketName, objectKey, text)
}

// Get 读取一个语料对象的文本。
func (s *BucketStore) Get(ctx context.Context, objectKey string) (string, error) {
	return GetCorpusText(ctx, s.bucketName, objectKey)
}

// Remove 删除一个语料对象。
func (s *BucketStore) Remove(ctx context.Context, objectKey string) error {
	return RemoveCorpusText(ctx, s.bucketName, objectKey)
}
