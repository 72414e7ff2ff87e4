package embedding

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"time"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// cachedClient 是 Client 的 Redis 缓存装饰器。
// 同一条文本（主要是重复查询）命中缓存后不再访问 embedding 服务。
// Redis 异常时只记日志并直接透传到内层客户端，缓存从不成为故障点。
type cachedClient struct {
	inner Client
	rdb   *redis.Client
	model string
	ttl   time.Duration
}

// NewCachedClient 包装一个 Client，加上 Redis 向量缓存。
func NewCachedClient(inner Client, rdb *redis.Client, cfg config.EmbeddingConfig) Client {
	ttl := time.Duration(cfg.CacheTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &cachedClient{inner: inner, rdb: rdb, model: cfg.Model, ttl: ttl}
}

func (c *cachedClient) cacheKey(text string) string {
	sum := sha1.Sum([]byte(c.model + "|" + text))
	return "embedding:" + hex.EncodeToString(sum[:])
}

func (c *cachedClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.get(ctx, text); ok {
		return vec, nil
	}
	vec, err := c.inner.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(ctx, text, vec)
	return vec, nil
}

func (c *cachedClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	missTexts := make([]string, 0, len(texts))
	missIdx := make([]int, 0, len(texts))
	for i, t := range texts {
		if vec, ok := c.get(ctx, t); ok {
			vectors[i] = vec
		} else {
			missTexts = append(missTexts, t)
			missIdx = append(missIdx, i)
		}
	}
	if len(missTexts) == 0 {
		return vectors, nil
	}

	fetched, err := c.inner.CreateEmbeddings(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range fetched {
		vectors[missIdx[j]] = vec
		c.put(ctx, missTexts[j], vec)
	}
	return vectors, nil
}

func (c *cachedClient) get(ctx context.Context, text string) ([]float32, bool) {
	raw, err := c.rdb.Get(ctx, c.cacheKey(text)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warnf("[EmbeddingCache] 读取缓存失败: %v", err)
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		log.Warnf("[EmbeddingCache] 缓存内容损坏, key=%s: %v", c.cacheKey(text), err)
		return nil, false
	}
	return vec, true
}

func (c *cachedClient) put(ctx context.Context, text string, vec []float32) {
	b, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.cacheKey(text), b, c.ttl).Err(); err != nil {
		log.Warnf("[EmbeddingCache] 写入缓存失败: %v", err)
	}
}
