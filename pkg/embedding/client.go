// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/pkg/log"

	"github.com/cenkalti/backoff/v4"
)

// ErrUnavailable 表示重试耗尽后 embedding 服务仍不可用。
// 入库路径视其为致命错误（该文档被拒绝）；查询路径可降级为空检索。
var ErrUnavailable = errors.New("embedding service unavailable")

// Client defines the interface for an embedding client.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
	// initialInterval 是重试退避的起始间隔，测试中可调小。
	initialInterval time.Duration
}

// NewClient creates a new embedding client based on the config.
func NewClient(cfg config.EmbeddingConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &openAICompatibleClient{
		cfg:             cfg,
		client:          &http.Client{Timeout: timeout},
		initialInterval: 500 * time.Millisecond,
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// CreateEmbedding calls the OpenAI-compatible API to get the vector for a given text.
func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// CreateEmbeddings 批量向量化。批次会按 max_batch_size 自动拆分为子批次，
// 每个子批次独立做有界的指数退避重试。
func (c *openAICompatibleClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batchSize := c.cfg.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batchVectors, err := c.embedBatchWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batchVectors...)
	}
	return vectors, nil
}

// embedBatchWithRetry 对单个子批次做退避重试。瞬时失败（网络错误、429、5xx）
// 重试；其余状态码视为不可恢复。两种情况最终都归为 ErrUnavailable。
func (c *openAICompatibleClient) embedBatchWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var result [][]float32

	operation := func() error {
		vectors, err := c.embedBatch(ctx, batch)
		if err != nil {
			return err
		}
		result = vectors
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.initialInterval
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(maxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		log.Errorf("[EmbeddingClient] 重试耗尽, batch_size: %d, error: %v", len(batch), err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result, nil
}

func (c *openAICompatibleClient) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	log.Infof("[EmbeddingClient] 调用 Embedding API, model: %s, batch_size: %d", c.cfg.Model, len(batch))
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      batch,
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to marshal embedding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create embedding request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		// 网络错误按瞬时失败处理
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("embedding api returned non-200 status: %s", resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(embeddingResp.Data) != len(batch) {
		return nil, backoff.Permanent(fmt.Errorf("embedding api returned %d vectors for %d inputs", len(embeddingResp.Data), len(batch)))
	}

	vectors := make([][]float32, 0, len(batch))
	for _, d := range embeddingResp.Data {
		if len(d.Embedding) == 0 {
			return nil, backoff.Permanent(errors.New("received empty embedding from api"))
		}
		vectors = append(vectors, d.Embedding)
	}
	return vectors, nil
}
