// Package ner 提供了一个与命名实体识别（NER）分析服务交互的客户端。
// 服务端暴露 Presidio analyzer 风格的 HTTP 接口。
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/internal/model"
)

// Client 是 NER 分析服务的客户端。
type Client struct {
	analyzerURL string
	language    string
	client      *http.Client
}

// NewClient 创建一个新的 NER 客户端实例。
func NewClient(cfg config.MaskingConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	return &Client{
		analyzerURL: cfg.AnalyzerURL,
		language:    language,
		client:      &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	Text     string   `json:"text"`
	Language string   `json:"language"`
	Entities []string `json:"entities,omitempty"`
}

type analyzeResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// Analyze 请求分析服务识别文本中的命名实体（人名、地名等）。
// 返回的偏移是原始文本中的字符偏移。
func (c *Client) Analyze(ctx context.Context, text string) ([]model.PIIEntity, error) {
	reqBody := analyzeRequest{
		Text:     text,
		Language: c.language,
		Entities: []string{"PERSON", "LOCATION", "GPE"},
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化分析请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.analyzerURL+"/analyze", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("创建分析请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 NER 分析服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("NER 分析服务返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	var results []analyzeResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("解析 NER 响应失败: %w", err)
	}

	entities := make([]model.PIIEntity, 0, len(results))
	for _, r := range results {
		entities = append(entities, model.PIIEntity{
			Type:  r.EntityType,
			Score: r.Score,
			Start: r.Start,
			End:   r.End,
		})
	}
	return entities, nil
}
