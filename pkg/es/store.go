// Package es 提供了基于 Elasticsearch 的向量索引存储。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/internal/model"
	"citizen-safety-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Store 封装了向量索引的全部读写操作。
// 索引在逻辑上分为永久分区（is_temporary=false）与临时分区（is_temporary=true）。
// 读写一致性：Search 持读锁；所有变更操作持写锁，保证读取方不会观察到
// 删除进行到一半的状态。写操作相互之间的业务级互斥由上层 service 负责。
type Store struct {
	client    *elasticsearch.Client
	indexName string
	dims      int
	mu        sync.RWMutex
}

// NewStore 创建 Store 并确保索引存在。
func NewStore(esCfg config.ElasticsearchConfig, dims int) (*Store, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{client: client, indexName: esCfg.IndexName, dims: dims}
	if err := s.createIndexIfNotExists(); err != nil {
		return nil, err
	}
	return s, nil
}

// mapping 中向量维度由 embedding 服务决定，相似度固定为 cosine。
func (s *Store) indexMapping() string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"file_md5": { "type": "keyword" },
				"file_name": { "type": "keyword" },
				"chunk_id": { "type": "integer" },
				"page": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" },
				"is_temporary": { "type": "boolean" }
			}
		}
	}`, s.dims)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它。
func (s *Store) createIndexIfNotExists() error {
	res, err := s.client.Indices.Exists([]string{s.indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", s.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}
	return s.createIndex()
}

func (s *Store) createIndex() error {
	res, err := s.client.Indices.Create(
		s.indexName,
		s.client.Indices.Create.WithBody(strings.NewReader(s.indexMapping())),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", s.indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}
	log.Infof("索引 '%s' 创建成功", s.indexName)
	return nil
}

// Recreate 删除并重建整个索引，两个分区的所有记录被清空。
// 只有全量重建（rebuild）走这条路径。
func (s *Store) Recreate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.client.Indices.Delete(
		[]string{s.indexName},
		s.client.Indices.Delete.WithContext(ctx),
		s.client.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return fmt.Errorf("删除索引失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("删除索引时 Elasticsearch 返回错误: %s", res.String())
	}
	log.Infof("[VectorStore] 索引 '%s' 已清空，开始重建", s.indexName)
	return s.createIndex()
}

// BulkIndex 将一组向量记录以单次 bulk 请求写入索引。
// 一个文档的全部记录作为一次写入临界区，避免读取方看到半个文档。
func (s *Store) BulkIndex(ctx context.Context, records []model.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	for _, rec := range records {
		meta := fmt.Sprintf(`{"index":{"_index":%q,"_id":%q}}`, s.indexName, rec.VectorID)
		buf.WriteString(meta)
		buf.WriteByte('\n')
		docBytes, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("序列化向量记录失败: %w", err)
		}
		buf.Write(docBytes)
		buf.WriteByte('\n')
	}

	req := esapi.BulkRequest{
		Body:    bytes.NewReader(buf.Bytes()),
		Refresh: "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("bulk 写入失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("bulk 写入 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to bulk index records")
	}

	// bulk 整体 200 时仍可能有单条失败，逐条检查
	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err == nil && bulkResp.Errors {
		return errors.New("bulk 响应中包含失败条目")
	}
	return nil
}

// DeleteTemporary 以一次 delete_by_query 删除临时分区的全部记录。
// 永久分区在结构上不受影响；操作在写锁内完成，对读取方原子。
func (s *Store) DeleteTemporary(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `{"query":{"term":{"is_temporary":true}}}`
	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:     []string{s.indexName},
		Body:      strings.NewReader(query),
		Refresh:   &refresh,
		Conflicts: "proceed",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return 0, fmt.Errorf("delete_by_query 失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("清理临时分区时 Elasticsearch 返回错误: %s", res.String())
	}

	var delResp struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&delResp); err != nil {
		return 0, fmt.Errorf("解析 delete_by_query 响应失败: %w", err)
	}
	return delResp.Deleted, nil
}

// Search 在两个分区上执行 kNN 检索，返回按相似度降序的前 k 条记录。
// _source 中带回存储的向量，供上层做 MMR 重排。
func (s *Store) Search(ctx context.Context, queryVector []float32, k int) ([]model.ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              k,
			"num_candidates": k * 10,
		},
		"size": k,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.String())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.VectorRecord `json:"_source"`
				Score  float64            `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]model.ScoredRecord, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.ScoredRecord{Record: hit.Source, Score: hit.Score})
	}
	return results, nil
}

// Counts 返回两个分区各自的记录数，供状态接口使用。
func (s *Store) Counts(ctx context.Context) (permanent, temporary int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	permanent, err = s.countByPartition(ctx, false)
	if err != nil {
		return 0, 0, err
	}
	temporary, err = s.countByPartition(ctx, true)
	if err != nil {
		return 0, 0, err
	}
	return permanent, temporary, nil
}

func (s *Store) countByPartition(ctx context.Context, temporary bool) (int64, error) {
	query := fmt.Sprintf(`{"query":{"term":{"is_temporary":%t}}}`, temporary)
	res, err := s.client.Count(
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(s.indexName),
		s.client.Count.WithBody(strings.NewReader(query)),
	)
	if err != nil {
		return 0, fmt.Errorf("count 请求失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("count 请求返回错误: %s", res.String())
	}

	var countResp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&countResp); err != nil {
		return 0, fmt.Errorf("解析 count 响应失败: %w", err)
	}
	return countResp.Count, nil
}
