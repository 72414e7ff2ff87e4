package service

import (
	"context"
	"math"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/internal/model"
	"citizen-safety-go/pkg/embedding"
	"citizen-safety-go/pkg/log"
)

// Retriever 定义了向量检索服务的接口。
// 检索失败按降级处理：返回空列表而不是错误，让问答链路继续走无引用分支。
type Retriever interface {
	Retrieve(ctx context.Context, maskedQuery string, k, fetchK int) []model.RetrievedPassage
}

// vectorSearcher 是检索服务对向量索引的最小依赖（由 es.Store 实现）。
type vectorSearcher interface {
	Search(ctx context.Context, queryVector []float32, k int) ([]model.ScoredRecord, error)
}

type retrievalService struct {
	embeddingClient embedding.Client
	searcher        vectorSearcher
	cfg             config.RetrievalConfig
}

// NewRetrievalService 创建一个新的 Retriever 实例。
func NewRetrievalService(embeddingClient embedding.Client, searcher vectorSearcher, cfg config.RetrievalConfig) Retriever {
	return &retrievalService{
		embeddingClient: embeddingClient,
		searcher:        searcher,
		cfg:             cfg,
	}
}

// Retrieve 对脱敏后的问题执行向量检索。
// 先召回 fetchK 条候选，再按配置模式（similarity/mmr）选出 k 条。
// 候选中的距离定义为 cosine 距离 d = 2*(1-score)，越小越相关。
func (s *retrievalService) Retrieve(ctx context.Context, maskedQuery string, k, fetchK int) []model.RetrievedPassage {
	if k <= 0 {
		k = 3
	}
	if fetchK < k {
		fetchK = k * 4
	}

	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, maskedQuery)
	if err != nil {
		// embedding 不可用时检索降级为空结果
		log.Warnf("[Retrieval] 查询向量化失败, 检索降级为空结果: %v", err)
		return []model.RetrievedPassage{}
	}

	scored, err := s.searcher.Search(ctx, queryVector, fetchK)
	if err != nil {
		log.Warnf("[Retrieval] 向量检索失败, 检索降级为空结果: %v", err)
		return []model.RetrievedPassage{}
	}
	if len(scored) == 0 {
		return []model.RetrievedPassage{}
	}

	var selected []model.ScoredRecord
	if s.cfg.Mode == "mmr" {
		selected = mmrSelect(queryVector, scored, k, s.cfg.MMRLambda)
	} else {
		if len(scored) > k {
			scored = scored[:k]
		}
		selected = scored
	}

	passages := make([]model.RetrievedPassage, 0, len(selected))
	for i, sr := range selected {
		passages = append(passages, model.RetrievedPassage{
			Record:   sr.Record,
			Distance: DistanceFromScore(sr.Score),
			Rank:     i + 1,
		})
	}
	return passages
}

// DistanceFromScore 把 Elasticsearch cosine kNN 得分（(1+cos)/2）折算为
// cosine 距离 1-cos，取值范围 [0,2]。
func DistanceFromScore(score float64) float64 {
	return 2 * (1 - score)
}

// ConfidenceFromDistance 把最优距离映射为 [0,100] 的置信度。
func ConfidenceFromDistance(d float64) float64 {
	c := (2 - d) / 2 * 100
	return math.Max(0, math.Min(100, c))
}

// mmrSelect 执行最大边际相关性选择：在与问题的相关性和结果之间的
// 多样性之间按 lambda 加权，贪心选出 k 条。
// lambda=1 退化为纯相关性排序，lambda=0 只看多样性。
func mmrSelect(queryVector []float32, candidates []model.ScoredRecord, k int, lambda float64) []model.ScoredRecord {
	if lambda <= 0 || lambda > 1 {
		lambda = 0.5
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	remaining := make([]int, len(candidates))
	for i := range candidates {
		remaining[i] = i
	}
	querySim := make([]float64, len(candidates))
	for i, c := range candidates {
		querySim[i] = cosineSimilarity(queryVector, c.Record.Vector)
	}

	var selected []model.ScoredRecord
	var selectedIdx []int
	for len(selected) < k && len(remaining) > 0 {
		bestPos, bestScore := -1, math.Inf(-1)
		for pos, ci := range remaining {
			// 与已选结果的最大相似度作为冗余度
			redundancy := 0.0
			for _, si := range selectedIdx {
				sim := cosineSimilarity(candidates[ci].Record.Vector, candidates[si].Record.Vector)
				if sim > redundancy {
					redundancy = sim
				}
			}
			mmr := lambda*querySim[ci] - (1-lambda)*redundancy
			if mmr > bestScore {
				bestScore = mmr
				bestPos = pos
			}
		}
		ci := remaining[bestPos]
		selected = append(selected, candidates[ci])
		selectedIdx = append(selectedIdx, ci)
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}
	return selected
}

// cosineSimilarity 计算两个向量的余弦相似度。维度不一致或零向量返回 0。
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
