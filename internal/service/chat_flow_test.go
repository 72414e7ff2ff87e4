package service

// 组合真实组件的链路测试：真实的分块/入库流水线、脱敏、检索、生成编排，
// 只有外部依赖（NER、embedding、向量索引、LLM、登记表）用确定性替身。

import (
	"context"
	"sort"
	"strings"
	"testing"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/internal/model"
	"citizen-safety-go/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder 是确定性的词袋向量器，并记录所有收到的文本。
type keywordEmbedder struct {
	vocab  []string
	inputs []string
}

func (e *keywordEmbedder) embed(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, len(e.vocab)+1)
	for i, w := range e.vocab {
		vec[i] = float32(strings.Count(lower, w))
	}
	// 常数分量避免零向量
	vec[len(e.vocab)] = 0.1
	return vec
}

func (e *keywordEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	e.inputs = append(e.inputs, text)
	return e.embed(text), nil
}

func (e *keywordEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		e.inputs = append(e.inputs, t)
		out = append(out, e.embed(t))
	}
	return out, nil
}

// memoryVectorIndex 以内存切片模拟向量索引：接收 bulk 写入，
// 按余弦相似度返回检索结果，评分与 Elasticsearch cosine kNN 同一刻度 (1+cos)/2。
type memoryVectorIndex struct {
	records []model.VectorRecord
}

func (m *memoryVectorIndex) BulkIndex(ctx context.Context, records []model.VectorRecord) error {
	m.records = append(m.records, records...)
	return nil
}

func (m *memoryVectorIndex) Search(ctx context.Context, queryVector []float32, k int) ([]model.ScoredRecord, error) {
	scored := make([]model.ScoredRecord, 0, len(m.records))
	for _, rec := range m.records {
		cos := cosineSimilarity(queryVector, rec.Vector)
		scored = append(scored, model.ScoredRecord{Record: rec, Score: (1 + cos) / 2})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

type chatFlow struct {
	embedder *keywordEmbedder
	index    *memoryVectorIndex
	llm      *fakeLLM
	chat     ChatService
	ingest   *pipeline.Processor
}

func newChatFlow(answer string) *chatFlow {
	embedder := &keywordEmbedder{vocab: []string{"capital", "france", "paris", "helpline"}}
	index := &memoryVectorIndex{}
	llmClient := &fakeLLM{answer: answer}

	// 直接走 IngestText，不经过对象存储
	processor := pipeline.NewProcessor(
		embedder,
		index,
		nil,
		config.EmbeddingConfig{Model: "test-model"},
		config.ChunkingConfig{ChunkSize: 80, ChunkOverlap: 10},
		&fakeDocRepo{},
		&fakeChunkRepo{},
	)

	masker := NewMaskingService(&fakeAnalyzer{}, config.MaskingConfig{ScoreThreshold: 0.4})
	retriever := NewRetrievalService(embedder, index, config.RetrievalConfig{Mode: "similarity"})
	generator := NewGenerationService(llmClient, config.LLMPromptConfig{}, config.BreakerConfig{})
	chat := NewChatService(masker, retriever, generator, config.RetrievalConfig{TopK: 3, FetchK: 8})

	return &chatFlow{embedder: embedder, index: index, llm: llmClient, chat: chat, ingest: processor}
}

const flowCorpusText = "Consumer complaints can be made to the national helpline. " +
	"The helpline number is listed in the consumer guide.\f" +
	"Paris is the capital of France. The city hosts the national assembly."

func TestChatFlowCitesIngestedDocument(t *testing.T) {
	flow := newChatFlow("The capital of France is Paris.")

	count, err := flow.ingest.IngestText(context.Background(), "md5geo", "geography.txt", flowCorpusText, false)
	require.NoError(t, err)
	require.Greater(t, count, 1)

	resp, err := flow.chat.Answer(context.Background(), "What is the capital of France?")
	require.NoError(t, err)

	assert.Equal(t, "The capital of France is Paris.", resp.Response)
	require.NotEmpty(t, resp.Sources)
	assert.Equal(t, "geography.txt", resp.Sources[0].File)
	assert.Equal(t, 2, resp.Sources[0].Page)
	assert.Contains(t, resp.Sources[0].Preview, "Paris is the capital of France")
	assert.Greater(t, resp.Confidence, 0.0)

	// 命中的分块原文进入了生成侧的参考资料
	require.NotEmpty(t, flow.llm.messages)
	assert.Contains(t, flow.llm.messages[0].Content, "Paris is the capital of France")
}

func TestChatFlowRawPhoneNumberNeverLeavesProcess(t *testing.T) {
	flow := newChatFlow("Do not share your number with strangers.")

	_, err := flow.ingest.IngestText(context.Background(), "md5geo", "geography.txt", flowCorpusText, false)
	require.NoError(t, err)

	resp, err := flow.chat.Answer(context.Background(), "My number is 9876543210. What is the capital of France?")
	require.NoError(t, err)

	assert.True(t, resp.PIIMasked)
	require.NotEmpty(t, resp.PIIEntities)
	assert.Equal(t, "PHONE_NUMBER", resp.PIIEntities[0].Type)
	assert.Contains(t, resp.MaskedQuestion, "<PHONE_NUMBER>")

	// 原始号码既没有进入向量化，也没有进入生成请求
	for _, in := range flow.embedder.inputs {
		assert.NotContains(t, in, "9876543210")
	}
	for _, m := range flow.llm.messages {
		assert.NotContains(t, m.Content, "9876543210")
	}
	assert.NotEmpty(t, resp.Sources)
}
