package service

import (
	"context"
	"errors"
	"testing"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.err
}

func (f *fakeEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

type fakeSearcher struct {
	results []model.ScoredRecord
	err     error
	gotK    int
}

func (f *fakeSearcher) Search(ctx context.Context, queryVector []float32, k int) ([]model.ScoredRecord, error) {
	f.gotK = k
	return f.results, f.err
}

func scoredRecord(id string, score float64, vector []float32) model.ScoredRecord {
	return model.ScoredRecord{
		Record: model.VectorRecord{VectorID: id, FileName: id + ".txt", TextContent: "text of " + id, Vector: vector},
		Score:  score,
	}
}

func TestRetrieveSimilarityRanking(t *testing.T) {
	searcher := &fakeSearcher{results: []model.ScoredRecord{
		scoredRecord("a", 0.95, []float32{1, 0}),
		scoredRecord("b", 0.80, []float32{0.9, 0.1}),
		scoredRecord("c", 0.60, []float32{0.5, 0.5}),
	}}
	r := NewRetrievalService(&fakeEmbedder{vector: []float32{1, 0}}, searcher, config.RetrievalConfig{Mode: "similarity"})

	passages := r.Retrieve(context.Background(), "question", 2, 12)

	assert.Equal(t, 12, searcher.gotK)
	require.Len(t, passages, 2)
	assert.Equal(t, "a", passages[0].Record.VectorID)
	assert.Equal(t, "b", passages[1].Record.VectorID)
	assert.Equal(t, 1, passages[0].Rank)
	assert.Equal(t, 2, passages[1].Rank)
	// 距离由 kNN 得分折算：d = 2*(1-score)
	assert.InDelta(t, 0.1, passages[0].Distance, 1e-9)
	assert.InDelta(t, 0.4, passages[1].Distance, 1e-9)
}

func TestRetrieveMMRPrefersDiversity(t *testing.T) {
	// b 与 a 几乎相同，c 方向不同；MMR 应在 a 之后选择 c 而不是 b
	searcher := &fakeSearcher{results: []model.ScoredRecord{
		scoredRecord("a", 0.95, []float32{0.9, 0.1}),
		scoredRecord("b", 0.94, []float32{0.89, 0.11}),
		scoredRecord("c", 0.70, []float32{0.6, 0.8}),
	}}
	r := NewRetrievalService(&fakeEmbedder{vector: []float32{1, 0}}, searcher, config.RetrievalConfig{Mode: "mmr", MMRLambda: 0.3})

	passages := r.Retrieve(context.Background(), "question", 2, 12)

	require.Len(t, passages, 2)
	assert.Equal(t, "a", passages[0].Record.VectorID)
	assert.Equal(t, "c", passages[1].Record.VectorID)
}

func TestRetrieveDegradesOnEmbeddingError(t *testing.T) {
	r := NewRetrievalService(&fakeEmbedder{err: errors.New("embedding down")}, &fakeSearcher{}, config.RetrievalConfig{})

	passages := r.Retrieve(context.Background(), "question", 3, 12)
	assert.NotNil(t, passages)
	assert.Empty(t, passages)
}

func TestRetrieveDegradesOnSearchError(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("index unavailable")}
	r := NewRetrievalService(&fakeEmbedder{vector: []float32{1, 0}}, searcher, config.RetrievalConfig{})

	passages := r.Retrieve(context.Background(), "question", 3, 12)
	assert.NotNil(t, passages)
	assert.Empty(t, passages)
}

func TestConfidenceFromDistance(t *testing.T) {
	assert.InDelta(t, 100.0, ConfidenceFromDistance(0), 1e-9)
	assert.InDelta(t, 50.0, ConfidenceFromDistance(1), 1e-9)
	assert.InDelta(t, 0.0, ConfidenceFromDistance(2), 1e-9)
	// 越界距离被夹取到 [0,100]
	assert.InDelta(t, 0.0, ConfidenceFromDistance(2.5), 1e-9)
	assert.InDelta(t, 100.0, ConfidenceFromDistance(-0.3), 1e-9)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}
