package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"citizen-safety-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string, batchSize, maxRetries int) *openAICompatibleClient {
	return &openAICompatibleClient{
		cfg: config.EmbeddingConfig{
			BaseURL:      baseURL,
			Model:        "test-model",
			MaxBatchSize: batchSize,
			MaxRetries:   maxRetries,
		},
		client:          &http.Client{Timeout: 5 * time.Second},
		initialInterval: time.Millisecond,
	}
}

func writeEmbeddings(w http.ResponseWriter, n int) {
	type item struct {
		Embedding []float32 `json:"embedding"`
	}
	data := make([]item, n)
	for i := range data {
		data[i] = item{Embedding: []float32{float32(i), 1}}
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func TestCreateEmbeddingsSplitsBatches(t *testing.T) {
	var batchSizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batchSizes = append(batchSizes, len(req.Input))
		writeEmbeddings(w, len(req.Input))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 50, 3)
	texts := make([]string, 120)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}

	vectors, err := client.CreateEmbeddings(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vectors, 120)
	assert.Equal(t, []int{50, 50, 20}, batchSizes)
}

func TestCreateEmbeddingsRetriesTransientErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeEmbeddings(w, 1)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 50, 3)
	vector, err := client.CreateEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, vector)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestCreateEmbeddingsRetryOn429(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeEmbeddings(w, 1)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 50, 3)
	_, err := client.CreateEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestCreateEmbeddingsExhaustionReturnsErrUnavailable(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 50, 2)
	_, err := client.CreateEmbedding(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	// 首次调用 + 2 次重试
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestCreateEmbeddingsNoRetryOnClientError(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 50, 3)
	_, err := client.CreateEmbedding(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	// 4xx（除 429）不重试
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestCreateEmbeddingsVectorCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEmbeddings(w, 1)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 50, 1)
	_, err := client.CreateEmbeddings(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestCreateEmbeddingsEmptyInput(t *testing.T) {
	client := newTestClient("http://unused", 50, 1)
	vectors, err := client.CreateEmbeddings(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}
