package ner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"citizen-safety-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		var req struct {
			Text     string   `json:"text"`
			Language string   `json:"language"`
			Entities []string `json:"entities"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "I met Raj in Mumbai", req.Text)
		assert.Equal(t, "en", req.Language)
		assert.Contains(t, req.Entities, "PERSON")

		_, _ = w.Write([]byte(`[
			{"entity_type":"PERSON","start":6,"end":9,"score":0.85},
			{"entity_type":"LOCATION","start":13,"end":19,"score":0.9}
		]`))
	}))
	defer srv.Close()

	client := NewClient(config.MaskingConfig{AnalyzerURL: srv.URL})
	entities, err := client.Analyze(context.Background(), "I met Raj in Mumbai")
	require.NoError(t, err)

	require.Len(t, entities, 2)
	assert.Equal(t, "PERSON", entities[0].Type)
	assert.Equal(t, 6, entities[0].Start)
	assert.Equal(t, 9, entities[0].End)
	assert.InDelta(t, 0.85, entities[0].Score, 1e-9)
	assert.Equal(t, "LOCATION", entities[1].Type)
}

func TestAnalyzeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(config.MaskingConfig{AnalyzerURL: srv.URL})
	_, err := client.Analyze(context.Background(), "text")
	require.Error(t, err)
}

func TestAnalyzeUnreachable(t *testing.T) {
	client := NewClient(config.MaskingConfig{AnalyzerURL: "http://127.0.0.1:1"})
	_, err := client.Analyze(context.Background(), "text")
	require.Error(t, err)
}
