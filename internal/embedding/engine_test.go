package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity_Identical(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0})
	require.NoError(t, err)
	require.InDelta(t, 1.0, sim, 1e-9)
}

func TestCosineSimilarity_Orthogonal(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	require.InDelta(t, 0.0, sim, 1e-9)
}

func TestCosineSimilarity_MismatchedLength(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0})
	require.Error(t, err)
}

func TestNormalize_ScalesToUnitLength(t *testing.T) {
	v := Normalize([]float32{3, 4})
	require.InDelta(t, 1.0, float64(v[0]*v[0]+v[1]*v[1]), 1e-6)
}

func TestNormalize_ZeroVectorUnchanged(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	require.Equal(t, []float32{0, 0, 0}, v)
}

func TestNewEngine_UnsupportedProvider(t *testing.T) {
	_, err := NewEngine(Config{Provider: "unknown"})
	require.Error(t, err)
}

func TestOllamaEngine_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e, err := NewOllamaEngine(srv.URL, "test-model")
	require.NoError(t, err)

	emb, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, emb)
	require.Equal(t, 3, e.Dimensions())
}

func TestOllamaEngine_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{1}})
	}))
	defer srv.Close()

	e, err := NewOllamaEngine(srv.URL, "")
	require.NoError(t, err)

	out, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestNewGenAIEngine_RequiresAPIKey(t *testing.T) {
	_, err := NewGenAIEngine("", "", "")
	require.Error(t, err)
}
