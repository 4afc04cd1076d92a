package embedding

import (
	"context"

	"google.golang.org/genai"

	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/logging"
)

// maxBatchSize is the largest batch GenAI's EmbedContent API accepts in
// one request; larger inputs are chunked and processed sequentially.
const maxBatchSize = 100

func int32Ptr(i int32) *int32 { return &i }

// GenAIEngine generates embeddings via Google's Gemini embedding API.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
	dims     int
}

// NewGenAIEngine builds a GenAIEngine, defaulting model/taskType when
// empty. apiKey is required.
func NewGenAIEngine(apiKey, model, taskType string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, kiwierr.New(kiwierr.KindInput, "GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if taskType == "" {
		taskType = "SEMANTIC_SIMILARITY"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, kiwierr.Wrap(kiwierr.KindTransient, err, "create GenAI client")
	}
	return &GenAIEngine{client: client, model: model, taskType: taskType, dims: 3072}, nil
}

func (e *GenAIEngine) Name() string    { return "genai:" + e.model }
func (e *GenAIEngine) Dimensions() int { return e.dims }

func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: int32Ptr(int32(e.dims)),
	})
	if err != nil {
		return nil, kiwierr.Wrap(kiwierr.KindTransient, err, "GenAI embed failed")
	}
	if len(result.Embeddings) == 0 {
		return nil, kiwierr.New(kiwierr.KindTransient, "GenAI returned no embeddings")
	}
	logging.Get(logging.CategoryEmbedding).Debugw("genai embed completed", "dimensions", len(result.Embeddings[0].Values))
	return result.Embeddings[0].Values, nil
}

// EmbedBatch chunks texts into GenAI's batch limit and processes each
// chunk in a single EmbedContent call.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out [][]float32
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (e *GenAIEngine) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: int32Ptr(int32(e.dims)),
	})
	if err != nil {
		return nil, kiwierr.Wrap(kiwierr.KindTransient, err, "GenAI batch embed failed")
	}
	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
