package vector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp/internal/types"
)

func TestManager_MergesByItemIDKeepingHighestScore(t *testing.T) {
	project := openTestTier(t, types.ScopeProject)
	user := openTestTier(t, types.ScopeUser)
	ctx := context.Background()

	require.NoError(t, project.Store(ctx, &types.EmbeddingRecord{ItemID: "shared", Embedding: []float32{1, 0, 0}, Content: "p", ValidatedAt: time.Now()}))
	require.NoError(t, user.Store(ctx, &types.EmbeddingRecord{ItemID: "shared", Embedding: []float32{0, 1, 0}, Content: "u", ValidatedAt: time.Now()}))
	require.NoError(t, user.Store(ctx, &types.EmbeddingRecord{ItemID: "user-only", Embedding: []float32{1, 0, 0}, Content: "u2", ValidatedAt: time.Now()}))

	mgr := NewManager(project, user)
	results, err := mgr.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)

	byID := make(map[string]types.SearchResult)
	for _, r := range results {
		byID[r.ItemID] = r
	}
	require.Contains(t, byID, "shared")
	require.Contains(t, byID, "user-only")
	require.Equal(t, types.ScopeProject, byID["shared"].Source)
}

func TestManager_TierFailureDoesNotAbortOthers(t *testing.T) {
	project := openTestTier(t, types.ScopeProject)
	ctx := context.Background()
	require.NoError(t, project.Store(ctx, &types.EmbeddingRecord{ItemID: "a", Embedding: []float32{1, 0, 0}, Content: "a", ValidatedAt: time.Now()}))

	mgr := NewManager(project, failingTier{})
	results, err := mgr.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

// failingTier is a Tier whose Search and Store always return an error.
type failingTier struct{}

func (failingTier) Scope() types.Scope { return types.ScopeRegistry }
func (failingTier) Store(ctx context.Context, rec *types.EmbeddingRecord) error {
	return errors.New("tier unavailable")
}
func (failingTier) Search(ctx context.Context, queryVec []float32, limit int) ([]types.SearchResult, error) {
	return nil, errors.New("tier unavailable")
}
func (failingTier) Close() error { return nil }

func TestRerank_BlendsSemanticKeywordRecency(t *testing.T) {
	results := []types.SearchResult{
		{ItemID: "a", Score: 0.7, ContentPreview: "unrelated text", Source: types.ScopeRegistry},
		{ItemID: "b", Score: 0.5, ContentPreview: "python testing framework", Source: types.ScopeProject},
	}
	// a: 0.7*0.7 + 0.2*0 + 0.1*0.05 = 0.495; b: 0.7*0.5 + 0.2*1 + 0.1*0.1 = 0.56
	out := Rerank(results, []string{"python", "testing"}, DefaultWeights())
	require.Equal(t, "b", out[0].ItemID)
}

func TestRerank_RenormalizesNonUnitWeights(t *testing.T) {
	results := []types.SearchResult{{ItemID: "a", Score: 1.0, Source: types.ScopeProject}}
	out := Rerank(results, nil, Weights{Semantic: 7, Keyword: 2, Recency: 1})
	require.Len(t, out, 1)
	require.Greater(t, out[0].Score, 0.0)
}

func TestRegistryTier_NilClientIsNoOp(t *testing.T) {
	tier := NewRegistryTier(nil)
	results, err := tier.Search(context.Background(), []float32{1}, 10)
	require.NoError(t, err)
	require.Empty(t, results)
	require.NoError(t, tier.Store(context.Background(), &types.EmbeddingRecord{}))
}
