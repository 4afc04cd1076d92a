package vector

import (
	"context"

	"github.com/leolilley/kiwi-mcp/internal/types"
)

// RemoteSearcher is the seam into a registry's server-side ANN search;
// production deployments wire an HTTP or gRPC client satisfying this.
type RemoteSearcher interface {
	Search(ctx context.Context, queryVec []float32, limit int) ([]types.SearchResult, error)
	Store(ctx context.Context, rec *types.EmbeddingRecord) error
}

// RegistryTier adapts a RemoteSearcher to the Tier interface for the
// registry scope. With a nil client it behaves as an always-empty tier,
// so a kernel with no configured remote registry degrades gracefully
// rather than failing hybrid search.
type RegistryTier struct {
	client RemoteSearcher
}

// NewRegistryTier wraps client, or builds a no-op tier if client is nil.
func NewRegistryTier(client RemoteSearcher) *RegistryTier {
	return &RegistryTier{client: client}
}

func (t *RegistryTier) Scope() types.Scope { return types.ScopeRegistry }

func (t *RegistryTier) Close() error { return nil }

func (t *RegistryTier) Store(ctx context.Context, rec *types.EmbeddingRecord) error {
	if t.client == nil {
		return nil
	}
	return t.client.Store(ctx, rec)
}

func (t *RegistryTier) Search(ctx context.Context, queryVec []float32, limit int) ([]types.SearchResult, error) {
	if t.client == nil {
		return nil, nil
	}
	return t.client.Search(ctx, queryVec, limit)
}
