package registry

import (
	"context"
	"time"

	"github.com/leolilley/kiwi-mcp/internal/embedding"
	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/types"
	"github.com/leolilley/kiwi-mcp/internal/vector"
)

const queryPreviewLimit = 2048

// DefaultGateway is the concrete EmbeddingGateway every registry is built
// with in production: an embedding engine, the project-scope vector tier
// publish refreshes write through, and the hybrid manager queries fan out
// across. It is constructed at the edge (wherever scope roots and
// embedding config are known) and injected into each per-kind registry,
// per the dependency-inversion split the interfaces in this package exist
// for — registries depend on the EmbeddingGateway contract, never on
// internal/embedding or internal/vector concrete types directly.
type DefaultGateway struct {
	Engine    embedding.Engine
	WriteTier vector.Tier
	Search    *vector.Manager
	Validate  vector.Validator
}

// Refresh embeds content, validates the resulting record (when a
// Validator is configured), and stores it in WriteTier. A nil Engine or
// WriteTier makes Refresh a no-op, so a kernel running without a
// configured embedding backend still publishes successfully — degrading
// gracefully rather than failing the publish, per §6's "absence disables
// the vector tier rather than failing the kernel".
func (g *DefaultGateway) Refresh(ctx context.Context, itemID, itemType, content string, metadata map[string]any) error {
	if g.Engine == nil || g.WriteTier == nil {
		return nil
	}
	rec := &types.EmbeddingRecord{
		ItemID:      itemID,
		ItemType:    itemType,
		Content:     truncateContent(content, 2048),
		Metadata:    metadata,
		ValidatedAt: time.Now().UTC(),
	}
	if err := vector.EmbedAndStore(ctx, g.WriteTier, g.Engine, g.Validate, rec); err != nil {
		return kiwierr.Wrap(kiwierr.KindIntegrity, err, "refresh embedding for "+itemID)
	}
	return nil
}

// Query embeds text and runs it against the configured hybrid Search
// manager. A nil Engine or Search manager returns an empty result set
// rather than an error, so keyword search alone still works.
func (g *DefaultGateway) Query(ctx context.Context, text string, limit int) ([]types.SearchResult, error) {
	if g.Engine == nil || g.Search == nil {
		return nil, nil
	}
	vec, err := g.Engine.Embed(ctx, truncateContent(text, queryPreviewLimit))
	if err != nil {
		return nil, kiwierr.Wrap(kiwierr.KindIntegrity, err, "embed query")
	}
	return g.Search.Search(ctx, embedding.Normalize(vec), limit)
}

func truncateContent(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
