// Package registry implements the per-kind façades (C16): DirectiveRegistry,
// ToolRegistry, and KnowledgeRegistry, each composing the integrity signer
// (C1), path service (C2), metadata parsers (C3), search index (C14), and
// vector store (C15, through EmbeddingGateway); ToolRegistry also uses the
// chain resolver/verifier (C5, C6). The registries do not call the schema
// validator (C4), chain validator (C7), or lockfile store (C8). They sit
// behind three small typed interfaces rather than one do-everything facade.
package registry

import (
	"context"
	"time"

	"github.com/leolilley/kiwi-mcp/internal/types"
)

// SearchOptions narrows a registry Search call.
type SearchOptions struct {
	Category string       // optional category prefix filter
	Scope    types.Scope  // "" searches every configured scope
	Limit    int
}

// SearchProvider is implemented by every per-kind registry.
type SearchProvider interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]types.SearchResult, error)
}

// Summary is the lightweight row List returns, cheaper than a full Get.
type Summary struct {
	ID       string
	Version  string
	Category string
	Scope    types.Scope
	Latest   bool
}

// PublishRequest carries a brand-new or updated artifact's raw file content
// (the kind's native format — fenced XML markdown, a tool script, or
// frontmatter markdown — without a trailing signature line; the registry
// computes and embeds one).
type PublishRequest struct {
	ID       string
	Category string // slash-separated; "" for uncategorized
	Scope    types.Scope
	Content  []byte
}

// PublishResult reports what Publish actually did.
type PublishResult struct {
	ID          string
	Version     string
	Integrity   string
	Path        string
	PriorLatest string // prior latest version, "" if this was the first
}

// CrudProvider is implemented by every per-kind registry.
type CrudProvider interface {
	Get(ctx context.Context, id string, scope types.Scope) ([]byte, Summary, error)
	List(ctx context.Context, scope types.Scope, category string) ([]Summary, error)
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
	Delete(ctx context.Context, id string, scope types.Scope, cascade bool) error
}

// GraphProvider is implemented only by KnowledgeRegistry: zettel
// relationships and collection membership, the one kind with graph edges.
type GraphProvider interface {
	Relationships(ctx context.Context, zettelID string, scope types.Scope) ([]types.KnowledgeRelationship, error)
	AddRelationship(ctx context.Context, zettelID string, scope types.Scope, rel types.KnowledgeRelationship) error
	Collections(ctx context.Context, zettelID string, scope types.Scope) ([]string, error)
}

// EmbeddingGateway is the seam a registry refreshes an item's semantic
// embedding through on publish (spec: "the embedding is refreshed (C15 via
// validator)"). It is optional: a registry built with a nil gateway simply
// skips the refresh step, and Search falls back to keyword-only ranking.
type EmbeddingGateway interface {
	Refresh(ctx context.Context, itemID, itemType, content string, metadata map[string]any) error
	Query(ctx context.Context, text string, limit int) ([]types.SearchResult, error)
}

// versionEntry is one row of a kind/id's on-disk version history.
type versionEntry struct {
	Version   string    `json:"version"`
	Integrity string    `json:"integrity"`
	CreatedAt time.Time `json:"created_at"`
	Latest    bool      `json:"latest"`
}
