package registry

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/leolilley/kiwi-mcp/internal/integrity"
	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/metadata"
	"github.com/leolilley/kiwi-mcp/internal/pathsvc"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

// DirectiveRegistry is the C16 façade over directive artifacts.
type DirectiveRegistry struct {
	base
}

func directiveFields(id, ext string, content []byte) (itemType, version string, fields map[string]string, meta map[string]any, err error) {
	d, _, perr := metadata.ParseDirective(id, content)
	if perr != nil {
		return "", "", nil, nil, perr
	}
	fields = map[string]string{
		"title":       d.ID,
		"description": d.Description,
		"body":        strings.Join(d.Steps, "\n"),
	}
	meta = map[string]any{
		"model_tier": d.ModelTier,
		"mcps":       d.MCPs,
	}
	return "directive", d.Version, fields, meta, nil
}

// NewDirectiveRegistry builds a DirectiveRegistry over paths, optionally
// wired to gateway for embedding refresh and semantic search.
func NewDirectiveRegistry(paths *pathsvc.Service, gateway EmbeddingGateway) *DirectiveRegistry {
	return &DirectiveRegistry{base: newBase(types.KindDirective, ".md", paths, gateway, directiveFields)}
}

func (r *DirectiveRegistry) Search(ctx context.Context, query string, opts SearchOptions) ([]types.SearchResult, error) {
	return r.base.search(ctx, query, opts)
}

func (r *DirectiveRegistry) Get(ctx context.Context, id string, scope types.Scope) ([]byte, Summary, error) {
	path, foundScope, err := r.resolve(id, scope)
	if err != nil {
		return nil, Summary{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, Summary{}, kiwierr.Wrap(kiwierr.KindNotFound, err, "read directive "+id)
	}
	d, _, err := metadata.ParseDirective(id, content)
	if err != nil {
		return nil, Summary{}, err
	}
	cat, _, _ := r.paths.ValidatePath(types.KindDirective, path)
	latest, _ := latestVersion(r.baseDir(foundScope), id)
	return content, Summary{ID: id, Version: d.Version, Category: cat, Scope: foundScope, Latest: latest.Version == "" || latest.Version == d.Version}, nil
}

func (r *DirectiveRegistry) resolve(id string, scope types.Scope) (string, types.Scope, error) {
	if scope != "" {
		path, err := r.paths.ResolveInScope(types.KindDirective, id, scope)
		return path, scope, err
	}
	return r.paths.Resolve(types.KindDirective, id)
}

func (r *DirectiveRegistry) List(ctx context.Context, scope types.Scope, category string) ([]Summary, error) {
	scopes := r.localScopes()
	if scope != "" {
		scopes = []types.Scope{scope}
	}
	var out []Summary
	for _, sc := range scopes {
		entries, err := r.walk(sc)
		if err != nil {
			return nil, kiwierr.Wrap(kiwierr.KindNotFound, err, "list directives")
		}
		for _, e := range entries {
			if category != "" && !strings.HasPrefix(e.category, category) {
				continue
			}
			content, readErr := os.ReadFile(e.path)
			if readErr != nil {
				continue
			}
			d, _, perr := metadata.ParseDirective(e.id, content)
			if perr != nil {
				continue
			}
			latest, _ := latestVersion(r.baseDir(sc), e.id)
			out = append(out, Summary{ID: e.id, Version: d.Version, Category: e.category, Scope: sc, Latest: latest.Version == "" || latest.Version == d.Version})
		}
	}
	return out, nil
}

// Publish writes a new or updated directive. req.Content must already
// contain the fenced XML block; Publish computes and embeds the
// signature, never the caller.
func (r *DirectiveRegistry) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	d, xmlBody, err := metadata.ParseDirective(req.ID, req.Content)
	if err != nil {
		return nil, err
	}
	if d.ID != req.ID {
		return nil, kiwierr.Newf(kiwierr.KindInput, "directive name %q in content does not match requested id %q", d.ID, req.ID)
	}

	hash, err := integrity.ComputeDirectiveIntegrity(d.ID, d.Version, xmlBody, map[string]any{
		"category": req.Category, "description": d.Description, "model_tier": d.ModelTier,
	})
	if err != nil {
		return nil, err
	}
	signed := integrity.Embed(types.KindDirective, req.Content, hash, d.ID)

	path, err := r.buildPath(req.Scope, req.ID, req.Category)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, signed); err != nil {
		return nil, err
	}
	r.paths.Invalidate(types.KindDirective, req.ID, req.Scope)

	prior, err := recordVersion(r.baseDir(req.Scope), req.ID, versionEntry{Version: d.Version, Integrity: hash, CreatedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}

	r.reindex(req.Scope, req.ID, ".md", signed, req.Category)
	if r.gateway != nil {
		content := d.Description + "\n" + strings.Join(d.Steps, "\n")
		if err := r.gateway.Refresh(ctx, req.ID, "directive", content, map[string]any{"category": req.Category, "model_tier": d.ModelTier}); err != nil {
			return nil, err
		}
	}

	return &PublishResult{ID: req.ID, Version: d.Version, Integrity: hash, Path: path, PriorLatest: prior}, nil
}

// Delete removes a directive. Directives carry no dependent records in
// this kernel (only tools form executor chains, only knowledge entries
// form relationship graphs), so cascade is accepted for interface
// symmetry but has no effect here.
func (r *DirectiveRegistry) Delete(ctx context.Context, id string, scope types.Scope, cascade bool) error {
	path, foundScope, err := r.resolve(id, scope)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return kiwierr.Wrap(kiwierr.KindNotFound, err, "delete directive "+id)
	}
	r.paths.Invalidate(types.KindDirective, id, foundScope)
	removeVersions(r.baseDir(foundScope), id)
	r.removeFromIndex(foundScope, id)
	return nil
}

// Links returns the directive's declared MCP links, the directive kind's
// one kind-specific operation (spec: "kind-specific operations (directive
// links, ...)").
func (r *DirectiveRegistry) Links(ctx context.Context, id string, scope types.Scope) ([]string, error) {
	content, _, err := r.Get(ctx, id, scope)
	if err != nil {
		return nil, err
	}
	d, _, err := metadata.ParseDirective(id, content)
	if err != nil {
		return nil, err
	}
	return d.MCPs, nil
}

var _ SearchProvider = (*DirectiveRegistry)(nil)
var _ CrudProvider = (*DirectiveRegistry)(nil)
