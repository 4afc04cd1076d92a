package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/leolilley/kiwi-mcp/internal/chain"
	"github.com/leolilley/kiwi-mcp/internal/integrity"
	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/metadata"
	"github.com/leolilley/kiwi-mcp/internal/pathsvc"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

// ToolRegistry is the C16 façade over tool artifacts, additionally
// exposing executor-chain resolution (C5/C6) and builtin-tool protection
// on delete.
type ToolRegistry struct {
	base
	resolveSource chain.ToolSource
	verifier      *chain.Verifier
	builtins      map[string]struct{}
}

func toolFields(id, ext string, content []byte) (itemType, version string, fields map[string]string, meta map[string]any, err error) {
	t, _, perr := metadata.ParseTool(id, ext, content)
	if perr != nil {
		return "", "", nil, nil, perr
	}
	description, _ := t.Manifest["description"].(string)
	fields = map[string]string{
		"title":       id,
		"description": description,
	}
	return "tool", t.Version, fields, map[string]any{"tool_type": string(t.ToolType)}, nil
}

// NewToolRegistry builds a ToolRegistry. builtinIDs names tools that can
// never be deleted, matching the teacher's bundled-primitive protection.
func NewToolRegistry(paths *pathsvc.Service, gateway EmbeddingGateway, verifier *chain.Verifier, builtinIDs []string) *ToolRegistry {
	builtins := make(map[string]struct{}, len(builtinIDs))
	for _, id := range builtinIDs {
		builtins[id] = struct{}{}
	}
	return &ToolRegistry{
		base:          newBase(types.KindTool, ".py", paths, gateway, toolFields),
		resolveSource: &chain.FileToolSource{Paths: paths},
		verifier:      verifier,
		builtins:      builtins,
	}
}

func (r *ToolRegistry) Search(ctx context.Context, query string, opts SearchOptions) ([]types.SearchResult, error) {
	return r.base.search(ctx, query, opts)
}

func (r *ToolRegistry) resolve(id string, scope types.Scope) (string, types.Scope, error) {
	if scope != "" {
		path, err := r.paths.ResolveInScope(types.KindTool, id, scope)
		return path, scope, err
	}
	return r.paths.Resolve(types.KindTool, id)
}

func (r *ToolRegistry) Get(ctx context.Context, id string, scope types.Scope) ([]byte, Summary, error) {
	path, foundScope, err := r.resolve(id, scope)
	if err != nil {
		return nil, Summary{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, Summary{}, kiwierr.Wrap(kiwierr.KindNotFound, err, "read tool "+id)
	}
	t, _, err := metadata.ParseTool(id, filepath.Ext(path), content)
	if err != nil {
		return nil, Summary{}, err
	}
	cat, _, _ := r.paths.ValidatePath(types.KindTool, path)
	latest, _ := latestVersion(r.baseDir(foundScope), id)
	return content, Summary{ID: id, Version: t.Version, Category: cat, Scope: foundScope, Latest: latest.Version == "" || latest.Version == t.Version}, nil
}

func (r *ToolRegistry) List(ctx context.Context, scope types.Scope, category string) ([]Summary, error) {
	scopes := r.localScopes()
	if scope != "" {
		scopes = []types.Scope{scope}
	}
	var out []Summary
	for _, sc := range scopes {
		entries, err := r.walk(sc)
		if err != nil {
			return nil, kiwierr.Wrap(kiwierr.KindNotFound, err, "list tools")
		}
		for _, e := range entries {
			if category != "" && !strings.HasPrefix(e.category, category) {
				continue
			}
			content, readErr := os.ReadFile(e.path)
			if readErr != nil {
				continue
			}
			t, _, perr := metadata.ParseTool(e.id, filepath.Ext(e.path), content)
			if perr != nil {
				continue
			}
			latest, _ := latestVersion(r.baseDir(sc), e.id)
			out = append(out, Summary{ID: e.id, Version: t.Version, Category: e.category, Scope: sc, Latest: latest.Version == "" || latest.Version == t.Version})
		}
	}
	return out, nil
}

// Publish writes a new or updated tool. req.Content is the tool script's
// raw source (with or without a TOOL_METADATA block) and without a
// signature line; Publish computes integrity over {tool_id, version,
// manifest, files} and embeds it.
func (r *ToolRegistry) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	ext := r.defaultExt
	if existing, _, err := r.paths.ResolveInScope(types.KindTool, req.ID, req.Scope); err == nil {
		ext = filepath.Ext(existing)
	}
	t, _, err := metadata.ParseTool(req.ID, ext, req.Content)
	if err != nil {
		return nil, err
	}
	if t.Version == "0.0.0" {
		return nil, kiwierr.New(kiwierr.KindInput, "tool content has no declared version").
			WithSolution("set TOOL_METADATA[\"version\"] or a top-level version assignment")
	}

	files := []types.FileEntry{{
		Path:   req.ID + ext,
		SHA256: integrity.HashBody(req.Content),
	}}
	hash, err := integrity.ComputeToolIntegrity(req.ID, t.Version, t.Manifest, files)
	if err != nil {
		return nil, err
	}
	signed := integrity.Embed(types.KindTool, req.Content, hash, req.ID)

	path, err := r.buildPath(req.Scope, req.ID, req.Category)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, signed); err != nil {
		return nil, err
	}
	r.paths.Invalidate(types.KindTool, req.ID, req.Scope)

	prior, err := recordVersion(r.baseDir(req.Scope), req.ID, versionEntry{Version: t.Version, Integrity: hash, CreatedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}

	r.reindex(req.Scope, req.ID, ext, signed, req.Category)
	if r.gateway != nil {
		description, _ := t.Manifest["description"].(string)
		if err := r.gateway.Refresh(ctx, req.ID, "tool", description, map[string]any{"category": req.Category, "tool_type": string(t.ToolType)}); err != nil {
			return nil, err
		}
	}

	return &PublishResult{ID: req.ID, Version: t.Version, Integrity: hash, Path: path, PriorLatest: prior}, nil
}

// Delete removes a tool. Builtin tools are un-deletable. With
// cascade=false, delete refuses if any other tool declares this one as
// its executor; with cascade=true, dependents are deleted first
// (depth-first, so a chain of executors unwinds from the leaves in).
func (r *ToolRegistry) Delete(ctx context.Context, id string, scope types.Scope, cascade bool) error {
	if _, builtin := r.builtins[id]; builtin {
		return kiwierr.Newf(kiwierr.KindPermission, "tool %q is a builtin and cannot be deleted", id)
	}

	dependents, err := r.dependents(id)
	if err != nil {
		return err
	}
	if len(dependents) > 0 {
		if !cascade {
			return kiwierr.Newf(kiwierr.KindValidation, "tool %q has %d dependent executor(s): %s",
				id, len(dependents), strings.Join(dependents, ", ")).
				WithSolution("retry with cascade=true, or repoint the dependents' executor first")
		}
		for _, dep := range dependents {
			if err := r.Delete(ctx, dep, "", true); err != nil {
				return err
			}
		}
	}

	path, foundScope, err := r.resolve(id, scope)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return kiwierr.Wrap(kiwierr.KindNotFound, err, "delete tool "+id)
	}
	r.paths.Invalidate(types.KindTool, id, foundScope)
	removeVersions(r.baseDir(foundScope), id)
	r.removeFromIndex(foundScope, id)
	return nil
}

// dependents returns the ids of every other tool whose executor is id.
func (r *ToolRegistry) dependents(id string) ([]string, error) {
	var out []string
	for _, scope := range r.localScopes() {
		entries, err := r.walk(scope)
		if err != nil {
			return nil, kiwierr.Wrap(kiwierr.KindNotFound, err, "scan tools for dependents")
		}
		for _, e := range entries {
			if e.id == id {
				continue
			}
			content, readErr := os.ReadFile(e.path)
			if readErr != nil {
				continue
			}
			t, _, perr := metadata.ParseTool(e.id, filepath.Ext(e.path), content)
			if perr != nil {
				continue
			}
			if t.ExecutorID == id {
				out = append(out, e.id)
			}
		}
	}
	return out, nil
}

// Chain resolves and verifies id's full executor chain (C5/C6).
func (r *ToolRegistry) Chain(ctx context.Context, id string) ([]types.ChainLink, chain.VerifyResult, error) {
	links, err := chain.Resolve(id, r.resolveSource)
	if err != nil {
		return links, chain.VerifyResult{}, err
	}
	result := r.verifier.VerifyChain(links)
	return links, result, result.AsError()
}

var _ SearchProvider = (*ToolRegistry)(nil)
var _ CrudProvider = (*ToolRegistry)(nil)
