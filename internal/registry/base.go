package registry

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/logging"
	"github.com/leolilley/kiwi-mcp/internal/pathsvc"
	"github.com/leolilley/kiwi-mcp/internal/search"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

// hybridSemanticWeight and hybridKeywordWeight mirror the vector manager's
// default blend (vector.DefaultWeights), minus the recency term: a pure
// keyword+semantic merge here has no per-result timestamp to blend with.
const (
	hybridSemanticWeight = 0.7
	hybridKeywordWeight  = 0.2
)

// fieldExtractor turns one artifact's raw file content into the fields
// C14's BM25 index indexes on, plus the metadata payload carried through
// to search results and the embedding gateway. Each per-kind registry
// supplies its own, since what counts as a "title" or "body" field differs
// between a directive's XML, a tool's manifest, and a knowledge entry's
// frontmatter+markdown.
type fieldExtractor func(id, ext string, content []byte) (itemType, version string, fields map[string]string, metadata map[string]any, err error)

// base is embedded by each per-kind registry and implements the
// scope-local filesystem plumbing, the in-memory search index per scope,
// and the hybrid search merge; kind-specific Get/Publish/Delete logic
// lives in directive.go, tool.go, and knowledge.go.
type base struct {
	kind       types.Kind
	defaultExt string
	paths      *pathsvc.Service
	gateway    EmbeddingGateway
	extract    fieldExtractor

	mu      sync.RWMutex
	indexes map[types.Scope]*search.Index
	built   map[types.Scope]bool
}

func newBase(kind types.Kind, defaultExt string, paths *pathsvc.Service, gateway EmbeddingGateway, extract fieldExtractor) base {
	return base{
		kind:       kind,
		defaultExt: defaultExt,
		paths:      paths,
		gateway:    gateway,
		extract:    extract,
		indexes:    make(map[types.Scope]*search.Index),
		built:      make(map[types.Scope]bool),
	}
}

func (b *base) baseDir(scope types.Scope) string {
	return b.paths.Roots().BaseFor(b.kind, scope)
}

// localScopes returns the scopes with a configured root, in
// project-then-user order.
func (b *base) localScopes() []types.Scope {
	var out []types.Scope
	for _, sc := range []types.Scope{types.ScopeProject, types.ScopeUser} {
		if b.baseDir(sc) != "" {
			out = append(out, sc)
		}
	}
	return out
}

func (b *base) buildPath(scope types.Scope, id, category string) (string, error) {
	dir := b.baseDir(scope)
	if dir == "" {
		return "", kiwierr.Newf(kiwierr.KindInput, "scope %q is not configured", scope)
	}
	ext := b.defaultExt
	if existing, _, err := b.paths.ResolveInScope(b.kind, id, scope); err == nil {
		ext = filepath.Ext(existing)
	}
	if category != "" {
		return filepath.Join(dir, category, id+ext), nil
	}
	return filepath.Join(dir, id+ext), nil
}

// walk lists every artifact file under scope's base directory (skipping
// the .versions sidecar), pairing each with its id and category.
func (b *base) walk(scope types.Scope) ([]struct{ path, id, category string }, error) {
	dir := b.baseDir(scope)
	if dir == "" {
		return nil, nil
	}
	var out []struct{ path, id, category string }
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if info.Name() == ".versions" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		if ext == b.defaultExt || hasRecognizedExt(ext) {
			rel, relErr := filepath.Rel(dir, path)
			if relErr != nil {
				return nil
			}
			category := filepath.ToSlash(filepath.Dir(rel))
			if category == "." {
				category = ""
			}
			id := strings.TrimSuffix(filepath.Base(rel), ext)
			out = append(out, struct{ path, id, category string }{path, id, category})
		}
		return nil
	})
	return out, err
}

func hasRecognizedExt(ext string) bool {
	switch ext {
	case ".md", ".py", ".sh", ".bash", ".js", ".ts":
		return true
	default:
		return false
	}
}

// ensureIndexed lazily builds scope's BM25 index from whatever is
// currently on disk, the first time that scope is searched.
func (b *base) ensureIndexed(scope types.Scope) (*search.Index, error) {
	b.mu.RLock()
	if b.built[scope] {
		idx := b.indexes[scope]
		b.mu.RUnlock()
		return idx, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.built[scope] {
		return b.indexes[scope], nil
	}

	idx := search.New(scope)
	entries, err := b.walk(scope)
	if err != nil {
		return nil, kiwierr.Wrap(kiwierr.KindNotFound, err, "walk "+string(scope)+" scope for indexing")
	}
	for _, e := range entries {
		content, readErr := os.ReadFile(e.path)
		if readErr != nil {
			continue
		}
		itemType, _, fields, metadata, extractErr := b.extract(e.id, filepath.Ext(e.path), content)
		if extractErr != nil {
			logging.Get(logging.CategoryRegistry).Warnw("skipping unparseable artifact during index build",
				"kind", b.kind, "id", e.id, "path", e.path, "error", extractErr)
			continue
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["category"] = e.category
		idx.IndexDocument(e.id, itemType, fields, nil, metadata)
	}
	b.indexes[scope] = idx
	b.built[scope] = true
	return idx, nil
}

// reindex re-extracts fields for one id across scope after a publish and
// folds them back into that scope's already-built index (a no-op on an
// index that has not been built yet — the next Search will build it fresh
// from disk, seeing the new content).
func (b *base) reindex(scope types.Scope, id, ext string, content []byte, category string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, ok := b.indexes[scope]
	if !ok {
		return
	}
	itemType, _, fields, metadata, err := b.extract(id, ext, content)
	if err != nil {
		return
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["category"] = category
	idx.IndexDocument(id, itemType, fields, nil, metadata)
}

func (b *base) removeFromIndex(scope types.Scope, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx, ok := b.indexes[scope]; ok {
		idx.RemoveDocument(id)
	}
}

// search runs the hybrid BM25+vector query across opts' target scopes,
// blending each item's best keyword score with its best semantic score.
func (b *base) search(ctx context.Context, query string, opts SearchOptions) ([]types.SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	scopes := b.localScopes()
	if opts.Scope != "" {
		scopes = []types.Scope{opts.Scope}
	}

	keywordByID := make(map[string]types.SearchResult)
	for _, scope := range scopes {
		idx, err := b.ensureIndexed(scope)
		if err != nil {
			return nil, err
		}
		for _, r := range idx.Search(query, 0, limit*2) {
			if opts.Category != "" {
				if cat, _ := r.Metadata["category"].(string); !strings.HasPrefix(cat, opts.Category) {
					continue
				}
			}
			if existing, ok := keywordByID[r.ItemID]; !ok || r.Score > existing.Score {
				keywordByID[r.ItemID] = r
			}
		}
	}

	var semantic []types.SearchResult
	if b.gateway != nil {
		results, err := b.gateway.Query(ctx, query, limit*2)
		if err != nil {
			logging.Get(logging.CategoryRegistry).Warnw("semantic query failed, falling back to keyword-only", "error", err)
		} else {
			semantic = results
		}
	}

	return blend(keywordByID, semantic, limit), nil
}

func blend(keywordByID map[string]types.SearchResult, semantic []types.SearchResult, limit int) []types.SearchResult {
	maxKW := 0.0
	for _, r := range keywordByID {
		if r.Score > maxKW {
			maxKW = r.Score
		}
	}
	semanticByID := make(map[string]types.SearchResult, len(semantic))
	for _, r := range semantic {
		if existing, ok := semanticByID[r.ItemID]; !ok || r.Score > existing.Score {
			semanticByID[r.ItemID] = r
		}
	}

	ids := make(map[string]struct{}, len(keywordByID)+len(semanticByID))
	for id := range keywordByID {
		ids[id] = struct{}{}
	}
	for id := range semanticByID {
		ids[id] = struct{}{}
	}

	out := make([]types.SearchResult, 0, len(ids))
	for id := range ids {
		kw, hasKW := keywordByID[id]
		sem, hasSem := semanticByID[id]

		kwNorm := 0.0
		if hasKW && maxKW > 0 {
			kwNorm = kw.Score / maxKW
		}
		semNorm := 0.0
		if hasSem {
			semNorm = sem.Score
			if semNorm < 0 {
				semNorm = 0
			}
		}

		semW, kwW := hybridSemanticWeight, hybridKeywordWeight
		switch {
		case !hasSem:
			kwW, semW = 1, 0
		case !hasKW:
			kwW, semW = 0, 1
		default:
			sum := semW + kwW
			semW, kwW = semW/sum, kwW/sum
		}

		result := kw
		if !hasKW {
			result = sem
		}
		result.Score = semW*semNorm + kwW*kwNorm
		out = append(out, result)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
