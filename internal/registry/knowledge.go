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

// KnowledgeRegistry is the C16 façade over knowledge entries, additionally
// implementing GraphProvider for zettel relationships and collections.
type KnowledgeRegistry struct {
	base
}

func knowledgeFields(id, ext string, content []byte) (itemType, version string, fields map[string]string, meta map[string]any, err error) {
	k, _, perr := metadata.ParseKnowledge(id, content, false)
	if perr != nil {
		return "", "", nil, nil, perr
	}
	tags := make([]string, 0, len(k.Tags))
	for t := range k.Tags {
		tags = append(tags, t)
	}
	fields = map[string]string{
		"title": k.Title,
		"body":  k.Body,
		"tags":  strings.Join(tags, " "),
	}
	return "knowledge", k.Version, fields, map[string]any{"entry_type": k.EntryType, "collections": k.Collections}, nil
}

func NewKnowledgeRegistry(paths *pathsvc.Service, gateway EmbeddingGateway) *KnowledgeRegistry {
	return &KnowledgeRegistry{base: newBase(types.KindKnowledge, ".md", paths, gateway, knowledgeFields)}
}

func (r *KnowledgeRegistry) Search(ctx context.Context, query string, opts SearchOptions) ([]types.SearchResult, error) {
	return r.base.search(ctx, query, opts)
}

func (r *KnowledgeRegistry) resolve(id string, scope types.Scope) (string, types.Scope, error) {
	if scope != "" {
		path, err := r.paths.ResolveInScope(types.KindKnowledge, id, scope)
		return path, scope, err
	}
	return r.paths.Resolve(types.KindKnowledge, id)
}

func (r *KnowledgeRegistry) Get(ctx context.Context, id string, scope types.Scope) ([]byte, Summary, error) {
	path, foundScope, err := r.resolve(id, scope)
	if err != nil {
		return nil, Summary{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, Summary{}, kiwierr.Wrap(kiwierr.KindNotFound, err, "read knowledge entry "+id)
	}
	k, _, err := metadata.ParseKnowledge(id, content, false)
	if err != nil {
		return nil, Summary{}, err
	}
	cat, _, _ := r.paths.ValidatePath(types.KindKnowledge, path)
	latest, _ := latestVersion(r.baseDir(foundScope), id)
	return content, Summary{ID: id, Version: k.Version, Category: cat, Scope: foundScope, Latest: latest.Version == "" || latest.Version == k.Version}, nil
}

func (r *KnowledgeRegistry) List(ctx context.Context, scope types.Scope, category string) ([]Summary, error) {
	scopes := r.localScopes()
	if scope != "" {
		scopes = []types.Scope{scope}
	}
	var out []Summary
	for _, sc := range scopes {
		entries, err := r.walk(sc)
		if err != nil {
			return nil, kiwierr.Wrap(kiwierr.KindNotFound, err, "list knowledge entries")
		}
		for _, e := range entries {
			if category != "" && !strings.HasPrefix(e.category, category) {
				continue
			}
			content, readErr := os.ReadFile(e.path)
			if readErr != nil {
				continue
			}
			k, _, perr := metadata.ParseKnowledge(e.id, content, false)
			if perr != nil {
				continue
			}
			latest, _ := latestVersion(r.baseDir(sc), e.id)
			out = append(out, Summary{ID: e.id, Version: k.Version, Category: e.category, Scope: sc, Latest: latest.Version == "" || latest.Version == k.Version})
		}
	}
	return out, nil
}

// Publish writes a new or updated knowledge entry. req.Content must carry
// YAML frontmatter (forSigning requires it); Publish computes the content
// hash over the frontmatter-and-signature-stripped body and embeds a
// fresh signature.
func (r *KnowledgeRegistry) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	k, contentForHashing, err := metadata.ParseKnowledge(req.ID, req.Content, true)
	if err != nil {
		return nil, err
	}
	fm, _ := metadata.FrontmatterMap(req.Content)

	contentHash := integrity.HashBody(contentForHashing)
	hash, err := integrity.ComputeKnowledgeIntegrity(req.ID, k.Version, contentHash, fm)
	if err != nil {
		return nil, err
	}
	signed := integrity.Embed(types.KindKnowledge, req.Content, hash, req.ID)

	path, err := r.buildPath(req.Scope, req.ID, req.Category)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, signed); err != nil {
		return nil, err
	}
	r.paths.Invalidate(types.KindKnowledge, req.ID, req.Scope)

	prior, err := recordVersion(r.baseDir(req.Scope), req.ID, versionEntry{Version: k.Version, Integrity: hash, CreatedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}

	r.reindex(req.Scope, req.ID, ".md", signed, req.Category)
	if r.gateway != nil {
		if err := r.gateway.Refresh(ctx, req.ID, "knowledge", k.Title+"\n"+k.Body, map[string]any{"category": req.Category, "entry_type": k.EntryType}); err != nil {
			return nil, err
		}
	}

	return &PublishResult{ID: req.ID, Version: k.Version, Integrity: hash, Path: path, PriorLatest: prior}, nil
}

// Delete removes a knowledge entry. With cascade=false, delete refuses if
// any other entry's relationships reference this zettel; with
// cascade=true, those relationships are stripped from the referencing
// entries first (the entries themselves are not deleted — only the
// dangling edge is).
func (r *KnowledgeRegistry) Delete(ctx context.Context, id string, scope types.Scope, cascade bool) error {
	referrers, err := r.referrers(id)
	if err != nil {
		return err
	}
	if len(referrers) > 0 {
		if !cascade {
			return kiwierr.Newf(kiwierr.KindValidation, "knowledge entry %q is referenced by %d other entr(ies): %s",
				id, len(referrers), strings.Join(referrers, ", ")).
				WithSolution("retry with cascade=true to strip the dangling relationships, or remove them first")
		}
		for _, refID := range referrers {
			if err := r.stripRelationship(ctx, refID, id); err != nil {
				return err
			}
		}
	}

	path, foundScope, err := r.resolve(id, scope)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return kiwierr.Wrap(kiwierr.KindNotFound, err, "delete knowledge entry "+id)
	}
	r.paths.Invalidate(types.KindKnowledge, id, foundScope)
	removeVersions(r.baseDir(foundScope), id)
	r.removeFromIndex(foundScope, id)
	return nil
}

func (r *KnowledgeRegistry) referrers(targetZettelID string) ([]string, error) {
	var out []string
	for _, scope := range r.localScopes() {
		entries, err := r.walk(scope)
		if err != nil {
			return nil, kiwierr.Wrap(kiwierr.KindNotFound, err, "scan knowledge entries for referrers")
		}
		for _, e := range entries {
			if e.id == targetZettelID {
				continue
			}
			content, readErr := os.ReadFile(e.path)
			if readErr != nil {
				continue
			}
			k, _, perr := metadata.ParseKnowledge(e.id, content, false)
			if perr != nil {
				continue
			}
			for _, rel := range k.Relationships {
				if rel.TargetZettelID == targetZettelID {
					out = append(out, e.id)
					break
				}
			}
		}
	}
	return out, nil
}

func (r *KnowledgeRegistry) stripRelationship(ctx context.Context, zettelID, targetZettelID string) error {
	content, summary, err := r.Get(ctx, zettelID, "")
	if err != nil {
		return err
	}
	k, _, err := metadata.ParseKnowledge(zettelID, content, false)
	if err != nil {
		return err
	}
	kept := k.Relationships[:0]
	for _, rel := range k.Relationships {
		if rel.TargetZettelID != targetZettelID {
			kept = append(kept, rel)
		}
	}
	k.Relationships = kept
	rendered := metadata.RenderKnowledge(k)
	_, err = r.Publish(ctx, PublishRequest{ID: zettelID, Category: summary.Category, Scope: summary.Scope, Content: rendered})
	return err
}

// Relationships returns id's declared outgoing relationships.
func (r *KnowledgeRegistry) Relationships(ctx context.Context, zettelID string, scope types.Scope) ([]types.KnowledgeRelationship, error) {
	content, _, err := r.Get(ctx, zettelID, scope)
	if err != nil {
		return nil, err
	}
	k, _, err := metadata.ParseKnowledge(zettelID, content, false)
	if err != nil {
		return nil, err
	}
	return k.Relationships, nil
}

// AddRelationship appends a new outgoing relationship and republishes the
// entry, re-signing it with the updated content.
func (r *KnowledgeRegistry) AddRelationship(ctx context.Context, zettelID string, scope types.Scope, rel types.KnowledgeRelationship) error {
	content, summary, err := r.Get(ctx, zettelID, scope)
	if err != nil {
		return err
	}
	k, _, err := metadata.ParseKnowledge(zettelID, content, false)
	if err != nil {
		return err
	}
	for _, existing := range k.Relationships {
		if existing.TargetZettelID == rel.TargetZettelID && existing.RelationshipType == rel.RelationshipType {
			return nil // already present
		}
	}
	k.Relationships = append(k.Relationships, rel)
	rendered := metadata.RenderKnowledge(k)
	_, err = r.Publish(ctx, PublishRequest{ID: zettelID, Category: summary.Category, Scope: summary.Scope, Content: rendered})
	return err
}

// Collections returns id's declared collection memberships.
func (r *KnowledgeRegistry) Collections(ctx context.Context, zettelID string, scope types.Scope) ([]string, error) {
	content, _, err := r.Get(ctx, zettelID, scope)
	if err != nil {
		return nil, err
	}
	k, _, err := metadata.ParseKnowledge(zettelID, content, false)
	if err != nil {
		return nil, err
	}
	return k.Collections, nil
}

var _ SearchProvider = (*KnowledgeRegistry)(nil)
var _ CrudProvider = (*KnowledgeRegistry)(nil)
var _ GraphProvider = (*KnowledgeRegistry)(nil)
