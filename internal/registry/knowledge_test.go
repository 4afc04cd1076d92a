package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

const sampleZettel = `---
title: Python Generators
entry_type: note
version: 1.0.0
category: python
tags:
  - python
  - iterators
collections:
  - python-basics
---

Generators in Python use yield to produce values lazily.
`

func sampleReferrer(targetID string) string {
	return `---
title: Coroutines
entry_type: note
version: 1.0.0
category: python
relationships:
  - target: ` + targetID + `
    type: builds-on
---

Coroutines extend the generator protocol with send and throw.
`
}

func TestKnowledgeRegistry_PublishGetList(t *testing.T) {
	paths, _ := newTestPaths(t)
	reg := NewKnowledgeRegistry(paths, nil)
	ctx := context.Background()

	result, err := reg.Publish(ctx, PublishRequest{ID: "generators", Category: "python", Scope: types.ScopeProject, Content: []byte(sampleZettel)})
	require.NoError(t, err)
	require.Equal(t, "1.0.0", result.Version)

	content, summary, err := reg.Get(ctx, "generators", types.ScopeProject)
	require.NoError(t, err)
	require.Contains(t, string(content), "validated:")
	require.Equal(t, "1.0.0", summary.Version)

	list, err := reg.List(ctx, types.ScopeProject, "")
	require.NoError(t, err)
	require.Len(t, list, 1)

	collections, err := reg.Collections(ctx, "generators", types.ScopeProject)
	require.NoError(t, err)
	require.Equal(t, []string{"python-basics"}, collections)
}

func TestKnowledgeRegistry_RelationshipsAndCollections(t *testing.T) {
	paths, _ := newTestPaths(t)
	reg := NewKnowledgeRegistry(paths, nil)
	ctx := context.Background()

	_, err := reg.Publish(ctx, PublishRequest{ID: "generators", Scope: types.ScopeProject, Content: []byte(sampleZettel)})
	require.NoError(t, err)
	_, err = reg.Publish(ctx, PublishRequest{ID: "coroutines", Scope: types.ScopeProject, Content: []byte(sampleReferrer("generators"))})
	require.NoError(t, err)

	rels, err := reg.Relationships(ctx, "coroutines", types.ScopeProject)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	require.Equal(t, "generators", rels[0].TargetZettelID)

	require.NoError(t, reg.AddRelationship(ctx, "coroutines", types.ScopeProject, types.KnowledgeRelationship{TargetZettelID: "generators", RelationshipType: "builds-on"}))
	rels, err = reg.Relationships(ctx, "coroutines", types.ScopeProject)
	require.NoError(t, err)
	require.Len(t, rels, 1, "adding a duplicate relationship should be a no-op")

	require.NoError(t, reg.AddRelationship(ctx, "coroutines", types.ScopeProject, types.KnowledgeRelationship{TargetZettelID: "generators", RelationshipType: "see-also"}))
	rels, err = reg.Relationships(ctx, "coroutines", types.ScopeProject)
	require.NoError(t, err)
	require.Len(t, rels, 2)
}

func TestKnowledgeRegistry_DeleteRefusesWithReferrersThenCascadeStrips(t *testing.T) {
	paths, _ := newTestPaths(t)
	reg := NewKnowledgeRegistry(paths, nil)
	ctx := context.Background()

	_, err := reg.Publish(ctx, PublishRequest{ID: "generators", Scope: types.ScopeProject, Content: []byte(sampleZettel)})
	require.NoError(t, err)
	_, err = reg.Publish(ctx, PublishRequest{ID: "coroutines", Scope: types.ScopeProject, Content: []byte(sampleReferrer("generators"))})
	require.NoError(t, err)

	err = reg.Delete(ctx, "generators", types.ScopeProject, false)
	require.Error(t, err)
	var kerr *kiwierr.Error
	require.True(t, errors.As(err, &kerr))
	require.Equal(t, kiwierr.KindValidation, kerr.Kind)

	require.NoError(t, reg.Delete(ctx, "generators", types.ScopeProject, true))

	_, _, err = reg.Get(ctx, "generators", types.ScopeProject)
	require.Error(t, err)

	// coroutines should survive, with the dangling relationship stripped.
	rels, err := reg.Relationships(ctx, "coroutines", types.ScopeProject)
	require.NoError(t, err)
	require.Empty(t, rels)
}

func TestKnowledgeRegistry_Search(t *testing.T) {
	paths, _ := newTestPaths(t)
	reg := NewKnowledgeRegistry(paths, nil)
	ctx := context.Background()

	_, err := reg.Publish(ctx, PublishRequest{ID: "generators", Scope: types.ScopeProject, Content: []byte(sampleZettel)})
	require.NoError(t, err)

	results, err := reg.Search(ctx, "yield lazily", SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "generators", results[0].ItemID)
}
