package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp/internal/chain"
	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

const samplePrimitive = `TOOL_METADATA = {
    "version": "1.0.0",
    "description": "Echoes its input back",
    "tool_type": "primitive",
}

def run(ctx):
    return ctx.input
`

func samplePipe(executorID string) string {
	return `TOOL_METADATA = {
    "version": "1.0.0",
    "description": "Pipes through another tool",
    "tool_type": "script",
    "executor": {"tool_id": "` + executorID + `"},
}
`
}

func newTestToolRegistry(t *testing.T) (*ToolRegistry, func(ids []string) *ToolRegistry) {
	paths, _ := newTestPaths(t)
	verifier := chain.NewVerifier()
	reg := NewToolRegistry(paths, nil, verifier, nil)
	withBuiltins := func(ids []string) *ToolRegistry {
		return NewToolRegistry(paths, nil, verifier, ids)
	}
	return reg, withBuiltins
}

func TestToolRegistry_PublishGetList(t *testing.T) {
	reg, _ := newTestToolRegistry(t)
	ctx := context.Background()

	result, err := reg.Publish(ctx, PublishRequest{ID: "echo", Category: "core", Scope: types.ScopeProject, Content: []byte(samplePrimitive)})
	require.NoError(t, err)
	require.Equal(t, "1.0.0", result.Version)
	require.FileExists(t, result.Path)

	content, summary, err := reg.Get(ctx, "echo", types.ScopeProject)
	require.NoError(t, err)
	require.Contains(t, string(content), "validated:")
	require.Equal(t, "1.0.0", summary.Version)

	list, err := reg.List(ctx, types.ScopeProject, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestToolRegistry_PublishRejectsUnversioned(t *testing.T) {
	reg, _ := newTestToolRegistry(t)
	_, err := reg.Publish(context.Background(), PublishRequest{ID: "noversion", Scope: types.ScopeProject, Content: []byte("def run(ctx):\n    return None\n")})
	require.Error(t, err)
	var kerr *kiwierr.Error
	require.True(t, errors.As(err, &kerr))
	require.Equal(t, kiwierr.KindInput, kerr.Kind)
}

func TestToolRegistry_Chain(t *testing.T) {
	reg, _ := newTestToolRegistry(t)
	ctx := context.Background()

	_, err := reg.Publish(ctx, PublishRequest{ID: "base", Scope: types.ScopeProject, Content: []byte(samplePrimitive)})
	require.NoError(t, err)
	_, err = reg.Publish(ctx, PublishRequest{ID: "wrapper", Scope: types.ScopeProject, Content: []byte(samplePipe("base"))})
	require.NoError(t, err)

	links, result, err := reg.Chain(ctx, "wrapper")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, links, 2)
	require.Equal(t, "wrapper", links[0].ToolID)
	require.Equal(t, "base", links[1].ToolID)
}

func TestToolRegistry_DeleteRefusesWithDependents(t *testing.T) {
	reg, _ := newTestToolRegistry(t)
	ctx := context.Background()

	_, err := reg.Publish(ctx, PublishRequest{ID: "base", Scope: types.ScopeProject, Content: []byte(samplePrimitive)})
	require.NoError(t, err)
	_, err = reg.Publish(ctx, PublishRequest{ID: "wrapper", Scope: types.ScopeProject, Content: []byte(samplePipe("base"))})
	require.NoError(t, err)

	err = reg.Delete(ctx, "base", types.ScopeProject, false)
	require.Error(t, err)
	var kerr *kiwierr.Error
	require.True(t, errors.As(err, &kerr))
	require.Equal(t, kiwierr.KindValidation, kerr.Kind)

	require.NoError(t, reg.Delete(ctx, "base", types.ScopeProject, true))

	_, _, err = reg.Get(ctx, "wrapper", types.ScopeProject)
	require.Error(t, err, "cascade delete should have removed the dependent wrapper too")
}

func TestToolRegistry_DeleteProtectsBuiltins(t *testing.T) {
	_, withBuiltins := newTestToolRegistry(t)
	reg := withBuiltins([]string{"base"})
	ctx := context.Background()

	_, err := reg.Publish(ctx, PublishRequest{ID: "base", Scope: types.ScopeProject, Content: []byte(samplePrimitive)})
	require.NoError(t, err)

	err = reg.Delete(ctx, "base", types.ScopeProject, false)
	require.Error(t, err)
	var kerr *kiwierr.Error
	require.True(t, errors.As(err, &kerr))
	require.Equal(t, kiwierr.KindPermission, kerr.Kind)
}

func TestToolRegistry_Search(t *testing.T) {
	reg, _ := newTestToolRegistry(t)
	ctx := context.Background()

	_, err := reg.Publish(ctx, PublishRequest{ID: "echo", Scope: types.ScopeProject, Content: []byte(samplePrimitive)})
	require.NoError(t, err)

	results, err := reg.Search(ctx, "echoes input", SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "echo", results[0].ItemID)
}
