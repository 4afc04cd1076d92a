package proxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp/internal/audit"
	"github.com/leolilley/kiwi-mcp/internal/capability"
	"github.com/leolilley/kiwi-mcp/internal/chain"
	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/permission"
	"github.com/leolilley/kiwi-mcp/internal/primitive"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

type fakeToolSource struct {
	tools map[string]*chain.LoadedTool
}

func (f *fakeToolSource) Load(id string) (*chain.LoadedTool, error) {
	t, ok := f.tools[id]
	if !ok {
		return nil, kiwierr.New(kiwierr.KindNotFound, "tool not found: "+id)
	}
	return t, nil
}

type fakeExecutor struct {
	output string
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, manifest, params map[string]any) (string, error) {
	return f.output, f.err
}

func newTestProxy(t *testing.T, tools *fakeToolSource, execs primitive.Registry) (*Proxy, string) {
	t.Helper()
	dir := t.TempDir()
	logger := audit.New(dir, "sess-1")
	t.Cleanup(func() { logger.Close() })
	return New("sess-1", tools, execs, logger), dir
}

func fullPermCtx() *permission.Context {
	return &permission.Context{Token: &types.CapabilityToken{Caps: []string{capability.ToolCap("echo")}}}
}

func TestCall_SuccessPath(t *testing.T) {
	tools := &fakeToolSource{tools: map[string]*chain.LoadedTool{
		"echo": {Tool: &types.Tool{ToolType: types.ToolTypePrimitive, Manifest: map[string]any{"command": "echo hi", "executor": "subprocess"}}},
	}}
	execs := primitive.Registry{"subprocess": &fakeExecutor{output: "hi"}}
	p, _ := newTestProxy(t, tools, execs)

	result := p.Call(context.Background(), fullPermCtx(), "echo", map[string]any{})
	require.True(t, result.Success)
	require.Equal(t, "hi", result.Output)
}

func TestCall_ResolvesChainAndDispatchesOnTerminalManifest(t *testing.T) {
	tools := &fakeToolSource{tools: map[string]*chain.LoadedTool{
		"echo": {Tool: &types.Tool{ToolType: types.ToolTypeScript, ExecutorID: "echo-runtime"}},
		"echo-runtime": {Tool: &types.Tool{
			ToolType: types.ToolTypePrimitive,
			Manifest: map[string]any{"executor": "subprocess", "command": "echo hi"},
		}},
	}}
	execs := primitive.Registry{"subprocess": &fakeExecutor{output: "hi"}}
	p, _ := newTestProxy(t, tools, execs)

	result := p.Call(context.Background(), fullPermCtx(), "echo", map[string]any{})
	require.True(t, result.Success)
	require.Equal(t, "hi", result.Output)
}

func TestCall_DeniesMissingCapability(t *testing.T) {
	tools := &fakeToolSource{tools: map[string]*chain.LoadedTool{}}
	p, _ := newTestProxy(t, tools, primitive.Registry{})

	emptyCtx := &permission.Context{Token: &types.CapabilityToken{}}
	result := p.Call(context.Background(), emptyCtx, "echo", map[string]any{})
	require.False(t, result.Success)
	require.NotEmpty(t, result.AnnealingHint)
}

func TestCall_ToolNotFound(t *testing.T) {
	tools := &fakeToolSource{tools: map[string]*chain.LoadedTool{}}
	p, _ := newTestProxy(t, tools, primitive.Registry{})

	result := p.Call(context.Background(), fullPermCtx(), "echo", map[string]any{})
	require.False(t, result.Success)
	require.Contains(t, result.Error, "tool not found")
}

func TestCall_StuckSignalShortCircuitsBeforeExecution(t *testing.T) {
	tools := &fakeToolSource{tools: map[string]*chain.LoadedTool{
		"echo": {Tool: &types.Tool{ToolType: types.ToolTypePrimitive, Manifest: map[string]any{"executor": "subprocess"}}},
	}}
	execs := primitive.Registry{"subprocess": &fakeExecutor{output: "should not run"}}
	p, _ := newTestProxy(t, tools, execs)
	ctx := fullPermCtx()

	params := map[string]any{"path": "x"}
	p.Call(context.Background(), ctx, "echo", params)
	p.Call(context.Background(), ctx, "echo", params)
	result := p.Call(context.Background(), ctx, "echo", params)

	require.False(t, result.Success)
	require.NotNil(t, result.StuckSignal)
}

func TestCall_NoExecutorRegistered(t *testing.T) {
	tools := &fakeToolSource{tools: map[string]*chain.LoadedTool{
		"echo": {Tool: &types.Tool{ToolType: types.ToolTypePrimitive, Manifest: map[string]any{}}},
	}}
	p, _ := newTestProxy(t, tools, primitive.Registry{})

	result := p.Call(context.Background(), fullPermCtx(), "echo", map[string]any{})
	require.False(t, result.Success)
	require.Contains(t, result.Error, "no executor registered")
}
