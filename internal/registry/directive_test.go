package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp/internal/pathsvc"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

func newTestPaths(t *testing.T) (*pathsvc.Service, string) {
	t.Helper()
	projectRoot := t.TempDir()
	return pathsvc.New(pathsvc.Roots{Project: projectRoot}), projectRoot
}

const sampleDirective = "```xml\n" +
	`<directive name="greet" version="1.0.0">
  <metadata>
    <description>Say hello to the user</description>
    <model_tier>small</model_tier>
  </metadata>
  <inputs>
    <input name="name" type="string" required="true">The name to greet</input>
  </inputs>
  <process>
    <step>Say hello to {name}</step>
  </process>
  <outputs>A greeting string</outputs>
</directive>` + "\n```\n"

func TestDirectiveRegistry_PublishGetList(t *testing.T) {
	paths, _ := newTestPaths(t)
	reg := NewDirectiveRegistry(paths, nil)
	ctx := context.Background()

	result, err := reg.Publish(ctx, PublishRequest{
		ID: "greet", Category: "onboarding", Scope: types.ScopeProject,
		Content: []byte(sampleDirective),
	})
	require.NoError(t, err)
	require.Equal(t, "1.0.0", result.Version)
	require.Equal(t, "", result.PriorLatest)
	require.FileExists(t, result.Path)

	content, summary, err := reg.Get(ctx, "greet", types.ScopeProject)
	require.NoError(t, err)
	require.Contains(t, string(content), "validated:")
	require.Equal(t, "1.0.0", summary.Version)
	require.True(t, summary.Latest)

	list, err := reg.List(ctx, types.ScopeProject, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "greet", list[0].ID)

	links, err := reg.Links(ctx, "greet", types.ScopeProject)
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestDirectiveRegistry_RepublishMarksPriorVersion(t *testing.T) {
	paths, _ := newTestPaths(t)
	reg := NewDirectiveRegistry(paths, nil)
	ctx := context.Background()

	_, err := reg.Publish(ctx, PublishRequest{ID: "greet", Scope: types.ScopeProject, Content: []byte(sampleDirective)})
	require.NoError(t, err)

	updated := []byte("```xml\n" + `<directive name="greet" version="1.1.0">
  <metadata>
    <description>Say hello, now louder</description>
  </metadata>
  <inputs></inputs>
  <process><step>SHOUT hello to {name}</step></process>
  <outputs>A greeting string</outputs>
</directive>` + "\n```\n")

	result, err := reg.Publish(ctx, PublishRequest{ID: "greet", Scope: types.ScopeProject, Content: updated})
	require.NoError(t, err)
	require.Equal(t, "1.0.0", result.PriorLatest)
	require.Equal(t, "1.1.0", result.Version)

	versions := loadVersions(reg.baseDir(types.ScopeProject), "greet")
	require.Len(t, versions, 2)
	latestCount := 0
	for _, v := range versions {
		if v.Latest {
			latestCount++
		}
	}
	require.Equal(t, 1, latestCount)
}

func TestDirectiveRegistry_PublishRejectsIDMismatch(t *testing.T) {
	paths, _ := newTestPaths(t)
	reg := NewDirectiveRegistry(paths, nil)

	_, err := reg.Publish(context.Background(), PublishRequest{ID: "other-name", Scope: types.ScopeProject, Content: []byte(sampleDirective)})
	require.Error(t, err)
}

func TestDirectiveRegistry_Search(t *testing.T) {
	paths, _ := newTestPaths(t)
	reg := NewDirectiveRegistry(paths, nil)
	ctx := context.Background()

	_, err := reg.Publish(ctx, PublishRequest{ID: "greet", Scope: types.ScopeProject, Content: []byte(sampleDirective)})
	require.NoError(t, err)

	results, err := reg.Search(ctx, "hello greeting", SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "greet", results[0].ItemID)
}

func TestDirectiveRegistry_Delete(t *testing.T) {
	paths, _ := newTestPaths(t)
	reg := NewDirectiveRegistry(paths, nil)
	ctx := context.Background()

	_, err := reg.Publish(ctx, PublishRequest{ID: "greet", Scope: types.ScopeProject, Content: []byte(sampleDirective)})
	require.NoError(t, err)

	require.NoError(t, reg.Delete(ctx, "greet", types.ScopeProject, false))

	_, _, err = reg.Get(ctx, "greet", types.ScopeProject)
	require.Error(t, err)

	_, err = os.Stat(filepath.Join(reg.baseDir(types.ScopeProject), ".versions", "greet.json"))
	require.Error(t, err)
}
