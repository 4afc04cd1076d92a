package lockfile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp/internal/types"
)

func sampleChain() []types.ChainLink {
	return []types.ChainLink{
		{ToolID: "wrapper", Version: "1.0.0", ExecutorID: "base", ContentHash: "hash-wrapper"},
		{ToolID: "base", Version: "1.0.0", ContentHash: "hash-base"},
	}
}

func TestFreezeRejectsEmptyChain(t *testing.T) {
	_, err := Freeze(nil, "")
	require.Error(t, err)
}

func TestFreezeBuildsLockfileFromChain(t *testing.T) {
	lf, err := Freeze(sampleChain(), "https://registry.example/kiwi")
	require.NoError(t, err)
	require.Equal(t, CurrentLockfileVersion, lf.LockfileVersion)
	require.Equal(t, "wrapper", lf.Root.ToolID)
	require.Len(t, lf.ResolvedChain, 2)
	require.NotNil(t, lf.Registry)
	require.Equal(t, "https://registry.example/kiwi", lf.Registry.URL)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	projectRoot := t.TempDir()
	store := NewStore(projectRoot, "")

	lf, err := Freeze(sampleChain(), "")
	require.NoError(t, err)

	path, err := store.Save(lf, "core", types.ScopeProject, "")
	require.NoError(t, err)
	require.FileExists(t, path)

	loaded, err := store.Load("wrapper", "1.0.0", "core")
	require.NoError(t, err)
	require.Equal(t, lf.Root.ToolID, loaded.Root.ToolID)
	require.Len(t, loaded.ResolvedChain, 2)
	require.Equal(t, "hash-wrapper", loaded.ResolvedChain[0].Integrity)
}

func TestSaveWithChainHashDistinguishesVariants(t *testing.T) {
	projectRoot := t.TempDir()
	store := NewStore(projectRoot, "")

	lf, err := Freeze(sampleChain(), "")
	require.NoError(t, err)

	path1, err := store.Save(lf, "core", types.ScopeProject, "abc123def456")
	require.NoError(t, err)
	path2, err := store.Save(lf, "core", types.ScopeProject, "fedcba654321")
	require.NoError(t, err)
	require.NotEqual(t, path1, path2)
	require.FileExists(t, path1)
	require.FileExists(t, path2)

	loaded, err := store.Load("wrapper", "1.0.0", "core")
	require.NoError(t, err)
	require.Equal(t, "wrapper", loaded.Root.ToolID)
}

func TestLoadPrefersProjectOverUser(t *testing.T) {
	projectRoot, userRoot := t.TempDir(), t.TempDir()
	store := NewStore(projectRoot, userRoot)

	projectChain := sampleChain()
	projectChain[0].ContentHash = "project-hash"
	projLF, err := Freeze(projectChain, "")
	require.NoError(t, err)
	_, err = store.Save(projLF, "core", types.ScopeProject, "")
	require.NoError(t, err)

	userChain := sampleChain()
	userChain[0].ContentHash = "user-hash"
	userLF, err := Freeze(userChain, "")
	require.NoError(t, err)
	_, err = store.Save(userLF, "core", types.ScopeUser, "")
	require.NoError(t, err)

	loaded, err := store.Load("wrapper", "1.0.0", "core")
	require.NoError(t, err)
	require.Equal(t, "project-hash", loaded.ResolvedChain[0].Integrity)
}

func TestValidateAgainstChainDetectsIntegrityMismatch(t *testing.T) {
	lf, err := Freeze(sampleChain(), "")
	require.NoError(t, err)

	resolved := sampleChain()
	resolved[1].ContentHash = "tampered-hash"

	result := ValidateAgainstChain(lf, resolved)
	require.False(t, result.Valid)
	require.NotEmpty(t, result.Issues)
}

func TestValidateAgainstChainAcceptsMatchingChain(t *testing.T) {
	lf, err := Freeze(sampleChain(), "")
	require.NoError(t, err)

	result := ValidateAgainstChain(lf, sampleChain())
	require.True(t, result.Valid)
	require.Empty(t, result.Issues)
}

func TestValidateAgainstChainDetectsLengthMismatch(t *testing.T) {
	lf, err := Freeze(sampleChain(), "")
	require.NoError(t, err)

	result := ValidateAgainstChain(lf, sampleChain()[:1])
	require.False(t, result.Valid)
	require.Len(t, result.Issues, 1)
}

func TestPruneStaleRemovesOldEntries(t *testing.T) {
	projectRoot := t.TempDir()
	store := NewStore(projectRoot, "")

	lf, err := Freeze(sampleChain(), "")
	require.NoError(t, err)
	path, err := store.Save(lf, "core", types.ScopeProject, "")
	require.NoError(t, err)
	require.FileExists(t, path)

	removed, err := store.PruneStale(-1, types.ScopeProject)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	require.NoFileExists(t, path)
	_, err = store.Load("wrapper", "1.0.0", "core")
	require.Error(t, err)
}

func TestPruneStaleKeepsRecentEntries(t *testing.T) {
	projectRoot := t.TempDir()
	store := NewStore(projectRoot, "")

	lf, err := Freeze(sampleChain(), "")
	require.NoError(t, err)
	_, err = store.Save(lf, "core", types.ScopeProject, "")
	require.NoError(t, err)

	removed, err := store.PruneStale(30, types.ScopeProject)
	require.NoError(t, err)
	require.Equal(t, 0, removed)

	_, err = store.Load("wrapper", "1.0.0", "core")
	require.NoError(t, err)
}

func TestChainHashIsDeterministic(t *testing.T) {
	lf, err := Freeze(sampleChain(), "")
	require.NoError(t, err)

	h1 := ChainHash(lf)
	h2 := ChainHash(lf)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 12)

	lf2, err := Freeze(sampleChain(), "")
	require.NoError(t, err)
	lf2.GeneratedAt = time.Now().UTC().Add(time.Hour)
	require.Equal(t, h1, ChainHash(lf2), "chain hash depends only on the resolved chain, not generation time")
}
