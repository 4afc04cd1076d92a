package integrity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp/internal/types"
)

func TestComputeToolIntegrity_KeyOrderIndependent(t *testing.T) {
	files := []types.FileEntry{
		{Path: "b.py", SHA256: "bb"},
		{Path: "a.py", SHA256: "aa"},
	}
	manifest1 := map[string]any{"entrypoint": "a.py", "config": map[string]any{"x": 1, "y": 2}}
	manifest2 := map[string]any{"config": map[string]any{"y": 2, "x": 1}, "entrypoint": "a.py"}

	h1, err := ComputeToolIntegrity("my-tool", "1.0.0", manifest1, files)
	require.NoError(t, err)
	h2, err := ComputeToolIntegrity("my-tool", "1.0.0", manifest2, files)
	require.NoError(t, err)
	require.Equal(t, h1, h2, "key order must not affect the hash")

	reversedFiles := []types.FileEntry{files[1], files[0]}
	h3, err := ComputeToolIntegrity("my-tool", "1.0.0", manifest1, reversedFiles)
	require.NoError(t, err)
	require.Equal(t, h1, h3, "file order must not affect the hash")
}

func TestComputeToolIntegrity_ContentBytesExcluded(t *testing.T) {
	base := []types.FileEntry{{Path: "a.py", SHA256: "aa", Content: []byte("print(1)")}}
	changedContentSameHash := []types.FileEntry{{Path: "a.py", SHA256: "aa", Content: []byte("print(2)")}}

	h1, err := ComputeToolIntegrity("t", "1.0.0", nil, base)
	require.NoError(t, err)
	h2, err := ComputeToolIntegrity("t", "1.0.0", nil, changedContentSameHash)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestComputeDirectiveIntegrity_Deterministic(t *testing.T) {
	meta := map[string]any{"category": "code/review", "description": "reviews code", "model_tier": "opus"}
	h1, err := ComputeDirectiveIntegrity("review-pr", "1.0.0", []byte("<directive></directive>"), meta)
	require.NoError(t, err)
	h2, err := ComputeDirectiveIntegrity("review-pr", "1.0.0", []byte("<directive></directive>"), meta)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	h3, err := ComputeDirectiveIntegrity("review-pr", "1.0.0", []byte("<directive>changed</directive>"), meta)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}

func TestComputeDirectiveIntegrity_IgnoresUnlistedMetadata(t *testing.T) {
	meta1 := map[string]any{"category": "x", "extra_field": "ignored"}
	meta2 := map[string]any{"category": "x", "extra_field": "different but still ignored"}
	h1, err := ComputeDirectiveIntegrity("d", "1.0.0", []byte("<d/>"), meta1)
	require.NoError(t, err)
	h2, err := ComputeDirectiveIntegrity("d", "1.0.0", []byte("<d/>"), meta2)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestComputeKnowledgeIntegrity_ExcludesValidationFields(t *testing.T) {
	meta := map[string]any{"tags": []any{"go"}, "validated_at": "2024-01-01", "integrity": "deadbeef"}
	h1, err := ComputeKnowledgeIntegrity("2024-01-01-go-tips", "1.0.0", "chash", meta)
	require.NoError(t, err)

	meta2 := map[string]any{"tags": []any{"go"}, "validated_at": "2099-12-31", "integrity": "other"}
	h2, err := ComputeKnowledgeIntegrity("2024-01-01-go-tips", "1.0.0", "chash", meta2)
	require.NoError(t, err)
	require.Equal(t, h1, h2, "validation fields must not affect the hash, so re-signing converges")
}

func TestShortHash(t *testing.T) {
	require.Equal(t, "abcdefabcdef", ShortHash("abcdefabcdef0123456789"))
	require.Equal(t, "abc", ShortHash("abc"))
}
