package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp/internal/types"
)

func readLines(t *testing.T, dir string) []map[string]any {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLog_WritesJSONLine(t *testing.T) {
	root := t.TempDir()
	l := New(root, "sess-1")
	defer l.Close()

	l.Log(types.EventExecution, "bash", map[string]any{"params": map[string]any{"cmd": "ls"}})

	lines := readLines(t, filepath.Join(root, logDirSuffix))
	require.Len(t, lines, 1)
	require.Equal(t, "execution", lines[0]["event_type"])
	require.Equal(t, "bash", lines[0]["tool_id"])
	require.Equal(t, "sess-1", lines[0]["session_id"])
}

func TestLog_RedactsSecretParamsKeys(t *testing.T) {
	root := t.TempDir()
	l := New(root, "sess-1")
	defer l.Close()

	l.Log(types.EventExecution, "api_call", map[string]any{
		"params": map[string]any{
			"api_key":      "sk-abc123",
			"access_token": "xyz",
			"safe_field":   "keep-me",
		},
	})

	lines := readLines(t, filepath.Join(root, logDirSuffix))
	details := lines[0]["details"].(map[string]any)
	params := details["params"].(map[string]any)
	require.Equal(t, redactedMarker, params["api_key"])
	require.Equal(t, redactedMarker, params["access_token"])
	require.Equal(t, "keep-me", params["safe_field"])
}

func TestLog_TruncatesLongStrings(t *testing.T) {
	root := t.TempDir()
	l := New(root, "sess-1")
	defer l.Close()

	long := strings.Repeat("x", maxValueBytes+500)
	l.Log(types.EventExecution, "read_file", map[string]any{"output": long})

	lines := readLines(t, filepath.Join(root, logDirSuffix))
	details := lines[0]["details"].(map[string]any)
	out := details["output"].(string)
	require.True(t, strings.HasSuffix(out, truncatedMarker))
	require.Less(t, len(out), len(long))
}

func TestLog_AppendsMultipleEntriesToSameFile(t *testing.T) {
	root := t.TempDir()
	l := New(root, "sess-1")
	defer l.Close()

	l.Log(types.EventExecution, "a", nil)
	l.Log(types.EventExecution, "b", nil)
	l.Log(types.EventExecution, "c", nil)

	lines := readLines(t, filepath.Join(root, logDirSuffix))
	require.Len(t, lines, 3)
}

func TestLog_SwallowsFailureWhenDirUnwritable(t *testing.T) {
	root := t.TempDir()
	blocked := filepath.Join(root, "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("not a dir"), 0o644))

	l := New(blocked, "sess-1")
	defer l.Close()

	require.NotPanics(t, func() {
		l.Log(types.EventError, "x", nil)
	})
}
