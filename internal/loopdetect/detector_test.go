package loopdetect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestExactRepeat matches spec S4: recording (write_file, {path:"x"}) three
// times signals exact_repeat on the third call, and the fourth identical
// call still signals.
func TestExactRepeat(t *testing.T) {
	d := New()
	params := map[string]any{"path": "x"}

	require.Nil(t, d.Record("write_file", params))
	require.Nil(t, d.Record("write_file", params))

	sig := d.Record("write_file", params)
	require.NotNil(t, sig)
	require.Equal(t, PatternExactRepeat, sig.PatternType)
	require.Equal(t, "write_file", sig.ToolID)

	sig2 := d.Record("write_file", params)
	require.NotNil(t, sig2)
	require.Equal(t, PatternExactRepeat, sig2.PatternType)
}

func TestNoSignalOnDistinctCalls(t *testing.T) {
	d := New()
	require.Nil(t, d.Record("read_file", map[string]any{"path": "a"}))
	require.Nil(t, d.Record("read_file", map[string]any{"path": "b"}))
	require.Nil(t, d.Record("read_file", map[string]any{"path": "c"}))
}

func TestAlternatingPattern(t *testing.T) {
	d := New()
	a := map[string]any{"path": "a"}
	b := map[string]any{"path": "b"}

	require.Nil(t, d.Record("read_file", a))
	require.Nil(t, d.Record("list_dir", b))
	require.Nil(t, d.Record("read_file", a))
	sig := d.Record("list_dir", b)
	require.NotNil(t, sig)
	require.Equal(t, PatternAlternating, sig.PatternType)
}

func TestSpiralPattern(t *testing.T) {
	d := New()
	require.Nil(t, d.Record("search", map[string]any{"query": "foo"}))
	require.Nil(t, d.Record("search", map[string]any{"query": "bar"}))
	require.Nil(t, d.Record("search", map[string]any{"query": "baz"}))
	sig := d.Record("search", map[string]any{"query": "qux"})
	require.NotNil(t, sig)
	require.Equal(t, PatternSpiral, sig.PatternType)
	require.Equal(t, "search", sig.ToolID)
}

func TestSpiralRequiresSharedKeySet(t *testing.T) {
	d := New()
	require.Nil(t, d.Record("search", map[string]any{"query": "foo"}))
	require.Nil(t, d.Record("search", map[string]any{"other": "bar"}))
	require.Nil(t, d.Record("search", map[string]any{"query": "baz"}))
	sig := d.Record("search", map[string]any{"query": "qux"})
	require.Nil(t, sig)
}

func TestNormalizationDropsVolatileKeys(t *testing.T) {
	d := New()
	base := func(ts string) map[string]any {
		return map[string]any{"path": "x", "timestamp": ts, "session_id": "s", "request_id": "r"}
	}
	require.Nil(t, d.Record("write_file", base("t1")))
	require.Nil(t, d.Record("write_file", base("t2")))
	sig := d.Record("write_file", base("t3"))
	require.NotNil(t, sig)
	require.Equal(t, PatternExactRepeat, sig.PatternType)
}

func TestNormalizationCanonicalizesPathSeparators(t *testing.T) {
	d := New()
	require.Nil(t, d.Record("write_file", map[string]any{"path": "a/b/c"}))
	require.Nil(t, d.Record("write_file", map[string]any{"path": `a\b\c`}))
	sig := d.Record("write_file", map[string]any{"path": "a/b/c"})
	require.NotNil(t, sig)
}

func TestLastProgressTimeUpdatesOnWriteIndicatingCall(t *testing.T) {
	d := New()
	initial := d.LastProgressTime()
	d.Record("write_file", map[string]any{"path": "x"})
	require.True(t, !d.LastProgressTime().Before(initial))
}

func TestWindowSizeEviction(t *testing.T) {
	d := NewWithConfig(3, 3)
	require.Nil(t, d.Record("a", map[string]any{"k": 1}))
	require.Nil(t, d.Record("b", map[string]any{"k": 1}))
	require.Nil(t, d.Record("c", map[string]any{"k": 1}))
	require.Len(t, d.window, 3)
	d.Record("d", map[string]any{"k": 1})
	require.Len(t, d.window, 3)
	require.Equal(t, "b", d.window[0].toolID)
}
