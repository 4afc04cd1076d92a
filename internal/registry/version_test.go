package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordVersionTracksLatest(t *testing.T) {
	dir := t.TempDir()

	prior, err := recordVersion(dir, "greet", versionEntry{Version: "1.0.0", Integrity: "aaa", CreatedAt: time.Unix(1, 0).UTC()})
	require.NoError(t, err)
	require.Equal(t, "", prior)

	v, ok := latestVersion(dir, "greet")
	require.True(t, ok)
	require.Equal(t, "1.0.0", v.Version)

	prior, err = recordVersion(dir, "greet", versionEntry{Version: "1.1.0", Integrity: "bbb", CreatedAt: time.Unix(2, 0).UTC()})
	require.NoError(t, err)
	require.Equal(t, "1.0.0", prior)

	v, ok = latestVersion(dir, "greet")
	require.True(t, ok)
	require.Equal(t, "1.1.0", v.Version)

	all := loadVersions(dir, "greet")
	require.Len(t, all, 2)
	latestCount := 0
	for _, e := range all {
		if e.Latest {
			latestCount++
		}
	}
	require.Equal(t, 1, latestCount)
}

func TestRemoveVersionsClearsHistory(t *testing.T) {
	dir := t.TempDir()
	_, err := recordVersion(dir, "greet", versionEntry{Version: "1.0.0", CreatedAt: time.Unix(1, 0).UTC()})
	require.NoError(t, err)

	removeVersions(dir, "greet")

	_, ok := latestVersion(dir, "greet")
	require.False(t, ok)
	require.Empty(t, loadVersions(dir, "greet"))
}

func TestLatestVersionUnknownIDIsZeroValue(t *testing.T) {
	dir := t.TempDir()
	v, ok := latestVersion(dir, "nope")
	require.False(t, ok)
	require.Equal(t, versionEntry{}, v)
}
