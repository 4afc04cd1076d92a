package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
)

// The on-disk artifact tree keeps only the latest content per id (per
// spec §6's file layout); version history — the rows publish's "mark old
// version non-latest, insert new version row" language refers to — lives
// in a small sidecar file per id, {base}/.versions/{id}.json under each
// scope's base directory, mirroring the lockfile store's
// .index.json pattern (C8).
func versionsPath(baseDir, id string) string {
	return filepath.Join(baseDir, ".versions", id+".json")
}

func loadVersions(baseDir, id string) []versionEntry {
	data, err := os.ReadFile(versionsPath(baseDir, id))
	if err != nil {
		return nil
	}
	var list []versionEntry
	if json.Unmarshal(data, &list) != nil {
		return nil
	}
	return list
}

func saveVersions(baseDir, id string, list []versionEntry) error {
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	path := versionsPath(baseDir, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return kiwierr.Wrap(kiwierr.KindLockfile, err, "create version index dir")
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return kiwierr.Wrap(kiwierr.KindLockfile, err, "marshal version index")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return kiwierr.Wrap(kiwierr.KindLockfile, err, "write version index")
	}
	return os.Rename(tmp, path)
}

// latestVersion returns the current latest entry, or the zero value if
// this id has no recorded history yet.
func latestVersion(baseDir, id string) (versionEntry, bool) {
	for _, v := range loadVersions(baseDir, id) {
		if v.Latest {
			return v, true
		}
	}
	return versionEntry{}, false
}

// recordVersion marks every existing entry non-latest and appends a fresh
// latest row, returning the prior latest version string ("" if none).
func recordVersion(baseDir, id string, next versionEntry) (prior string, err error) {
	list := loadVersions(baseDir, id)
	for i := range list {
		if list[i].Latest {
			prior = list[i].Version
		}
		list[i].Latest = false
	}
	next.Latest = true
	list = append(list, next)
	if err := saveVersions(baseDir, id, list); err != nil {
		return prior, err
	}
	return prior, nil
}

// removeVersions deletes an id's version history entirely, used by Delete.
func removeVersions(baseDir, id string) {
	_ = os.Remove(versionsPath(baseDir, id))
}
