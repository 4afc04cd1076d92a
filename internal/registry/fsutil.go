package registry

import (
	"os"
	"path/filepath"

	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
)

// writeAtomic writes data to path via temp-file + rename, the same
// torn-read-proof pattern the lockfile store uses (C8 §5.3).
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return kiwierr.Wrap(kiwierr.KindLockfile, err, "create artifact directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return kiwierr.Wrap(kiwierr.KindLockfile, err, "write artifact file")
	}
	return os.Rename(tmp, path)
}
