package relay

import (
	"log/slog"
	"os"
	"path/filepath"
)

// WorkDirName is the subdirectory created under the preferred base.
const WorkDirName = "llm-relay"

// EnsureDir resolves and creates the directory the relay script is written to.
// A usable preferredBase wins; otherwise it falls back to the OS temp directory.
func EnsureDir(logger *slog.Logger, preferredBase string) string {
	if logger == nil {
		logger = slog.Default()
	}
	if preferredBase != "" && !isRoot(preferredBase) {
		dir := filepath.Join(preferredBase, WorkDirName)
		err := os.MkdirAll(dir, 0o700)
		if err == nil {
			return dir
		}
		logger.Warn("Cannot use preferred relay directory; falling back to temp dir",
			slog.String("dir", dir), slog.String("err", err.Error()))
	}
	dir := filepath.Join(os.TempDir(), WorkDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		logger.Warn("Cannot create relay directory in temp dir",
			slog.String("dir", dir), slog.String("err", err.Error()))
		return os.TempDir()
	}
	return dir
}

func isRoot(p string) bool {
	clean := filepath.Clean(p)
	return filepath.Dir(clean) == clean
}
