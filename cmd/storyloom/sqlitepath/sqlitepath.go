// Package sqlitepath resolves the SQLite database file the storyloom server
// and vector store use when none is configured.
package sqlitepath

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/papercomputeco/storyloom/pkg/dotdir"
)

// DefaultFileName is the database created in the .storyloom/ directory.
const DefaultFileName = "storyloom.db"

// ResolveSQLitePath returns the database path. Precedence: override, the
// STORYLOOM_DB environment variable, the first existing candidate file, then
// DefaultFileName inside the resolved .storyloom/ directory.
func ResolveSQLitePath(override, configDir string) (string, error) {
	if override != "" {
		return override, nil
	}

	if envPath := strings.TrimSpace(os.Getenv("STORYLOOM_DB")); envPath != "" {
		return envPath, nil
	}

	for _, candidate := range sqliteCandidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return dotdir.NewManager().Path(configDir, DefaultFileName)
}

func sqliteCandidates() []string {
	candidates := []string{
		DefaultFileName,
		filepath.Join(dotdir.DirName, DefaultFileName),
	}

	if xdgHome := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdgHome != "" {
		candidates = append([]string{
			filepath.Join(xdgHome, "storyloom", DefaultFileName),
		}, candidates...)
	}

	return candidates
}
