package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogFileName is the active log file name inside the data directory's
// logs/ subdirectory.
const LogFileName = "vitrine.log"

// LogPath returns the active log file path for a data directory.
func LogPath(dataDir string) string {
	return filepath.Join(dataDir, "logs", LogFileName)
}

// FindLogFile locates the log file to view. An explicit path wins;
// otherwise the data directory's log file is used. Returns an error
// with a hint when neither exists.
func FindLogFile(explicit, dataDir string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return explicit, nil
	}

	path := LogPath(dataDir)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("no log file found at %s\nRun `vitrine serve` or `vitrine mcp` first to generate logs", path)
	}
	return path, nil
}
