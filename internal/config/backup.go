package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// MaxConfigBackups is how many timestamped config backups are kept.
	MaxConfigBackups = 3

	backupSuffix = ".bak"
)

// BackupUserConfig copies the user config file to a timestamped backup
// next to it and prunes backups beyond MaxConfigBackups. It returns the
// backup path, or an empty string when there is no config to back up.
func BackupUserConfig() (string, error) {
	path := GetUserConfigPath()
	if path == "" || !fileExists(path) {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	stamp := time.Now().Format("20060102-150405")
	backupPath := fmt.Sprintf("%s%s.%s", path, backupSuffix, stamp)
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write config backup: %w", err)
	}

	// Pruning is best effort; the backup itself already succeeded.
	_ = pruneConfigBackups()

	return backupPath, nil
}

// ListUserConfigBackups returns backup files for the user config,
// newest first.
func ListUserConfigBackups() ([]string, error) {
	path := GetUserConfigPath()
	if path == "" {
		return nil, nil
	}
	dir := filepath.Dir(path)
	prefix := filepath.Base(path) + backupSuffix + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list config directory: %w", err)
	}

	var backups []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		backups = append(backups, filepath.Join(dir, entry.Name()))
	}

	sort.Slice(backups, func(i, j int) bool {
		a, errA := os.Stat(backups[i])
		b, errB := os.Stat(backups[j])
		if errA != nil || errB != nil {
			return false
		}
		return a.ModTime().After(b.ModTime())
	})
	return backups, nil
}

func pruneConfigBackups() error {
	backups, err := ListUserConfigBackups()
	if err != nil {
		return err
	}
	for _, old := range backups[min(len(backups), MaxConfigBackups):] {
		_ = os.Remove(old)
	}
	return nil
}

// RestoreUserConfig replaces the user config with the given backup.
// The current config, if present, is backed up first.
func RestoreUserConfig(backupPath string) error {
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup file not found: %w", err)
	}

	if UserConfigExists() {
		if _, err := BackupUserConfig(); err != nil {
			return fmt.Errorf("failed to back up current config: %w", err)
		}
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}
	if err := os.MkdirAll(GetUserConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(GetUserConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("failed to restore config: %w", err)
	}
	return nil
}
