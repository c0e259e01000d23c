package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IndexInfo summarizes the on-disk footprint of one data directory.
type IndexInfo struct {
	DataDir     string    `json:"data_dir"`
	StoreBytes  int64     `json:"store_bytes"`
	VectorBytes int64     `json:"vector_bytes"`
	TotalBytes  int64     `json:"total_bytes"`
	StoreMTime  time.Time `json:"store_mtime,omitempty"`
	VectorMTime time.Time `json:"vector_mtime,omitempty"`
}

// CollectInfo gathers sizes and modification times for the status
// output. Missing files contribute zero; the sidecar counts toward the
// vector index.
func CollectInfo(dataDir, storePath, vectorPath string) *IndexInfo {
	info := &IndexInfo{DataDir: dataDir}

	if st, err := os.Stat(storePath); err == nil {
		info.StoreBytes = st.Size()
		info.StoreMTime = st.ModTime()
	}
	// WAL and shm files belong to the store footprint.
	for _, suffix := range []string{"-wal", "-shm"} {
		if st, err := os.Stat(storePath + suffix); err == nil {
			info.StoreBytes += st.Size()
		}
	}

	if st, err := os.Stat(vectorPath); err == nil {
		info.VectorBytes = st.Size()
		info.VectorMTime = st.ModTime()
	}
	if st, err := os.Stat(vectorPath + ".meta"); err == nil {
		info.VectorBytes += st.Size()
	}

	info.TotalBytes = getDirSize(dataDir)
	return info
}

// getDirSize sums file sizes recursively. Unreadable entries count as
// zero.
func getDirSize(path string) int64 {
	var size int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

// FormatBytes renders a byte count for humans.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatTime renders a timestamp for humans; zero renders as unknown.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}
