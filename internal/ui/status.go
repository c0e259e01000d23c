package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo contains catalog health information.
type StatusInfo struct {
	// Catalog stats
	DataDir     string    `json:"data_dir"`
	TotalItems  int       `json:"total_items"`
	LastIndexed time.Time `json:"last_indexed"`

	// Vector index stats
	VectorRecords int    `json:"vector_records"`
	GraphNodes    int    `json:"graph_nodes"`
	Orphans       int    `json:"orphans"`
	Dimensions    int    `json:"dimensions"`
	Metric        string `json:"metric"`

	// Storage sizes (in bytes)
	MetadataSize int64 `json:"metadata_size"`
	VectorSize   int64 `json:"vector_size"`
	LogSize      int64 `json:"log_size"`
	TotalSize    int64 `json:"total_size"`

	// Component status
	EmbedderModel  string `json:"embedder_model"`
	EmbedderStatus string `json:"embedder_status"` // "ready", "unavailable", "error"
	EmbedderDims   int    `json:"embedder_dims"`

	// Dead letters persisted in the metadata store.
	DeadLetters int `json:"dead_letters"`
}

// StatusRenderer displays catalog status.
type StatusRenderer struct {
	out     io.Writer
	styles  Styles
	noColor bool
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:     out,
		styles:  GetStyles(noColor),
		noColor: noColor,
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Catalog Status: "+info.DataDir))

	_, _ = fmt.Fprintf(r.out, "  Items:        %d\n", info.TotalItems)
	if !info.LastIndexed.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last indexed: %s\n", formatTime(info.LastIndexed))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Vectors:")
	_, _ = fmt.Fprintf(r.out, "    Records:    %d\n", info.VectorRecords)
	_, _ = fmt.Fprintf(r.out, "    Graph:      %d nodes\n", info.GraphNodes)
	_, _ = fmt.Fprintf(r.out, "    Orphans:    %s\n", r.renderOrphans(info.Orphans))
	_, _ = fmt.Fprintf(r.out, "    Dimensions: %d (%s)\n", info.Dimensions, info.Metric)
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Metadata:   %s\n", FormatBytes(info.MetadataSize))
	_, _ = fmt.Fprintf(r.out, "    Vectors:    %s\n", FormatBytes(info.VectorSize))
	_, _ = fmt.Fprintf(r.out, "    Logs:       %s\n", FormatBytes(info.LogSize))
	_, _ = fmt.Fprintf(r.out, "    Total:      %s\n", FormatBytes(info.TotalSize))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Embedder:")
	_, _ = fmt.Fprintf(r.out, "    Model:  %s\n", info.EmbedderModel)
	_, _ = fmt.Fprintf(r.out, "    Status: %s\n", r.renderStatus(info.EmbedderStatus))
	if info.EmbedderDims > 0 {
		_, _ = fmt.Fprintf(r.out, "    Dims:   %d\n", info.EmbedderDims)
	}

	if info.DeadLetters > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "  Dead letters: %s\n",
			r.styles.Warning.Render(fmt.Sprintf("%d", info.DeadLetters)))
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus formats a status string with color.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "running":
		return r.styles.Success.Render(status)
	case "unavailable", "stopped":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// renderOrphans colors the orphan count when nonzero.
func (r *StatusRenderer) renderOrphans(n int) string {
	if n > 0 {
		return r.styles.Warning.Render(fmt.Sprintf("%d", n))
	}
	return fmt.Sprintf("%d", n)
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	now := time.Now()
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
