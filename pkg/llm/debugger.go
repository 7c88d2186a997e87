package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mcpchat/pkg/utils"
)

// DebugRoot is where raw completion chunks are dumped when debug_chunks is on.
var DebugRoot = filepath.Join("debug", "chunks")

// StreamDebugger handles the creation and writing of debug logs for LLM streams.
// It centralizes the logic for directory creation, file naming, and safe writing.
type StreamDebugger struct {
	file    *os.File
	enabled bool
}

// NewStreamDebugger creates a new debugger instance.
// It attempts to open the debug file immediately if enabled.
//
// Parameters:
//   - ctx: Context possibly carrying the turn's debug ID
//   - provider: Name of the LLM provider (e.g., "azure")
//   - enabled: Whether debugging is globally enabled
func NewStreamDebugger(ctx context.Context, provider string, enabled bool) *StreamDebugger {
	if !enabled {
		return &StreamDebugger{enabled: false}
	}

	debugDir := filepath.Join(DebugRoot, provider)

	// If the turn has a debug ID, nest under it so one turn's calls stay together
	if id := utils.DebugID(ctx); id != "" {
		debugDir = filepath.Join(DebugRoot, id, provider)
	}

	if err := os.MkdirAll(debugDir, 0755); err != nil {
		slog.Error("Failed to create debug directory", "dir", debugDir, "error", err)
		return &StreamDebugger{enabled: false}
	}

	timestamp := time.Now().Format("20060102_150405.000")
	filename := filepath.Join(debugDir, fmt.Sprintf("%s.log", timestamp))

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("Failed to open debug file", "file", filename, "error", err)
		return &StreamDebugger{enabled: false}
	}

	slog.DebugContext(ctx, "Debug mode ON", "provider", provider, "file", filename)
	return &StreamDebugger{
		file:    f,
		enabled: true,
	}
}

// WriteString appends a line to the debug file if enabled.
func (d *StreamDebugger) WriteString(s string) {
	if !d.enabled || d.file == nil {
		return
	}
	if _, err := d.file.WriteString(s + "\n"); err != nil {
		slog.Warn("Failed to write to debug file", "error", err)
	}
}

// Close closes the debug file handle.
func (d *StreamDebugger) Close() {
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
}
