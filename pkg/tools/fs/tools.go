package fs

import (
	"context"

	"mcpchat/pkg/api"
	"mcpchat/pkg/tools"
)

type listArgs struct {
	Pattern string `json:"pattern,omitempty" jsonschema_description:"Glob pattern relative to the base directory (default: *)"`
}

type readArgs struct {
	Filename string `json:"filename" validate:"required" jsonschema:"required" jsonschema_description:"Path of the file relative to the base directory"`
}

type searchArgs struct {
	Query string `json:"query" validate:"required" jsonschema:"required" jsonschema_description:"Text to search for (case-insensitive)"`
}

// NewTools returns list_files, read_file, search_files and file_stats bound to fsys.
func NewTools(fsys *FileSystem) []api.Tool {
	return []api.Tool{
		tools.NewTypedTool("list_files", "List files in the test directory",
			func(ctx context.Context, a listArgs) (string, error) {
				return fsys.ListFiles(a.Pattern)
			}),

		tools.NewTypedTool("read_file", "Read contents of a file",
			func(ctx context.Context, a readArgs) (string, error) {
				return fsys.ReadFile(a.Filename)
			}),

		tools.NewTypedTool("search_files", "Search for text in files",
			func(ctx context.Context, a searchArgs) (string, error) {
				return fsys.SearchFiles(ctx, a.Query)
			}),

		tools.NewTypedTool("file_stats", "Get statistics about a file (size, lines, words)",
			func(ctx context.Context, a readArgs) (string, error) {
				return fsys.FileStats(a.Filename)
			}),
	}
}
