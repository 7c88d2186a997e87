// Package fs implements the sandboxed file tools. Every path is resolved
// against a single base directory and rejected if it escapes it.
package fs

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"mcpchat/pkg/utils"
)

// MaxFileSize caps how much a single read or search loads into memory.
const MaxFileSize = 1 << 20

// maxLinesPerFile is how many matching lines search reports per file.
const maxLinesPerFile = 3

var (
	ErrOutsideBase = errors.New("Access denied to file outside allowed directory")
	ErrNotFound    = errors.New("not found")
	ErrNotAFile    = errors.New("is not a regular file")
	ErrBinaryFile  = errors.New("is not a UTF-8 text file")
	ErrTooLarge    = errors.New("exceeds the 1 MiB read limit")
	ErrEmptyQuery  = errors.New("Search query must not be empty")
)

// FileError reports a problem with one named file, e.g. "File 'a.txt' not found".
type FileError struct {
	Name string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("File '%s' %v", e.Name, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// FileSystem gives read access to the files under Root.
type FileSystem struct {
	root string
}

// New creates the base directory if needed and resolves it to an absolute,
// symlink-free path.
func New(base string) (*FileSystem, error) {
	if base == "" {
		base = "."
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs(base): %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &FileSystem{root: abs}, nil
}

// Root returns the absolute base directory.
func (f *FileSystem) Root() string {
	return f.root
}

// Resolve maps a path relative to the base directory onto the disk. It
// rejects absolute inputs, parent traversal and symlink escapes.
func (f *FileSystem) Resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", ErrOutsideBase
	}

	candidate := filepath.Join(f.root, filepath.Clean(rel))

	// Resolve the whole path when it exists, otherwise its parent, so a
	// symlinked directory cannot smuggle a missing leaf outside the root.
	if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
		candidate = resolved
	} else if resolvedParent, err := filepath.EvalSymlinks(filepath.Dir(candidate)); err == nil {
		candidate = filepath.Join(resolvedParent, filepath.Base(candidate))
	}

	if !f.contains(candidate) {
		return "", ErrOutsideBase
	}
	return candidate, nil
}

func (f *FileSystem) contains(abs string) bool {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ListFiles returns the files matching a glob pattern relative to the base
// directory ("*" when empty), sorted by path.
func (f *FileSystem) ListFiles(pattern string) (string, error) {
	if pattern == "" {
		pattern = "*"
	}
	if filepath.IsAbs(pattern) || hasParentSegment(pattern) {
		return "", ErrOutsideBase
	}

	// The root itself never goes through the pattern parser, so a base
	// directory named like "docs[1]" still lists.
	matches, err := iofs.Glob(os.DirFS(f.root), path.Clean(filepath.ToSlash(pattern)))
	if err != nil {
		return "", fmt.Errorf("cannot list files: %w", err)
	}

	var files []string
	for _, m := range matches {
		resolved, err := filepath.EvalSymlinks(filepath.Join(f.root, filepath.FromSlash(m)))
		if err != nil || !f.contains(resolved) {
			continue
		}
		info, err := os.Stat(resolved)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, m)
	}

	if len(files) == 0 {
		return fmt.Sprintf("No files found matching pattern: %s", pattern), nil
	}
	sort.Strings(files)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Files found (%d):", len(files))
	for _, name := range files {
		sb.WriteString("\n  - ")
		sb.WriteString(name)
	}
	return sb.String(), nil
}

// ReadFile returns the text of a file under the base directory.
func (f *FileSystem) ReadFile(filename string) (string, error) {
	data, err := f.readText(filename)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Contents of %s:\n\n%s", filename, data), nil
}

func (f *FileSystem) readText(filename string) (string, error) {
	path, err := f.Resolve(filename)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if errors.Is(err, iofs.ErrNotExist) {
		return "", &FileError{Name: filename, Err: ErrNotFound}
	}
	if err != nil {
		return "", fmt.Errorf("cannot read file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", &FileError{Name: filename, Err: ErrNotAFile}
	}
	if info.Size() > MaxFileSize {
		return "", &FileError{Name: filename, Err: ErrTooLarge}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cannot read file: %w", err)
	}
	if !utils.IsText(data) {
		return "", &FileError{Name: filename, Err: ErrBinaryFile}
	}
	return string(data), nil
}

// FileStats reports size, line, word and character counts of a text file.
func (f *FileSystem) FileStats(filename string) (string, error) {
	data, err := f.readText(filename)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Statistics for %s:\n  Size: %d bytes\n  Lines: %d\n  Words: %d\n  Characters: %d",
		filename,
		len(data),
		strings.Count(data, "\n")+1,
		len(strings.Fields(data)),
		utf8.RuneCountInString(data),
	), nil
}

// SearchFiles looks for query (case-insensitive) in every text file under the
// base directory and reports up to three matching lines per file.
func (f *FileSystem) SearchFiles(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyQuery
	}
	needle := strings.ToLower(query)

	var results []string
	err := filepath.WalkDir(f.root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() && path != f.root {
				return iofs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > MaxFileSize {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || !utils.IsText(data) {
			return nil
		}
		content := string(data)
		if !strings.Contains(strings.ToLower(content), needle) {
			return nil
		}

		rel, _ := filepath.Rel(f.root, path)
		var sb strings.Builder
		sb.WriteString(filepath.ToSlash(rel))
		sb.WriteString(":")
		found := 0
		for i, line := range strings.Split(content, "\n") {
			if found == maxLinesPerFile {
				break
			}
			if strings.Contains(strings.ToLower(line), needle) {
				fmt.Fprintf(&sb, "\n  Line %d: %s", i+1, strings.TrimSpace(line))
				found++
			}
		}
		results = append(results, sb.String())
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}

	if len(results) == 0 {
		return fmt.Sprintf("No matches found for: %s", query), nil
	}
	return fmt.Sprintf("Found '%s' in %d file(s):\n\n%s", query, len(results), strings.Join(results, "\n\n")), nil
}

func hasParentSegment(p string) bool {
	for _, seg := range strings.FieldsFunc(filepath.ToSlash(p), func(r rune) bool { return r == '/' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}
