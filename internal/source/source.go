// Package source abstracts where trace bytes come from. The import core only
// ever sees an opened stream plus a display name; enumeration of directories
// lives here too so the pipeline stays free of filesystem concerns.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source is a single openable unit of trace data.
type Source interface {
	// Name is a stable identifier for logs, job records, and entity-id
	// derivation (for file sources, the path).
	Name() string

	// Open returns the raw byte stream. The caller owns the closer.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// File is a local-filesystem Source.
type File struct {
	Path string
}

// Name returns the file path.
func (f File) Name() string { return f.Path }

// Open opens the file, honoring context cancellation before the syscall.
func (f File) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return rc, nil
}

// EntityFromName derives a default entity id from the source name: the base
// file name with its extension stripped ("data/taxis/1.txt" -> "1").
func EntityFromName(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// List enumerates files under dir matching pattern (a filepath.Match glob,
// default "*.txt"), sorted by name for deterministic runs. maxFiles > 0 caps
// the result after sorting.
func List(dir, pattern string, maxFiles int) ([]File, error) {
	if pattern == "" {
		pattern = "*.txt"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	sort.Strings(matches)

	files := make([]File, 0, len(matches))
	for _, m := range matches {
		// Glob can match directories; only regular files are importable.
		info, err := os.Stat(m)
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", m, err)
		}
		if info.IsDir() {
			continue
		}
		files = append(files, File{Path: m})
	}
	if maxFiles > 0 && len(files) > maxFiles {
		files = files[:maxFiles]
	}
	return files, nil
}
