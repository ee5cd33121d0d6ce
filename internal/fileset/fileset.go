// Package fileset expands source globs into ordered snapshots of files.
package fileset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// File is one matched source file. Rel is slash separated and relative to
// Base, so writing Rel under a destination mirrors the source layout below
// the glob's static prefix.
type File struct {
	Path     string
	Base     string
	Rel      string
	Contents []byte
	Mode     fs.FileMode
}

// Ext returns the extension of the current relative path.
func (f *File) Ext() string {
	return path.Ext(f.Rel)
}

// SetExt replaces the extension of the relative path.
func (f *File) SetExt(ext string) {
	f.Rel = f.Rel[:len(f.Rel)-len(path.Ext(f.Rel))] + ext
}

// Clone returns a deep copy.
func (f *File) Clone() *File {
	cp := *f
	cp.Contents = append([]byte(nil), f.Contents...)
	return &cp
}

// Split returns the static directory prefix of pattern and the glob part
// relative to it. Both are slash separated.
func Split(pattern string) (base, glob string) {
	return doublestar.SplitPattern(filepath.ToSlash(pattern))
}

// Load reads every regular file matching pattern. The static prefix of the
// pattern must exist, as must a pattern without wildcards; a glob matching
// nothing returns an empty slice.
func Load(ctx context.Context, pattern string) ([]*File, error) {
	matches, base, err := Match(pattern)
	if err != nil {
		return nil, err
	}

	files := make([]*File, 0, len(matches))
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := filepath.Join(filepath.FromSlash(base), filepath.FromSlash(rel))
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		files = append(files, &File{
			Path:     p,
			Base:     base,
			Rel:      rel,
			Contents: data,
			Mode:     info.Mode().Perm(),
		})
	}

	slog.Debug("loaded file set", "pattern", pattern, "files", len(files))
	return files, nil
}

// Match returns the sorted relative paths of regular files matching pattern
// along with the pattern's base directory.
func Match(pattern string) ([]string, string, error) {
	if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
		return nil, "", fmt.Errorf("malformed pattern %q", pattern)
	}

	base, glob := Split(pattern)
	info, err := os.Stat(filepath.FromSlash(base))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, base, fmt.Errorf("source directory %s does not exist: %w", base, err)
		}
		return nil, base, fmt.Errorf("stat %s: %w", base, err)
	}
	if !info.IsDir() {
		return nil, base, fmt.Errorf("source base %s is not a directory", base)
	}

	matches, err := doublestar.Glob(os.DirFS(filepath.FromSlash(base)), glob,
		doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
	if err != nil {
		return nil, base, fmt.Errorf("expanding %s: %w", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(glob, "*?[{\\") {
		return nil, base, fmt.Errorf("file not found: %s: %w", pattern, fs.ErrNotExist)
	}
	sort.Strings(matches)
	return matches, base, nil
}
