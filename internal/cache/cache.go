// Package cache stores image compression results on disk, addressed by the
// SHA-256 of the codec options and the source bytes.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spachava753/assetpipe/internal/obs"
)

// Store is a filesystem cache. Entries live at {Dir}/{key[0:2]}/{key}.
// It is safe for concurrent use by multiple goroutines and processes since
// entries are immutable and committed by rename.
type Store struct {
	Dir string
	// MaxSize caps the total size of entries kept by Prune. Zero disables
	// pruning.
	MaxSize int64
}

// New creates a store rooted at dir.
func New(dir string, maxSize int64) *Store {
	return &Store{Dir: dir, MaxSize: maxSize}
}

// Key derives the entry key for data compressed under the options
// described by fingerprint.
func Key(fingerprint string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Store) entryPath(key string) string {
	if len(key) < 2 {
		return filepath.Join(s.Dir, key)
	}
	return filepath.Join(s.Dir, key[:2], key)
}

// Get returns the cached bytes for key. A miss returns nil, false, nil.
func (s *Store) Get(key string) ([]byte, bool, error) {
	p := s.entryPath(key)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			obs.CacheLookup(false)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	obs.CacheLookup(true)

	// Recently used entries survive pruning.
	now := time.Now()
	_ = os.Chtimes(p, now, now)
	return data, true, nil
}

// Put stores data under key.
func (s *Store) Put(key string, data []byte) error {
	p := s.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	if err := writeFileAtomic(p, data, 0644); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

type entry struct {
	path    string
	size    int64
	modTime time.Time
}

// Prune removes the least recently modified entries until the total size
// is within MaxSize. It returns the number of entries removed.
func (s *Store) Prune() (int, error) {
	if s.MaxSize <= 0 {
		return 0, nil
	}

	var entries []entry
	var total int64
	err := filepath.WalkDir(s.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.Contains(d.Name(), ".tmp.") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, entry{path: p, size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning cache: %w", err)
	}
	if total <= s.MaxSize {
		return 0, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].path < entries[j].path
		}
		return entries[i].modTime.Before(entries[j].modTime)
	})

	removed := 0
	for _, e := range entries {
		if total <= s.MaxSize {
			break
		}
		if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("pruning cache: %w", err)
		}
		total -= e.size
		removed++
	}

	slog.Debug("pruned image cache", "dir", s.Dir, "removed", removed, "size", total)
	return removed, nil
}
