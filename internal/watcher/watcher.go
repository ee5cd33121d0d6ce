// Package watcher routes filesystem change events to handlers bound to
// glob patterns.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Op is the kind of change.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// Event is one change to a watched path.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

// Handler processes a batch of events coalesced within the debounce
// window. Returned errors are logged; watching continues.
type Handler func(ctx context.Context, events []Event) error

// Binding attaches a handler to a watch pattern.
type Binding struct {
	Name    string
	Pattern string
	Handler Handler
}

type binding struct {
	Binding
	base    string
	pattern string
	events  chan Event
}

// Watcher dispatches events. Each binding has one worker, so its handler
// never runs concurrently with itself and sees events in arrival order.
type Watcher struct {
	bindings []*binding
	debounce time.Duration
	ready    chan struct{}
}

// New validates the bindings. Patterns are made absolute against the
// working directory.
func New(debounce time.Duration, bindings ...Binding) (*Watcher, error) {
	w := &Watcher{debounce: debounce, ready: make(chan struct{})}
	for _, b := range bindings {
		pattern := filepath.ToSlash(b.Pattern)
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("watch %s: malformed pattern %q", b.Name, b.Pattern)
		}
		base, glob := doublestar.SplitPattern(pattern)
		abs, err := filepath.Abs(filepath.FromSlash(base))
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", b.Name, err)
		}
		w.bindings = append(w.bindings, &binding{
			Binding: b,
			base:    abs,
			pattern: filepath.ToSlash(abs) + "/" + glob,
			events:  make(chan Event, 256),
		})
	}
	return w, nil
}

// Ready is closed once every existing directory is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	watched := make(map[string]bool)
	missing := make(map[*binding]bool)
	for _, b := range w.bindings {
		ok, err := watchBase(fsw, b.base, watched)
		if err != nil {
			return fmt.Errorf("watching %s: %w", b.base, err)
		}
		if !ok {
			slog.Warn("watch directory does not exist yet", "watch", b.Name, "dir", b.base)
			missing[b] = true
		}
	}

	var wg sync.WaitGroup
	for _, b := range w.bindings {
		wg.Go(func() { w.work(ctx, b) })
	}
	defer wg.Wait()

	close(w.ready)
	slog.Debug("watching", "directories", len(watched))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Error("watch error", "error", err)
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			e, ok := convert(ev)
			if !ok {
				continue
			}
			if e.Op == OpRemove || e.Op == OpRename {
				// fsnotify drops removed directories; allow them to be re-added.
				for dir := range watched {
					if within(e.Path, dir) {
						delete(watched, dir)
					}
				}
				for _, b := range w.bindings {
					if b.base != e.Path {
						continue
					}
					ok, err := watchBase(fsw, b.base, watched)
					if err != nil {
						slog.Warn("could not watch parent of removed directory", "dir", b.base, "error", err)
					}
					if !ok {
						missing[b] = true
					}
				}
			}
			if e.Op == OpCreate {
				if info, err := os.Stat(e.Path); err == nil && info.IsDir() {
					w.directoryCreated(ctx, fsw, e.Path, watched, missing)
					continue
				}
			}
			w.dispatch(ctx, e)
		}
	}
}

// directoryCreated watches a new directory and reports the files already
// inside it, which were written before the watch was added. Missing bases
// are retried since the new directory may be one of them or an ancestor.
func (w *Watcher) directoryCreated(ctx context.Context, fsw *fsnotify.Watcher, dir string, watched map[string]bool, missing map[*binding]bool) {
	scanned := false
	for b := range missing {
		ok, err := watchBase(fsw, b.base, watched)
		if err != nil {
			slog.Warn("could not watch directory", "watch", b.Name, "dir", b.base, "error", err)
			continue
		}
		if ok {
			slog.Debug("watch directory appeared", "watch", b.Name, "dir", b.base)
			delete(missing, b)
			w.dispatchTree(ctx, b.base)
			scanned = scanned || within(b.base, dir)
		}
	}
	if scanned {
		return
	}

	for _, b := range w.bindings {
		if missing[b] || !within(b.base, dir) {
			continue
		}
		if err := addRecursive(fsw, dir, watched); err != nil {
			slog.Warn("could not watch new directory", "dir", dir, "error", err)
			return
		}
		w.dispatchTree(ctx, dir)
		return
	}
}

// dispatchTree dispatches a create event for every file under dir.
func (w *Watcher) dispatchTree(ctx context.Context, dir string) {
	now := time.Now()
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			w.dispatch(ctx, Event{Path: p, Op: OpCreate, Time: now})
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not scan new directory", "dir", dir, "error", err)
	}
}

func convert(ev fsnotify.Event) (Event, bool) {
	e := Event{Path: ev.Name, Time: time.Now()}
	switch {
	case ev.Has(fsnotify.Create):
		e.Op = OpCreate
	case ev.Has(fsnotify.Write):
		e.Op = OpWrite
	case ev.Has(fsnotify.Remove):
		e.Op = OpRemove
	case ev.Has(fsnotify.Rename):
		e.Op = OpRename
	default:
		return e, false
	}
	return e, true
}

func (w *Watcher) dispatch(ctx context.Context, e Event) {
	p := filepath.ToSlash(e.Path)
	for _, b := range w.bindings {
		ok, err := doublestar.Match(b.pattern, p)
		if err != nil || !ok {
			continue
		}
		select {
		case b.events <- e:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) work(ctx context.Context, b *binding) {
	for {
		var batch []Event
		select {
		case <-ctx.Done():
			return
		case e := <-b.events:
			batch = append(batch, e)
		}

		timer := time.NewTimer(w.debounce)
	collect:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case e := <-b.events:
				batch = append(batch, e)
			case <-timer.C:
				break collect
			}
		}

		slog.Debug("change detected", "watch", b.Name, "events", len(batch), "path", batch[len(batch)-1].Path)
		if err := b.Handler(ctx, batch); err != nil {
			slog.Error("watch handler failed", "watch", b.Name, "error", err)
		}
	}
}

func addRecursive(fsw *fsnotify.Watcher, root string, watched map[string]bool) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || watched[p] {
			return nil
		}
		if err := fsw.Add(p); err != nil {
			return fmt.Errorf("adding %s: %w", p, err)
		}
		watched[p] = true
		return nil
	})
}

// watchBase watches base recursively. When base does not exist, its nearest
// existing ancestor is watched instead so that its creation is observed,
// and false is returned.
func watchBase(fsw *fsnotify.Watcher, base string, watched map[string]bool) (bool, error) {
	err := addRecursive(fsw, base, watched)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	dir := filepath.Dir(base)
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false, nil
		}
		dir = parent
	}
	if !watched[dir] {
		if err := fsw.Add(dir); err != nil {
			return false, fmt.Errorf("adding %s: %w", dir, err)
		}
		watched[dir] = true
	}
	// base may have appeared while the ancestor was being added.
	if _, err := os.Stat(base); err == nil {
		return watchBase(fsw, base, watched)
	}
	return false, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
