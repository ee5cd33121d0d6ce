package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spachava753/assetpipe/internal/fileset"
)

// Sink receives the files that made it through every stage.
type Sink interface {
	Name() string
	// Flush returns the paths it wrote, if any.
	Flush(ctx context.Context, files []*fileset.File) ([]string, error)
}

// Notifier is told about completed task invocations. The live reload hub
// implements it.
type Notifier interface {
	Reload(paths ...string)
	Notice(message string)
}

// DirSink writes each file's relative path under Dir.
type DirSink struct {
	Dir string
}

// Dest returns a sink writing under dir.
func Dest(dir string) *DirSink {
	return &DirSink{Dir: dir}
}

func (s *DirSink) Name() string { return "dest:" + s.Dir }

func (s *DirSink) Flush(ctx context.Context, files []*fileset.File) ([]string, error) {
	written := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		p := filepath.Join(s.Dir, filepath.FromSlash(f.Rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return written, fmt.Errorf("creating output directory: %w", err)
		}
		mode := f.Mode
		if mode == 0 {
			mode = 0644
		}
		if err := os.WriteFile(p, f.Contents, mode); err != nil {
			return written, fmt.Errorf("writing %s: %w", p, err)
		}
		written = append(written, p)
	}
	return written, nil
}

// NotifySink reports the relative paths of flushed files to a Notifier.
type NotifySink struct {
	Notifier Notifier
}

// Reload returns a sink notifying n.
func Reload(n Notifier) *NotifySink {
	return &NotifySink{Notifier: n}
}

func (s *NotifySink) Name() string { return "reload" }

func (s *NotifySink) Flush(ctx context.Context, files []*fileset.File) ([]string, error) {
	if s.Notifier == nil || len(files) == 0 {
		return nil, nil
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Rel)
	}
	s.Notifier.Reload(paths...)
	return nil, nil
}
