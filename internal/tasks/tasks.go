// Package tasks builds the per-category pipelines for watch and build mode
// from a configuration.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spachava753/assetpipe/internal/cache"
	"github.com/spachava753/assetpipe/internal/models"
	"github.com/spachava753/assetpipe/internal/pipeline"
	"github.com/spachava753/assetpipe/internal/transform"
	"github.com/spachava753/assetpipe/internal/util"
)

// Mode selects the dev or production variant of a task.
type Mode string

const (
	ModeDev   Mode = "dev"
	ModeBuild Mode = "build"
)

// Set holds the transforms shared by every task of one configuration.
type Set struct {
	cfg      models.Config
	compiler transform.Compiler
	prefixer *transform.Prefixer
	minifier *transform.Minifier
	images   transform.Compressor
	cache    *cache.Store
	notifier pipeline.Notifier
}

// Option customises a Set.
type Option func(*Set)

// WithCompiler replaces the sass CLI.
func WithCompiler(c transform.Compiler) Option {
	return func(s *Set) { s.compiler = c }
}

// WithCompressor replaces the image optimizer.
func WithCompressor(c transform.Compressor) Option {
	return func(s *Set) { s.images = c }
}

// WithNotifier sets where dev tasks report reloads and errors.
func WithNotifier(n pipeline.Notifier) Option {
	return func(s *Set) { s.notifier = n }
}

// NewSet prepares the shared transforms for cfg.
func NewSet(cfg models.Config, opts ...Option) (*Set, error) {
	prefixer, err := transform.NewPrefixer(cfg.Browsers)
	if err != nil {
		return nil, models.NewTaskError(models.ErrConfigInvalid, "", "", fmt.Errorf("browsers: %w", err))
	}
	maxSize, err := util.ParseSize(cfg.Images.CacheMaxSize)
	if err != nil {
		return nil, models.NewTaskError(models.ErrConfigInvalid, "", "", fmt.Errorf("images.cache_max_size: %w", err))
	}

	loadPaths := make([]string, 0, len(cfg.Sass.LoadPaths))
	for _, p := range cfg.Sass.LoadPaths {
		loadPaths = append(loadPaths, cfg.Resolve(p))
	}

	m := transform.NewMinifier()
	s := &Set{
		cfg:      cfg,
		compiler: transform.NewSassCLI(cfg.Sass.Binary, loadPaths),
		prefixer: prefixer,
		minifier: m,
		images:   transform.NewImageOptimizer(cfg.Images, m),
		cache:    cache.New(cfg.Resolve(cfg.Images.CacheDir), maxSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the configuration the set was built from.
func (s *Set) Config() models.Config {
	return s.cfg
}

// Cache returns the image cache.
func (s *Set) Cache() *cache.Store {
	return s.cache
}

func (s *Set) entry(c models.Category) models.PathEntry {
	e := s.cfg.Paths[c]
	return models.PathEntry{
		Src:   s.cfg.Resolve(e.Src),
		Watch: s.cfg.Resolve(e.Watch),
		Build: s.cfg.Resolve(e.Build),
		Dev:   s.cfg.Resolve(e.Dev),
	}
}

func (s *Set) cssStages() []pipeline.Stage {
	st := s.cfg.Stages
	return []pipeline.Stage{
		pipeline.When(st.Sass, transform.Sass(s.compiler)),
		pipeline.When(st.Prefix, s.prefixer.Stage()),
		pipeline.When(st.StripComments, transform.StripCommentsStage()),
		pipeline.When(st.MinifyCSS, s.minifier.CSSStage()),
	}
}

// Pipeline returns the task for category c in mode.
func (s *Set) Pipeline(c models.Category, mode Mode) *pipeline.Pipeline {
	if mode == ModeDev {
		return s.dev(c)
	}
	return s.build(c)
}

func (s *Set) dev(c models.Category) *pipeline.Pipeline {
	e := s.entry(c)
	st := s.cfg.Stages
	p := &pipeline.Pipeline{
		Name:     fmt.Sprintf("%s:%s", c, ModeDev),
		Category: c,
		Source:   e.Src,
		Guard:    true,
		Reporter: s.notifier,
	}
	reload := pipeline.Reload(s.notifier)

	switch c {
	case models.CategoryHTML:
		if s.cfg.DevFastPath {
			p.Guard = false
			p.Sinks = []pipeline.Sink{reload}
			return p
		}
		p.Stages = []pipeline.Stage{pipeline.When(st.Includes, transform.Includes())}
		if e.Dev != "" {
			p.Sinks = append(p.Sinks, pipeline.Dest(e.Dev))
		}
		p.Sinks = append(p.Sinks, reload)
	case models.CategoryCSS:
		p.Stages = s.cssStages()
		p.Sinks = s.devSinks(e, reload)
	case models.CategoryJS:
		p.Stages = []pipeline.Stage{pipeline.When(st.Includes, transform.Includes())}
		p.Sinks = s.devSinks(e, reload)
	case models.CategoryImg:
		if s.cfg.Images.OptimizeDev {
			p.Stages = []pipeline.Stage{transform.Images(s.images, s.cache)}
			p.Sinks = []pipeline.Sink{pipeline.Dest(e.Build), reload}
			return p
		}
		p.Sinks = []pipeline.Sink{reload}
	default:
		p.Sinks = []pipeline.Sink{reload}
	}
	return p
}

func (s *Set) devSinks(e models.PathEntry, reload pipeline.Sink) []pipeline.Sink {
	if e.Dev == "" {
		return []pipeline.Sink{reload}
	}
	return []pipeline.Sink{pipeline.Dest(e.Dev), reload}
}

func (s *Set) build(c models.Category) *pipeline.Pipeline {
	e := s.entry(c)
	st := s.cfg.Stages
	p := &pipeline.Pipeline{
		Name:     fmt.Sprintf("%s:%s", c, ModeBuild),
		Category: c,
		Source:   e.Src,
		Sinks:    []pipeline.Sink{pipeline.Dest(e.Build)},
	}

	switch c {
	case models.CategoryHTML:
		p.Stages = []pipeline.Stage{pipeline.When(st.Includes, transform.Includes())}
	case models.CategoryCSS:
		p.Stages = s.cssStages()
	case models.CategoryJS:
		p.Stages = []pipeline.Stage{
			pipeline.When(st.Includes, transform.Includes()),
			pipeline.When(st.MinifyJS, s.minifier.JSStage()),
		}
	case models.CategoryImg:
		p.Stages = []pipeline.Stage{transform.Images(s.images, s.cache)}
	}
	return p
}

// Clean removes everything inside the build root. A missing root is not an
// error.
func (s *Set) Clean(ctx context.Context) error {
	root := s.cfg.Resolve(s.cfg.Clean)
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return models.NewTaskError(models.ErrIOFailed, "clean", root, err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return models.NewTaskError(models.ErrIOFailed, "clean", root, err)
		}
	}
	slog.Debug("cleaned build root", "dir", root, "entries", len(entries))
	return nil
}

// PruneCache enforces the image cache size cap.
func (s *Set) PruneCache() error {
	if _, err := s.cache.Prune(); err != nil {
		return models.NewTaskError(models.ErrIOFailed, "img:prune", s.cache.Dir, err)
	}
	return nil
}
