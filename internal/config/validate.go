package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/spachava753/assetpipe/internal/models"
	"github.com/spachava753/assetpipe/internal/util"
)

// Validate rejects configurations that would otherwise fail silently, such
// as malformed globs that match nothing.
func Validate(cfg models.Config) error {
	var errs []error

	for _, c := range models.Categories {
		entry, ok := cfg.Paths.Entry(c)
		if !ok {
			errs = append(errs, fmt.Errorf("paths: missing category %q", c))
			continue
		}
		if entry.Src == "" {
			errs = append(errs, fmt.Errorf("paths.%s.src: required", c))
		} else if !doublestar.ValidatePattern(filepath.ToSlash(entry.Src)) {
			errs = append(errs, fmt.Errorf("paths.%s.src: malformed pattern %q", c, entry.Src))
		}
		if entry.Watch == "" {
			errs = append(errs, fmt.Errorf("paths.%s.watch: required", c))
		} else if !doublestar.ValidatePattern(filepath.ToSlash(entry.Watch)) {
			errs = append(errs, fmt.Errorf("paths.%s.watch: malformed pattern %q", c, entry.Watch))
		}
		if entry.Build == "" {
			errs = append(errs, fmt.Errorf("paths.%s.build: required", c))
		}
	}
	for c := range cfg.Paths {
		if _, err := models.ParseCategory(string(c)); err != nil {
			errs = append(errs, fmt.Errorf("paths: %w", err))
		}
	}

	clean := filepath.Clean(cfg.Clean)
	switch clean {
	case ".", "/", "":
		errs = append(errs, fmt.Errorf("clean: refusing to clean %q", cfg.Clean))
	}

	// Build tasks write concurrently; their destinations must be distinct
	// and must not nest, except that other destinations may sit under the
	// html destination, which receives top-level pages only.
	dests := make(map[models.Category]string)
	for _, c := range models.Categories {
		entry, ok := cfg.Paths[c]
		if !ok || entry.Build == "" {
			continue
		}
		dest := filepath.Clean(entry.Build)
		for _, other := range models.Categories {
			od, ok := dests[other]
			if !ok {
				continue
			}
			switch {
			case od == dest:
				errs = append(errs, fmt.Errorf("paths.%s.build: destination %q is shared with %s", c, entry.Build, other))
			case other != models.CategoryHTML && within(od, dest):
				errs = append(errs, fmt.Errorf("paths.%s.build: destination %q is nested in the %s destination", c, entry.Build, other))
			case c != models.CategoryHTML && within(dest, od):
				errs = append(errs, fmt.Errorf("paths.%s.build: destination %q contains the %s destination", c, entry.Build, other))
			}
		}
		dests[c] = dest
		if !within(clean, dest) {
			errs = append(errs, fmt.Errorf("paths.%s.build: destination %q is outside the clean root %q", c, entry.Build, cfg.Clean))
		}
	}

	// Cleaning must never reach anything that is read or served.
	for _, r := range readRoots(cfg) {
		if within(clean, r.dir) {
			errs = append(errs, fmt.Errorf("clean: %q would delete %s %q", cfg.Clean, r.field, r.dir))
		}
	}

	// Port 0 asks the kernel for a free port.
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", cfg.Server.Port))
	}

	img := cfg.Images
	if img.JPEGMin < 1 || img.JPEGMax > 100 || img.JPEGMin > img.JPEGMax {
		errs = append(errs, fmt.Errorf("images: invalid jpeg quality band [%d,%d]", img.JPEGMin, img.JPEGMax))
	}
	if img.PNGColors < 2 || img.PNGColors > 256 {
		errs = append(errs, fmt.Errorf("images.png_colors: %d out of range [2,256]", img.PNGColors))
	}
	if _, err := util.ParseSize(img.CacheMaxSize); err != nil {
		errs = append(errs, fmt.Errorf("images.cache_max_size: %w", err))
	}

	if len(errs) > 0 {
		return &models.TaskError{Type: models.ErrConfigInvalid, Err: errors.Join(errs...)}
	}
	return nil
}

// CoverageGap is a file consumed by a build source pattern that the
// category's watch pattern does not observe.
type CoverageGap struct {
	Category models.Category
	Path     string
}

// CheckCoverage expands every source pattern under cfg.Root and reports
// files its watch pattern would miss.
func CheckCoverage(cfg models.Config) ([]CoverageGap, error) {
	var gaps []CoverageGap
	for _, c := range models.Categories {
		entry, ok := cfg.Paths[c]
		if !ok {
			continue
		}
		src := filepath.ToSlash(cfg.Resolve(entry.Src))
		watch := filepath.ToSlash(cfg.Resolve(entry.Watch))

		matches, err := doublestar.FilepathGlob(src, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expanding %s source pattern: %w", c, err)
		}
		for _, m := range matches {
			ok, err := doublestar.Match(watch, filepath.ToSlash(m))
			if err != nil {
				return nil, fmt.Errorf("matching %s watch pattern: %w", c, err)
			}
			if !ok {
				gaps = append(gaps, CoverageGap{Category: c, Path: m})
			}
		}
	}
	return gaps, nil
}

func within(root, p string) bool {
	if root == p {
		return true
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

type readRoot struct {
	field string
	dir   string
}

// readRoots lists the directories a run reads from or serves: the static
// base of every source and watch pattern, dev destinations, the served
// directory and the image cache.
func readRoots(cfg models.Config) []readRoot {
	var roots []readRoot
	add := func(field, dir string) {
		if dir == "" {
			return
		}
		roots = append(roots, readRoot{field: field, dir: filepath.Clean(filepath.FromSlash(dir))})
	}
	for _, c := range models.Categories {
		entry, ok := cfg.Paths[c]
		if !ok {
			continue
		}
		for _, p := range []struct{ field, pattern string }{{"src", entry.Src}, {"watch", entry.Watch}} {
			if p.pattern == "" {
				continue
			}
			base, _ := doublestar.SplitPattern(filepath.ToSlash(p.pattern))
			add(fmt.Sprintf("paths.%s.%s", c, p.field), base)
		}
		add(fmt.Sprintf("paths.%s.dev", c), entry.Dev)
	}
	add("server.base_dir", cfg.Server.BaseDir)
	add("images.cache_dir", cfg.Images.CacheDir)
	return roots
}
