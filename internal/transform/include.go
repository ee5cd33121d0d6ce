package transform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spachava753/assetpipe/internal/fileset"
	"github.com/spachava753/assetpipe/internal/pipeline"
)

// ErrIncludeCycle is returned when a file includes itself, directly or
// through other files.
var ErrIncludeCycle = errors.New("include cycle")

var (
	jsLineInclude  = regexp.MustCompile(`(?m)^[ \t]*//=[ \t]*(\S+)[ \t]*\r?$`)
	jsBlockInclude = regexp.MustCompile(`/\*=[ \t]*(\S+?)[ \t]*\*/`)
	htmlInclude    = regexp.MustCompile(`<!--=[ \t]*(\S+?)[ \t]*-->`)
)

func includePatterns(ext string) []*regexp.Regexp {
	switch strings.ToLower(ext) {
	case ".js", ".mjs":
		return []*regexp.Regexp{jsLineInclude, jsBlockInclude}
	case ".html", ".htm":
		return []*regexp.Regexp{htmlInclude}
	}
	return nil
}

// ResolveIncludes inlines every include directive in src, which was read
// from filename. Paths are relative to the including file. Included files
// are resolved with the directive syntax of their own extension.
func ResolveIncludes(filename string, src []byte) ([]byte, error) {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, err
	}
	return resolve(abs, src, []string{abs})
}

func resolve(filename string, src []byte, stack []string) ([]byte, error) {
	out := src
	for _, re := range includePatterns(filepath.Ext(filename)) {
		var firstErr error
		out = re.ReplaceAllFunc(out, func(match []byte) []byte {
			if firstErr != nil {
				return match
			}
			ref := string(re.FindSubmatch(match)[1])
			target := filepath.Join(filepath.Dir(filename), filepath.FromSlash(ref))

			for _, seen := range stack {
				if seen == target {
					firstErr = fmt.Errorf("%w: %s", ErrIncludeCycle, strings.Join(append(stack, target), " -> "))
					return match
				}
			}

			data, err := os.ReadFile(target)
			if err != nil {
				firstErr = fmt.Errorf("including %s from %s: %w", ref, filename, err)
				return match
			}
			data, err = resolve(target, data, append(stack[:len(stack):len(stack)], target))
			if err != nil {
				firstErr = err
				return match
			}
			// Keep the leading indentation of a line directive.
			prefix := match[:len(match)-len(strings.TrimLeft(string(match), " \t"))]
			data = []byte(strings.TrimRight(string(data), "\r\n"))
			return append(append([]byte(nil), prefix...), data...)
		})
		if firstErr != nil {
			return nil, firstErr
		}
	}
	return out, nil
}

// Includes resolves include directives in each file.
func Includes() pipeline.Stage {
	return pipeline.NewStage("includes", func(ctx context.Context, f *fileset.File) error {
		out, err := ResolveIncludes(f.Path, f.Contents)
		if err != nil {
			return err
		}
		f.Contents = out
		return nil
	})
}
