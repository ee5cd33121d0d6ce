package transform

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/spachava753/assetpipe/internal/fileset"
	"github.com/spachava753/assetpipe/internal/pipeline"
)

// Compiler turns a stylesheet source into CSS. filename locates the source
// for relative imports.
type Compiler interface {
	Compile(ctx context.Context, filename string, src []byte) ([]byte, error)
}

// SassCLI compiles through the dart-sass command line binary.
type SassCLI struct {
	Binary    string
	LoadPaths []string
}

// NewSassCLI creates a compiler invoking binary (default "sass").
func NewSassCLI(binary string, loadPaths []string) *SassCLI {
	if binary == "" {
		binary = "sass"
	}
	return &SassCLI{Binary: binary, LoadPaths: loadPaths}
}

// Compile pipes src through `sass --stdin`. The source directory is always
// a load path so partials next to the entry point resolve.
func (s *SassCLI) Compile(ctx context.Context, filename string, src []byte) ([]byte, error) {
	args := []string{"--stdin", "--no-source-map", "--style=expanded", "--load-path=" + filepath.Dir(filename)}
	for _, p := range s.LoadPaths {
		args = append(args, "--load-path="+p)
	}
	if strings.EqualFold(filepath.Ext(filename), ".sass") {
		args = append(args, "--indented")
	}

	slog.Debug("executing sass", "binary", s.Binary, "file", filename)

	cmd := exec.CommandContext(ctx, s.Binary, args...)
	cmd.Stdin = bytes.NewReader(src)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("compiling %s: %w: %s", filename, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Sass compiles .scss/.sass files to .css. Partials (names starting with an
// underscore) are dropped.
func Sass(c Compiler) pipeline.Stage {
	return pipeline.NewStage("sass", func(ctx context.Context, f *fileset.File) error {
		if strings.HasPrefix(path.Base(f.Rel), "_") {
			return pipeline.ErrSkip
		}
		out, err := c.Compile(ctx, f.Path, f.Contents)
		if err != nil {
			return err
		}
		f.Contents = out
		f.SetExt(".css")
		return nil
	})
}
