// Package pipeline runs ordered transform stages over a snapshot of source
// files and hands the survivors to sinks.
package pipeline

import (
	"context"
	"errors"

	"github.com/spachava753/assetpipe/internal/fileset"
)

// ErrSkip, returned by a stage, drops the file from the run without
// recording an error.
var ErrSkip = errors.New("skip file")

// Stage transforms one file in place. Stages must not retain the file.
type Stage interface {
	Name() string
	Process(ctx context.Context, f *fileset.File) error
}

type stageFunc struct {
	name string
	fn   func(ctx context.Context, f *fileset.File) error
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Process(ctx context.Context, f *fileset.File) error {
	return s.fn(ctx, f)
}

// NewStage adapts a function to a Stage.
func NewStage(name string, fn func(ctx context.Context, f *fileset.File) error) Stage {
	return stageFunc{name: name, fn: fn}
}

// ContentStage adapts a contents-only transform to a Stage.
func ContentStage(name string, fn func(ctx context.Context, in []byte) ([]byte, error)) Stage {
	return NewStage(name, func(ctx context.Context, f *fileset.File) error {
		out, err := fn(ctx, f.Contents)
		if err != nil {
			return err
		}
		f.Contents = out
		return nil
	})
}

// When returns s if enabled is true and nil otherwise. Pipelines skip nil
// stages, so toggles compose without rebuilding the stage list.
func When(enabled bool, s Stage) Stage {
	if !enabled {
		return nil
	}
	return s
}
