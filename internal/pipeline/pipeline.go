package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spachava753/assetpipe/internal/fileset"
	"github.com/spachava753/assetpipe/internal/models"
	"github.com/spachava753/assetpipe/internal/obs"
)

// Pipeline reads the files matched by Source, applies Stages in order and
// flushes the result to Sinks in order.
type Pipeline struct {
	Name     string
	Category models.Category
	Source   string
	Stages   []Stage
	Sinks    []Sink

	// Guard keeps a failing file from aborting the run. The error is
	// recorded on the result and reported to Reporter; the file is dropped.
	Guard    bool
	Reporter Notifier
}

// Run executes one invocation against a fresh snapshot of the source files.
// Without Guard the first stage error is returned as a transform_failed
// TaskError. Load and sink failures are always returned as io_failed.
func (p *Pipeline) Run(ctx context.Context) (*models.TaskResult, error) {
	start := time.Now()
	result := &models.TaskResult{Task: p.Name, Category: p.Category}

	err := p.run(ctx, result)
	result.Duration = time.Since(start)
	obs.ObserveTask(p.Name, result.Duration, err)
	obs.FileErrors(p.Name, len(result.Errors))

	if err != nil {
		return result, err
	}

	slog.Debug("task finished",
		"task", p.Name,
		"files_read", result.FilesRead,
		"files_written", len(result.FilesWritten),
		"errors", len(result.Errors),
		"duration", result.Duration)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, result *models.TaskResult) error {
	files, err := fileset.Load(ctx, p.Source)
	if err != nil {
		return models.NewTaskError(models.ErrIOFailed, p.Name, "", fmt.Errorf("loading sources: %w", err))
	}
	result.FilesRead = len(files)
	if len(files) == 0 {
		slog.Warn("nothing built: source pattern matched no files", "task", p.Name, "pattern", p.Source)
		return nil
	}

	out := make([]*fileset.File, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.process(ctx, f); err != nil {
			if errors.Is(err, ErrSkip) {
				continue
			}
			if !p.Guard {
				return err
			}
			result.Errors = append(result.Errors, models.FileError{
				Path:    f.Path,
				Type:    models.ErrTransformFailed,
				Message: err.Error(),
			})
			slog.Error("transform failed", "task", p.Name, "file", f.Path, "error", err)
			if p.Reporter != nil {
				p.Reporter.Notice(err.Error())
			}
			continue
		}
		out = append(out, f)
	}

	for _, sink := range p.Sinks {
		written, err := sink.Flush(ctx, out)
		result.FilesWritten = append(result.FilesWritten, written...)
		if err != nil {
			return models.NewTaskError(models.ErrIOFailed, p.Name, "", fmt.Errorf("flushing %s: %w", sink.Name(), err))
		}
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, f *fileset.File) error {
	for _, stage := range p.Stages {
		if stage == nil {
			continue
		}
		if err := stage.Process(ctx, f); err != nil {
			if errors.Is(err, ErrSkip) {
				return err
			}
			return models.NewTaskError(models.ErrTransformFailed, p.Name, f.Path, fmt.Errorf("%s: %w", stage.Name(), err))
		}
	}
	return nil
}
