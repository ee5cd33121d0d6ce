package models

import "fmt"

// ErrorType identifies the category of error that occurred.
type ErrorType string

const (
	// A single file failed to compile or transform.
	ErrTransformFailed ErrorType = "transform_failed"

	// Reading sources, cleaning or writing output failed.
	ErrIOFailed ErrorType = "io_failed"

	// The configuration is malformed or incomplete.
	ErrConfigInvalid ErrorType = "config_invalid"

	// The task graph has unknown dependencies, duplicates or cycles.
	ErrGraphInvalid ErrorType = "graph_invalid"
)

// TaskError attaches an ErrorType and location to a failure.
type TaskError struct {
	Type ErrorType
	Task string
	Path string
	Err  error
}

func (e *TaskError) Error() string {
	switch {
	case e.Task != "" && e.Path != "":
		return fmt.Sprintf("%s: %s: %s: %v", e.Type, e.Task, e.Path, e.Err)
	case e.Task != "":
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Task, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Type, e.Err)
	}
}

func (e *TaskError) Unwrap() error { return e.Err }

// NewTaskError wraps err unless it already is a *TaskError.
func NewTaskError(typ ErrorType, task, path string, err error) error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*TaskError); ok {
		return te
	}
	return &TaskError{Type: typ, Task: task, Path: path, Err: err}
}
