package models

import "time"

// TaskResult summarizes one task invocation.
type TaskResult struct {
	Task         string        `json:"task"`
	Category     Category      `json:"category,omitempty"`
	FilesRead    int           `json:"files_read"`
	FilesWritten []string      `json:"files_written,omitempty"`
	Errors       []FileError   `json:"errors,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// FileError is a guarded per-file failure.
type FileError struct {
	Path    string    `json:"path"`
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// BuildResult aggregates a build run.
type BuildResult struct {
	StartedAt      time.Time    `json:"started_at"`
	EndedAt        time.Time    `json:"ended_at"`
	DurationSec    float64      `json:"duration_sec"`
	ExecutionOrder []string     `json:"execution_order"`
	Tasks          []TaskResult `json:"tasks"`
}
