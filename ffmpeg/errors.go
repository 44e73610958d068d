package ffmpeg

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is the Result error of a task whose process was killed on request.
	ErrCancelled = errors.New("encode cancelled")
	// ErrInsufficientResources is returned by Start when a throttle threshold is not met.
	ErrInsufficientResources = errors.New("insufficient system resources")
)

// ConfigError reports a malformed or missing edit field. It is always
// returned before any directory or process is created.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// SpawnError reports that the encoder binary could not be launched.
type SpawnError struct {
	Bin string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("could not start encoder %s: %v", e.Bin, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// RuntimeError reports a non-zero encoder exit.
type RuntimeError struct {
	ExitCode int
	Err      error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("encoder exited with status %d: %v", e.ExitCode, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }
