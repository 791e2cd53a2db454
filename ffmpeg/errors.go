package ffmpeg

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned for inputs rejected at construction or build time.
// It is always raised before any process has been spawned.
var ErrInvalidArgument = errors.New("invalid argument")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// ExecutionError reports that the encoder could not be run to completion:
// it failed to start, or waiting for it was canceled. The task is always
// in a terminal state by the time one is returned.
type ExecutionError struct {
	Op  string // "script", "start", "read" or "wait"
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("ffmpeg %s: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
