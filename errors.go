package faultwatch

import (
	"errors"
	"fmt"
)

// ErrInvalidDelay is returned (wrapped in a [*ValidationError]) by [ArmWatchdog] when the delay is
// not positive.
var ErrInvalidDelay = errors.New("delay must be greater than 0")

// ValidationError reports bad input. It is always returned before any state is changed.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ResourceError reports that an OS-level resource needed by an operation could not be obtained,
// e.g. the output target is not writable or the watchdog timer could not be installed.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}
