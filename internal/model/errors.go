package model

import (
	"errors"
	"fmt"
)

var (
	// ErrPrecondition is wrapped by every *PreconditionError.
	ErrPrecondition = errors.New("forward precondition violated")
	// ErrConcurrentUse is returned when a second call enters an engine that is
	// already running a step. An engine serves one caller at a time.
	ErrConcurrentUse = errors.New("engine is already in use")
	// ErrClosed is returned by calls on a closed engine.
	ErrClosed = errors.New("engine is closed")
	// ErrStateTooLarge is wrapped by *AllocationError when the run state
	// exceeds the configured byte limit.
	ErrStateTooLarge = errors.New("run state exceeds allocation limit")
)

// PreconditionError reports an argument outside its valid range. No state is
// modified when it is returned.
type PreconditionError struct {
	Arg   string
	Value int
	Limit int
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("model: %s %d out of range [0, %d)", e.Arg, e.Value, e.Limit)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// AllocationError reports a run state buffer that could not be allocated.
type AllocationError struct {
	Buffer string
	Bytes  int64
	Err    error
}

func (e *AllocationError) Error() string {
	if e.Buffer == "" {
		return fmt.Sprintf("model: allocate run state (%d bytes): %v", e.Bytes, e.Err)
	}
	return fmt.Sprintf("model: allocate %s (%d bytes): %v", e.Buffer, e.Bytes, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }
