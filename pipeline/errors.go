package pipeline

import (
	"errors"
	"fmt"
)

// ErrConfiguration is returned when a segment, object or checkpoint wrapper is
// built with invalid parameters (empty checkpoint list, nil segment, object with
// neither payload nor path). It is raised before any pipeline execution.
var ErrConfiguration = errors.New("configuration error")

// ErrArity is returned when the number of objects handed to or produced by a
// segment does not match what was declared. Nothing is written to disk on this path.
var ErrArity = errors.New("arity mismatch")

// ErrNotFound is returned when an object's payload is requested but neither an
// in-memory payload nor a readable path is available.
var ErrNotFound = errors.New("payload not found")

// ArityError describes an arity mismatch. It matches ErrArity with errors.Is.
type ArityError struct {
	Op   string // where the mismatch was detected, e.g. "post-checkpoint x2.png"
	Want int
	Got  int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("%s: arity mismatch: want %d, got %d", e.Op, e.Want, e.Got)
}

func (e *ArityError) Is(target error) bool { return target == ErrArity }

// NotFoundError is returned by Object.Payload. It matches ErrNotFound with errors.Is
// and unwraps to the underlying read error, if any.
type NotFoundError struct {
	Name string
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("object %q: %v", e.Name, ErrNotFound)
	}
	if e.Err != nil {
		return fmt.Sprintf("object %q: %v at %s: %v", e.Name, ErrNotFound, e.Path, e.Err)
	}
	return fmt.Sprintf("object %q: %v at %s", e.Name, ErrNotFound, e.Path)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
func (e *NotFoundError) Unwrap() error        { return e.Err }

// ConfigErrorf returns an error wrapping ErrConfiguration.
func ConfigErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
