package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrPortExhausted means no port in the allocation range passed every check.
	ErrPortExhausted = errors.New("no free port available")
	// ErrPortConflict means the runtime found the host port already bound.
	ErrPortConflict = errors.New("host port already in use")
	// ErrRuntimeUnavailable means the container engine cannot be reached.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	// ErrNoHandle is returned by operations that need a running instance.
	ErrNoHandle = errors.New("container has no handle")
)

// OperationError is a lifecycle operation that failed after every fallback.
type OperationError struct {
	Op          string
	ContainerID string
	Err         error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s container %s: %v", e.Op, e.ContainerID, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }
