package types

import (
	"errors"
	"fmt"
)

// ContainerStatus represents the lifecycle state of a preview container.
type ContainerStatus string

const (
	ContainerStarting ContainerStatus = "starting" // Being materialized, built or launched
	ContainerRunning  ContainerStatus = "running"  // Reachable on its allocated port
	ContainerStopped  ContainerStatus = "stopped"  // Explicitly stopped or cleaned up
	ContainerError    ContainerStatus = "error"    // Unrecoverable failure, see Logs
)

// ProjectStatus reflects the latest terminal outcome for a project.
type ProjectStatus string

const (
	ProjectDraft      ProjectStatus = "draft"
	ProjectProcessing ProjectStatus = "processing"
	ProjectReady      ProjectStatus = "ready"
	ProjectError      ProjectStatus = "error"
)

// RequestStatus is the status of a generation request. It only moves forward.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestProcessing RequestStatus = "processing"
	RequestCompleted  RequestStatus = "completed"
	RequestFailed     RequestStatus = "failed"
)

// Backend identifies which launcher produced a running instance.
type Backend string

const (
	BackendDocker Backend = "docker"
	BackendHost   Backend = "host"
)

// ErrInvalidTransition is returned when a status change would move backwards.
var ErrInvalidTransition = errors.New("invalid status transition")

var requestOrder = map[RequestStatus]int{
	RequestPending:    0,
	RequestProcessing: 1,
	RequestCompleted:  2,
	RequestFailed:     2,
}

// CanAdvance reports whether a request may move from one status to another.
// Requests move one step at a time, pending to processing to a terminal
// status, and terminal statuses never change.
func (s RequestStatus) CanAdvance(to RequestStatus) bool {
	from, ok := requestOrder[s]
	if !ok {
		return false
	}
	next, ok := requestOrder[to]
	if !ok {
		return false
	}
	if s.Terminal() {
		return false
	}
	return next == from+1
}

// Terminal reports whether the status is completed or failed.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestFailed
}

func invalidTransition(from, to fmt.Stringer) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func (s RequestStatus) String() string   { return string(s) }
func (s ContainerStatus) String() string { return string(s) }
