package manager

import (
	"context"

	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// Instance is a running preview, whichever backend produced it.
type Instance interface {
	Handle() string
	Backend() types.Backend
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Health(ctx context.Context) types.Health
	Stats(ctx context.Context) types.Stats
	Logs(ctx context.Context, tail int) (string, error)
}

// LaunchSpec is everything a launcher needs to serve a project directory.
type LaunchSpec struct {
	ContainerID  string
	ProjectID    string
	Dir          string
	HostPort     int
	InternalPort string
}

// Launcher produces Instances for one backend.
type Launcher interface {
	Backend() types.Backend
	// Available returns nil when the backend can launch right now.
	Available(ctx context.Context) error
	// Launch serves spec.Dir on spec.HostPort. It returns ErrPortConflict when
	// the port turned out to be bound already.
	Launch(ctx context.Context, spec LaunchSpec) (Instance, error)
	// Attach rebuilds an Instance from a stored handle.
	Attach(handle string) Instance
	// RemoveArtifacts deletes anything built for the project, such as images.
	RemoveArtifacts(ctx context.Context, projectID string) error
}
