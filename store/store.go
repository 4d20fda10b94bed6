// Package store persists projects, generation requests and containers.
package store

import (
	"context"
	"errors"

	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the durable record store shared by the orchestrator, the lifecycle
// manager and the external API layer. Save methods upsert by ID.
type Store interface {
	GetProject(ctx context.Context, id string) (*types.Project, error)
	GetProjectBySubdomain(ctx context.Context, subdomain string) (*types.Project, error)
	SaveProject(ctx context.Context, p *types.Project) error

	GetGenerationRequest(ctx context.Context, id string) (*types.GenerationRequest, error)
	SaveGenerationRequest(ctx context.Context, r *types.GenerationRequest) error
	// ListGenerationRequests returns requests with the given status, oldest
	// first. A limit of zero or less returns all of them.
	ListGenerationRequests(ctx context.Context, status types.RequestStatus, limit int) ([]*types.GenerationRequest, error)

	GetContainer(ctx context.Context, id string) (*types.Container, error)
	SaveContainer(ctx context.Context, c *types.Container) error
	ListContainersByProject(ctx context.Context, projectID string) ([]*types.Container, error)
	// ActiveContainer returns the newest non-stopped container of a project.
	ActiveContainer(ctx context.Context, projectID string) (*types.Container, error)
	// RunningContainers returns every container whose status is running.
	RunningContainers(ctx context.Context) ([]*types.Container, error)

	Close() error
}

// RunningPorts lists the host ports claimed by running containers.
func RunningPorts(ctx context.Context, s Store) (map[int]string, error) {
	containers, err := s.RunningContainers(ctx)
	if err != nil {
		return nil, err
	}
	ports := make(map[int]string, len(containers))
	for _, c := range containers {
		if c.Port > 0 {
			ports[c.Port] = c.ID
		}
	}
	return ports, nil
}
