// Package deploy is the entry point external callers use to run, inspect and
// tear down project previews.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Boendestodet/r3kt.dev-sub000/store"
	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

const dnsTimeout = 30 * time.Second

// Lifecycle runs containers. *manager.Manager implements it.
type Lifecycle interface {
	Start(ctx context.Context, c *types.Container) error
	Stop(ctx context.Context, c *types.Container) error
	Restart(ctx context.Context, c *types.Container) error
	Health(ctx context.Context, c *types.Container) types.Health
	Stats(ctx context.Context, c *types.Container) types.Stats
	Logs(ctx context.Context, c *types.Container, tail int) string
	Cleanup(ctx context.Context, projectID string) error
}

// Registrar publishes a project's subdomain. *cloudflare.Manager implements it.
type Registrar interface {
	RegisterProjectDomain(ctx context.Context, project *types.Project) (*types.ProjectDomain, error)
	DeleteProjectDomain(ctx context.Context, project *types.Project) error
}

// Result is what every coordinator operation reports back.
type Result struct {
	Success     bool                  `json:"success"`
	Message     string                `json:"message"`
	ContainerID string                `json:"container_id,omitempty"`
	Status      types.ContainerStatus `json:"status,omitempty"`
	Port        int                   `json:"port,omitempty"`
	URL         string                `json:"url,omitempty"`
	Health      *types.Health         `json:"health,omitempty"`
	Stats       *types.Stats          `json:"stats,omitempty"`
	Logs        string                `json:"logs,omitempty"`
}

func failure(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

func containerResult(c *types.Container, message string) Result {
	return Result{
		Success:     true,
		Message:     message,
		ContainerID: c.ID,
		Status:      c.Status,
		Port:        c.Port,
		URL:         c.URL,
	}
}

// Coordinator ties records, the lifecycle manager and DNS together.
type Coordinator struct {
	store     store.Store
	lifecycle Lifecycle
	registrar Registrar
	logger    *zap.Logger

	mu       sync.Mutex
	projects map[string]*sync.Mutex // Key: project id

	dns sync.WaitGroup
	now func() time.Time
}

// NewCoordinator creates a coordinator. registrar may be nil.
func NewCoordinator(st store.Store, lifecycle Lifecycle, registrar Registrar, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:     st,
		lifecycle: lifecycle,
		registrar: registrar,
		logger:    logger.Named("deploy"),
		projects:  make(map[string]*sync.Mutex),
		now:       time.Now,
	}
}

// projectLock serializes deploys and cleanups of one project so two callers
// never create two active containers for it.
func (c *Coordinator) projectLock(projectID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.projects[projectID]
	if !ok {
		l = &sync.Mutex{}
		c.projects[projectID] = l
	}
	return l
}

// Deploy starts the project's active container, creating one when every
// existing container is stopped. An already running container is rebuilt.
// DNS registration runs in the background and never affects the result.
func (c *Coordinator) Deploy(ctx context.Context, projectID string) Result {
	return c.deploy(ctx, projectID, false)
}

// EnsureRunning returns the project's active container untouched when it is
// already running and deploys it otherwise. Callers queued behind an
// in-progress deploy get the container that deploy brought up.
func (c *Coordinator) EnsureRunning(ctx context.Context, projectID string) Result {
	return c.deploy(ctx, projectID, true)
}

func (c *Coordinator) deploy(ctx context.Context, projectID string, keepRunning bool) (res Result) {
	log := c.logger.With(zap.String("project_id", projectID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during deploy", zap.Any("panic", r), zap.Stack("stack"))
			res = failure("deploy failed unexpectedly: %v", r)
		}
	}()

	lock := c.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return failure("project %s not found: %v", projectID, err)
	}

	container, err := c.store.ActiveContainer(ctx, projectID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		container = &types.Container{
			ID:        uuid.NewString(),
			ProjectID: projectID,
			Status:    types.ContainerStarting,
			CreatedAt: c.now(),
		}
		if err := c.store.SaveContainer(ctx, container); err != nil {
			return failure("create container record: %v", err)
		}
		log.Info("created container record", zap.String("container_id", container.ID))
	case err != nil:
		return failure("look up active container: %v", err)
	case keepRunning && container.Status == types.ContainerRunning:
		return containerResult(container, "preview already running")
	}

	if err := c.lifecycle.Start(ctx, container); err != nil {
		log.Warn("deploy failed", zap.String("container_id", container.ID), zap.Error(err))
		return Result{
			Message:     fmt.Sprintf("deploy failed: %v", err),
			ContainerID: container.ID,
			Status:      container.Status,
		}
	}

	if project.Subdomain != "" && c.registrar != nil {
		c.registerDomain(project)
	}

	log.Info("project deployed", zap.String("container_id", container.ID), zap.String("url", container.URL))
	return containerResult(container, "project deployed")
}

func (c *Coordinator) registerDomain(project *types.Project) {
	c.dns.Add(1)
	go func() {
		defer c.dns.Done()
		ctx, cancel := context.WithTimeout(context.Background(), dnsTimeout)
		defer cancel()
		domain, err := c.registrar.RegisterProjectDomain(ctx, project)
		if err != nil {
			c.logger.Warn("subdomain registration failed", zap.String("project_id", project.ID), zap.Error(err))
			return
		}
		if domain != nil {
			c.logger.Info("subdomain registered", zap.String("project_id", project.ID), zap.String("domain", domain.Domain))
		}
	}()
}

// WaitDNS blocks until background DNS registrations have finished.
func (c *Coordinator) WaitDNS() {
	c.dns.Wait()
}

// AutoStartAfterGeneration deploys a freshly generated project. Failures are
// logged only; the generation outcome stands.
func (c *Coordinator) AutoStartAfterGeneration(ctx context.Context, project *types.Project) {
	res := c.Deploy(ctx, project.ID)
	if !res.Success {
		c.logger.Warn("auto-start after generation failed",
			zap.String("project_id", project.ID), zap.String("reason", res.Message))
		return
	}
	c.logger.Info("auto-started preview", zap.String("project_id", project.ID), zap.String("url", res.URL))
}

func (c *Coordinator) container(ctx context.Context, containerID string) (*types.Container, *Result) {
	container, err := c.store.GetContainer(ctx, containerID)
	if err != nil {
		r := failure("container %s not found: %v", containerID, err)
		return nil, &r
	}
	return container, nil
}

// lockedContainer takes the owning project's lock and returns the container
// as recorded once the lock is held. The caller must call unlock.
func (c *Coordinator) lockedContainer(ctx context.Context, containerID string) (container *types.Container, unlock func(), fail *Result) {
	container, fail = c.container(ctx, containerID)
	if fail != nil {
		return nil, nil, fail
	}
	lock := c.projectLock(container.ProjectID)
	lock.Lock()
	container, fail = c.container(ctx, containerID)
	if fail != nil {
		lock.Unlock()
		return nil, nil, fail
	}
	return container, lock.Unlock, nil
}

func (c *Coordinator) Stop(ctx context.Context, containerID string) Result {
	container, unlock, fail := c.lockedContainer(ctx, containerID)
	if fail != nil {
		return *fail
	}
	defer unlock()
	if err := c.lifecycle.Stop(ctx, container); err != nil {
		return failure("stop failed: %v", err)
	}
	return containerResult(container, "container stopped")
}

func (c *Coordinator) Restart(ctx context.Context, containerID string) Result {
	container, unlock, fail := c.lockedContainer(ctx, containerID)
	if fail != nil {
		return *fail
	}
	defer unlock()
	if err := c.lifecycle.Restart(ctx, container); err != nil {
		r := failure("restart failed: %v", err)
		r.ContainerID = container.ID
		r.Status = container.Status
		return r
	}
	return containerResult(container, "container restarted")
}

// Status reports the record together with live health and resource usage.
func (c *Coordinator) Status(ctx context.Context, containerID string) Result {
	container, fail := c.container(ctx, containerID)
	if fail != nil {
		return *fail
	}
	health := c.lifecycle.Health(ctx, container)
	stats := c.lifecycle.Stats(ctx, container)
	res := containerResult(container, fmt.Sprintf("container is %s", container.Status))
	res.Health = &health
	res.Stats = &stats
	return res
}

func (c *Coordinator) Logs(ctx context.Context, containerID string, tail int) Result {
	container, fail := c.container(ctx, containerID)
	if fail != nil {
		return *fail
	}
	res := containerResult(container, "logs retrieved")
	res.Logs = c.lifecycle.Logs(ctx, container, tail)
	return res
}

// Cleanup tears down every container, artifact and file of the project and
// removes its subdomain. Partial failures are reported together.
func (c *Coordinator) Cleanup(ctx context.Context, projectID string) Result {
	lock := c.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	err := c.lifecycle.Cleanup(ctx, projectID)

	if c.registrar != nil {
		project, perr := c.store.GetProject(ctx, projectID)
		if perr == nil && project.Subdomain != "" {
			if derr := c.registrar.DeleteProjectDomain(ctx, project); derr != nil {
				err = multierr.Append(err, fmt.Errorf("delete subdomain: %w", derr))
			}
		}
	}

	if err != nil {
		c.logger.Warn("cleanup incomplete", zap.String("project_id", projectID), zap.Error(err))
		return failure("cleanup incomplete: %v", err)
	}
	return Result{Success: true, Message: "project cleaned up"}
}
