// Package manager runs preview instances of materialized projects. It owns
// host port allocation and the container records' lifecycle.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Boendestodet/r3kt.dev-sub000/materialize"
	"github.com/Boendestodet/r3kt.dev-sub000/metrics"
	"github.com/Boendestodet/r3kt.dev-sub000/scaffold"
	"github.com/Boendestodet/r3kt.dev-sub000/store"
	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// Options wires a Manager to its collaborators.
type Options struct {
	ProjectsDir  string
	PublicHost   string
	PublicScheme string
	// Docker is the preferred launcher; nil disables it.
	Docker Launcher
	// Host is the fallback launcher.
	Host Launcher
}

// Manager drives containers through starting, running, stopped and error.
type Manager struct {
	store        store.Store
	registry     *scaffold.Registry
	materializer *materialize.Materializer
	ports        *PortAllocator
	docker       Launcher
	host         Launcher

	mu        sync.Mutex
	instances map[string]Instance // Key: container id
	starts    *startTracker

	projectsDir string
	publicHost  string
	scheme      string
	logger      *zap.Logger
	now         func() time.Time
}

func New(st store.Store, registry *scaffold.Registry, mat *materialize.Materializer, ports *PortAllocator, opts Options, logger *zap.Logger) *Manager {
	scheme := opts.PublicScheme
	if scheme == "" {
		scheme = "http"
	}
	host := opts.PublicHost
	if host == "" {
		host = "localhost"
	}
	return &Manager{
		store:        st,
		registry:     registry,
		materializer: mat,
		ports:        ports,
		docker:       opts.Docker,
		host:         opts.Host,
		instances:    make(map[string]Instance),
		starts:       newStartTracker(),
		projectsDir:  opts.ProjectsDir,
		publicHost:   host,
		scheme:       scheme,
		logger:       logger.Named("manager"),
		now:          time.Now,
	}
}

// ProjectDir is where a project's files are materialized.
func (m *Manager) ProjectDir(projectID string) string {
	return filepath.Join(m.projectsDir, projectID)
}

// Start materializes the project, allocates a port and launches an instance,
// falling back from Docker to the host launcher. On return c reflects the
// stored record. Concurrent starts of the same container share one attempt.
func (m *Manager) Start(ctx context.Context, c *types.Container) error {
	attempt, initiator := m.starts.begin(c.ID)
	if !initiator {
		select {
		case <-attempt.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if latest, err := m.store.GetContainer(ctx, c.ID); err == nil {
			*c = *latest
		}
		return attempt.err
	}

	err := m.start(ctx, c)
	m.starts.finish(c.ID, attempt, err)
	return err
}

func (m *Manager) start(ctx context.Context, c *types.Container) (err error) {
	log := m.logger.With(zap.String("container_id", c.ID), zap.String("project_id", c.ProjectID))
	port := 0

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during start", zap.Any("panic", r), zap.Stack("stack"))
			err = &OperationError{Op: "start", ContainerID: c.ID, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			if port > 0 {
				m.ports.Release(port, c.ID)
			}
			m.markFailed(ctx, c, err)
			metrics.RecordContainerStart("none", metrics.OutcomeFailure)
		}
	}()

	// A redeploy replaces whatever instance the record still points at.
	if c.Handle != "" {
		if err := m.instance(c).Stop(ctx); err != nil {
			log.Warn("failed to stop previous instance", zap.String("handle", c.Handle), zap.Error(err))
		}
		m.mu.Lock()
		delete(m.instances, c.ID)
		m.mu.Unlock()
		if c.Status == types.ContainerRunning {
			metrics.ContainerDown()
		}
		c.Handle = ""
	}
	now := m.now()
	if c.Port > 0 {
		m.ports.Release(c.Port, c.ID)
	}
	c.Status = types.ContainerStarting
	c.StartedAt = &now
	c.StoppedAt = nil
	c.Logs = ""
	if err := m.store.SaveContainer(ctx, c); err != nil {
		return &OperationError{Op: "start", ContainerID: c.ID, Err: err}
	}

	project, err := m.store.GetProject(ctx, c.ProjectID)
	if err != nil {
		return &OperationError{Op: "start", ContainerID: c.ID, Err: fmt.Errorf("load project: %w", err)}
	}

	dir := m.ProjectDir(project.ID)
	prepared, err := m.prepare(dir, project)
	if err != nil {
		return &OperationError{Op: "start", ContainerID: c.ID, Err: err}
	}

	port, err = m.ports.Reserve(ctx, c.ID)
	if err != nil {
		return &OperationError{Op: "start", ContainerID: c.ID, Err: err}
	}

	sc, _, err := m.registry.ForDirectory(dir, prepared.Stack())
	if err != nil {
		return &OperationError{Op: "start", ContainerID: c.ID, Err: err}
	}
	spec := LaunchSpec{
		ContainerID:  c.ID,
		ProjectID:    project.ID,
		Dir:          dir,
		HostPort:     port,
		InternalPort: sc.InternalPort(),
	}

	inst, err := m.launch(ctx, &spec, log)
	port = spec.HostPort
	if err != nil {
		return &OperationError{Op: "start", ContainerID: c.ID, Err: err}
	}

	m.mu.Lock()
	m.instances[c.ID] = inst
	m.mu.Unlock()

	started := m.now()
	c.Handle = inst.Handle()
	c.Backend = inst.Backend()
	c.Port = spec.HostPort
	c.URL = m.url(spec.HostPort)
	c.Status = types.ContainerRunning
	c.StartedAt = &started
	if err := m.store.SaveContainer(ctx, c); err != nil {
		return &OperationError{Op: "start", ContainerID: c.ID, Err: err}
	}

	project.PreviewURL = c.URL
	project.LastBuiltAt = &started
	project.MarkReady(started)
	if err := m.store.SaveProject(ctx, project); err != nil {
		log.Warn("failed to record preview URL on project", zap.Error(err))
	}

	metrics.RecordContainerStart(string(c.Backend), metrics.OutcomeSuccess)
	metrics.ContainerUp()
	log.Info("container running", zap.String("backend", string(c.Backend)), zap.String("url", c.URL))
	return nil
}

// prepare writes the project's generated files, or a placeholder project
// if nothing has been generated yet.
func (m *Manager) prepare(dir string, project *types.Project) (scaffold.Scaffolder, error) {
	sc, ok, err := m.registry.ForProject(project)
	if err != nil {
		return nil, err
	}
	if !ok {
		m.logger.Warn("unrecognized stack, using default",
			zap.String("project_id", project.ID), zap.String("stack", project.StackSetting()),
			zap.String("default", string(scaffold.DefaultStack)))
	}
	if _, err := m.materializer.Materialize(dir, project.GeneratedFiles, sc, project); err != nil {
		return nil, fmt.Errorf("materialize project: %w", err)
	}
	return sc, nil
}

// launch tries Docker first. A port conflict is retried once on a nearby port;
// any other failure, or an unavailable engine, falls back to the host launcher
// on the same port. spec.HostPort is updated when the port changes.
func (m *Manager) launch(ctx context.Context, spec *LaunchSpec, log *zap.Logger) (Instance, error) {
	if m.docker != nil {
		if err := m.docker.Available(ctx); err != nil {
			log.Warn("docker unavailable, using host fallback", zap.Error(err))
		} else {
			inst, err := m.launchWithRetry(ctx, m.docker, spec, log)
			if err == nil {
				return inst, nil
			}
			metrics.RecordContainerStart(string(types.BackendDocker), metrics.OutcomeFailure)
			log.Warn("docker launch failed, using host fallback", zap.Error(err))
		}
	}
	if m.host == nil {
		return nil, ErrRuntimeUnavailable
	}
	return m.launchWithRetry(ctx, m.host, spec, log)
}

func (m *Manager) launchWithRetry(ctx context.Context, l Launcher, spec *LaunchSpec, log *zap.Logger) (Instance, error) {
	inst, err := l.Launch(ctx, *spec)
	if err == nil || !errors.Is(err, ErrPortConflict) {
		return inst, err
	}

	next, rerr := m.ports.ReserveNear(ctx, spec.ContainerID, spec.HostPort)
	if rerr != nil {
		return nil, multierr.Append(err, rerr)
	}
	log.Warn("host port taken outside our bookkeeping, retrying",
		zap.String("backend", string(l.Backend())), zap.Int("port", spec.HostPort), zap.Int("next_port", next))
	m.ports.Release(spec.HostPort, spec.ContainerID)
	spec.HostPort = next
	return l.Launch(ctx, *spec)
}

func (m *Manager) markFailed(ctx context.Context, c *types.Container, cause error) {
	now := m.now()
	c.Status = types.ContainerError
	c.StoppedAt = &now
	c.Logs = cause.Error()
	if err := m.store.SaveContainer(ctx, c); err != nil {
		m.logger.Error("failed to record container error", zap.String("container_id", c.ID), zap.Error(err))
	}
	m.logger.Error("container start failed", zap.String("container_id", c.ID), zap.Error(cause))
}

func (m *Manager) url(port int) string {
	return fmt.Sprintf("%s://%s:%d", m.scheme, m.publicHost, port)
}

// instance returns the live instance for c, rebuilding it from the stored
// handle when this process did not launch it.
func (m *Manager) instance(c *types.Container) Instance {
	m.mu.Lock()
	inst, ok := m.instances[c.ID]
	m.mu.Unlock()
	if ok {
		return inst
	}
	switch c.Backend {
	case types.BackendDocker:
		if m.docker != nil {
			return m.docker.Attach(c.Handle)
		}
	case types.BackendHost:
		if m.host != nil {
			return m.host.Attach(c.Handle)
		}
	}
	return goneInstance{handle: c.Handle, backend: c.Backend}
}

// Stop stops and removes the instance behind c and marks it stopped. A
// container without a handle is simply marked stopped.
func (m *Manager) Stop(ctx context.Context, c *types.Container) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic during stop", zap.String("container_id", c.ID), zap.Any("panic", r))
			err = &OperationError{Op: "stop", ContainerID: c.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if c.Handle != "" {
		if err := m.instance(c).Stop(ctx); err != nil {
			m.logger.Warn("best effort stop failed", zap.String("container_id", c.ID), zap.String("handle", c.Handle), zap.Error(err))
		}
	}

	m.mu.Lock()
	delete(m.instances, c.ID)
	m.mu.Unlock()

	wasRunning := c.Status == types.ContainerRunning
	if c.Port > 0 {
		m.ports.Release(c.Port, c.ID)
	}
	now := m.now()
	c.Status = types.ContainerStopped
	c.StoppedAt = &now
	if err := m.store.SaveContainer(ctx, c); err != nil {
		return &OperationError{Op: "stop", ContainerID: c.ID, Err: err}
	}
	if wasRunning {
		metrics.ContainerDown()
	}
	m.logger.Info("container stopped", zap.String("container_id", c.ID))
	return nil
}

// Restart restarts the instance in place. On failure the record is left as it was.
func (m *Manager) Restart(ctx context.Context, c *types.Container) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &OperationError{Op: "restart", ContainerID: c.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if c.Handle == "" {
		return &OperationError{Op: "restart", ContainerID: c.ID, Err: ErrNoHandle}
	}
	if err := m.instance(c).Restart(ctx); err != nil {
		return &OperationError{Op: "restart", ContainerID: c.ID, Err: err}
	}

	wasRunning := c.Status == types.ContainerRunning
	now := m.now()
	c.Status = types.ContainerRunning
	c.StartedAt = &now
	c.StoppedAt = nil
	if c.Port > 0 {
		m.ports.Adopt(c.Port, c.ID)
	}
	if err := m.store.SaveContainer(ctx, c); err != nil {
		return &OperationError{Op: "restart", ContainerID: c.ID, Err: err}
	}
	if !wasRunning {
		metrics.ContainerUp()
	}
	return nil
}

// Health never fails; a missing handle or unreachable runtime reads as unknown.
func (m *Manager) Health(ctx context.Context, c *types.Container) (h types.Health) {
	defer func() {
		if r := recover(); r != nil {
			h = types.UnknownHealth(fmt.Sprintf("panic: %v", r))
		}
	}()
	if c.Handle == "" {
		return types.UnknownHealth("container has no handle")
	}
	return m.instance(c).Health(ctx)
}

// Stats never fails; Available is false when nothing could be read.
func (m *Manager) Stats(ctx context.Context, c *types.Container) (s types.Stats) {
	defer func() {
		if r := recover(); r != nil {
			s = types.Stats{}
		}
	}()
	if c.Handle == "" {
		return types.Stats{}
	}
	return m.instance(c).Stats(ctx)
}

// Logs returns the last tail lines of instance output. When the instance
// cannot be read, the stored snapshot is returned instead.
func (m *Manager) Logs(ctx context.Context, c *types.Container, tail int) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = c.Logs
		}
	}()
	if c.Handle == "" {
		return c.Logs
	}
	logs, err := m.instance(c).Logs(ctx, tail)
	if err != nil {
		m.logger.Debug("logs unavailable, returning snapshot", zap.String("container_id", c.ID), zap.Error(err))
		return c.Logs
	}
	return logs
}

// Cleanup stops every container of the project, removes built images and
// deletes the project directory. Every step runs even when earlier ones fail;
// the returned error combines all failures.
func (m *Manager) Cleanup(ctx context.Context, projectID string) (err error) {
	log := m.logger.With(zap.String("project_id", projectID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during cleanup", zap.Any("panic", r))
			err = multierr.Append(err, fmt.Errorf("cleanup panic: %v", r))
		}
	}()

	containers, lerr := m.store.ListContainersByProject(ctx, projectID)
	if lerr != nil {
		log.Warn("failed to list containers", zap.Error(lerr))
		err = multierr.Append(err, fmt.Errorf("list containers: %w", lerr))
	}
	for _, c := range containers {
		if c.Status == types.ContainerStopped && c.Handle == "" {
			continue
		}
		if serr := m.Stop(ctx, c); serr != nil {
			log.Warn("failed to stop container", zap.String("container_id", c.ID), zap.Error(serr))
			err = multierr.Append(err, serr)
		}
	}

	for _, l := range []Launcher{m.docker, m.host} {
		if l == nil {
			continue
		}
		if rerr := l.RemoveArtifacts(ctx, projectID); rerr != nil {
			log.Warn("failed to remove build artifacts", zap.String("backend", string(l.Backend())), zap.Error(rerr))
			err = multierr.Append(err, rerr)
		}
	}

	if rerr := os.RemoveAll(m.ProjectDir(projectID)); rerr != nil {
		log.Warn("failed to remove project directory", zap.Error(rerr))
		err = multierr.Append(err, fmt.Errorf("remove project directory: %w", rerr))
	}

	log.Info("project cleaned up", zap.Int("containers", len(containers)), zap.Bool("partial", err != nil))
	return err
}

// RestoreReservations re-adopts the ports of containers recorded as running.
// Host instances end with the process that served them, so those records are
// marked stopped instead.
func (m *Manager) RestoreReservations(ctx context.Context) error {
	running, err := m.store.RunningContainers(ctx)
	if err != nil {
		return fmt.Errorf("load running containers: %w", err)
	}
	for _, c := range running {
		if c.Backend == types.BackendHost {
			if _, gone := m.instance(c).(goneInstance); gone {
				now := m.now()
				c.Status = types.ContainerStopped
				c.StoppedAt = &now
				c.Logs = "host server ended with the previous process"
				if err := m.store.SaveContainer(ctx, c); err != nil {
					return fmt.Errorf("save container %s: %w", c.ID, err)
				}
				continue
			}
		}
		if c.Port > 0 {
			m.ports.Adopt(c.Port, c.ID)
		}
		metrics.ContainerUp()
	}
	m.logger.Info("restored port reservations", zap.Int("containers", len(running)))
	return nil
}
