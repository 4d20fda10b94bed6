package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/Boendestodet/r3kt.dev-sub000/config"
	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

const (
	labelProject   = "dev.r3kt.project"
	labelContainer = "dev.r3kt.container"
	pingTimeout    = 5 * time.Second
)

// NewDockerClient connects to the daemon described by the environment.
func NewDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// DockerLauncher builds an image from the project directory and runs it with
// the host port published to the stack's internal port.
type DockerLauncher struct {
	api          client.APIClient
	imagePrefix  string
	buildTimeout time.Duration
	runTimeout   time.Duration
	stopTimeout  time.Duration
	logger       *zap.Logger
}

func NewDockerLauncher(api client.APIClient, cfg config.RuntimeConfig, logger *zap.Logger) *DockerLauncher {
	return &DockerLauncher{
		api:          api,
		imagePrefix:  cfg.ImagePrefix,
		buildTimeout: cfg.BuildTimeout,
		runTimeout:   cfg.RunTimeout,
		stopTimeout:  cfg.StopTimeout,
		logger:       logger.Named("docker"),
	}
}

func (d *DockerLauncher) Backend() types.Backend { return types.BackendDocker }

func (d *DockerLauncher) Available(ctx context.Context) error {
	if d.api == nil {
		return ErrRuntimeUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := d.api.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	return nil
}

// ImageTag is the tag images for a project are built under.
func (d *DockerLauncher) ImageTag(projectID string) string {
	return fmt.Sprintf("%s-%s:latest", d.imagePrefix, strings.ToLower(projectID))
}

func containerName(containerID string) string {
	return "r3kt-" + strings.ToLower(containerID)
}

func (d *DockerLauncher) Launch(ctx context.Context, spec LaunchSpec) (Instance, error) {
	log := d.logger.With(zap.String("container_id", spec.ContainerID), zap.Int("host_port", spec.HostPort))
	tag := d.ImageTag(spec.ProjectID)

	if err := d.build(ctx, spec, tag); err != nil {
		return nil, err
	}
	log.Info("image built", zap.String("image", tag))

	ctx, cancel := context.WithTimeout(ctx, d.runTimeout)
	defer cancel()

	name := containerName(spec.ContainerID)
	// A container left over from a previous run would hold the name.
	if err := d.api.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		log.Warn("failed to remove stale container", zap.String("name", name), zap.Error(err))
	}

	internal := nat.Port(spec.InternalPort + "/tcp")
	labels := map[string]string{labelProject: spec.ProjectID, labelContainer: spec.ContainerID}
	resp, err := d.api.ContainerCreate(ctx,
		&container.Config{
			Image:        tag,
			Env:          []string{"PORT=" + spec.InternalPort, "HOST=0.0.0.0"},
			ExposedPorts: nat.PortSet{internal: struct{}{}},
			Labels:       labels,
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				internal: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.HostPort)}},
			},
		},
		nil, nil, name,
	)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := d.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Best effort removal of the container that never started.
		if rmErr := d.api.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			log.Warn("failed to remove container after failed start", zap.String("handle", resp.ID), zap.Error(rmErr))
		}
		if isPortConflict(err) {
			return nil, fmt.Errorf("%w: %v", ErrPortConflict, err)
		}
		return nil, fmt.Errorf("start container: %w", err)
	}

	log.Info("container started", zap.String("handle", resp.ID))
	return d.Attach(resp.ID), nil
}

func (d *DockerLauncher) build(ctx context.Context, spec LaunchSpec, tag string) error {
	ctx, cancel := context.WithTimeout(ctx, d.buildTimeout)
	defer cancel()

	buildContext, err := archive.TarWithOptions(spec.Dir, &archive.TarOptions{
		ExcludePatterns: []string{"node_modules", ".git", ".next", "dist"},
	})
	if err != nil {
		return fmt.Errorf("archive build context: %w", err)
	}
	defer buildContext.Close()

	resp, err := d.api.ImageBuild(ctx, buildContext, dockertypes.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
		Labels:      map[string]string{labelProject: spec.ProjectID},
	})
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}
	defer resp.Body.Close()
	return readBuildStream(resp.Body)
}

type buildMessage struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// readBuildStream drains the daemon's build output and returns the first
// reported build error.
func readBuildStream(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var msg buildMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read build output: %w", err)
		}
		if msg.ErrorDetail.Message != "" {
			return fmt.Errorf("build image: %s", msg.ErrorDetail.Message)
		}
		if msg.Error != "" {
			return fmt.Errorf("build image: %s", msg.Error)
		}
	}
}

func isPortConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "port is already allocated") ||
		strings.Contains(msg, "address already in use")
}

func (d *DockerLauncher) Attach(handle string) Instance {
	return &dockerInstance{api: d.api, id: handle, stopTimeout: d.stopTimeout, logger: d.logger}
}

func (d *DockerLauncher) RemoveArtifacts(ctx context.Context, projectID string) error {
	tag := d.ImageTag(projectID)
	_, err := d.api.ImageRemove(ctx, tag, image.RemoveOptions{Force: true, PruneChildren: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove image %s: %w", tag, err)
	}
	return nil
}

// PublishedPorts lists host ports published by every running container on the
// daemon, not only ours.
func (d *DockerLauncher) PublishedPorts(ctx context.Context) ([]int, error) {
	if d.api == nil {
		return nil, ErrRuntimeUnavailable
	}
	containers, err := d.api.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	var ports []int
	for _, c := range containers {
		for _, p := range c.Ports {
			if p.PublicPort > 0 {
				ports = append(ports, int(p.PublicPort))
			}
		}
	}
	return ports, nil
}

type dockerInstance struct {
	api         client.APIClient
	id          string
	stopTimeout time.Duration
	logger      *zap.Logger
}

func (i *dockerInstance) Handle() string         { return i.id }
func (i *dockerInstance) Backend() types.Backend { return types.BackendDocker }

// Stop stops and removes the container. A container that no longer exists
// counts as stopped.
func (i *dockerInstance) Stop(ctx context.Context) error {
	timeout := int(i.stopTimeout.Seconds())
	if err := i.api.ContainerStop(ctx, i.id, container.StopOptions{Timeout: &timeout}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		i.logger.Warn("failed to stop container, removing anyway", zap.String("handle", i.id), zap.Error(err))
	}
	err := i.api.ContainerRemove(ctx, i.id, container.RemoveOptions{RemoveVolumes: true, Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", i.id, err)
	}
	return nil
}

func (i *dockerInstance) Restart(ctx context.Context) error {
	timeout := int(i.stopTimeout.Seconds())
	if err := i.api.ContainerRestart(ctx, i.id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("restart container %s: %w", i.id, err)
	}
	return nil
}

func (i *dockerInstance) Health(ctx context.Context) types.Health {
	info, err := i.api.ContainerInspect(ctx, i.id)
	if err != nil {
		return types.UnknownHealth(err.Error())
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return types.UnknownHealth("no state reported")
	}
	state := info.State
	if state.Health != nil && state.Health.Status != "" && state.Health.Status != "none" {
		return types.Health{Status: state.Health.Status, Running: state.Running}
	}
	if state.Running {
		return types.Health{Status: types.HealthHealthy, Running: true}
	}
	detail := state.Status
	if state.Error != "" {
		detail += ": " + state.Error
	}
	return types.Health{Status: types.HealthUnhealthy, Detail: detail}
}

func (i *dockerInstance) Stats(ctx context.Context) types.Stats {
	resp, err := i.api.ContainerStatsOneShot(ctx, i.id)
	if err != nil {
		return types.Stats{}
	}
	defer resp.Body.Close()

	var s container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return types.Stats{}
	}
	return types.Stats{
		Available:   true,
		CPUPercent:  cpuPercent(s),
		MemoryUsage: s.MemoryStats.Usage,
		MemoryLimit: s.MemoryStats.Limit,
	}
}

func cpuPercent(s container.StatsResponse) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}
	cpus := float64(s.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / systemDelta * cpus * 100
}

func (i *dockerInstance) Logs(ctx context.Context, tail int) (string, error) {
	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: "all"}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	rc, err := i.api.ContainerLogs(ctx, i.id, opts)
	if err != nil {
		return "", fmt.Errorf("container logs %s: %w", i.id, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return buf.String(), fmt.Errorf("demux logs %s: %w", i.id, err)
	}
	return buf.String(), nil
}
