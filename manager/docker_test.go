package manager

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Boendestodet/r3kt.dev-sub000/config"
	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// fakeDocker implements only the engine calls the launcher makes. Anything
// else panics through the nil embedded interface.
type fakeDocker struct {
	client.APIClient

	containers []container.Summary
	inspect    container.InspectResponse
	inspectErr error
	stopErr    error
	removeErr  error
	imageErr   error
	logs       string
	stats      string

	removed []string
}

func (f *fakeDocker) ContainerList(context.Context, container.ListOptions) ([]container.Summary, error) {
	return f.containers, nil
}

func (f *fakeDocker) ContainerInspect(context.Context, string) (container.InspectResponse, error) {
	return f.inspect, f.inspectErr
}

func (f *fakeDocker) ContainerStop(context.Context, string, container.StopOptions) error {
	return f.stopErr
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return f.removeErr
}

func (f *fakeDocker) ImageRemove(context.Context, string, image.RemoveOptions) ([]image.DeleteResponse, error) {
	return nil, f.imageErr
}

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.logs)), nil
}

func (f *fakeDocker) ContainerStatsOneShot(context.Context, string) (container.StatsResponseReader, error) {
	return container.StatsResponseReader{Body: io.NopCloser(strings.NewReader(f.stats)), OSType: "linux"}, nil
}

func newDockerLauncher(t *testing.T, api client.APIClient) *DockerLauncher {
	cfg := config.DefaultConfig().Runtime
	return NewDockerLauncher(api, cfg, zaptest.NewLogger(t))
}

func TestDockerPublishedPorts(t *testing.T) {
	api := &fakeDocker{containers: []container.Summary{
		{Ports: []container.Port{{PrivatePort: 3000, PublicPort: 4000}, {PrivatePort: 9000}}},
		{Ports: []container.Port{{PrivatePort: 80, PublicPort: 4007}}},
	}}
	ports, err := newDockerLauncher(t, api).PublishedPorts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{4000, 4007}, ports)
}

func TestDockerImageTag(t *testing.T) {
	d := newDockerLauncher(t, &fakeDocker{})
	assert.True(t, strings.HasSuffix(d.ImageTag("Proj-ABC"), "-proj-abc:latest"))
}

func TestDockerRemoveArtifactsIgnoresMissingImage(t *testing.T) {
	api := &fakeDocker{imageErr: errdefs.NotFound(errors.New("no such image"))}
	assert.NoError(t, newDockerLauncher(t, api).RemoveArtifacts(context.Background(), "p"))

	api.imageErr = errors.New("image is in use")
	assert.Error(t, newDockerLauncher(t, api).RemoveArtifacts(context.Background(), "p"))
}

func TestDockerStopMissingContainer(t *testing.T) {
	api := &fakeDocker{stopErr: errdefs.NotFound(errors.New("no such container"))}
	inst := newDockerLauncher(t, api).Attach("abc")
	assert.NoError(t, inst.Stop(context.Background()))
	assert.Empty(t, api.removed)
}

func TestDockerStopRemovesContainer(t *testing.T) {
	api := &fakeDocker{}
	inst := newDockerLauncher(t, api).Attach("abc")
	require.NoError(t, inst.Stop(context.Background()))
	assert.Equal(t, []string{"abc"}, api.removed)
}

func TestDockerHealth(t *testing.T) {
	ctx := context.Background()

	t.Run("inspect error", func(t *testing.T) {
		api := &fakeDocker{inspectErr: errdefs.NotFound(errors.New("gone"))}
		h := newDockerLauncher(t, api).Attach("abc").Health(ctx)
		assert.Equal(t, types.HealthUnknown, h.Status)
	})

	t.Run("running without healthcheck", func(t *testing.T) {
		api := &fakeDocker{inspect: container.InspectResponse{
			ContainerJSONBase: &container.ContainerJSONBase{State: &container.State{Running: true, Status: "running"}},
		}}
		h := newDockerLauncher(t, api).Attach("abc").Health(ctx)
		assert.Equal(t, types.HealthHealthy, h.Status)
		assert.True(t, h.Running)
	})

	t.Run("reported health wins", func(t *testing.T) {
		api := &fakeDocker{inspect: container.InspectResponse{
			ContainerJSONBase: &container.ContainerJSONBase{State: &container.State{
				Running: true,
				Health:  &container.Health{Status: types.HealthStarting},
			}},
		}}
		h := newDockerLauncher(t, api).Attach("abc").Health(ctx)
		assert.Equal(t, types.HealthStarting, h.Status)
	})

	t.Run("exited", func(t *testing.T) {
		api := &fakeDocker{inspect: container.InspectResponse{
			ContainerJSONBase: &container.ContainerJSONBase{State: &container.State{Status: "exited", Error: "oom"}},
		}}
		h := newDockerLauncher(t, api).Attach("abc").Health(ctx)
		assert.Equal(t, types.HealthUnhealthy, h.Status)
		assert.Equal(t, "exited: oom", h.Detail)
	})
}

func TestDockerStats(t *testing.T) {
	api := &fakeDocker{stats: `{
		"cpu_stats": {"cpu_usage": {"total_usage": 400}, "system_cpu_usage": 2000, "online_cpus": 2},
		"precpu_stats": {"cpu_usage": {"total_usage": 200}, "system_cpu_usage": 1000},
		"memory_stats": {"usage": 1024, "limit": 4096}
	}`}
	s := newDockerLauncher(t, api).Attach("abc").Stats(context.Background())
	assert.True(t, s.Available)
	assert.InDelta(t, 40.0, s.CPUPercent, 0.001)
	assert.Equal(t, uint64(1024), s.MemoryUsage)
	assert.Equal(t, uint64(4096), s.MemoryLimit)

	api.stats = "not json"
	assert.False(t, newDockerLauncher(t, api).Attach("abc").Stats(context.Background()).Available)
}

func TestDockerLogsDemultiplexed(t *testing.T) {
	// Two stdcopy frames: stdout "hello\n", stderr "oops\n".
	frame := func(stream byte, payload string) string {
		header := []byte{stream, 0, 0, 0, 0, 0, 0, byte(len(payload))}
		return string(header) + payload
	}
	api := &fakeDocker{logs: frame(1, "hello\n") + frame(2, "oops\n")}
	out, err := newDockerLauncher(t, api).Attach("abc").Logs(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, "hello\noops\n", out)
}

func TestReadBuildStream(t *testing.T) {
	ok := `{"stream":"Step 1/3 : FROM node:20-alpine\n"}` + "\n" + `{"stream":"Successfully built abc\n"}`
	assert.NoError(t, readBuildStream(strings.NewReader(ok)))

	failed := `{"stream":"Step 1/3\n"}` + "\n" + `{"errorDetail":{"message":"npm ERR! missing script: build"},"error":"npm ERR!"}`
	err := readBuildStream(strings.NewReader(failed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing script: build")
}

func TestIsPortConflict(t *testing.T) {
	assert.True(t, isPortConflict(errors.New("Bind for 0.0.0.0:4000 failed: port is already allocated")))
	assert.True(t, isPortConflict(errors.New("listen tcp :4000: bind: address already in use")))
	assert.False(t, isPortConflict(errors.New("no such image")))
}

func TestDockerAvailableWithoutClient(t *testing.T) {
	d := NewDockerLauncher(nil, config.RuntimeConfig{BuildTimeout: time.Minute}, zaptest.NewLogger(t))
	assert.ErrorIs(t, d.Available(context.Background()), ErrRuntimeUnavailable)
}
