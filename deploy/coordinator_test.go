package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Boendestodet/r3kt.dev-sub000/store"
	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// fakeLifecycle mimics the manager's record updates without running anything.
type fakeLifecycle struct {
	store      store.Store
	startErr   error
	restartErr error
	cleanupErr error
	startDelay time.Duration

	mu     sync.Mutex
	starts []string
	port   int
}

func (f *fakeLifecycle) Start(ctx context.Context, c *types.Container) error {
	f.mu.Lock()
	f.starts = append(f.starts, c.ID)
	f.port++
	port := 4000 + f.port
	f.mu.Unlock()
	time.Sleep(f.startDelay)

	if f.startErr != nil {
		c.Status = types.ContainerError
		c.Logs = f.startErr.Error()
		_ = f.store.SaveContainer(ctx, c)
		return f.startErr
	}
	c.Status = types.ContainerRunning
	c.Handle = "h-" + c.ID
	c.Port = port
	c.URL = fmt.Sprintf("http://localhost:%d", port)
	return f.store.SaveContainer(ctx, c)
}

func (f *fakeLifecycle) Stop(ctx context.Context, c *types.Container) error {
	c.Status = types.ContainerStopped
	return f.store.SaveContainer(ctx, c)
}

func (f *fakeLifecycle) Restart(ctx context.Context, c *types.Container) error {
	if f.restartErr != nil {
		return f.restartErr
	}
	c.Status = types.ContainerRunning
	return f.store.SaveContainer(ctx, c)
}

func (f *fakeLifecycle) Health(context.Context, *types.Container) types.Health {
	return types.Health{Status: types.HealthHealthy, Running: true}
}

func (f *fakeLifecycle) Stats(context.Context, *types.Container) types.Stats {
	return types.Stats{Available: true, MemoryUsage: 42}
}

func (f *fakeLifecycle) Logs(_ context.Context, c *types.Container, tail int) string {
	return fmt.Sprintf("%d lines of %s", tail, c.ID)
}

func (f *fakeLifecycle) Cleanup(context.Context, string) error { return f.cleanupErr }

type fakeRegistrar struct {
	mu         sync.Mutex
	registered []string
	deleted    []string
	err        error
}

func (f *fakeRegistrar) RegisterProjectDomain(_ context.Context, p *types.Project) (*types.ProjectDomain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, p.Subdomain)
	if f.err != nil {
		return nil, f.err
	}
	return &types.ProjectDomain{ProjectID: p.ID, Domain: p.Subdomain + ".example.com"}, nil
}

func (f *fakeRegistrar) DeleteProjectDomain(_ context.Context, p *types.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, p.Subdomain)
	return f.err
}

type fixture struct {
	store     *store.MemoryStore
	lifecycle *fakeLifecycle
	registrar *fakeRegistrar
	coord     *Coordinator
}

func newFixture(t *testing.T, subdomain string) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	f := &fixture{
		store:     st,
		lifecycle: &fakeLifecycle{store: st},
		registrar: &fakeRegistrar{},
	}
	f.coord = NewCoordinator(st, f.lifecycle, f.registrar, zaptest.NewLogger(t))
	now := time.Now().UTC()
	require.NoError(t, st.SaveProject(context.Background(), &types.Project{
		ID: "proj-1", Name: "Coffee", Subdomain: subdomain, CreatedAt: now, UpdatedAt: now,
	}))
	return f
}

func TestDeployCreatesContainer(t *testing.T) {
	f := newFixture(t, "coffee")
	res := f.coord.Deploy(context.Background(), "proj-1")
	f.coord.WaitDNS()

	require.True(t, res.Success, res.Message)
	assert.NotEmpty(t, res.ContainerID)
	assert.Equal(t, types.ContainerRunning, res.Status)
	assert.Equal(t, 4001, res.Port)
	assert.Equal(t, "http://localhost:4001", res.URL)
	assert.Equal(t, []string{"coffee"}, f.registrar.registered)
}

func TestDeployReusesActiveContainer(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	first := f.coord.Deploy(ctx, "proj-1")
	second := f.coord.Deploy(ctx, "proj-1")

	require.True(t, second.Success)
	assert.Equal(t, first.ContainerID, second.ContainerID)
	assert.Empty(t, f.registrar.registered, "no subdomain reserved")

	// Once stopped, the next deploy gets a fresh container.
	require.True(t, f.coord.Stop(ctx, first.ContainerID).Success)
	third := f.coord.Deploy(ctx, "proj-1")
	require.True(t, third.Success)
	assert.NotEqual(t, first.ContainerID, third.ContainerID)
}

func TestConcurrentDeploysShareOneContainer(t *testing.T) {
	f := newFixture(t, "")
	var wg sync.WaitGroup
	results := make([]Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.coord.Deploy(context.Background(), "proj-1")
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.True(t, r.Success)
		assert.Equal(t, results[0].ContainerID, r.ContainerID)
	}
	containers, err := f.store.ListContainersByProject(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Len(t, containers, 1)
}

func TestEnsureRunningDuringWakeStartsOnce(t *testing.T) {
	f := newFixture(t, "")
	f.lifecycle.startDelay = 200 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.coord.EnsureRunning(context.Background(), "proj-1")
		}(i)
		time.Sleep(50 * time.Millisecond)
	}
	wg.Wait()

	for _, r := range results {
		require.True(t, r.Success, r.Message)
		assert.Equal(t, results[0].ContainerID, r.ContainerID)
		assert.Equal(t, results[0].Port, r.Port)
	}
	assert.Len(t, f.lifecycle.starts, 1)
}

func TestEnsureRunningStartsStoppedContainer(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	first := f.coord.EnsureRunning(ctx, "proj-1")
	require.True(t, first.Success)
	require.True(t, f.coord.Stop(ctx, first.ContainerID).Success)

	second := f.coord.EnsureRunning(ctx, "proj-1")
	require.True(t, second.Success)
	assert.Equal(t, types.ContainerRunning, second.Status)
	assert.Len(t, f.lifecycle.starts, 2)
}

func TestStopWaitsForInFlightDeploy(t *testing.T) {
	f := newFixture(t, "")
	f.lifecycle.startDelay = 200 * time.Millisecond
	ctx := context.Background()

	done := make(chan Result, 1)
	go func() { done <- f.coord.Deploy(ctx, "proj-1") }()

	var id string
	require.Eventually(t, func() bool {
		containers, err := f.store.ListContainersByProject(ctx, "proj-1")
		if err != nil || len(containers) == 0 {
			return false
		}
		id = containers[0].ID
		return true
	}, time.Second, 5*time.Millisecond)

	stop := f.coord.Stop(ctx, id)
	deployed := <-done
	require.True(t, deployed.Success)
	require.True(t, stop.Success)

	stored, err := f.store.GetContainer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStopped, stored.Status)
}

func TestDeployDNSFailureDoesNotFailDeploy(t *testing.T) {
	f := newFixture(t, "coffee")
	f.registrar.err = errors.New("cloudflare down")

	res := f.coord.Deploy(context.Background(), "proj-1")
	f.coord.WaitDNS()

	assert.True(t, res.Success)
	assert.Len(t, f.registrar.registered, 1)
}

func TestDeployStartFailure(t *testing.T) {
	f := newFixture(t, "coffee")
	f.lifecycle.startErr = errors.New("no free port available")

	res := f.coord.Deploy(context.Background(), "proj-1")
	f.coord.WaitDNS()

	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "no free port")
	assert.Equal(t, types.ContainerError, res.Status)
	assert.NotEmpty(t, res.ContainerID)
	assert.Empty(t, f.registrar.registered)
}

func TestDeployUnknownProject(t *testing.T) {
	f := newFixture(t, "")
	res := f.coord.Deploy(context.Background(), "missing")
	assert.False(t, res.Success)
	assert.Empty(t, f.lifecycle.starts)
}

func TestAutoStartAfterGenerationSwallowsFailure(t *testing.T) {
	f := newFixture(t, "")
	f.lifecycle.startErr = errors.New("docker broke")
	project, err := f.store.GetProject(context.Background(), "proj-1")
	require.NoError(t, err)

	assert.NotPanics(t, func() { f.coord.AutoStartAfterGeneration(context.Background(), project) })
	assert.Len(t, f.lifecycle.starts, 1)
}

func TestContainerOperations(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	id := f.coord.Deploy(ctx, "proj-1").ContainerID

	status := f.coord.Status(ctx, id)
	require.True(t, status.Success)
	require.NotNil(t, status.Health)
	assert.Equal(t, types.HealthHealthy, status.Health.Status)
	assert.Equal(t, uint64(42), status.Stats.MemoryUsage)

	logs := f.coord.Logs(ctx, id, 20)
	assert.Equal(t, "20 lines of "+id, logs.Logs)

	f.lifecycle.restartErr = errors.New("no handle")
	restart := f.coord.Restart(ctx, id)
	assert.False(t, restart.Success)
	assert.Equal(t, types.ContainerRunning, restart.Status)

	f.lifecycle.restartErr = nil
	assert.True(t, f.coord.Restart(ctx, id).Success)

	stop := f.coord.Stop(ctx, id)
	assert.True(t, stop.Success)
	assert.Equal(t, types.ContainerStopped, stop.Status)

	missing := f.coord.Status(ctx, "nope")
	assert.False(t, missing.Success)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t, "coffee")
	ctx := context.Background()

	res := f.coord.Cleanup(ctx, "proj-1")
	assert.True(t, res.Success)
	assert.Equal(t, []string{"coffee"}, f.registrar.deleted)

	f.lifecycle.cleanupErr = errors.New("remove image: in use")
	f.registrar.err = errors.New("dns down")
	res = f.coord.Cleanup(ctx, "proj-1")
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "in use")
	assert.Contains(t, res.Message, "dns down")
}
