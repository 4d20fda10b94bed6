package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// Both implementations must behave the same, so every test runs against each.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "r3kt.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func newProject(id string) *types.Project {
	now := time.Now().UTC()
	return &types.Project{
		ID:        id,
		UserID:    "user-1",
		Name:      "Coffee Blog",
		Stack:     "nextjs",
		Settings:  types.ProjectSettings{Stack: "Next.js", PreferredModel: "gpt-4o"},
		Status:    types.ProjectDraft,
		Subdomain: "coffee-blog",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestProjectRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.GetProject(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		p := newProject("p1")
		require.NoError(t, s.SaveProject(ctx, p))

		built := time.Now().UTC()
		p.Status = types.ProjectReady
		p.GeneratedFiles = map[string]string{"app/page.tsx": "export default function Page() {}"}
		p.PreviewURL = "http://localhost:3100"
		p.LastBuiltAt = &built
		require.NoError(t, s.SaveProject(ctx, p))

		got, err := s.GetProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, types.ProjectReady, got.Status)
		assert.Equal(t, p.GeneratedFiles, got.GeneratedFiles)
		assert.Equal(t, "gpt-4o", got.Settings.PreferredModel)
		assert.Equal(t, "http://localhost:3100", got.PreviewURL)
		require.NotNil(t, got.LastBuiltAt)
		assert.WithinDuration(t, built, *got.LastBuiltAt, time.Millisecond)

		bySub, err := s.GetProjectBySubdomain(ctx, "coffee-blog")
		require.NoError(t, err)
		assert.Equal(t, "p1", bySub.ID)
		_, err = s.GetProjectBySubdomain(ctx, "")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPendingRequestsOldestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveProject(ctx, newProject("p1")))

		base := time.Now().UTC()
		for i, id := range []string{"r2", "r1", "r3"} {
			offset := map[string]time.Duration{"r1": 0, "r2": time.Second, "r3": 2 * time.Second}[id]
			req := &types.GenerationRequest{
				ID:         id,
				ProjectID:  "p1",
				Prompt:     "prompt",
				Status:     types.RequestPending,
				AutoDeploy: i == 0,
				CreatedAt:  base.Add(offset),
			}
			require.NoError(t, s.SaveGenerationRequest(ctx, req))
		}

		done, err := s.GetGenerationRequest(ctx, "r3")
		require.NoError(t, err)
		require.NoError(t, done.Advance(types.RequestProcessing))
		require.NoError(t, done.Complete(map[string]string{"a": "b"}, 10, time.Now()))
		done.Metadata.Provider = "mock"
		require.NoError(t, s.SaveGenerationRequest(ctx, done))

		pending, err := s.ListGenerationRequests(ctx, types.RequestPending, 10)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "r1", pending[0].ID)
		assert.Equal(t, "r2", pending[1].ID)
		assert.True(t, pending[1].AutoDeploy)

		running, err := s.GetGenerationRequest(ctx, "r2")
		require.NoError(t, err)
		require.NoError(t, running.Advance(types.RequestProcessing))
		require.NoError(t, s.SaveGenerationRequest(ctx, running))
		processing, err := s.ListGenerationRequests(ctx, types.RequestProcessing, 0)
		require.NoError(t, err)
		require.Len(t, processing, 1)
		assert.Equal(t, "r2", processing[0].ID)

		got, err := s.GetGenerationRequest(ctx, "r3")
		require.NoError(t, err)
		assert.Equal(t, types.RequestCompleted, got.Status)
		assert.Equal(t, "mock", got.Metadata.Provider)
		require.NotNil(t, got.Result)
		assert.Equal(t, "b", got.Result.Files["a"])
		assert.NotNil(t, got.ProcessedAt)

		limited, err := s.ListGenerationRequests(ctx, types.RequestPending, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

func TestContainersAndRunningPorts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveProject(ctx, newProject("p1")))

		base := time.Now().UTC()
		old := &types.Container{ID: "c-old", ProjectID: "p1", Status: types.ContainerStopped, Port: 3100, CreatedAt: base}
		cur := &types.Container{ID: "c-new", ProjectID: "p1", Status: types.ContainerRunning, Port: 3101,
			Backend: types.BackendDocker, Handle: "abc", CreatedAt: base.Add(time.Second)}
		require.NoError(t, s.SaveContainer(ctx, old))
		require.NoError(t, s.SaveContainer(ctx, cur))

		active, err := s.ActiveContainer(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "c-new", active.ID)
		assert.Equal(t, types.BackendDocker, active.Backend)

		all, err := s.ListContainersByProject(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "c-new", all[0].ID)

		ports, err := RunningPorts(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, map[int]string{3101: "c-new"}, ports)

		cur.Status = types.ContainerStopped
		require.NoError(t, s.SaveContainer(ctx, cur))
		_, err = s.ActiveContainer(ctx, "p1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
