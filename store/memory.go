package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// MemoryStore is an in-process Store. Records are deep-copied on the way in and
// out so callers never share mutable state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	projects   map[string]*types.Project
	requests   map[string]*types.GenerationRequest
	containers map[string]*types.Container
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:   make(map[string]*types.Project),
		requests:   make(map[string]*types.GenerationRequest),
		containers: make(map[string]*types.Container),
	}
}

func clone[T any](in *T) *T {
	data, err := json.Marshal(in)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(err)
	}
	return out
}

func (s *MemoryStore) GetProject(_ context.Context, id string) (*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (s *MemoryStore) GetProjectBySubdomain(_ context.Context, subdomain string) (*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.projects {
		if subdomain != "" && p.Subdomain == subdomain {
			return clone(p), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SaveProject(_ context.Context, p *types.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = clone(p)
	return nil
}

func (s *MemoryStore) GetGenerationRequest(_ context.Context, id string) (*types.GenerationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (s *MemoryStore) SaveGenerationRequest(_ context.Context, r *types.GenerationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.ID] = clone(r)
	return nil
}

func (s *MemoryStore) ListGenerationRequests(_ context.Context, status types.RequestStatus, limit int) ([]*types.GenerationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.GenerationRequest
	for _, r := range s.requests {
		if r.Status == status {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetContainer(_ context.Context, id string) (*types.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.containers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (s *MemoryStore) SaveContainer(_ context.Context, c *types.Container) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containers[c.ID] = clone(c)
	return nil
}

func (s *MemoryStore) ListContainersByProject(_ context.Context, projectID string) ([]*types.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Container
	for _, c := range s.containers {
		if c.ProjectID == projectID {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ActiveContainer(ctx context.Context, projectID string) (*types.Container, error) {
	containers, err := s.ListContainersByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, c := range containers {
		if c.Active() {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) RunningContainers(_ context.Context) ([]*types.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Container
	for _, c := range s.containers {
		if c.Status == types.ContainerRunning {
			out = append(out, clone(c))
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
