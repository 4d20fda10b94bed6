package cloudflare

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// Manager decides when projects get DNS records and remembers which did.
type Manager struct {
	client  *Client
	enabled bool
	domains map[string]types.ProjectDomain // Key: project id
	mu      sync.RWMutex
	autoGen bool
	logger  *zap.Logger
}

// NewManager creates a new domain manager
func NewManager(client *Client, autoGenerate bool, logger *zap.Logger) *Manager {
	return &Manager{
		client:  client,
		enabled: client != nil,
		domains: make(map[string]types.ProjectDomain),
		autoGen: autoGenerate,
		logger:  logger.Named("domains"),
	}
}

// RegisterProjectDomain creates a domain for a project after a deploy. It
// returns nil without error when registration is turned off.
func (m *Manager) RegisterProjectDomain(ctx context.Context, project *types.Project) (*types.ProjectDomain, error) {
	if !m.enabled || !m.autoGen {
		m.logger.Debug("domain registration skipped",
			zap.String("project_id", project.ID), zap.Bool("enabled", m.enabled), zap.Bool("auto_generate", m.autoGen))
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if domain, exists := m.domains[project.ID]; exists {
		return &domain, nil
	}

	domain, err := m.client.CreateDomain(ctx, project)
	if err != nil {
		m.logger.Warn("failed to create domain", zap.String("project_id", project.ID), zap.Error(err))
		return nil, err
	}

	m.domains[project.ID] = *domain
	m.logger.Info("registered domain", zap.String("project_id", project.ID), zap.String("domain", domain.Domain))
	return domain, nil
}

// GetProjectDomain retrieves domain info for a project
func (m *Manager) GetProjectDomain(projectID string) (types.ProjectDomain, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	domain, exists := m.domains[projectID]
	return domain, exists
}

// DeleteProjectDomain removes a project's domain.
func (m *Manager) DeleteProjectDomain(ctx context.Context, project *types.Project) error {
	if !m.enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.client.DeleteDomain(ctx, project); err != nil {
		m.logger.Warn("failed to delete domain", zap.String("project_id", project.ID), zap.Error(err))
		return err
	}
	delete(m.domains, project.ID)
	return nil
}

// IsEnabled returns whether domain management is enabled
func (m *Manager) IsEnabled() bool {
	return m.enabled && m.client != nil
}
