package cli

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Boendestodet/r3kt.dev-sub000/cloudflare"
	"github.com/Boendestodet/r3kt.dev-sub000/config"
	"github.com/Boendestodet/r3kt.dev-sub000/deploy"
	"github.com/Boendestodet/r3kt.dev-sub000/generation"
	"github.com/Boendestodet/r3kt.dev-sub000/logging"
	"github.com/Boendestodet/r3kt.dev-sub000/manager"
	"github.com/Boendestodet/r3kt.dev-sub000/materialize"
	"github.com/Boendestodet/r3kt.dev-sub000/provider"
	"github.com/Boendestodet/r3kt.dev-sub000/scaffold"
	"github.com/Boendestodet/r3kt.dev-sub000/store"
)

// app is the fully wired service graph shared by every command.
type app struct {
	cfg          config.Config
	logger       *zap.Logger
	store        store.Store
	registry     *scaffold.Registry
	providers    *provider.Set
	manager      *manager.Manager
	coordinator  *deploy.Coordinator
	orchestrator *generation.Orchestrator

	closers []func() error
}

// newApp loads the configuration and builds every component from it.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	if err := os.MkdirAll(cfg.ProjectsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create projects directory: %w", err)
	}

	st, err := store.OpenSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	a.registry = scaffold.NewRegistry()
	a.providers = provider.NewSet(
		provider.Chain{Priority: cfg.Providers.Priority, Models: cfg.Providers.Models},
		provider.NewOpenAI(cfg.Providers.OpenAI, logger),
		provider.NewAnthropic(cfg.Providers.Anthropic, logger),
		provider.NewGemini(cfg.Providers.Gemini, logger),
	)

	host := manager.NewHostLauncher(logger)
	opts := manager.Options{
		ProjectsDir:  cfg.ProjectsDir,
		PublicHost:   cfg.ServerAddress,
		PublicScheme: cfg.PublicScheme,
		Host:         host,
	}
	listers := []manager.PortLister{host}
	if cfg.Runtime.DockerEnabled {
		cli, err := manager.NewDockerClient()
		if err != nil {
			logger.Warn("docker unavailable, previews run on the host", zap.Error(err))
		} else {
			a.closers = append(a.closers, cli.Close)
			docker := manager.NewDockerLauncher(cli, cfg.Runtime, logger)
			opts.Docker = docker
			listers = append(listers, docker)
		}
	}
	ports := manager.NewPortAllocator(cfg.Runtime.PortBase, cfg.Runtime.PortWindow, cfg.Runtime.RandomFallback, st, logger, listers...)
	a.manager = manager.New(st, a.registry, materialize.New(a.registry, logger), ports, opts, logger)

	var registrar deploy.Registrar
	if cfg.Cloudflare.Enabled {
		client, err := cloudflare.NewClient(cfg.Cloudflare, cfg.ServerAddress, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		registrar = cloudflare.NewManager(client, cfg.Cloudflare.AutoGenerate, logger)
	}
	a.coordinator = deploy.NewCoordinator(st, a.manager, registrar, logger)
	a.orchestrator = generation.NewOrchestrator(st, a.registry, a.providers, a.coordinator, logger)
	return a, nil
}

// Close waits for background DNS work and releases resources in reverse
// order of acquisition.
func (a *app) Close() error {
	if a.coordinator != nil {
		a.coordinator.WaitDNS()
	}
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	return err
}
