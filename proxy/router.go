// Package proxy routes <subdomain>.<base domain> requests to the project's
// running preview, deploying it on demand and stopping it when idle.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Boendestodet/r3kt.dev-sub000/config"
	"github.com/Boendestodet/r3kt.dev-sub000/deploy"
	"github.com/Boendestodet/r3kt.dev-sub000/store"
	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// Deployer starts and stops previews. *deploy.Coordinator implements it.
type Deployer interface {
	EnsureRunning(ctx context.Context, projectID string) deploy.Result
	Stop(ctx context.Context, containerID string) deploy.Result
}

// Router is the preview reverse proxy.
type Router struct {
	store    store.Store
	deployer Deployer
	cfg      config.ProxyConfig
	logger   *zap.Logger

	mu          sync.Mutex
	lastRequest map[string]time.Time // Key: container id
	proxies     map[int]*httputil.ReverseProxy

	now func() time.Time
}

func NewRouter(st store.Store, deployer Deployer, cfg config.ProxyConfig, logger *zap.Logger) *Router {
	return &Router{
		store:       st,
		deployer:    deployer,
		cfg:         cfg,
		logger:      logger.Named("proxy"),
		lastRequest: make(map[string]time.Time),
		proxies:     make(map[int]*httputil.ReverseProxy),
		now:         time.Now,
	}
}

// Subdomain extracts the routable name from a Host header. With a base
// domain set, only its direct subdomains match; otherwise the first label is
// used.
func (rt *Router) Subdomain(host string) (string, bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	if base := strings.ToLower(rt.cfg.BaseDomain); base != "" {
		name, ok := strings.CutSuffix(host, "."+base)
		if !ok || name == "" || strings.Contains(name, ".") {
			return "", false
		}
		return name, true
	}
	name, _, found := strings.Cut(host, ".")
	if !found || name == "" {
		return "", false
	}
	return name, true
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subdomain, ok := rt.Subdomain(r.Host)
	if !ok {
		http.Error(w, fmt.Sprintf("No preview for host '%s'", r.Host), http.StatusNotFound)
		return
	}
	log := rt.logger.With(zap.String("subdomain", subdomain))

	project, err := rt.store.GetProjectBySubdomain(r.Context(), subdomain)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, fmt.Sprintf("Project for '%s' not found", subdomain), http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error("project lookup failed", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	container, err := rt.store.ActiveContainer(r.Context(), project.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error("container lookup failed", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if container == nil || container.Status != types.ContainerRunning {
		if !rt.cfg.WakeOnRequest {
			http.Error(w, fmt.Sprintf("Preview for project %s is not running", project.Name), http.StatusServiceUnavailable)
			return
		}
		container, err = rt.wake(r.Context(), project)
		if err != nil {
			log.Warn("on-demand deploy failed", zap.Error(err))
			http.Error(w, fmt.Sprintf("Failed to start preview for project %s", project.Name), http.StatusServiceUnavailable)
			return
		}
	}

	rt.touch(container.ID)
	rt.proxyFor(container.Port).ServeHTTP(w, r)
}

// wake makes sure the project's preview runs and returns its container.
// Concurrent wakes queue on the coordinator's project lock; later ones find
// the container running and reuse it.
func (rt *Router) wake(ctx context.Context, project *types.Project) (*types.Container, error) {
	timeout := rt.cfg.WakeTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rt.logger.Info("deploying preview on request", zap.String("project_id", project.ID))
	res := rt.deployer.EnsureRunning(ctx, project.ID)
	if !res.Success {
		return nil, errors.New(res.Message)
	}
	return rt.store.GetContainer(ctx, res.ContainerID)
}

func (rt *Router) proxyFor(port int) *httputil.ReverseProxy {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if p, ok := rt.proxies[port]; ok {
		return p
	}
	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)}
	p := httputil.NewSingleHostReverseProxy(target)
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		rt.logger.Warn("upstream request failed", zap.Int("port", port), zap.Error(err))
		http.Error(w, "Preview is not responding", http.StatusBadGateway)
	}
	rt.proxies[port] = p
	return p
}

func (rt *Router) touch(containerID string) {
	rt.mu.Lock()
	rt.lastRequest[containerID] = rt.now()
	rt.mu.Unlock()
}

// InactivityMonitor stops running previews that have not served a request
// for the configured idle timeout. A preview this router never served counts
// from the moment the monitor first sees it.
func (rt *Router) InactivityMonitor(ctx context.Context) {
	if rt.cfg.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(rt.cfg.IdleInterval)
	defer ticker.Stop()

	rt.logger.Info("inactivity monitor started", zap.Duration("idle_timeout", rt.cfg.IdleTimeout))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.StopIdle(ctx)
		}
	}
}

// StopIdle runs one inactivity check and returns the ids of stopped containers.
func (rt *Router) StopIdle(ctx context.Context) []string {
	running, err := rt.store.RunningContainers(ctx)
	if err != nil {
		rt.logger.Warn("failed to list running containers", zap.Error(err))
		return nil
	}

	now := rt.now()
	var idle []string
	rt.mu.Lock()
	seen := make(map[string]bool, len(running))
	for _, c := range running {
		seen[c.ID] = true
		last, ok := rt.lastRequest[c.ID]
		if !ok {
			rt.lastRequest[c.ID] = now
			continue
		}
		if now.Sub(last) > rt.cfg.IdleTimeout {
			idle = append(idle, c.ID)
		}
	}
	for id := range rt.lastRequest {
		if !seen[id] {
			delete(rt.lastRequest, id)
		}
	}
	rt.mu.Unlock()

	var stopped []string
	for _, id := range idle {
		res := rt.deployer.Stop(ctx, id)
		if !res.Success {
			rt.logger.Warn("failed to stop idle preview", zap.String("container_id", id), zap.String("reason", res.Message))
			continue
		}
		rt.mu.Lock()
		delete(rt.lastRequest, id)
		rt.mu.Unlock()
		stopped = append(stopped, id)
		rt.logger.Info("stopped idle preview", zap.String("container_id", id))
	}
	return stopped
}
