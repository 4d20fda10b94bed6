package manager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

const (
	hostLogLines        = 500
	hostShutdownTimeout = 5 * time.Second
	hostHealthPath      = "/_r3kt/health"
)

// Index candidates, in order, for requests that match no file.
var hostIndexFiles = []string{"index.html", "public/index.html", "templates/index.html", "static/index.html"}

// HostLauncher serves a project directory from an in-process HTTP server. It
// is the fallback when the container engine is unavailable.
type HostLauncher struct {
	mu        sync.Mutex
	instances map[string]*hostInstance
	logger    *zap.Logger
}

func NewHostLauncher(logger *zap.Logger) *HostLauncher {
	return &HostLauncher{instances: make(map[string]*hostInstance), logger: logger.Named("host")}
}

func (h *HostLauncher) Backend() types.Backend { return types.BackendHost }

func (h *HostLauncher) Available(context.Context) error { return nil }

func (h *HostLauncher) Launch(_ context.Context, spec LaunchSpec) (Instance, error) {
	inst := &hostInstance{
		handle: fmt.Sprintf("host-%d-%s", spec.HostPort, spec.ContainerID),
		dir:    spec.Dir,
		port:   spec.HostPort,
		logs:   newLineBuffer(hostLogLines),
		owner:  h,
		logger: h.logger.With(zap.String("container_id", spec.ContainerID), zap.Int("host_port", spec.HostPort)),
	}
	if err := inst.listen(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.instances[inst.handle] = inst
	h.mu.Unlock()
	return inst, nil
}

// Attach returns the live server for handle. Servers do not survive a process
// restart, so an unknown handle yields an instance that reports itself gone.
func (h *HostLauncher) Attach(handle string) Instance {
	h.mu.Lock()
	defer h.mu.Unlock()
	if inst, ok := h.instances[handle]; ok {
		return inst
	}
	return goneInstance{handle: handle, backend: types.BackendHost}
}

func (h *HostLauncher) RemoveArtifacts(context.Context, string) error { return nil }

// PublishedPorts lists ports held by live host servers.
func (h *HostLauncher) PublishedPorts(context.Context) ([]int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ports := make([]int, 0, len(h.instances))
	for _, inst := range h.instances {
		ports = append(ports, inst.port)
	}
	return ports, nil
}

func (h *HostLauncher) forget(handle string) {
	h.mu.Lock()
	delete(h.instances, handle)
	h.mu.Unlock()
}

type hostInstance struct {
	mu      sync.Mutex
	handle  string
	dir     string
	port    int
	server  *http.Server
	logs    *lineBuffer
	owner   *HostLauncher
	logger  *zap.Logger
}

func (i *hostInstance) Handle() string         { return i.handle }
func (i *hostInstance) Backend() types.Backend { return types.BackendHost }

func (i *hostInstance) listen() error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", i.port))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %v", ErrPortConflict, err)
		}
		return fmt.Errorf("listen on port %d: %w", i.port, err)
	}

	srv := &http.Server{Handler: i.router(), ReadHeaderTimeout: 10 * time.Second}
	i.mu.Lock()
	i.server = srv
	i.mu.Unlock()

	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			i.logger.Error("host server stopped", zap.Error(err))
			i.logs.Add("server error: " + err.Error())
		}
	}()
	i.logs.Add(fmt.Sprintf("serving %s on port %d", i.dir, i.port))
	i.logger.Info("host server listening", zap.String("dir", i.dir))
	return nil
}

func (i *hostInstance) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)
			i.logs.Add(fmt.Sprintf("%s %s %s %d", time.Now().UTC().Format(time.RFC3339), req.Method, req.URL.Path, ww.Status()))
		})
	})
	r.Get(hostHealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/*", i.files())
	return r
}

// files serves the directory, answering unknown paths with the first index
// file found so client-side routes keep working.
func (i *hostInstance) files() http.Handler {
	fs := http.FileServer(http.Dir(i.dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rel := filepath.FromSlash(strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+r.URL.Path)), "/"))
		if info, err := os.Stat(filepath.Join(i.dir, rel)); err == nil && !info.IsDir() {
			fs.ServeHTTP(w, r)
			return
		}
		for _, idx := range hostIndexFiles {
			p := filepath.Join(i.dir, filepath.FromSlash(idx))
			if _, err := os.Stat(p); err == nil {
				http.ServeFile(w, r, p)
				return
			}
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<!DOCTYPE html><html><body><h1>Preview starting</h1><p>This project is served in fallback mode and has no index page yet.</p></body></html>"))
	})
}

func (i *hostInstance) shutdown(ctx context.Context) error {
	i.mu.Lock()
	srv := i.server
	i.server = nil
	i.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, hostShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (i *hostInstance) Stop(ctx context.Context) error {
	err := i.shutdown(ctx)
	i.owner.forget(i.handle)
	i.logs.Add("stopped")
	return err
}

func (i *hostInstance) Restart(ctx context.Context) error {
	if err := i.shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown host server: %w", err)
	}
	return i.listen()
}

func (i *hostInstance) Health(context.Context) types.Health {
	i.mu.Lock()
	running := i.server != nil
	i.mu.Unlock()
	if !running {
		return types.Health{Status: types.HealthUnhealthy, Detail: "host server not running"}
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", i.port), time.Second)
	if err != nil {
		return types.Health{Status: types.HealthUnhealthy, Running: true, Detail: err.Error()}
	}
	conn.Close()
	return types.Health{Status: types.HealthHealthy, Running: true}
}

// Stats are not tracked for in-process servers.
func (i *hostInstance) Stats(context.Context) types.Stats { return types.Stats{} }

func (i *hostInstance) Logs(_ context.Context, tail int) (string, error) {
	return i.logs.Tail(tail), nil
}

// goneInstance stands in for a handle whose process no longer exists.
type goneInstance struct {
	handle  string
	backend types.Backend
}

func (g goneInstance) Handle() string                    { return g.handle }
func (g goneInstance) Backend() types.Backend            { return g.backend }
func (g goneInstance) Stop(context.Context) error        { return nil }
func (g goneInstance) Stats(context.Context) types.Stats { return types.Stats{} }

func (g goneInstance) Restart(context.Context) error {
	return fmt.Errorf("%w: %s is not running", ErrNoHandle, g.handle)
}

func (g goneInstance) Health(context.Context) types.Health {
	return types.UnknownHealth("instance not running in this process")
}

func (g goneInstance) Logs(context.Context, int) (string, error) { return "", nil }

type lineBuffer struct {
	mu    sync.Mutex
	lines []string
	limit int
}

func newLineBuffer(limit int) *lineBuffer {
	return &lineBuffer{limit: limit}
}

func (b *lineBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.limit {
		b.lines = b.lines[len(b.lines)-b.limit:]
	}
}

func (b *lineBuffer) Tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := b.lines
	if n > 0 && n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
