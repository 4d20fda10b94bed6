package manager

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Boendestodet/r3kt.dev-sub000/metrics"
	"github.com/Boendestodet/r3kt.dev-sub000/store"
)

const (
	randomPortMin      = 10000
	randomPortMax      = 60000
	randomPortAttempts = 16
)

// PortLister reports host ports currently published by a runtime.
type PortLister interface {
	PublishedPorts(ctx context.Context) ([]int, error)
}

// PortAllocator is the single authority for host ports. Checking a port and
// reserving it happen under one lock, so concurrent callers never receive the
// same port.
type PortAllocator struct {
	mu       sync.Mutex
	base     int
	window   int
	random   bool
	reserved map[int]string // port -> owning container id

	store    store.Store
	listers  []PortLister
	bindable func(port int) bool
	rng      *rand.Rand
	logger   *zap.Logger
}

// NewPortAllocator scans [base, base+window). When random is set and the
// window is exhausted, a few random ports outside it are tried as well.
func NewPortAllocator(base, window int, random bool, st store.Store, logger *zap.Logger, listers ...PortLister) *PortAllocator {
	return &PortAllocator{
		base:     base,
		window:   window,
		random:   random,
		reserved: make(map[int]string),
		store:    st,
		listers:  listers,
		bindable: canBind,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   logger.Named("ports"),
	}
}

// Reserve returns a free port owned by owner until released.
func (a *PortAllocator) Reserve(ctx context.Context, owner string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	taken, err := a.takenPorts(ctx)
	if err != nil {
		return 0, err
	}
	for port := a.base; port < a.base+a.window; port++ {
		if a.tryLocked(port, owner, taken) {
			metrics.RecordPortAllocation(metrics.OutcomeSuccess)
			return port, nil
		}
	}
	return a.randomLocked(owner, taken)
}

// ReserveNear searches outward from port: port+1, port+2 up to the top of the
// window, then port-1, port-2 down to its base.
func (a *PortAllocator) ReserveNear(ctx context.Context, owner string, port int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	taken, err := a.takenPorts(ctx)
	if err != nil {
		return 0, err
	}
	for p := port + 1; p < a.base+a.window; p++ {
		if a.tryLocked(p, owner, taken) {
			metrics.RecordPortAllocation(metrics.OutcomeSuccess)
			return p, nil
		}
	}
	for p := port - 1; p >= a.base; p-- {
		if a.tryLocked(p, owner, taken) {
			metrics.RecordPortAllocation(metrics.OutcomeSuccess)
			return p, nil
		}
	}
	return a.randomLocked(owner, taken)
}

// Release frees port if owner holds it.
func (a *PortAllocator) Release(port int, owner string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reserved[port] == owner {
		delete(a.reserved, port)
	}
}

// Adopt records an existing binding, such as a container found running at boot.
func (a *PortAllocator) Adopt(port int, owner string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reserved[port] = owner
}

// Reserved returns a snapshot of the reservation table.
func (a *PortAllocator) Reserved() map[int]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int]string, len(a.reserved))
	for p, o := range a.reserved {
		out[p] = o
	}
	return out
}

// takenPorts merges ports claimed by running container records with the ports
// each runtime currently publishes. Runtimes are queried on every call.
func (a *PortAllocator) takenPorts(ctx context.Context) (map[int]string, error) {
	taken, err := store.RunningPorts(ctx, a.store)
	if err != nil {
		return nil, fmt.Errorf("load running ports: %w", err)
	}
	for _, l := range a.listers {
		ports, err := l.PublishedPorts(ctx)
		if err != nil {
			a.logger.Debug("could not list published ports", zap.Error(err))
			continue
		}
		for _, p := range ports {
			if _, ok := taken[p]; !ok {
				taken[p] = ""
			}
		}
	}
	return taken, nil
}

func (a *PortAllocator) tryLocked(port int, owner string, taken map[int]string) bool {
	if holder, ok := a.reserved[port]; ok && holder != owner {
		return false
	}
	if holder, ok := taken[port]; ok && holder != owner {
		return false
	}
	if !a.bindable(port) {
		return false
	}
	a.reserved[port] = owner
	return true
}

func (a *PortAllocator) randomLocked(owner string, taken map[int]string) (int, error) {
	if a.random {
		for i := 0; i < randomPortAttempts; i++ {
			port := randomPortMin + a.rng.Intn(randomPortMax-randomPortMin)
			if port >= a.base && port < a.base+a.window {
				continue
			}
			if a.tryLocked(port, owner, taken) {
				a.logger.Warn("allocation window exhausted, using random port",
					zap.Int("port", port), zap.Int("base", a.base), zap.Int("window", a.window))
				metrics.RecordPortAllocation(metrics.OutcomeRandom)
				return port, nil
			}
		}
	}
	metrics.RecordPortAllocation(metrics.OutcomeFailure)
	return 0, fmt.Errorf("%w in %d-%d", ErrPortExhausted, a.base, a.base+a.window-1)
}

// canBind reports whether port can be bound on all interfaces right now.
func canBind(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
