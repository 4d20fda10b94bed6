package generation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Boendestodet/r3kt.dev-sub000/store"
	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dispatcher closed")

// Processor handles one request id. *Orchestrator implements it.
type Processor interface {
	Process(ctx context.Context, requestID string) error
}

// Dispatcher runs requests asynchronously. Requests for the same project run
// one after another in submission order; different projects run in parallel,
// at most workers at a time.
type Dispatcher struct {
	proc   Processor
	sem    *semaphore.Weighted
	logger *zap.Logger

	mu       sync.Mutex
	queues   map[string][]string // Key: project id; head is the running request
	inflight map[string]bool     // Key: request id, queued or running
	closed   bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(proc Processor, workers int, logger *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		proc:     proc,
		sem:      semaphore.NewWeighted(int64(workers)),
		logger:   logger.Named("dispatcher"),
		queues:   make(map[string][]string),
		inflight: make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit queues req behind any earlier requests for the same project.
// Submitting a request that is already queued or running is a no-op.
func (d *Dispatcher) Submit(req *types.GenerationRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.inflight[req.ID] {
		return nil
	}
	d.inflight[req.ID] = true

	queue := d.queues[req.ProjectID]
	d.queues[req.ProjectID] = append(queue, req.ID)
	if len(queue) == 0 {
		d.wg.Add(1)
		go d.drain(req.ProjectID)
	}
	d.logger.Debug("request queued",
		zap.String("request_id", req.ID),
		zap.String("project_id", req.ProjectID),
		zap.Int("position", len(queue)))
	return nil
}

// InFlight reports whether the request is queued or running.
func (d *Dispatcher) InFlight(requestID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight[requestID]
}

// drain is the single worker for one project's queue.
func (d *Dispatcher) drain(projectID string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		queue := d.queues[projectID]
		if len(queue) == 0 {
			delete(d.queues, projectID)
			d.mu.Unlock()
			return
		}
		requestID := queue[0]
		d.mu.Unlock()

		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			d.abandon(projectID)
			return
		}
		d.run(projectID, requestID)
		d.sem.Release(1)

		d.mu.Lock()
		d.queues[projectID] = d.queues[projectID][1:]
		delete(d.inflight, requestID)
		d.mu.Unlock()
	}
}

func (d *Dispatcher) run(projectID, requestID string) {
	log := d.logger.With(zap.String("request_id", requestID), zap.String("project_id", projectID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in request processing", zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := d.proc.Process(d.ctx, requestID); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn("request processing interrupted", zap.Error(err))
			return
		}
		log.Error("request processing failed", zap.Error(err))
		return
	}
	log.Debug("request processed", zap.Duration("duration", time.Since(start)))
}

// abandon drops a project's queued requests after the dispatcher was
// cancelled. They stay pending in the store for the next run.
func (d *Dispatcher) abandon(projectID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.queues[projectID] {
		delete(d.inflight, id)
	}
	d.logger.Warn("dropping queued requests on shutdown",
		zap.String("project_id", projectID), zap.Int("count", len(d.queues[projectID])))
	delete(d.queues, projectID)
}

// Close stops accepting requests and waits for queued ones to finish. When
// ctx ends first, running requests are cancelled and the rest are dropped.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Poller feeds pending requests from the store into a Dispatcher. On start it
// also resumes requests a previous run left in processing.
type Poller struct {
	store      store.Store
	dispatcher *Dispatcher
	interval   time.Duration
	batch      int
	logger     *zap.Logger
}

func NewPoller(st store.Store, dispatcher *Dispatcher, interval time.Duration, batch int, logger *zap.Logger) *Poller {
	return &Poller{
		store:      st,
		dispatcher: dispatcher,
		interval:   interval,
		batch:      batch,
		logger:     logger.Named("poller"),
	}
}

// Run resumes interrupted requests, then polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Resume(ctx)
	p.Poll(ctx)
	for {
		select {
		case <-ticker.C:
			p.Poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Poll submits one batch of pending requests, oldest first, and returns how
// many were newly queued.
func (p *Poller) Poll(ctx context.Context) int {
	queued := p.submit(ctx, types.RequestPending, p.batch)
	if queued > 0 {
		p.logger.Info("queued pending requests", zap.Int("count", queued))
	}
	return queued
}

// Resume submits every request left in processing that this process is not
// already running, and returns how many were queued. It is meant to run once
// at startup, before any request of this process reaches processing.
func (p *Poller) Resume(ctx context.Context) int {
	queued := p.submit(ctx, types.RequestProcessing, 0)
	if queued > 0 {
		p.logger.Info("resuming interrupted requests", zap.Int("count", queued))
	}
	return queued
}

func (p *Poller) submit(ctx context.Context, status types.RequestStatus, limit int) int {
	reqs, err := p.store.ListGenerationRequests(ctx, status, limit)
	if err != nil {
		p.logger.Warn("failed to list requests", zap.String("status", string(status)), zap.Error(err))
		return 0
	}
	queued := 0
	for _, req := range reqs {
		if p.dispatcher.InFlight(req.ID) {
			continue
		}
		if err := p.dispatcher.Submit(req); err != nil {
			p.logger.Debug("stopped submitting", zap.Error(err))
			break
		}
		queued++
	}
	return queued
}
