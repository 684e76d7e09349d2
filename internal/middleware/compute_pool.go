package middleware

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	domrepo "QuantEngine/internal/domain/repository"
	applogger "QuantEngine/pkg/logger"
)

var ErrPoolClosed = errors.New("compute pool closed")

type task struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// ComputePool runs CPU-bound work on a fixed set of workers so that
// concurrent requests cannot oversubscribe the CPUs. Callers wait for their
// task or their context, whichever finishes first.
type ComputePool struct {
	workers int
	queue   chan task
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool

	metrics    domrepo.Metrics
	log        *applogger.Logger
	queueDepth func(int)
}

type PoolOption func(*ComputePool)

// WithWorkers sets the worker count; 0 keeps GOMAXPROCS.
func WithWorkers(n int) PoolOption {
	return func(p *ComputePool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets how many tasks may wait for a worker.
func WithQueueSize(n int) PoolOption {
	return func(p *ComputePool) {
		if n >= 0 {
			p.queue = make(chan task, n)
		}
	}
}

func WithPoolMetrics(m domrepo.Metrics) PoolOption {
	return func(p *ComputePool) { p.metrics = m }
}

func WithPoolLogger(l *applogger.Logger) PoolOption {
	return func(p *ComputePool) {
		if l != nil {
			p.log = l.Component("compute")
		}
	}
}

// WithQueueGauge reports the number of waiting tasks after every change.
func WithQueueGauge(fn func(int)) PoolOption {
	return func(p *ComputePool) { p.queueDepth = fn }
}

func NewComputePool(opts ...PoolOption) *ComputePool {
	p := &ComputePool{
		workers: runtime.GOMAXPROCS(0),
		queue:   make(chan task, 64),
		stopCh:  make(chan struct{}),
		log:     applogger.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ComputePool) Workers() int { return p.workers }

// Start launches the workers. It is safe to call more than once.
func (p *ComputePool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.log.Info("compute pool started", applogger.Int("workers", p.workers), applogger.Int("queue", cap(p.queue)))
}

// Stop signals the workers and waits for running tasks. Queued tasks fail
// with ErrPoolClosed.
func (p *ComputePool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	close(p.stopCh)
	p.wg.Wait()
}

// Run executes fn on a worker and returns its error. If ctx ends first,
// Run returns ctx.Err() and fn sees the cancelled context.
func (p *ComputePool) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	live := p.started && !p.stopped
	p.mu.Unlock()
	if !live {
		return ErrPoolClosed
	}

	t := task{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case p.queue <- t:
		p.reportDepth()
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return ErrPoolClosed
	}

	select {
	case err := <-t.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		// the task may still be running; wait for it so fn never outlives Stop
		select {
		case err := <-t.result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *ComputePool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			p.drain()
			return
		case t := <-p.queue:
			p.reportDepth()
			t.result <- p.exec(t)
		}
	}
}

// drain fails whatever is still queued.
func (p *ComputePool) drain() {
	for {
		select {
		case t := <-p.queue:
			t.result <- ErrPoolClosed
		default:
			p.reportDepth()
			return
		}
	}
}

func (p *ComputePool) exec(t task) (err error) {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compute task panic: %v", r)
			p.log.Error("compute task panic", applogger.Any("panic", r))
			if p.metrics != nil {
				p.metrics.RecordError("compute_panic")
			}
		}
		if p.metrics != nil {
			p.metrics.RecordLatency("compute_task", time.Since(start).Seconds())
		}
	}()
	return t.fn(t.ctx)
}

func (p *ComputePool) reportDepth() {
	if p.queueDepth != nil {
		p.queueDepth(len(p.queue))
	}
}
