package worker

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/oriys/pulsar/internal/invocation"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
)

// Job is a blocking unit of work run by the Pool.
type Job func(ctx context.Context) (any, error)

type poolJob struct {
	ctx  context.Context
	run  Job
	done chan poolResult
	// finished, when set, is called once the job has returned or is
	// known never to run.
	finished func()
}

type poolResult struct {
	value any
	err   error
}

// Pool runs blocking function bodies on a fixed set of goroutines so they
// never stall the dispatcher. Each job runs under a context derived from
// the pool goroutine's own base context with the submitter's invocation
// token re-attached.
type Pool struct {
	size    int
	jobs    chan poolJob
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex
	wg      sync.WaitGroup
	metrics *metrics.Metrics
}

// NewPool creates a pool with size workers. size <= 0 selects
// runtime.NumCPU().
func NewPool(size int, m *metrics.Metrics) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{
		size:    size,
		jobs:    make(chan poolJob),
		stopCh:  make(chan struct{}),
		metrics: m,
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Start launches worker goroutines.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logging.Op().Debug("sync pool started", "workers", p.size)
}

// Stop shuts down all workers after their current job. Jobs submitted
// afterwards fail with ErrPoolStopped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logging.Op().Debug("sync pool stopped")
}

// Run submits job and waits for its result. It returns early with ctx's
// error when ctx is done first; a job that has not started by then is
// skipped, and a running job keeps its pool goroutine until it returns.
func (p *Pool) Run(ctx context.Context, job Job) (any, error) {
	return p.run(ctx, job, nil)
}

// run is Run with a callback invoked when the job's goroutine is done with
// it, which may be after Run has returned.
func (p *Pool) run(ctx context.Context, job Job, finished func()) (any, error) {
	j := poolJob{ctx: ctx, run: job, done: make(chan poolResult, 1), finished: finished}

	p.metrics.PoolQueued()
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		p.metrics.PoolDropped()
		j.finish()
		return nil, ctx.Err()
	case <-p.stopCh:
		p.metrics.PoolDropped()
		j.finish()
		return nil, ErrPoolStopped
	}

	select {
	case r := <-j.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	base := context.Background()
	for {
		select {
		case <-p.stopCh:
			return
		case j := <-p.jobs:
			if j.ctx.Err() != nil {
				p.metrics.PoolDropped()
				j.finish()
				j.done <- poolResult{err: j.ctx.Err()}
				continue
			}
			p.metrics.PoolStarted()
			v, err := p.execute(base, j)
			p.metrics.PoolFinished()
			j.finish()
			j.done <- poolResult{value: v, err: err}
		}
	}
}

func (j poolJob) finish() {
	if j.finished != nil {
		j.finished()
	}
}

func (p *Pool) execute(base context.Context, j poolJob) (v any, err error) {
	ctx, cancel := context.WithCancel(invocation.Inherit(base, j.ctx))
	stop := context.AfterFunc(j.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	if j.run == nil {
		return nil, fmt.Errorf("nil job")
	}
	return j.run(ctx)
}
