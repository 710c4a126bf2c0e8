package worker

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

type indexedJob struct {
	index int
	job   Job
}

// Pool runs jobs on a fixed number of workers. Results come back in
// submission order; each job owns exactly one result slot.
type Pool struct {
	workers    int
	jobQueue   chan indexedJob
	results    []Result
	resultsMu  sync.Mutex
	submitted  int
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// NewPool creates a new worker pool with the specified number of workers
func NewPool(workers int) *Pool {
	return NewPoolWithContext(context.Background(), workers)
}

// NewPoolWithContext creates a pool whose jobs observe ctx
func NewPoolWithContext(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Pool{
		workers:    workers,
		jobQueue:   make(chan indexedJob, workers*2),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start starts the worker pool
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case ij, ok := <-p.jobQueue:
			if !ok {
				return
			}
			result := ij.job.Execute(p.ctx)
			p.resultsMu.Lock()
			p.results[ij.index] = result
			p.resultsMu.Unlock()
		}
	}
}

// Submit submits a job to the pool for execution. Submit must not be called
// concurrently with itself or after Wait.
func (p *Pool) Submit(job Job) {
	p.resultsMu.Lock()
	index := p.submitted
	p.submitted++
	p.results = append(p.results, nil)
	p.resultsMu.Unlock()

	select {
	case <-p.ctx.Done():
	case p.jobQueue <- indexedJob{index: index, job: job}:
	}
}

// Wait waits for all jobs to complete and returns their results in submission
// order. Jobs skipped by Shutdown leave a nil slot.
func (p *Pool) Wait() []Result {
	close(p.jobQueue)
	p.wg.Wait()
	p.cancelFunc()

	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()
	return p.results
}

// Shutdown stops the pool without waiting for queued jobs
func (p *Pool) Shutdown() {
	p.cancelFunc()
	p.wg.Wait()
}

// ForEach calls fn for every index in [0,n) with at most workers calls in
// flight. A failing call does not cancel its siblings; the first error is
// returned after all calls finish. fn should write only to its own slot.
func ForEach(ctx context.Context, workers, n int, fn func(ctx context.Context, i int) error) error {
	if workers <= 0 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return fn(ctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
