package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	apperrors "go-photo-cropper/internal/errors"
)

// Pool runs decode, transform and save jobs on a fixed set of goroutines
type Pool struct {
	workers  int
	jobQueue chan func()
	wg       sync.WaitGroup
	once     sync.Once

	mu      sync.RWMutex
	closed  bool
	quit    chan struct{}
	senders sync.WaitGroup

	totalJobs     int64
	completedJobs int64
	activeWorkers int64
}

// Stats is a snapshot of pool counters
type Stats struct {
	Workers       int   `json:"workers"`
	TotalJobs     int64 `json:"total_jobs"`
	CompletedJobs int64 `json:"completed_jobs"`
	ActiveWorkers int64 `json:"active_workers"`
}

// NewPool creates a new worker pool with the specified number of workers
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Pool{
		workers:  workers,
		jobQueue: make(chan func(), workers*2),
		quit:     make(chan struct{}),
	}
}

// Start initializes and starts all workers in the pool
func (p *Pool) Start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			go p.worker()
		}
	})
}

// worker processes jobs from the job queue
func (p *Pool) worker() {
	for job := range p.jobQueue {
		p.execute(job)
	}
}

func (p *Pool) execute(job func()) {
	atomic.AddInt64(&p.activeWorkers, 1)
	defer func() {
		atomic.AddInt64(&p.activeWorkers, -1)
		atomic.AddInt64(&p.completedJobs, 1)
		p.wg.Done()
	}()
	job()
}

// Submit adds a job to the queue. It reports false once the pool is closed.
func (p *Pool) Submit(job func()) bool {
	return p.submit(context.Background(), job) == nil
}

func (p *Pool) submit(ctx context.Context, job func()) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return errPoolClosed()
	}
	p.senders.Add(1)
	p.wg.Add(1)
	atomic.AddInt64(&p.totalJobs, 1)
	p.mu.RUnlock()
	defer p.senders.Done()

	abort := func(err error) error {
		atomic.AddInt64(&p.totalJobs, -1)
		p.wg.Done()
		return err
	}

	select {
	case p.jobQueue <- job:
		return nil
	case <-ctx.Done():
		return abort(ctx.Err())
	case <-p.quit:
		return abort(errPoolClosed())
	}
}

func errPoolClosed() error {
	return apperrors.NewInternalError("worker pool is closed", nil)
}

// Run executes fn on a worker and waits for its result. When ctx ends first,
// Run returns ctx.Err() immediately and the late result is dropped.
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				done <- apperrors.NewProcessingError("worker job panicked", fmt.Errorf("%v", r))
			}
		}()
		if err := ctx.Err(); err != nil {
			done <- err
			return
		}
		done <- fn(ctx)
	}

	if err := p.submit(ctx, job); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait waits for all submitted jobs to complete
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops accepting jobs and lets the workers drain the queue.
// Submits blocked on a full queue return false.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()

	p.senders.Wait()
	close(p.jobQueue)
}

// Stats returns the current counters
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:       p.workers,
		TotalJobs:     atomic.LoadInt64(&p.totalJobs),
		CompletedJobs: atomic.LoadInt64(&p.completedJobs),
		ActiveWorkers: atomic.LoadInt64(&p.activeWorkers),
	}
}
