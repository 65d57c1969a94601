package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrWorkerPoolClosed = errors.New("worker pool is closed")

// WorkerPool runs submitted jobs on a fixed number of goroutines. A panicking
// job is recovered and reported to the panic handler; the worker keeps going.
type WorkerPool struct {
	jobs    chan func()
	onPanic func(error)
	busy    atomic.Int32

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	wg     sync.WaitGroup
}

// NewWorkerPool starts workers goroutines fed by a queue of queueSize jobs.
func NewWorkerPool(workers, queueSize int, onPanic func(error)) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	if onPanic == nil {
		onPanic = func(error) {}
	}

	p := &WorkerPool{
		jobs:    make(chan func(), queueSize),
		onPanic: onPanic,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *WorkerPool) run(job func()) {
	p.busy.Add(1)
	defer p.busy.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.onPanic(fmt.Errorf("worker job panicked: %v", r))
		}
	}()
	job()
}

// Submit queues job, blocking while the queue is full.
func (p *WorkerPool) Submit(ctx context.Context, job func()) error {
	if job == nil {
		return nil
	}

	// Holding the read lock across the send keeps Close from closing the
	// channel under a blocked sender.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrWorkerPoolClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- job:
		return nil
	}
}

// Busy returns the number of jobs currently executing.
func (p *WorkerPool) Busy() int {
	return int(p.busy.Load())
}

// Close stops accepting jobs. Queued jobs still run.
func (p *WorkerPool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
}

// Wait blocks until every worker has exited. Call Close first.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
