// Package pool provides a fixed-size goroutine pool for bounded dispatch.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// GoroutinePool runs submitted tasks on a fixed set of worker goroutines.
// Workers are started eagerly and live until Close.
type GoroutinePool struct {
	maxWorkers  int
	taskQueue   chan taskWrapper
	activeCount atomic.Int32
	closed      bool
	closeMu     sync.RWMutex
	wg          sync.WaitGroup

	// Metrics
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	panicHandler func(any)
}

type taskWrapper struct {
	task Task
	ctx  context.Context
}

// GoroutinePoolConfig configures the pool.
type GoroutinePoolConfig struct {
	MaxWorkers   int       `json:"max_workers"`
	QueueSize    int       `json:"queue_size"`
	PanicHandler func(any) `json:"-"`
}

// DefaultGoroutinePoolConfig returns the dispatch defaults: four workers.
func DefaultGoroutinePoolConfig() GoroutinePoolConfig {
	return GoroutinePoolConfig{
		MaxWorkers: 4,
		QueueSize:  64,
	}
}

// NewGoroutinePool creates a pool and starts its workers.
func NewGoroutinePool(config GoroutinePoolConfig) *GoroutinePool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	p := &GoroutinePool{
		maxWorkers:   config.MaxWorkers,
		taskQueue:    make(chan taskWrapper, config.QueueSize),
		panicHandler: config.PanicHandler,
	}
	p.wg.Add(p.maxWorkers)
	for i := 0; i < p.maxWorkers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues a task, blocking while the queue is full.
func (p *GoroutinePool) Submit(ctx context.Context, task Task) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.taskQueue <- taskWrapper{task: task, ctx: ctx}:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
}

// TrySubmit enqueues a task without blocking.
func (p *GoroutinePool) TrySubmit(ctx context.Context, task Task) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.taskQueue <- taskWrapper{task: task, ctx: ctx}:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

func (p *GoroutinePool) worker() {
	defer p.wg.Done()

	for wrapper := range p.taskQueue {
		p.activeCount.Add(1)
		err := p.executeTask(wrapper)
		p.activeCount.Add(-1)

		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}
}

func (p *GoroutinePool) executeTask(wrapper taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	return wrapper.task(wrapper.ctx)
}

// Close stops accepting tasks, lets queued tasks finish and waits for all
// workers to exit. It is safe to call more than once.
func (p *GoroutinePool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.taskQueue)
	p.closeMu.Unlock()

	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Workers:   p.maxWorkers,
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.taskQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// GoroutinePoolStats contains pool statistics.
type GoroutinePoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
