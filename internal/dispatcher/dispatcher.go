// Package dispatcher manages worker fan-out over the in-process job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/vitals-monitor/internal/monitor"
	"github.com/JakeFAU/vitals-monitor/internal/queue"
	"github.com/JakeFAU/vitals-monitor/internal/worker"
)

// Queue is the buffer the dispatcher feeds and drains.
type Queue interface {
	worker.Dequeuer
	Enqueue(ctx context.Context, job monitor.Job) error
	Close() error
}

// Dispatcher fans out queue work to a pool of workers. It satisfies
// queue.Provider so the scheduler can publish to it like a remote queue.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
}

var _ queue.Provider = (*Dispatcher)(nil)

// New creates a Dispatcher.
func New(queue Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until they exit. Workers stop when ctx
// ends or when the queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job monitor.Job) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Close stops accepting jobs. Buffered jobs are still processed.
func (d *Dispatcher) Close() error {
	return d.queue.Close()
}
