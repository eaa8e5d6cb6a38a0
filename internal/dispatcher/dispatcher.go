// Package dispatcher owns the fixed worker set and the shared job queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/poolhttpd/internal/metrics"
	"github.com/JakeFAU/poolhttpd/internal/queue/memory"
	"github.com/JakeFAU/poolhttpd/internal/worker"
)

var (
	// ErrInvalidSize is returned by New when the worker count is not positive.
	ErrInvalidSize = errors.New("worker count must be > 0")
	// ErrClosed is returned when submitting to a dispatcher that has shut down.
	ErrClosed = errors.New("dispatcher closed")
	// ErrBusy is returned by TrySubmit when a bounded queue is full.
	ErrBusy = errors.New("dispatcher busy")
	// ErrNilJob is returned when submitting a nil job.
	ErrNilJob = errors.New("nil job")
)

// Config sizes the pool.
type Config struct {
	// Workers is the fixed number of worker goroutines.
	Workers int
	// QueueCapacity bounds the job queue; 0 means unbounded.
	QueueCapacity int
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers   int           `json:"workers"`
	Active    int           `json:"active"`
	Pending   int           `json:"pending"`
	Executed  int64         `json:"executed"`
	Panicked  int64         `json:"panicked"`
	Bounded   bool          `json:"bounded"`
	Closed    bool          `json:"closed"`
	PerWorker []WorkerStats `json:"per_worker"`
}

// WorkerStats describes one worker.
type WorkerStats struct {
	ID       int    `json:"id"`
	State    string `json:"state"`
	Executed int64  `json:"executed"`
	Panicked int64  `json:"panicked"`
}

// Dispatcher fans submitted jobs out to a fixed pool of workers.
type Dispatcher struct {
	queue   *memory.Queue[worker.Job]
	workers []*worker.Worker
	logger  *zap.Logger

	wg           sync.WaitGroup
	shutdownOnce sync.Once
	mu           sync.RWMutex
	closed       bool
}

// New creates the job queue and starts cfg.Workers workers.
func New(cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, cfg.Workers)
	}
	if cfg.QueueCapacity < 0 {
		return nil, fmt.Errorf("queue capacity must be >= 0: got %d", cfg.QueueCapacity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	d := &Dispatcher{
		queue:  memory.New[worker.Job](cfg.QueueCapacity),
		logger: logger,
	}
	d.workers = make([]*worker.Worker, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		w := worker.New(i, d, logger.Named("worker").With(zap.Int("worker_id", i)))
		d.workers = append(d.workers, w)
		d.wg.Add(1)
		go func(wk *worker.Worker) {
			defer d.wg.Done()
			wk.Run()
		}(w)
	}
	logger.Info("dispatcher started",
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_capacity", cfg.QueueCapacity),
	)
	return d, nil
}

// Dequeue satisfies worker.Source and keeps the queue depth gauge current.
func (d *Dispatcher) Dequeue() (worker.Job, bool) {
	job, ok := d.queue.Dequeue()
	metrics.SetQueueDepth(d.queue.Len())
	return job, ok
}

// Submit enqueues job. It returns immediately for an unbounded queue and
// blocks while a bounded queue is full, until room appears or ctx ends.
func (d *Dispatcher) Submit(ctx context.Context, job worker.Job) error {
	if job == nil {
		return ErrNilJob
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		if errors.Is(err, memory.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("queue enqueue: %w", err)
	}
	metrics.SetQueueDepth(d.queue.Len())
	return nil
}

// TrySubmit enqueues job without blocking.
func (d *Dispatcher) TrySubmit(job worker.Job) error {
	if job == nil {
		return ErrNilJob
	}
	switch err := d.queue.TryEnqueue(job); {
	case err == nil:
		metrics.SetQueueDepth(d.queue.Len())
		return nil
	case errors.Is(err, memory.ErrClosed):
		return ErrClosed
	case errors.Is(err, memory.ErrFull):
		return ErrBusy
	default:
		return fmt.Errorf("queue enqueue: %w", err)
	}
}

// Shutdown closes the queue and waits for every worker to drain it and exit.
// Every job accepted before Shutdown runs to completion. Calling Shutdown
// more than once, or concurrently, is safe; every call returns only after
// the workers have exited.
func (d *Dispatcher) Shutdown() {
	d.shutdownOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		pending := d.queue.Len()
		d.logger.Info("dispatcher shutting down", zap.Int("pending", pending))
		d.queue.Close()
	})
	d.wg.Wait()
	d.logger.Debug("dispatcher workers joined")
}

// Size returns the fixed number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Pending returns the number of queued jobs not yet picked up.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Stats summarizes worker activity.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()

	s := Stats{
		Workers:   len(d.workers),
		Pending:   d.queue.Len(),
		Bounded:   d.queue.Bounded(),
		Closed:    closed,
		PerWorker: make([]WorkerStats, 0, len(d.workers)),
	}
	for _, w := range d.workers {
		state := w.State()
		ws := WorkerStats{
			ID:       w.ID(),
			State:    state.String(),
			Executed: w.Executed(),
			Panicked: w.Panicked(),
		}
		if state == worker.StateExecuting {
			s.Active++
		}
		s.Executed += ws.Executed
		s.Panicked += ws.Panicked
		s.PerWorker = append(s.PerWorker, ws)
	}
	return s
}
