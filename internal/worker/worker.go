// Package worker implements the long-lived job execution loop of the pool.
package worker

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/poolhttpd/internal/metrics"
)

// Job is a single-execution unit of work. Ownership passes to the worker that
// dequeues it.
type Job func()

// Source yields jobs to a worker. Dequeue blocks until a job is available and
// returns false once no more jobs will ever arrive.
type Source interface {
	Dequeue() (Job, bool)
}

// State is the lifecycle stage of a Worker.
type State int32

// Worker states.
const (
	StateIdle State = iota
	StateExecuting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Worker repeatedly pulls jobs from a Source and runs each to completion.
type Worker struct {
	id       int
	source   Source
	logger   *zap.Logger
	state    atomic.Int32
	executed atomic.Int64
	panicked atomic.Int64
}

// New constructs a Worker.
func New(id int, source Source, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		source: source,
		logger: logger,
	}
}

// ID returns the worker's identifier.
func (w *Worker) ID() int {
	return w.id
}

// State reports the current lifecycle stage.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Executed returns the number of jobs this worker has finished, including
// those that panicked.
func (w *Worker) Executed() int64 {
	return w.executed.Load()
}

// Panicked returns the number of jobs that panicked on this worker.
func (w *Worker) Panicked() int64 {
	return w.panicked.Load()
}

// Run blocks, executing jobs until the source is exhausted.
func (w *Worker) Run() {
	defer w.state.Store(int32(StateTerminated))
	for {
		job, ok := w.source.Dequeue()
		if !ok {
			w.logger.Debug("job source closed; worker exiting")
			return
		}
		if job == nil {
			continue
		}
		w.execute(job)
	}
}

// execute runs job behind a recover boundary so a failing job never takes the
// worker down with it.
func (w *Worker) execute(job Job) {
	w.state.Store(int32(StateExecuting))
	metrics.IncActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			w.panicked.Add(1)
			metrics.ObserveJob(metrics.JobPanicked)
			w.logger.Error("job panicked",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		} else {
			metrics.ObserveJob(metrics.JobCompleted)
		}
		w.executed.Add(1)
		metrics.DecActiveWorkers()
		w.state.Store(int32(StateIdle))
	}()
	job()
}
