package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/observability"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by Submit when the dispatch queue has no room.
// Callers surface it as backpressure instead of blocking.
var ErrQueueFull = errors.New("dispatch queue is full")

const defaultQueueSize = 64

// Job is one unit of background work submitted by a manual trigger.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Dispatcher runs manually triggered work on a bounded queue so the
// triggering request returns immediately. A full queue rejects the submit;
// it never blocks and never spawns unbounded goroutines.
type Dispatcher struct {
	jobs        chan Job
	concurrency int
	logger      *zap.Logger
	metrics     *observability.Metrics

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewDispatcher(concurrency, queueSize int, logger *zap.Logger) (*Dispatcher, error) {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		jobs:        make(chan Job, queueSize),
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Start launches the worker goroutines. Workers exit when the context is
// canceled or the dispatcher is closed.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.concurrency; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-d.jobs:
					if !ok {
						return
					}
					d.run(ctx, job)
				}
			}
		}()
	}
}

// Submit enqueues a job without blocking. A full queue returns ErrQueueFull.
func (d *Dispatcher) Submit(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %q has no run function", job.Name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("dispatcher is closed")
	}

	select {
	case d.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for in-flight work to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, job Job) {
	if d.metrics != nil {
		d.metrics.IncWorkerInFlight()
		defer d.metrics.DecWorkerInFlight()
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		d.logger.Error("background job failed",
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	d.logger.Info("background job finished",
		zap.String("job", job.Name),
		zap.Duration("duration", time.Since(start)),
	)
}
