// Package worker fans a batch of notifications over a bounded number of
// concurrent pipeline runs. Used by manual triggers that want a batch done
// quickly without hammering the portal.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner drives one notification through the pipeline.
type Runner interface {
	Process(ctx context.Context, notificationID string) (*domain.Notification, error)
}

const defaultConcurrency = 4

// Report summarizes a batch run.
type Report struct {
	Submitted int
	Succeeded int
	Failed    int
	Errors    []string
}

// Pool runs notification batches with bounded concurrency.
type Pool struct {
	runner      Runner
	concurrency int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

func NewPool(runner Runner, concurrency int, logger *zap.Logger) (*Pool, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{runner: runner, concurrency: concurrency, logger: logger}, nil
}

func (p *Pool) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Run processes every id. Individual failures are collected in the report;
// only context cancellation aborts the batch.
func (p *Pool) Run(ctx context.Context, ids []string) (*Report, error) {
	report := &Report{Submitted: len(ids)}
	if len(ids) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.concurrency)

	for _, id := range ids {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			if p.metrics != nil {
				p.metrics.IncWorkerInFlight()
				defer p.metrics.DecWorkerInFlight()
			}

			_, err := p.runner.Process(groupCtx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", id, err))
				p.logger.Warn("batch notification failed",
					zap.String("notificationId", id),
					zap.Error(err),
				)
				return nil
			}
			report.Succeeded++
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return report, err
	}
	return report, nil
}
