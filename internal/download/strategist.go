package download

import (
	"context"
	"fmt"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/observability"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Strategist tries the ordered strategies, stopping at the first success,
// and persists the task plus per-document outcomes.
type Strategist struct {
	strategies []Strategy
	tasks      repository.TaskRepository
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewStrategist(strategies []Strategy, tasks repository.TaskRepository, logger *zap.Logger) (*Strategist, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("at least one strategy is required")
	}
	if tasks == nil {
		return nil, fmt.Errorf("task repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategist{
		strategies: strategies,
		tasks:      tasks,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *Strategist) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Run executes the tiered download for a reference. The task row is created
// up front (so an interrupted run stays visible to recovery) and completed
// exactly once with the outcome. A failure to persist any database record
// never aborts an otherwise-successful file download.
func (s *Strategist) Run(ctx context.Context, taskID string, notificationID string, ref Reference) (*domain.DownloadTask, error) {
	task := &domain.DownloadTask{
		ID:             taskID,
		NotificationID: notificationID,
		Reference:      ref.URL,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create download task: %w", err)
	}

	causes := make(map[string]error, len(s.strategies))
	for _, strategy := range s.strategies {
		result, err := strategy.Attempt(ctx, ref)
		if err != nil {
			causes[strategy.Name()] = err
			s.logger.Warn("download strategy failed",
				zap.String("taskId", taskID),
				zap.String("strategy", strategy.Name()),
				zap.Error(err),
			)
			if s.metrics != nil {
				s.metrics.IncDownload(strategy.Name(), "failure")
			}
			continue
		}

		s.persistItems(ctx, taskID, result.Items)
		s.completeTask(ctx, task, strategy.Name(), result)
		if s.metrics != nil {
			s.metrics.IncDownload(strategy.Name(), "success")
		}
		return task, nil
	}

	aggregate := &domain.AllStrategiesError{Causes: causes}
	errText := aggregate.Error()
	completedAt := s.now().UTC()
	task.Success = false
	task.Error = &errText
	task.CompletedAt = &completedAt
	if err := s.tasks.Complete(ctx, task); err != nil {
		s.logger.Error("failed to record task failure", zap.String("taskId", taskID), zap.Error(err))
	}
	return nil, aggregate
}

func (s *Strategist) persistItems(ctx context.Context, taskID string, items []ItemResult) {
	for _, item := range items {
		record := &domain.DownloadItem{
			ID:        uuid.NewString(),
			TaskID:    taskID,
			Name:      item.Name,
			Format:    item.Format,
			SourceURL: item.SourceURL,
			LocalPath: item.LocalPath,
			ByteSize:  item.ByteSize,
			Success:   item.Success,
			CreatedAt: s.now().UTC(),
		}
		if item.Err != nil {
			value := item.Err.Error()
			record.Error = &value
		}
		if err := s.tasks.CreateItem(ctx, record); err != nil {
			// The file is already on disk; losing the bookkeeping row is
			// logged, not propagated.
			s.logger.Error("failed to persist download item",
				zap.String("taskId", taskID),
				zap.String("name", item.Name),
				zap.Error(err),
			)
		}
	}
}

func (s *Strategist) completeTask(ctx context.Context, task *domain.DownloadTask, strategyName string, result *Result) {
	total, succeeded, failed := result.counts()
	completedAt := s.now().UTC()
	task.Strategy = strategyName
	task.TotalCount = total
	task.SuccessCount = succeeded
	task.FailedCount = failed
	task.Success = true
	task.CompletedAt = &completedAt

	if err := s.tasks.Complete(ctx, task); err != nil {
		s.logger.Error("failed to record task completion",
			zap.String("taskId", task.ID),
			zap.Error(err),
		)
	}
}
