// Package scheduler runs periodic acquisition sweeps: each schedule names a
// credential, and a run picks up that credential's site's startable
// notifications within the schedule's lookback window.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/repository"
	"go.uber.org/zap"
)

// Runner drives one notification through the pipeline.
type Runner interface {
	Process(ctx context.Context, notificationID string) (*domain.Notification, error)
}

const (
	// batchLimit caps how many notifications a single run picks up.
	batchLimit = 100
	// maxReportedErrors bounds the error detail carried in a report.
	maxReportedErrors = 5
)

// ExecuteOptions tune a single schedule execution.
type ExecuteOptions struct {
	// DryRun lists the work without processing it or touching run times.
	DryRun bool
	// Force runs the schedule even if it is not due yet.
	Force bool
}

// ExecuteReport summarizes one schedule execution.
type ExecuteReport struct {
	ScheduleID string
	Site       string
	Skipped    bool
	DryRun     bool
	Found      int
	Processed  int
	Failed     int
	Errors     []string
	NextRunAt  time.Time
}

// Service coordinates schedule execution.
type Service struct {
	schedules     repository.ScheduleRepository
	credentials   repository.CredentialRepository
	notifications repository.NotificationRepository
	runner        Runner
	logger        *zap.Logger

	now func() time.Time
}

func NewService(
	schedules repository.ScheduleRepository,
	credentials repository.CredentialRepository,
	notifications repository.NotificationRepository,
	runner Runner,
	logger *zap.Logger,
) (*Service, error) {
	if schedules == nil {
		return nil, fmt.Errorf("schedule repository is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential repository is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		schedules:     schedules,
		credentials:   credentials,
		notifications: notifications,
		runner:        runner,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// DueSchedules returns the schedules that should run now.
func (s *Service) DueSchedules(ctx context.Context) ([]domain.Schedule, error) {
	return s.schedules.ListDue(ctx, s.now())
}

// Sweep executes every due schedule sequentially and aggregates the reports.
// An individual schedule failure is reported, not fatal to the sweep.
func (s *Service) Sweep(ctx context.Context, opts ExecuteOptions) ([]ExecuteReport, error) {
	due, err := s.DueSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing due schedules: %w", err)
	}

	reports := make([]ExecuteReport, 0, len(due))
	for _, schedule := range due {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := s.Execute(ctx, schedule.ID, opts)
		if err != nil {
			s.logger.Error("schedule execution failed",
				zap.String("scheduleId", schedule.ID),
				zap.Error(err),
			)
			reports = append(reports, ExecuteReport{
				ScheduleID: schedule.ID,
				Failed:     1,
				Errors:     []string{err.Error()},
			})
			continue
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

// Execute runs one schedule. Run times are updated exactly once per real
// execution, after the batch finishes, regardless of per-notification
// outcomes. A dry run never writes anything.
func (s *Service) Execute(ctx context.Context, scheduleID string, opts ExecuteOptions) (*ExecuteReport, error) {
	schedule, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, err)
	}

	now := s.now()
	report := &ExecuteReport{ScheduleID: scheduleID, DryRun: opts.DryRun}

	if !opts.Force && !schedule.Due(now) {
		report.Skipped = true
		if schedule.NextRunAt != nil {
			report.NextRunAt = *schedule.NextRunAt
		}
		return report, nil
	}

	credential, err := s.credentials.GetByID(ctx, schedule.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("credential %s: %w", schedule.CredentialID, err)
	}
	report.Site = credential.Site

	cutoff := now.Add(-schedule.EffectiveCutoff())
	batch, err := s.notifications.ListStartable(ctx, credential.Site, cutoff, batchLimit)
	if err != nil {
		return nil, fmt.Errorf("listing startable notifications: %w", err)
	}
	report.Found = len(batch)

	if opts.DryRun {
		report.NextRunAt = schedule.ComputeNextRun(now)
		return report, nil
	}

	for _, notification := range batch {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := s.runner.Process(ctx, notification.ID); err != nil {
			report.Failed++
			if len(report.Errors) < maxReportedErrors {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", notification.ID, err))
			}
			s.logger.Warn("notification processing failed",
				zap.String("scheduleId", scheduleID),
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
			continue
		}
		report.Processed++
	}

	next := schedule.ComputeNextRun(now)
	if err := s.schedules.UpdateRunTimes(ctx, scheduleID, now, next); err != nil {
		return report, fmt.Errorf("updating run times: %w", err)
	}
	report.NextRunAt = next

	s.logger.Info("schedule executed",
		zap.String("scheduleId", scheduleID),
		zap.String("site", credential.Site),
		zap.Int("found", report.Found),
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Time("nextRunAt", next),
	)
	return report, nil
}
