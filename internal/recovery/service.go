// Package recovery scans for notifications the pipeline left behind after
// crashes or restarts and either resumes them from their persisted state or
// resets records that have been stuck mid-flight.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/repository"
	"go.uber.org/zap"
)

// Resumer continues a notification from whatever state it is in.
type Resumer interface {
	Resume(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
}

const (
	// stuckThreshold is how long a mid-flight record may go untouched
	// before it counts as stuck rather than merely in progress.
	stuckThreshold = 30 * time.Minute

	defaultMaxAgeHours = 48
	scanLimit          = 500
	maxReportedErrors  = 5
)

// Options tune a recovery pass.
type Options struct {
	// MaxAgeHours bounds how far back the scan looks. Zero means 48 hours.
	MaxAgeHours int
	// ResetStuck returns stuck mid-flight records to PENDING instead of
	// leaving them for inspection.
	ResetStuck bool
	// DryRun reports what would happen without changing anything.
	DryRun bool
}

// Report summarizes one recovery pass.
type Report struct {
	Scanned   int
	Resumed   int
	Reset     int
	Parked    int
	Stuck     int
	Failed    int
	Errors    []string
	StartedAt time.Time
}

// Service performs recovery passes over unfinished notifications.
type Service struct {
	notifications repository.NotificationRepository
	resumer       Resumer
	logger        *zap.Logger

	now func() time.Time
}

func NewService(notifications repository.NotificationRepository, resumer Resumer, logger *zap.Logger) (*Service, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if resumer == nil {
		return nil, fmt.Errorf("resumer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		notifications: notifications,
		resumer:       resumer,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// midFlightStatuses are states a healthy run passes through quickly. A
// record sitting in one of them for longer than stuckThreshold lost its
// driver.
var midFlightStatuses = map[domain.Status]struct{}{
	domain.StatusParsing:     {},
	domain.StatusDownloading: {},
	domain.StatusMatching:    {},
	domain.StatusRenaming:    {},
	domain.StatusNotifying:   {},
}

// Recover scans unfinished notifications and drives each one as far as its
// state allows. PENDING_MANUAL records are counted but never touched; they
// are waiting for a human, not for the pipeline.
func (s *Service) Recover(ctx context.Context, opts Options) (*Report, error) {
	now := s.now()
	maxAge := time.Duration(opts.MaxAgeHours) * time.Hour
	if maxAge <= 0 {
		maxAge = defaultMaxAgeHours * time.Hour
	}

	batch, err := s.notifications.ListUnfinished(ctx, now.Add(-maxAge), scanLimit)
	if err != nil {
		return nil, fmt.Errorf("listing unfinished notifications: %w", err)
	}

	report := &Report{Scanned: len(batch), StartedAt: now}
	for i := range batch {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.recoverOne(ctx, &batch[i], now, opts, report)
	}

	s.logger.Info("recovery pass finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("resumed", report.Resumed),
		zap.Int("reset", report.Reset),
		zap.Int("stuck", report.Stuck),
		zap.Int("parked", report.Parked),
		zap.Int("failed", report.Failed),
		zap.Bool("dryRun", opts.DryRun),
	)
	return report, nil
}

func (s *Service) recoverOne(ctx context.Context, n *domain.Notification, now time.Time, opts Options, report *Report) {
	if n.Status == domain.StatusPendingManual {
		report.Parked++
		return
	}

	if _, midFlight := midFlightStatuses[n.Status]; midFlight && now.Sub(n.UpdatedAt) > stuckThreshold {
		report.Stuck++
		if !opts.ResetStuck {
			return
		}
		if opts.DryRun {
			report.Reset++
			return
		}
		if err := s.resetStuck(ctx, n, now); err != nil {
			s.recordFailure(report, n.ID, err)
			return
		}
		report.Reset++
		n.Status = domain.StatusPending
		// Fall through and run the record from the top.
	}

	if opts.DryRun {
		report.Resumed++
		return
	}

	final, err := s.resumer.Resume(ctx, n)
	if err != nil {
		s.recordFailure(report, n.ID, err)
		return
	}
	report.Resumed++

	s.logger.Info("notification recovered",
		zap.String("notificationId", n.ID),
		zap.String("status", final.Status.String()),
	)
}

// resetStuck is an administrative override, not a pipeline transition: the
// record goes back to PENDING with an explanation, keeping its retry budget.
func (s *Service) resetStuck(ctx context.Context, n *domain.Notification, now time.Time) error {
	reason := fmt.Sprintf("reset by recovery: stuck in %s since %s",
		n.Status, n.UpdatedAt.UTC().Format(time.RFC3339))
	err := s.notifications.ApplyTransition(ctx, n.ID, n.Status, domain.StatusPending,
		map[string]any{"last_error": reason})
	if err != nil {
		return fmt.Errorf("resetting %s: %w", n.ID, err)
	}
	s.logger.Warn("stuck notification reset",
		zap.String("notificationId", n.ID),
		zap.String("from", n.Status.String()),
		zap.Duration("idle", now.Sub(n.UpdatedAt)),
	)
	return nil
}

func (s *Service) recordFailure(report *Report, id string, err error) {
	report.Failed++
	if len(report.Errors) < maxReportedErrors {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", id, err))
	}
	s.logger.Warn("recovery of notification failed",
		zap.String("notificationId", id),
		zap.Error(err),
	)
}
