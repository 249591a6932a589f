// Package pipeline drives a notification through its lifecycle: parse the
// SMS, download the referenced documents, bind them to a case, file them
// under the case directory and announce the outcome. Every state change
// goes through domain.Transition; the processor is its only caller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/download"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/observability"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/parser"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/queue"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Downloader runs the tiered document acquisition for one task.
type Downloader interface {
	Run(ctx context.Context, taskID, notificationID string, ref download.Reference) (*domain.DownloadTask, error)
}

// Filer moves downloaded documents into their case directory.
type Filer interface {
	File(ctx context.Context, c *domain.Case, items []domain.DownloadItem) (renamed int, err error)
}

// Processor owns the notification lifecycle. One Process call drives the
// record as far as it can go: to COMPLETED, FAILED, PENDING_MANUAL, or a
// retryable DOWNLOAD_FAILED.
type Processor struct {
	notifications repository.NotificationRepository
	tasks         repository.TaskRepository
	cases         repository.CaseRepository
	downloader    Downloader
	filer         Filer
	publisher     queue.Publisher
	logger        *zap.Logger
	metrics       *observability.Metrics

	now func() time.Time
}

func NewProcessor(
	notifications repository.NotificationRepository,
	tasks repository.TaskRepository,
	cases repository.CaseRepository,
	downloader Downloader,
	filer Filer,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*Processor, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if tasks == nil {
		return nil, fmt.Errorf("task repository is required")
	}
	if cases == nil {
		return nil, fmt.Errorf("case repository is required")
	}
	if downloader == nil {
		return nil, fmt.Errorf("downloader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		notifications: notifications,
		tasks:         tasks,
		cases:         cases,
		downloader:    downloader,
		filer:         filer,
		publisher:     publisher,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (p *Processor) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Ingest stores a fresh SMS record in PENDING. Parsing happens later, on
// the processing path, so ingestion stays cheap and never loses a message.
func (p *Processor) Ingest(ctx context.Context, content, sender, site string) (*domain.Notification, error) {
	now := p.now().UTC()
	n := &domain.Notification{
		ID:         uuid.NewString(),
		Content:    content,
		Sender:     sender,
		Site:       site,
		Status:     domain.StatusPending,
		MaxRetries: 0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	if err := p.notifications.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}
	return n, nil
}

// Process loads the notification and resumes it from its current state.
func (p *Processor) Process(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := p.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Resume(ctx, n)
}

// Resume drives the notification forward until it parks or terminates.
// Safe to call on a record in any state; interrupted work picks up where
// the last persisted transition left it.
func (p *Processor) Resume(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		var err error
		switch n.Status {
		case domain.StatusPending:
			err = p.apply(ctx, n, domain.EventStartParsing, nil)
		case domain.StatusParsing:
			err = p.parse(ctx, n)
		case domain.StatusDownloading:
			err = p.download(ctx, n)
		case domain.StatusDownloadFailed:
			err = p.retryOrGiveUp(ctx, n)
		case domain.StatusMatching:
			err = p.match(ctx, n)
		case domain.StatusRenaming:
			err = p.file(ctx, n)
		case domain.StatusNotifying:
			err = p.notify(ctx, n)
		case domain.StatusPendingManual, domain.StatusCompleted, domain.StatusFailed:
			return n, nil
		default:
			return n, fmt.Errorf("%w: unexpected status %q", domain.ErrValidation, n.Status)
		}
		if err != nil {
			return n, err
		}
	}
}

// AssignCase resolves a PENDING_MANUAL record by hand: the operator names
// the case and the pipeline picks up from matching.
func (p *Processor) AssignCase(ctx context.Context, notificationID, caseID string) (*domain.Notification, error) {
	n, err := p.notifications.GetByID(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n.Status != domain.StatusPendingManual {
		return nil, fmt.Errorf("%w: %s is not awaiting manual assignment", domain.ErrInvalidTransition, n.Status)
	}
	if _, err := p.cases.GetByID(ctx, caseID); err != nil {
		return nil, fmt.Errorf("case %s: %w", caseID, err)
	}

	if err := p.apply(ctx, n, domain.EventCaseAssigned, map[string]any{"case_id": caseID}); err != nil {
		return nil, err
	}
	n.CaseID = &caseID
	return p.Resume(ctx, n)
}

// apply is the one place a status is ever written. The compare-and-swap in
// ApplyTransition makes concurrent drivers of the same record lose cleanly
// with ErrConflict.
func (p *Processor) apply(ctx context.Context, n *domain.Notification, event domain.Event, fields map[string]any) error {
	next, err := domain.Transition(n.Status, event)
	if err != nil {
		return err
	}
	if err := p.notifications.ApplyTransition(ctx, n.ID, n.Status, next, fields); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", n.Status, next, err)
	}

	p.logger.Info("notification transitioned",
		zap.String("notificationId", n.ID),
		zap.String("from", n.Status.String()),
		zap.String("to", next.String()),
		zap.String("event", event.String()),
	)
	if p.metrics != nil {
		p.metrics.IncTransition(next.String())
	}

	n.Status = next
	n.UpdatedAt = p.now().UTC()
	return nil
}

func (p *Processor) parse(ctx context.Context, n *domain.Notification) error {
	numbers := parser.ExtractCaseNumbers(n.Content)
	parties := parser.ExtractParties(n.Content)

	if len(numbers) == 0 && len(parties) == 0 {
		reason := "no case number or party found in message"
		if err := p.apply(ctx, n, domain.EventNoCaseFound, map[string]any{"last_error": reason}); err != nil {
			return err
		}
		p.publishOutcome(ctx, n, queue.EventManualReview, reason)
		return nil
	}

	n.CaseNumbers = domain.JoinStoredList(numbers)
	n.Parties = domain.JoinStoredList(parties)
	return p.apply(ctx, n, domain.EventCasesExtracted, map[string]any{
		"case_numbers": n.CaseNumbers,
		"parties":      n.Parties,
	})
}

func (p *Processor) download(ctx context.Context, n *domain.Notification) error {
	// An earlier run may already have finished the work; never repeat a
	// successful download. Anything else (failed or interrupted task) gets
	// a fresh attempt under a new task id.
	if n.DownloadTaskID != nil {
		task, err := p.tasks.GetByID(ctx, *n.DownloadTaskID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err == nil && task.Success {
			return p.apply(ctx, n, domain.EventDownloadSucceeded, nil)
		}
	}

	refURL := parser.ExtractReferenceURL(n.Content)
	if refURL == "" {
		reason := "message carries no document link"
		if err := p.apply(ctx, n, domain.EventFatalError, map[string]any{"last_error": reason}); err != nil {
			return err
		}
		p.publishOutcome(ctx, n, queue.EventFailed, reason)
		return nil
	}

	taskID := uuid.NewString()
	if err := p.bindTask(ctx, n, taskID); err != nil {
		return err
	}

	_, err := p.downloader.Run(ctx, taskID, n.ID, download.Reference{
		URL:    refURL,
		Site:   n.Site,
		TaskID: taskID,
	})
	if err != nil {
		return p.recordDownloadFailure(ctx, n, err)
	}
	return p.apply(ctx, n, domain.EventDownloadSucceeded, nil)
}

// bindTask rebinds the notification to a fresh task id. Not a state change,
// so it bypasses the event table; the status guard still applies.
func (p *Processor) bindTask(ctx context.Context, n *domain.Notification, taskID string) error {
	err := p.notifications.ApplyTransition(ctx, n.ID, domain.StatusDownloading, domain.StatusDownloading,
		map[string]any{"download_task_id": taskID})
	if err != nil {
		return fmt.Errorf("bind task %s: %w", taskID, err)
	}
	n.DownloadTaskID = &taskID
	return nil
}

func (p *Processor) recordDownloadFailure(ctx context.Context, n *domain.Notification, cause error) error {
	retryCount := n.RetryCount + 1
	if err := p.apply(ctx, n, domain.EventDownloadFailed, map[string]any{
		"retry_count": retryCount,
		"last_error":  cause.Error(),
	}); err != nil {
		return err
	}
	n.RetryCount = retryCount
	errText := cause.Error()
	n.LastError = &errText
	return nil
}

func (p *Processor) retryOrGiveUp(ctx context.Context, n *domain.Notification) error {
	if n.RetryCount < n.EffectiveMaxRetries() {
		return p.apply(ctx, n, domain.EventRetryDownload, nil)
	}

	reason := fmt.Sprintf("download retries exhausted after %d attempts", n.RetryCount)
	if n.LastError != nil {
		reason = fmt.Sprintf("%s: %s", reason, *n.LastError)
	}
	if err := p.apply(ctx, n, domain.EventRetriesExhausted, map[string]any{"last_error": reason}); err != nil {
		return err
	}
	p.publishOutcome(ctx, n, queue.EventFailed, reason)
	return nil
}

func (p *Processor) match(ctx context.Context, n *domain.Notification) error {
	// A manually assigned case skips the lookup.
	if n.CaseID != nil {
		return p.apply(ctx, n, domain.EventCaseMatched, nil)
	}

	matched, err := p.findCase(ctx, n)
	if errors.Is(err, domain.ErrCaseNotFound) {
		reason := "no case matched the extracted numbers or parties"
		if applyErr := p.apply(ctx, n, domain.EventCaseNotMatched, map[string]any{"last_error": reason}); applyErr != nil {
			return applyErr
		}
		p.publishOutcome(ctx, n, queue.EventManualReview, reason)
		return nil
	}
	if err != nil {
		return err
	}

	if err := p.apply(ctx, n, domain.EventCaseMatched, map[string]any{"case_id": matched.ID}); err != nil {
		return err
	}
	n.CaseID = &matched.ID
	return nil
}

// findCase tries case numbers first, then falls back to party names.
func (p *Processor) findCase(ctx context.Context, n *domain.Notification) (*domain.Case, error) {
	if numbers := n.CaseNumberList(); len(numbers) > 0 {
		matched, err := p.cases.FindByCaseNumbers(ctx, numbers)
		if err == nil {
			return matched, nil
		}
		if !errors.Is(err, domain.ErrCaseNotFound) {
			return nil, err
		}
	}

	for _, party := range n.PartyList() {
		matched, err := p.cases.FindByParty(ctx, party)
		if err == nil {
			return matched, nil
		}
		if !errors.Is(err, domain.ErrCaseNotFound) {
			return nil, err
		}
	}
	return nil, domain.ErrCaseNotFound
}

// file moves the documents into the case directory. Filing is best effort:
// the documents are already safe on disk, so a rename problem is recorded
// but never blocks completion.
func (p *Processor) file(ctx context.Context, n *domain.Notification) error {
	fields := map[string]any{}

	if p.filer != nil && n.CaseID != nil && n.DownloadTaskID != nil {
		matched, err := p.cases.GetByID(ctx, *n.CaseID)
		if err != nil {
			return err
		}
		items, err := p.tasks.ListItems(ctx, *n.DownloadTaskID)
		if err != nil {
			return err
		}
		if _, err := p.filer.File(ctx, matched, items); err != nil {
			p.logger.Warn("filing documents failed",
				zap.String("notificationId", n.ID),
				zap.Error(err),
			)
			fields["last_error"] = fmt.Sprintf("filing incomplete: %v", err)
		}
	}

	return p.apply(ctx, n, domain.EventRenamed, fields)
}

func (p *Processor) notify(ctx context.Context, n *domain.Notification) error {
	p.publishOutcome(ctx, n, queue.EventCompleted, "")
	return p.apply(ctx, n, domain.EventNotified, nil)
}

// publishOutcome is best effort; a broker outage must not wedge a record
// whose documents are already on disk.
func (p *Processor) publishOutcome(ctx context.Context, n *domain.Notification, kind queue.EventKind, reason string) {
	if p.publisher == nil {
		return
	}
	event := queue.OutcomeEvent{
		Kind:           kind,
		NotificationID: n.ID,
		CaseNumbers:    n.CaseNumberList(),
		Reason:         reason,
		OccurredAt:     p.now().UTC(),
	}
	if n.CaseID != nil {
		event.CaseID = *n.CaseID
	}
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.Warn("failed to publish outcome event",
			zap.String("notificationId", n.ID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}
