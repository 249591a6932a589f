package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
)

type fakeNotificationRepo struct {
	unfinished []domain.Notification
	resets     []string
}

func (f *fakeNotificationRepo) Create(context.Context, *domain.Notification) error { return nil }

func (f *fakeNotificationRepo) GetByID(context.Context, string) (*domain.Notification, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) GetByDownloadTaskID(context.Context, string) (*domain.Notification, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) ListStartable(context.Context, string, time.Time, int) ([]domain.Notification, error) {
	return nil, nil
}

func (f *fakeNotificationRepo) ListUnfinished(context.Context, time.Time, int) ([]domain.Notification, error) {
	return f.unfinished, nil
}

func (f *fakeNotificationRepo) ApplyTransition(_ context.Context, id string, _, to domain.Status, _ map[string]any) error {
	if to == domain.StatusPending {
		f.resets = append(f.resets, id)
	}
	return nil
}

type fakeResumer struct {
	resumed []string
	seen    map[string]domain.Status
	failIDs map[string]error
}

func (f *fakeResumer) Resume(_ context.Context, n *domain.Notification) (*domain.Notification, error) {
	if err, ok := f.failIDs[n.ID]; ok {
		return nil, err
	}
	if f.seen == nil {
		f.seen = make(map[string]domain.Status)
	}
	f.resumed = append(f.resumed, n.ID)
	f.seen[n.ID] = n.Status
	n.Status = domain.StatusCompleted
	return n, nil
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func newService(t *testing.T, repo *fakeNotificationRepo, resumer *fakeResumer) *Service {
	t.Helper()
	svc, err := NewService(repo, resumer, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	svc.now = fixedNow
	return svc
}

func record(id string, status domain.Status, idle time.Duration) domain.Notification {
	return domain.Notification{
		ID:        id,
		Content:   "内容",
		Site:      "court",
		Status:    status,
		UpdatedAt: fixedNow().Add(-idle),
	}
}

func TestRecoverResumesFromPersistedState(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{unfinished: []domain.Notification{
		record("n-pending", domain.StatusPending, time.Minute),
		record("n-failed", domain.StatusDownloadFailed, time.Minute),
		record("n-fresh-download", domain.StatusDownloading, 5*time.Minute),
	}}
	resumer := &fakeResumer{}

	svc := newService(t, repo, resumer)
	report, err := svc.Recover(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	if report.Scanned != 3 || report.Resumed != 3 || report.Failed != 0 {
		t.Fatalf("report = %+v, want scanned=3 resumed=3", report)
	}
	// Each record resumes from where it stopped, not from the top.
	if resumer.seen["n-failed"] != domain.StatusDownloadFailed {
		t.Fatalf("n-failed resumed from %s, want DOWNLOAD_FAILED", resumer.seen["n-failed"])
	}
	if resumer.seen["n-fresh-download"] != domain.StatusDownloading {
		t.Fatalf("n-fresh-download resumed from %s, want DOWNLOADING", resumer.seen["n-fresh-download"])
	}
	if len(repo.resets) != 0 {
		t.Fatalf("resets = %v, want none", repo.resets)
	}
}

func TestRecoverStuckRecordsNeedResetFlag(t *testing.T) {
	t.Parallel()

	stuck := record("n-stuck", domain.StatusDownloading, time.Hour)
	repo := &fakeNotificationRepo{unfinished: []domain.Notification{stuck}}
	resumer := &fakeResumer{}

	svc := newService(t, repo, resumer)
	report, err := svc.Recover(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if report.Stuck != 1 || report.Reset != 0 || report.Resumed != 0 {
		t.Fatalf("report = %+v, want stuck=1 untouched", report)
	}
	if len(resumer.resumed) != 0 {
		t.Fatalf("resumed = %v, want none without --reset-stuck", resumer.resumed)
	}
}

func TestRecoverResetsStuckAndRerunsFromPending(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{unfinished: []domain.Notification{
		record("n-stuck", domain.StatusMatching, 45*time.Minute),
	}}
	resumer := &fakeResumer{}

	svc := newService(t, repo, resumer)
	report, err := svc.Recover(context.Background(), Options{ResetStuck: true})
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	if report.Reset != 1 || report.Resumed != 1 {
		t.Fatalf("report = %+v, want reset=1 resumed=1", report)
	}
	if len(repo.resets) != 1 || repo.resets[0] != "n-stuck" {
		t.Fatalf("resets = %v, want [n-stuck]", repo.resets)
	}
	if resumer.seen["n-stuck"] != domain.StatusPending {
		t.Fatalf("resumed from %s, want PENDING after reset", resumer.seen["n-stuck"])
	}
}

func TestRecoverLeavesManualRecordsAlone(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{unfinished: []domain.Notification{
		record("n-manual", domain.StatusPendingManual, 3*time.Hour),
	}}
	resumer := &fakeResumer{}

	svc := newService(t, repo, resumer)
	report, err := svc.Recover(context.Background(), Options{ResetStuck: true})
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if report.Parked != 1 || report.Resumed != 0 || report.Reset != 0 {
		t.Fatalf("report = %+v, want parked=1 only", report)
	}
	if len(resumer.resumed) != 0 {
		t.Fatalf("resumed = %v, want none", resumer.resumed)
	}
}

func TestRecoverDryRunChangesNothing(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{unfinished: []domain.Notification{
		record("n-1", domain.StatusPending, time.Minute),
		record("n-stuck", domain.StatusDownloading, time.Hour),
	}}
	resumer := &fakeResumer{}

	svc := newService(t, repo, resumer)
	report, err := svc.Recover(context.Background(), Options{ResetStuck: true, DryRun: true})
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	if report.Resumed != 1 || report.Reset != 1 {
		t.Fatalf("report = %+v, want resumed=1 reset=1 (counted, not executed)", report)
	}
	if len(resumer.resumed) != 0 || len(repo.resets) != 0 {
		t.Fatal("dry run must not touch records")
	}
}

func TestRecoverContinuesPastFailures(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{unfinished: []domain.Notification{
		record("n-bad", domain.StatusPending, time.Minute),
		record("n-good", domain.StatusPending, time.Minute),
	}}
	resumer := &fakeResumer{failIDs: map[string]error{"n-bad": errors.New("portal unreachable")}}

	svc := newService(t, repo, resumer)
	report, err := svc.Recover(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if report.Failed != 1 || report.Resumed != 1 {
		t.Fatalf("report = %+v, want failed=1 resumed=1", report)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("errors = %v, want 1 entry", report.Errors)
	}
}
