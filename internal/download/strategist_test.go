package download

import (
	"context"
	"errors"
	"testing"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
)

type fakeTaskRepo struct {
	tasks       map[string]*domain.DownloadTask
	items       []*domain.DownloadItem
	completed   []*domain.DownloadTask
	createErr   error
	itemErr     error
	completeErr error
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: make(map[string]*domain.DownloadTask)}
}

func (f *fakeTaskRepo) Create(_ context.Context, t *domain.DownloadTask) error {
	if f.createErr != nil {
		return f.createErr
	}
	copied := *t
	f.tasks[t.ID] = &copied
	return nil
}

func (f *fakeTaskRepo) GetByID(_ context.Context, id string) (*domain.DownloadTask, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakeTaskRepo) Complete(_ context.Context, t *domain.DownloadTask) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	copied := *t
	f.completed = append(f.completed, &copied)
	return nil
}

func (f *fakeTaskRepo) CreateItem(_ context.Context, item *domain.DownloadItem) error {
	if f.itemErr != nil {
		return f.itemErr
	}
	copied := *item
	f.items = append(f.items, &copied)
	return nil
}

func (f *fakeTaskRepo) ListItems(_ context.Context, taskID string) ([]domain.DownloadItem, error) {
	var out []domain.DownloadItem
	for _, item := range f.items {
		if item.TaskID == taskID {
			out = append(out, *item)
		}
	}
	return out, nil
}

type scriptedStrategy struct {
	name    string
	result  *Result
	err     error
	calls   int
	tracker *[]string
}

func (s *scriptedStrategy) Name() string { return s.name }

func (s *scriptedStrategy) Attempt(_ context.Context, _ Reference) (*Result, error) {
	s.calls++
	if s.tracker != nil {
		*s.tracker = append(*s.tracker, s.name)
	}
	return s.result, s.err
}

func successResult() *Result {
	return &Result{Items: []ItemResult{
		{Name: "判决书.pdf", Format: "pdf", LocalPath: "/tmp/x/判决书.pdf", ByteSize: 1024, Success: true},
		{Name: "传票.pdf", Format: "pdf", Err: errors.New("status 404")},
	}}
}

func TestStrategistFallsBackInStrictOrder(t *testing.T) {
	t.Parallel()

	var order []string
	direct := &scriptedStrategy{name: StrategyDirect, err: errors.New("listing api returned status 403"), tracker: &order}
	intercept := &scriptedStrategy{name: StrategyIntercept, err: errors.New("no listing response captured"), tracker: &order}
	ui := &scriptedStrategy{name: StrategyUI, result: successResult(), tracker: &order}

	repo := newFakeTaskRepo()
	strategist, err := NewStrategist([]Strategy{direct, intercept, ui}, repo, nil)
	if err != nil {
		t.Fatalf("NewStrategist() error = %v", err)
	}

	task, err := strategist.Run(context.Background(), "task-1", "n-1", Reference{URL: "https://court.example/d?noticeId=1&batchId=2&receiptId=3"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{StrategyDirect, StrategyIntercept, StrategyUI}
	if len(order) != len(want) {
		t.Fatalf("attempted strategies = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("attempt %d = %s, want %s", i, order[i], want[i])
		}
	}
	if task.Strategy != StrategyUI {
		t.Fatalf("task.Strategy = %s, want %s", task.Strategy, StrategyUI)
	}
	if !task.Success {
		t.Fatal("task.Success = false, want true")
	}
	if task.TotalCount != 2 || task.SuccessCount != 1 || task.FailedCount != 1 {
		t.Fatalf("counts = %d/%d/%d, want 2/1/1", task.TotalCount, task.SuccessCount, task.FailedCount)
	}
}

func TestStrategistStopsAtFirstSuccess(t *testing.T) {
	t.Parallel()

	direct := &scriptedStrategy{name: StrategyDirect, result: successResult()}
	intercept := &scriptedStrategy{name: StrategyIntercept, result: successResult()}

	repo := newFakeTaskRepo()
	strategist, err := NewStrategist([]Strategy{direct, intercept}, repo, nil)
	if err != nil {
		t.Fatalf("NewStrategist() error = %v", err)
	}

	if _, err := strategist.Run(context.Background(), "task-2", "n-2", Reference{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if direct.calls != 1 {
		t.Fatalf("direct calls = %d, want 1", direct.calls)
	}
	if intercept.calls != 0 {
		t.Fatalf("intercept calls = %d, want 0", intercept.calls)
	}
}

func TestStrategistAllFailuresReturnAggregateError(t *testing.T) {
	t.Parallel()

	direct := &scriptedStrategy{name: StrategyDirect, err: errors.New("boom direct")}
	intercept := &scriptedStrategy{name: StrategyIntercept, err: errors.New("boom intercept")}
	ui := &scriptedStrategy{name: StrategyUI, err: errors.New("boom ui")}

	repo := newFakeTaskRepo()
	strategist, err := NewStrategist([]Strategy{direct, intercept, ui}, repo, nil)
	if err != nil {
		t.Fatalf("NewStrategist() error = %v", err)
	}

	_, runErr := strategist.Run(context.Background(), "task-3", "n-3", Reference{})
	if runErr == nil {
		t.Fatal("Run() error = nil, want aggregate error")
	}

	var aggregate *domain.AllStrategiesError
	if !errors.As(runErr, &aggregate) {
		t.Fatalf("Run() error type = %T, want *domain.AllStrategiesError", runErr)
	}
	if len(aggregate.Causes) != 3 {
		t.Fatalf("causes = %d, want 3", len(aggregate.Causes))
	}
	if aggregate.Causes[StrategyIntercept].Error() != "boom intercept" {
		t.Fatalf("intercept cause = %v", aggregate.Causes[StrategyIntercept])
	}

	if len(repo.completed) != 1 {
		t.Fatalf("completed writes = %d, want 1", len(repo.completed))
	}
	final := repo.completed[0]
	if final.Success {
		t.Fatal("final task marked successful")
	}
	if final.Error == nil || *final.Error == "" {
		t.Fatal("final task has no error text")
	}
	if final.CompletedAt == nil {
		t.Fatal("final task has no completion time")
	}
}

func TestStrategistItemPersistenceFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	direct := &scriptedStrategy{name: StrategyDirect, result: successResult()}
	repo := newFakeTaskRepo()
	repo.itemErr = errors.New("connection refused")

	strategist, err := NewStrategist([]Strategy{direct}, repo, nil)
	if err != nil {
		t.Fatalf("NewStrategist() error = %v", err)
	}

	task, runErr := strategist.Run(context.Background(), "task-4", "n-4", Reference{})
	if runErr != nil {
		t.Fatalf("Run() error = %v, want nil despite item persistence failure", runErr)
	}
	if !task.Success {
		t.Fatal("task.Success = false, want true")
	}
	if len(repo.completed) != 1 {
		t.Fatalf("completed writes = %d, want 1", len(repo.completed))
	}
}

func TestStrategistPersistsEveryItemOutcome(t *testing.T) {
	t.Parallel()

	direct := &scriptedStrategy{name: StrategyDirect, result: successResult()}
	repo := newFakeTaskRepo()

	strategist, err := NewStrategist([]Strategy{direct}, repo, nil)
	if err != nil {
		t.Fatalf("NewStrategist() error = %v", err)
	}
	if _, err := strategist.Run(context.Background(), "task-5", "n-5", Reference{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	items, err := repo.ListItems(context.Background(), "task-5")
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if !items[0].Success || items[0].LocalPath == "" {
		t.Fatalf("first item = %+v, want stored success", items[0])
	}
	if items[1].Success || items[1].Error == nil {
		t.Fatalf("second item = %+v, want stored failure with error", items[1])
	}
}
