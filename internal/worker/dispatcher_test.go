package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDispatcherRunsSubmittedJobs(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(2, 8, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	var mu sync.Mutex
	ran := make(map[string]bool)
	done := make(chan struct{}, 3)

	d.Start(context.Background())
	for _, name := range []string{"a", "b", "c"} {
		name := name
		err := d.Submit(Job{Name: name, Run: func(ctx context.Context) error {
			mu.Lock()
			ran[name] = true
			mu.Unlock()
			done <- struct{}{}
			return nil
		}})
		if err != nil {
			t.Fatalf("Submit(%q) error = %v", name, err)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	for _, name := range []string{"a", "b", "c"} {
		if !ran[name] {
			t.Fatalf("job %q did not run", name)
		}
	}
}

func TestDispatcherRejectsWhenQueueFull(t *testing.T) {
	t.Parallel()

	// Never started, so nothing drains the queue.
	d, err := NewDispatcher(1, 2, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	noop := func(ctx context.Context) error { return nil }
	if err := d.Submit(Job{Name: "first", Run: noop}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := d.Submit(Job{Name: "second", Run: noop}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if err := d.Submit(Job{Name: "third", Run: noop}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit() error = %v, want ErrQueueFull", err)
	}
}

func TestDispatcherSubmitAfterClose(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(1, 2, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	d.Start(context.Background())
	d.Close()

	if err := d.Submit(Job{Name: "late", Run: func(ctx context.Context) error { return nil }}); err == nil {
		t.Fatal("expected error for submit after close")
	}
}

func TestDispatcherRejectsNilRun(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(1, 2, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	if err := d.Submit(Job{Name: "broken"}); err == nil {
		t.Fatal("expected error for job without run function")
	}
}

func TestDispatcherJobFailureDoesNotStopWorkers(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(1, 8, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	d.Start(context.Background())

	done := make(chan struct{})
	if err := d.Submit(Job{Name: "boom", Run: func(ctx context.Context) error {
		return errors.New("boom")
	}}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := d.Submit(Job{Name: "after", Run: func(ctx context.Context) error {
		close(done)
		return nil
	}}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a failing job")
	}
	d.Close()
}
