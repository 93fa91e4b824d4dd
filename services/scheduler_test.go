package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// blockingRunner parks inside Run until released, so tests can hold the
// single-flight gate open deliberately.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) Run(ctx context.Context, trigger string) (*SyncSummary, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	close(r.started)
	<-r.release
	return &SyncSummary{}, nil
}

func (r *blockingRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestTryRunIsSingleFlight(t *testing.T) {
	runner := newBlockingRunner()
	scheduler := &SyncScheduler{runner: runner, loc: time.UTC}

	done := make(chan error, 1)
	go func() {
		_, err := scheduler.TryRun(context.Background(), "schedule")
		done <- err
	}()

	<-runner.started
	if !scheduler.Running() {
		t.Fatal("scheduler should report a run in progress")
	}

	// A second trigger while the first holds the gate is skipped, not queued.
	if _, err := scheduler.TryRun(context.Background(), "manual"); !errors.Is(err, ErrSyncAlreadyRunning) {
		t.Fatalf("expected ErrSyncAlreadyRunning, got %v", err)
	}
	if runner.callCount() != 1 {
		t.Fatalf("skipped trigger must not reach the runner, got %d calls", runner.callCount())
	}

	close(runner.release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if scheduler.Running() {
		t.Fatal("gate should be released after the run finishes")
	}
}

// immediateRunner completes instantly so the gate cycles.
type immediateRunner struct{ calls int }

func (r *immediateRunner) Run(ctx context.Context, trigger string) (*SyncSummary, error) {
	r.calls++
	return &SyncSummary{}, nil
}

func TestTryRunReleasesGateAfterCompletion(t *testing.T) {
	runner := &immediateRunner{}
	scheduler := &SyncScheduler{runner: runner, loc: time.UTC}

	for i := 0; i < 3; i++ {
		if _, err := scheduler.TryRun(context.Background(), "manual"); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}
	if runner.calls != 3 {
		t.Fatalf("sequential triggers must all run, got %d calls", runner.calls)
	}
}

type failingRunner struct{}

func (r *failingRunner) Run(ctx context.Context, trigger string) (*SyncSummary, error) {
	return nil, errors.New("sweep exploded")
}

func TestTryRunReleasesGateAfterFailure(t *testing.T) {
	scheduler := &SyncScheduler{runner: &failingRunner{}, loc: time.UTC}

	if _, err := scheduler.TryRun(context.Background(), "manual"); err == nil {
		t.Fatal("expected the runner error back")
	}
	if scheduler.Running() {
		t.Fatal("a failed run must still release the gate")
	}
}

func TestNextRunAfter(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	scheduler := &SyncScheduler{loc: loc, hour: 6, minute: 30}

	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "before today's fire time",
			now:  time.Date(2025, time.June, 15, 3, 0, 0, 0, loc),
			want: time.Date(2025, time.June, 15, 6, 30, 0, 0, loc),
		},
		{
			name: "after today's fire time rolls to tomorrow",
			now:  time.Date(2025, time.June, 15, 9, 0, 0, 0, loc),
			want: time.Date(2025, time.June, 16, 6, 30, 0, 0, loc),
		},
		{
			name: "exactly at fire time rolls to tomorrow",
			now:  time.Date(2025, time.June, 15, 6, 30, 0, 0, loc),
			want: time.Date(2025, time.June, 16, 6, 30, 0, 0, loc),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := scheduler.nextRunAfter(tc.now)
			if !got.Equal(tc.want) {
				t.Fatalf("nextRunAfter(%v) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestEnvClock(t *testing.T) {
	t.Setenv("SYNC_HOUR", "14")
	if got := envClock("SYNC_HOUR", 6, 23); got != 14 {
		t.Fatalf("expected 14, got %d", got)
	}

	t.Setenv("SYNC_HOUR", "25")
	if got := envClock("SYNC_HOUR", 6, 23); got != 6 {
		t.Fatalf("out-of-range hour should fall back, got %d", got)
	}

	t.Setenv("SYNC_HOUR", "noon")
	if got := envClock("SYNC_HOUR", 6, 23); got != 6 {
		t.Fatalf("unparsable hour should fall back, got %d", got)
	}

	t.Setenv("SYNC_HOUR", "")
	if got := envClock("SYNC_HOUR", 6, 23); got != 6 {
		t.Fatalf("unset hour should fall back, got %d", got)
	}
}
