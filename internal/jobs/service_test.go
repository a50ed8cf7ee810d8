package jobs

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"postflow/internal/eventbus"
	"postflow/pkg/logx"
)

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 10 * time.Millisecond
	}
	return New(cfg, logx.Nop(), eventbus.New())
}

func startService(t *testing.T, s *Service) {
	t.Helper()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAddJobValidation(t *testing.T) {
	s := newTestService(t, Config{})
	noop := func(ctx context.Context) error { return nil }

	if err := s.AddJob(Job{ID: "x", Kind: KindTriggered}); err == nil {
		t.Fatal("job without handler should be rejected")
	}
	if err := s.AddJob(Job{ID: "", Handler: noop}); err == nil {
		t.Fatal("job without id should be rejected")
	}
	if err := s.AddJob(Job{ID: "bad", Handler: noop, Kind: KindScheduled, Schedule: "whenever"}); err == nil {
		t.Fatal("bad schedule should be rejected")
	}
	if err := s.AddJob(Job{ID: "dup", Handler: noop, Kind: KindTriggered}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddJob(Job{ID: "dup", Handler: noop, Kind: KindTriggered}); !errors.Is(err, ErrExists) {
		t.Fatalf("want ErrExists, got %v", err)
	}
}

func TestRunJobNotFound(t *testing.T) {
	s := newTestService(t, Config{})
	if err := s.RunJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	noop := func(ctx context.Context) error { return nil }
	if err := s.AddJob(Job{ID: "off", Handler: noop, Kind: KindTriggered, Enabled: false}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.RunJob("off"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("disabled job: want ErrNotFound, got %v", err)
	}
}

func TestRunJobRecordsResult(t *testing.T) {
	s := newTestService(t, Config{})
	startService(t, s)

	var calls atomic.Int32
	err := s.AddJob(Job{
		ID:      "ok",
		Kind:    KindTriggered,
		Enabled: true,
		Handler: func(ctx context.Context) error { calls.Add(1); return nil },
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.RunJob("ok"); err != nil {
		t.Fatalf("run: %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(s.History("ok", 0)) == 1 })
	res := s.History("ok", 0)[0]
	if !res.Success || res.Error != "" || res.JobID != "ok" {
		t.Fatalf("result = %+v", res)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times", calls.Load())
	}
	j, _ := s.Get("ok")
	if j.RetryCount != 0 || j.LastRun.IsZero() {
		t.Fatalf("job after run = %+v", j)
	}
}

func TestFailingJobRetriesUpToMax(t *testing.T) {
	s := newTestService(t, Config{RetryBackoff: 10 * time.Millisecond})
	startService(t, s)

	var calls atomic.Int32
	err := s.AddJob(Job{
		ID:         "flaky",
		Kind:       KindTriggered,
		Enabled:    true,
		MaxRetries: 3,
		Handler: func(ctx context.Context) error {
			calls.Add(1)
			return errors.New("boom")
		},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.RunJob("flaky"); err != nil {
		t.Fatalf("run: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 4 })

	// Initial run plus three retries, then nothing.
	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 4 {
		t.Fatalf("handler ran %d times, want 4", got)
	}
	j, _ := s.Get("flaky")
	if j.RetryCount != 3 {
		t.Fatalf("retry count = %d, want 3", j.RetryCount)
	}
	hist := s.History("flaky", 0)
	if len(hist) != 4 {
		t.Fatalf("history = %d entries", len(hist))
	}
	for _, r := range hist {
		if r.Success || r.Error != "boom" {
			t.Fatalf("result = %+v", r)
		}
	}
}

func TestSuccessResetsRetryCount(t *testing.T) {
	s := newTestService(t, Config{RetryBackoff: 10 * time.Millisecond})
	startService(t, s)

	var calls atomic.Int32
	err := s.AddJob(Job{
		ID:         "recovers",
		Kind:       KindTriggered,
		Enabled:    true,
		MaxRetries: 5,
		Handler: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("not yet")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.RunJob("recovers"); err != nil {
		t.Fatalf("run: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		j, _ := s.Get("recovers")
		return j.RetryCount == 0 && !j.LastRun.IsZero() && calls.Load() == 3
	})
}

func TestPanicIsContained(t *testing.T) {
	s := newTestService(t, Config{})
	startService(t, s)

	err := s.AddJob(Job{
		ID:      "panics",
		Kind:    KindTriggered,
		Enabled: true,
		Handler: func(ctx context.Context) error { panic("oh no") },
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.RunJob("panics"); err != nil {
		t.Fatalf("run: %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(s.History("panics", 0)) == 1 })
	res := s.History("panics", 0)[0]
	if res.Success || !strings.Contains(res.Error, "oh no") {
		t.Fatalf("result = %+v", res)
	}
}

func TestScheduledJobTicks(t *testing.T) {
	s := newTestService(t, Config{})

	var calls atomic.Int32
	err := s.AddJob(Job{
		ID:       "ticker",
		Kind:     KindScheduled,
		Schedule: "20ms",
		Enabled:  true,
		Handler:  func(ctx context.Context) error { calls.Add(1); return nil },
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	startService(t, s)

	waitFor(t, 2*time.Second, func() bool { return calls.Load() >= 2 })

	j, _ := s.Get("ticker")
	if j.NextRun.IsZero() {
		t.Fatal("next run should be tracked")
	}
}

func TestStopCancelsPendingRetry(t *testing.T) {
	s := newTestService(t, Config{RetryBackoff: 200 * time.Millisecond})
	startService(t, s)

	var calls atomic.Int32
	err := s.AddJob(Job{
		ID:         "doomed",
		Kind:       KindTriggered,
		Enabled:    true,
		MaxRetries: 5,
		Handler: func(ctx context.Context) error {
			calls.Add(1)
			return errors.New("boom")
		},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.RunJob("doomed"); err != nil {
		t.Fatalf("run: %v", err)
	}

	waitFor(t, time.Second, func() bool { return calls.Load() == 1 })
	s.Stop()
	time.Sleep(400 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("handler ran %d times after stop, want 1", got)
	}
}

func TestRemoveJobStopsTimer(t *testing.T) {
	s := newTestService(t, Config{})

	var calls atomic.Int32
	err := s.AddJob(Job{
		ID:       "gone",
		Kind:     KindScheduled,
		Schedule: "20ms",
		Enabled:  true,
		Handler:  func(ctx context.Context) error { calls.Add(1); return nil },
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	startService(t, s)
	waitFor(t, 2*time.Second, func() bool { return calls.Load() >= 1 })

	if err := s.RemoveJob("gone"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	at := calls.Load()
	time.Sleep(100 * time.Millisecond)
	if calls.Load() != at {
		t.Fatal("removed job kept running")
	}

	if err := s.RemoveJob("gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestHistoryBounded(t *testing.T) {
	s := newTestService(t, Config{HistorySize: 5})
	for i := 0; i < 8; i++ {
		s.mu.Lock()
		s.appendHistoryLocked(Result{JobID: "j", Success: true})
		s.mu.Unlock()
	}
	if got := len(s.History("j", 0)); got != 5 {
		t.Fatalf("history = %d entries, want 5", got)
	}
	if got := len(s.History("j", 2)); got != 2 {
		t.Fatalf("limited history = %d entries, want 2", got)
	}
}
