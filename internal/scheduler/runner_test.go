package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gardennotify/internal/notifications/core"
	"gardennotify/internal/types"
)

type fakeTicker struct {
	tickAt  time.Time
	tickErr error
	users   int
	flushed int
	checked string
	calls   []TaskType
}

func (f *fakeTicker) Tick(_ context.Context, now time.Time) (core.TickSummary, error) {
	f.calls = append(f.calls, TaskTick)
	f.tickAt = now
	return core.TickSummary{Users: f.users}, f.tickErr
}

func (f *fakeTicker) FlushHeld(context.Context, time.Time) (int, error) {
	f.calls = append(f.calls, TaskFlushHeld)
	return f.flushed, nil
}

func (f *fakeTicker) CheckUser(_ context.Context, userID string, _ time.Time) (UserResult, error) {
	f.checked = userID
	return UserResult{Flushed: 1}, nil
}

type fakeCleaner struct{ called bool }

func (f *fakeCleaner) Run(context.Context, time.Time) (int, error) {
	f.called = true
	return 9, nil
}

type fakeLock struct {
	held     map[string]bool
	err      error
	acquired []string
	released []string
}

func (f *fakeLock) Acquire(_ context.Context, lockID, _ string, _ time.Time, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.held[lockID] {
		return false, nil
	}
	f.acquired = append(f.acquired, lockID)
	return true, nil
}

func (f *fakeLock) Release(_ context.Context, lockID, _ string) error {
	f.released = append(f.released, lockID)
	return nil
}

type fakeHistory struct {
	startErr error
	status   string
	items    int
	finished bool
}

func (f *fakeHistory) Start(context.Context, string, time.Time) (int64, error) {
	if f.startErr != nil {
		return 0, f.startErr
	}
	return 7, nil
}

func (f *fakeHistory) Finish(_ context.Context, _ int64, status string, items int, _ error) error {
	f.finished, f.status, f.items = true, status, items
	return nil
}

func newRunner(ticker *fakeTicker, lock *fakeLock, hist *fakeHistory) (*Runner, *fakeCleaner) {
	cleaner := &fakeCleaner{}
	return &Runner{
		Engine:     ticker,
		Cleanup:    cleaner,
		JobLock:    lock,
		JobHistory: hist,
		WorkerID:   "worker-a",
		Logger:     testLogger(),
		Now:        func() time.Time { return time.Date(2026, 5, 4, 7, 0, 31, 0, time.UTC) },
	}, cleaner
}

func TestRunner_TickUsesReferenceTimeAndLock(t *testing.T) {
	ticker := &fakeTicker{users: 12}
	lock := &fakeLock{}
	hist := &fakeHistory{}
	r, _ := newRunner(ticker, lock, hist)

	ref := time.Date(2026, 5, 4, 6, 59, 0, 0, time.UTC)
	out, err := r.Handle(context.Background(), JobPayload{Task: TaskTick, ReferenceTime: &ref})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !ticker.tickAt.Equal(ref) {
		t.Errorf("tick at %v, want %v", ticker.tickAt, ref)
	}
	if len(lock.acquired) != 1 || lock.acquired[0] != "tick:2026-05-04T06:59" {
		t.Errorf("locks = %v", lock.acquired)
	}
	if len(lock.released) != 1 {
		t.Errorf("lock not released")
	}
	if !hist.finished || hist.status != "success" || hist.items != 12 {
		t.Errorf("history = %+v", hist)
	}
	if !strings.Contains(out, "12 items") {
		t.Errorf("result = %q", out)
	}
}

func TestRunner_SkipsWhenLockHeld(t *testing.T) {
	ticker := &fakeTicker{}
	lock := &fakeLock{held: map[string]bool{"tick:2026-05-04T07:00": true}}
	r, _ := newRunner(ticker, lock, &fakeHistory{})

	out, err := r.Handle(context.Background(), JobPayload{Task: TaskTick})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.HasPrefix(out, "skipped") {
		t.Errorf("result = %q, want skipped", out)
	}
	if len(ticker.calls) != 0 {
		t.Error("engine ran without the lock")
	}
}

func TestRunner_RoutesTasks(t *testing.T) {
	ticker := &fakeTicker{flushed: 4}
	lock := &fakeLock{}
	r, cleaner := newRunner(ticker, lock, &fakeHistory{})

	if _, err := r.Handle(context.Background(), JobPayload{Task: TaskFlushHeld}); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, err := r.Handle(context.Background(), JobPayload{Task: TaskCleanup}); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(ticker.calls) != 1 || ticker.calls[0] != TaskFlushHeld {
		t.Errorf("engine calls = %v", ticker.calls)
	}
	if !cleaner.called {
		t.Error("cleanup not run")
	}
	if lock.acquired[1] != "cleanup:2026-05-04T07" {
		t.Errorf("cleanup lock = %q, want hourly key", lock.acquired[1])
	}
}

func TestRunner_Errors(t *testing.T) {
	t.Run("empty task", func(t *testing.T) {
		r, _ := newRunner(&fakeTicker{}, &fakeLock{}, &fakeHistory{})
		if _, err := r.Handle(context.Background(), JobPayload{}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		hist := &fakeHistory{}
		r, _ := newRunner(&fakeTicker{}, &fakeLock{}, hist)
		if _, err := r.Handle(context.Background(), JobPayload{Task: "reticulate"}); err == nil {
			t.Fatal("expected error")
		}
		if hist.status != "failed" {
			t.Errorf("history status = %q, want failed", hist.status)
		}
	})

	t.Run("lock error", func(t *testing.T) {
		r, _ := newRunner(&fakeTicker{}, &fakeLock{err: errors.New("db down")}, &fakeHistory{})
		if _, err := r.Handle(context.Background(), JobPayload{Task: TaskTick}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("history start failure still runs task", func(t *testing.T) {
		ticker := &fakeTicker{}
		hist := &fakeHistory{startErr: errors.New("insert failed")}
		r, _ := newRunner(ticker, &fakeLock{}, hist)
		if _, err := r.Handle(context.Background(), JobPayload{Task: TaskTick}); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if len(ticker.calls) != 1 || hist.finished {
			t.Errorf("calls=%v finished=%v", ticker.calls, hist.finished)
		}
	})

	t.Run("tick failure", func(t *testing.T) {
		r, _ := newRunner(&fakeTicker{tickErr: errors.New("listing active users")}, &fakeLock{}, &fakeHistory{})
		if _, err := r.Handle(context.Background(), JobPayload{Task: TaskTick}); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestRunner_Check(t *testing.T) {
	ticker := &fakeTicker{}
	lock := &fakeLock{held: map[string]bool{"check:u_busy": true}}
	r, _ := newRunner(ticker, lock, &fakeHistory{})

	res, err := r.Check(context.Background(), "u_1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if ticker.checked != "u_1" || res.Flushed != 1 {
		t.Errorf("checked=%q res=%+v", ticker.checked, res)
	}
	if len(lock.released) != 1 || lock.released[0] != "check:u_1" {
		t.Errorf("released = %v", lock.released)
	}

	_, err = r.Check(context.Background(), "u_busy")
	if !types.IsCode(err, types.ErrCodeConflictClaimed) {
		t.Errorf("err = %v, want conflict", err)
	}
}
