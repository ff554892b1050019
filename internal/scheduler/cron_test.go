package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu       sync.Mutex
	payloads []JobPayload
	deadline bool
	err      error
}

func (h *recordingHandler) Handle(ctx context.Context, p JobPayload) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, p)
	_, h.deadline = ctx.Deadline()
	return "ok", h.err
}

func TestNewCronDriverRegistersSpecs(t *testing.T) {
	d, err := NewCronDriver(&recordingHandler{}, CronSpecs{
		Tick:    "@every 1m",
		Flush:   "30 * * * * *",
		Cleanup: "",
	}, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewCronDriver: %v", err)
	}
	if got := len(d.cron.Entries()); got != 2 {
		t.Errorf("entries = %d, want 2 (empty spec skipped)", got)
	}
}

func TestNewCronDriverRejectsBadSpec(t *testing.T) {
	_, err := NewCronDriver(&recordingHandler{}, CronSpecs{Tick: "every minute"}, time.Second, testLogger())
	if err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestCronDriverRunPassesTaskWithTimeout(t *testing.T) {
	h := &recordingHandler{}
	d, err := NewCronDriver(h, CronSpecs{}, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewCronDriver: %v", err)
	}

	d.run(TaskCleanup)

	if len(h.payloads) != 1 || h.payloads[0].Task != TaskCleanup {
		t.Fatalf("payloads = %+v", h.payloads)
	}
	if h.payloads[0].ReferenceTime != nil {
		t.Error("cron runs should use the runner clock")
	}
	if !h.deadline {
		t.Error("task context should carry a deadline")
	}
}

func TestCronDriverRunSwallowsErrors(t *testing.T) {
	h := &recordingHandler{err: errors.New("db down")}
	d, _ := NewCronDriver(h, CronSpecs{}, 0, nil)
	d.run(TaskTick)
	if len(h.payloads) != 1 {
		t.Fatalf("payloads = %d, want 1", len(h.payloads))
	}
	if d.taskTimeout != DefaultLockTTL {
		t.Errorf("taskTimeout = %v, want default", d.taskTimeout)
	}
}

func TestCronDriverStartStop(t *testing.T) {
	d, err := NewCronDriver(&recordingHandler{}, CronSpecs{Tick: "@every 1h"}, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewCronDriver: %v", err)
	}
	d.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Stop(ctx)
}
