package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskHandler runs one JobPayload. Satisfied by *Runner.
type TaskHandler interface {
	Handle(ctx context.Context, payload JobPayload) (string, error)
}

// CronSpecs maps each task to a cron expression. Six-field specs (with
// seconds) and descriptors such as "@every 1m" are accepted. An empty spec
// leaves the task unscheduled.
type CronSpecs struct {
	Tick    string
	Flush   string
	Cleanup string
}

// CronDriver runs the scheduled tasks in process, for deployments without
// EventBridge. Overlap across replicas is still resolved by the Runner's job
// lock.
type CronDriver struct {
	cron        *cron.Cron
	handler     TaskHandler
	taskTimeout time.Duration
	logger      *slog.Logger
}

// NewCronDriver registers the tasks of specs. taskTimeout bounds each run.
func NewCronDriver(handler TaskHandler, specs CronSpecs, taskTimeout time.Duration, logger *slog.Logger) (*CronDriver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if taskTimeout <= 0 {
		taskTimeout = DefaultLockTTL
	}
	d := &CronDriver{
		cron:        cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		handler:     handler,
		taskTimeout: taskTimeout,
		logger:      logger,
	}

	for _, job := range []struct {
		task TaskType
		spec string
	}{
		{TaskTick, specs.Tick},
		{TaskFlushHeld, specs.Flush},
		{TaskCleanup, specs.Cleanup},
	} {
		if job.spec == "" {
			continue
		}
		task := job.task
		if _, err := d.cron.AddFunc(job.spec, func() { d.run(task) }); err != nil {
			return nil, fmt.Errorf("scheduling %s with %q: %w", task, job.spec, err)
		}
	}
	return d, nil
}

// Start begins firing jobs in the background.
func (d *CronDriver) Start() {
	d.logger.Info("cron driver started", "jobs", len(d.cron.Entries()))
	d.cron.Start()
}

// Stop stops scheduling and waits for running jobs or ctx, whichever ends
// first.
func (d *CronDriver) Stop(ctx context.Context) {
	done := d.cron.Stop()
	select {
	case <-done.Done():
		d.logger.Info("cron driver stopped")
	case <-ctx.Done():
		d.logger.Warn("cron driver stop timed out with jobs still running")
	}
}

func (d *CronDriver) run(task TaskType) {
	ctx, cancel := context.WithTimeout(context.Background(), d.taskTimeout)
	defer cancel()

	// The runner truncates to the minute, so the cron fire time needs no
	// adjustment.
	res, err := d.handler.Handle(ctx, JobPayload{Task: task})
	if err != nil {
		d.logger.ErrorContext(ctx, "scheduled task failed", "task", string(task), "error", err)
		return
	}
	d.logger.DebugContext(ctx, "scheduled task finished", "task", string(task), "result", res)
}
