package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gardennotify/internal/notifications/core"
	"gardennotify/internal/types"
)

// DefaultLockTTL bounds how long a crashed worker can hold a task lock.
const DefaultLockTTL = 55 * time.Second

// JobLocker abstracts the cross-process task lock.
type JobLocker interface {
	Acquire(ctx context.Context, lockID, workerID string, now time.Time, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID, workerID string) error
}

// JobHistorian records task runs.
type JobHistorian interface {
	Start(ctx context.Context, jobType string, startedAt time.Time) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}

// Ticker runs the engine tasks. Satisfied by *Engine.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) (core.TickSummary, error)
	FlushHeld(ctx context.Context, now time.Time) (int, error)
	CheckUser(ctx context.Context, userID string, now time.Time) (UserResult, error)
}

// Cleaner runs the retention task. Satisfied by *CleanupService.
type Cleaner interface {
	Run(ctx context.Context, now time.Time) (int, error)
}

// Runner executes a JobPayload under a job lock and records it in job
// history. The tick worker Lambda and the cron driver both call Handle.
type Runner struct {
	Engine     Ticker
	Cleanup    Cleaner
	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	// LockTTL defaults to DefaultLockTTL.
	LockTTL time.Duration
	Logger  *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Handle runs one task:
//  1. Resolve the reference time.
//  2. Acquire the lock "task:minute" (hourly for cleanup); skip if held.
//  3. Record the start in job history.
//  4. Run the task.
//  5. Record completion and release the lock.
func (r *Runner) Handle(ctx context.Context, payload JobPayload) (string, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := r.Now
	if clock == nil {
		clock = time.Now
	}
	ttl := r.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	ctx = types.WithWorkerID(ctx, r.WorkerID)

	now := clock().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	task := string(payload.Task)
	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in job payload")
	}

	lockID := lockKey(payload.Task, now)
	acquired, err := r.JobLock.Acquire(ctx, lockID, r.WorkerID, clock().UTC(), ttl)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock",
			"lock_id", lockID,
			"error", err,
		)
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock held by another worker, skipping",
			"lock_id", lockID,
		)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}
	defer func() {
		if err := r.JobLock.Release(ctx, lockID, r.WorkerID); err != nil {
			logger.WarnContext(ctx, "failed to release job lock",
				"lock_id", lockID,
				"error", err,
			)
		}
	}()

	jobID, err := r.JobHistory.Start(ctx, task, now)
	if err != nil {
		// History is best effort; jobID 0 skips Finish.
		logger.ErrorContext(ctx, "failed to start job history",
			"task", task,
			"error", err,
		)
		jobID = 0
	}

	items, execErr := r.dispatch(ctx, payload.Task, now)

	status := "success"
	if execErr != nil {
		status = "failed"
	}
	if jobID != 0 {
		if err := r.JobHistory.Finish(ctx, jobID, status, items, execErr); err != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"job_id", jobID,
				"error", err,
			)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task failed",
			"task", task,
			"items", items,
			"error", execErr,
		)
		return "", fmt.Errorf("task %s failed: %w", task, execErr)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", task, items)
	logger.InfoContext(ctx, result, "task", task, "items", items)
	return result, nil
}

// Check runs a manual check of one user under the lock "check:<userID>".
// A check already running for the same user yields ErrCodeConflictClaimed.
func (r *Runner) Check(ctx context.Context, userID string) (UserResult, error) {
	clock := r.Now
	if clock == nil {
		clock = time.Now
	}
	ttl := r.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	now := clock().UTC()

	lockID := "check:" + userID
	acquired, err := r.JobLock.Acquire(ctx, lockID, r.WorkerID, now, ttl)
	if err != nil {
		return UserResult{}, fmt.Errorf("acquiring check lock: %w", err)
	}
	if !acquired {
		return UserResult{}, types.NewAppError(types.ErrCodeConflictClaimed, "a check for this user is already running", nil)
	}
	defer func() {
		if err := r.JobLock.Release(ctx, lockID, r.WorkerID); err != nil && r.Logger != nil {
			r.Logger.WarnContext(ctx, "failed to release check lock", "user_id", userID, "error", err)
		}
	}()

	return r.Engine.CheckUser(ctx, userID, now)
}

func (r *Runner) dispatch(ctx context.Context, task TaskType, now time.Time) (int, error) {
	switch task {
	case TaskTick:
		res, err := r.Engine.Tick(ctx, now)
		return res.Users, err
	case TaskFlushHeld:
		return r.Engine.FlushHeld(ctx, now)
	case TaskCleanup:
		return r.Cleanup.Run(ctx, now)
	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

func lockKey(task TaskType, now time.Time) string {
	if task == TaskCleanup {
		return fmt.Sprintf("%s:%s", task, now.Truncate(time.Hour).Format("2006-01-02T15"))
	}
	return fmt.Sprintf("%s:%s", task, now.Truncate(time.Minute).Format("2006-01-02T15:04"))
}
