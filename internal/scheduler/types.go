// Package scheduler drives the notification engine: the per-minute tick that
// matches rules, claims fires, leases due reminders and hands one digest per
// user to the dispatcher, plus the held-delivery flush and retention cleanup
// that run beside it.
//
// Every entrypoint takes the instant it runs for, so ticks are deterministic
// under test and can be replayed through JobPayload.ReferenceTime.
package scheduler

import "time"

// TaskType identifies which scheduled task a JobPayload runs.
type TaskType string

const (
	TaskTick      TaskType = "tick"
	TaskFlushHeld TaskType = "flush_held"
	TaskCleanup   TaskType = "cleanup"
)

// JobPayload is the event the tick worker receives, from EventBridge or the
// in-process cron driver.
//
//	{
//	  "task": "tick",
//	  "reference_time": "2026-05-04T07:00:00Z"  // optional
//	}
type JobPayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for manual runs and backfills. If nil,
	// the runner's clock is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// UserResult counts what one user's pipeline run did.
type UserResult struct {
	Fired     int `json:"fired"`
	Reminders int `json:"reminders"`
	Delivered int `json:"delivered"`
	Held      int `json:"held"`
	Failed    int `json:"failed"`
	Flushed   int `json:"flushed"`
}
