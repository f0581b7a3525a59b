// Package scheduler triggers recurring jobs from cron schedules (see
// ParseSchedule). Jobs run on cron's goroutines with panic recovery, a
// per-job timeout and skip-if-still-running overlap handling.
package scheduler
