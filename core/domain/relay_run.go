package domain

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a processing run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
	RunSkipped   RunStatus = "skipped"
)

// OverlapGuardWindow bounds how long a stale "running" row can suppress
// new runs. A running row older than this is treated as crashed.
const OverlapGuardWindow = 5 * time.Minute

// RetentionWindow is how long encrypted email content is kept before the
// cleanup job nulls it out.
const RetentionWindow = 24 * time.Hour

// ProcessingRun records one scheduled pass over all configured accounts.
type ProcessingRun struct {
	ID              int64      `json:"id" db:"id"`
	Status          RunStatus  `json:"status" db:"status"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	CompletedAt     *time.Time `json:"completed_at" db:"completed_at"`
	PollIntervalMin int        `json:"poll_interval_min" db:"poll_interval_min"`
	EmailsChecked   int        `json:"emails_checked" db:"emails_checked"`
	EmailsProcessed int        `json:"emails_processed" db:"emails_processed"`
	EmailsForwarded int        `json:"emails_forwarded" db:"emails_forwarded"`
	ErrorMessage    string     `json:"error_message" db:"error_message"`
}

// SkipReason names the still-running run that caused a skip, so the run
// history shows which run won the overlap guard.
func SkipReason(blockingID int64) string {
	return fmt.Sprintf("previous run %d still in progress", blockingID)
}
