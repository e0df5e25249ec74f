package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	// RunStatusCompletedWithWarnings marks runs where some records failed
	// to persist but the run itself finished.
	RunStatusCompletedWithWarnings RunStatus = "completed_with_warnings"
	RunStatusFailed                RunStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCompletedWithWarnings, RunStatusFailed:
		return true
	}
	return false
}

// SyncRun records one firing of a schedule.
type SyncRun struct {
	ID         uuid.UUID
	ScheduleID uuid.UUID

	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time

	ResultCount  int
	WarningCount int
	Error        string

	CreatedAt time.Time
}
