package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunTrigger string

const (
	RunTriggerTimer  RunTrigger = "timer"
	RunTriggerManual RunTrigger = "manual"
)

// RunRequest is emitted by the scheduler (or the API's manual trigger)
// when a schedule should execute.
type RunRequest struct {
	ScheduleID uuid.UUID
	Trigger    RunTrigger
	FiredAt    time.Time
}
