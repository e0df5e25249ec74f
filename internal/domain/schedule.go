package domain

import (
	"time"

	"github.com/google/uuid"
)

type SyncMode string

const (
	// SyncModeByAttorneys queries the source once per tracked attorney,
	// merging the attorney's OAB registration into the fixed parameters.
	SyncModeByAttorneys SyncMode = "by_attorneys"
	// SyncModeByParameters queries the source once with the schedule's
	// fixed parameters.
	SyncModeByParameters SyncMode = "by_parameters"
	// SyncModeManual is never fired by timers; runs only via the API.
	SyncModeManual SyncMode = "manual"
)

// SyncSchedule is a durable recurring sync job definition.
type SyncSchedule struct {
	ID uuid.UUID

	Name        string
	Description string
	Mode        SyncMode

	CronExpression string
	Timezone       string // IANA timezone; invalid values fall back to the configured default
	Active         bool

	AttorneyIDs []uuid.UUID // mode=by_attorneys
	Params      QueryParams // mode=by_parameters, also base params for by_attorneys

	WebhookEndpointID *uuid.UUID

	LastRunAt *time.Time
	NextRunAt *time.Time
	RunCount  int

	// ActiveRunID is the run lease: non-nil while a run is in flight.
	// Guarded by a compare-and-swap in the store.
	ActiveRunID *uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// QueryParams are the fixed source-query parameters stored on a schedule.
type QueryParams struct {
	Text          string `json:"text,omitempty"`
	Tribunal      string `json:"tribunal,omitempty"`
	PartyName     string `json:"party_name,omitempty"`
	LawyerName    string `json:"lawyer_name,omitempty"`
	ProcessNumber string `json:"process_number,omitempty"`
	JudicialUnit  string `json:"judicial_unit,omitempty"`
	Medium        string `json:"medium,omitempty"`
	DateFrom      string `json:"date_from,omitempty"` // YYYY-MM-DD
	DateTo        string `json:"date_to,omitempty"`   // YYYY-MM-DD
}
