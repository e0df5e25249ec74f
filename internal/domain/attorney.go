package domain

import "github.com/google/uuid"

// Attorney is a tracked subject used to parametrize per-attorney
// queries. Read-only from this service's perspective.
type Attorney struct {
	ID   uuid.UUID
	Name string

	// OAB registration: number plus state (jurisdiction) code.
	OABNumber string
	OABState  string
}
