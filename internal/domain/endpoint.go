package domain

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEndpoint is a notification target referenced by schedules.
type WebhookEndpoint struct {
	ID uuid.UUID

	URL     string
	Secret  string // HMAC secret
	Timeout time.Duration

	CreatedAt time.Time
}
