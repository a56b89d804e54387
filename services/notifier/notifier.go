package notifier

import (
	"context"

	"dwatson385/ticketwatcher/internal/listing"
)

// Alert carries one newly observed listing plus the event context needed
// for a human-readable message
type Alert struct {
	EventName string          `json:"event_name"`
	Location  string          `json:"location,omitempty"`
	EventDate string          `json:"event_date,omitempty"`
	EventURL  string          `json:"event_url"`
	Listing   listing.Listing `json:"listing"`
}

// Notifier represents one delivery channel for alerts
type Notifier interface {
	// Notify delivers an alert for a newly observed listing
	Notify(ctx context.Context, alert Alert) error

	// Announce delivers an informational message (startup, heartbeat)
	Announce(ctx context.Context, text string) error

	// Close releases the channel's resources
	Close() error
}
