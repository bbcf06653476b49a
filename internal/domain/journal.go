package domain

import "time"

// Mutation outcomes recorded in the journal.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeDegraded  = "degraded"
)

// JournalEntry records one place mutation and whether the service confirmed it.
type JournalEntry struct {
	ID        string    `json:"id"`
	Op        string    `json:"op"`
	PlaceID   int64     `json:"place_id"`
	PlaceName string    `json:"place_name"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
