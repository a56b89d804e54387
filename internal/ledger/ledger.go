// Package ledger tracks listing identifiers that have already been
// notified, so a restart never re-alerts old listings.
package ledger

import "time"

// Ledger represents the durable seen-item set
type Ledger interface {
	// Contains reports whether id has already been recorded
	Contains(id string) bool

	// Record durably marks id as notified at the given time
	Record(id string, at time.Time) error

	// All returns every recorded identifier, for inspection
	All() []string

	// Close releases the underlying storage
	Close() error
}
