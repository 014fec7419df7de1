package store

import "time"

// CountRecord is the published form of a collection's count, optimised for
// JSON serialisation by the badge feed.
type CountRecord struct {
	// Collection is the CRM collection name (e.g. "leads").
	Collection string `json:"collection"`

	// Count is the last known total. Zero after a failed fetch.
	Count int `json:"count"`

	// Badge is the display text; empty when no badge should be shown.
	Badge string `json:"badge"`

	// State is the poll state at publish time ("loading", "ready", ...).
	State string `json:"state"`

	// FetchedAt is when the count was last refreshed.
	FetchedAt time.Time `json:"fetched_at"`

	// Error is the warning of the most recent failed fetch, nil after a success.
	Error *string `json:"error"`
}

// Store defines storage and subscription for count records.
//
// Implementations must be safe for concurrent access.
type Store interface {
	// Update stores a record, replacing any previous record for the same
	// collection, and notifies subscribers.
	Update(record CountRecord)

	// Get returns the record for a collection.
	Get(collection string) (CountRecord, bool)

	// GetAll returns all records sorted by collection name.
	GetAll() []CountRecord

	// Subscribe returns a channel that receives every subsequent update.
	// Caller must call Unsubscribe when done.
	Subscribe() <-chan CountRecord

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan CountRecord)
}
