package leadpulse

import "time"

// PollState describes where a [Poller] is in its fetch lifecycle.
type PollState string

const (
	// StateIdle means nothing has been fetched and no fetch is in flight.
	StateIdle PollState = "idle"

	// StateLoading means the first fetch is in flight and no value exists yet.
	StateLoading PollState = "loading"

	// StateReady means the cached count is inside the freshness window.
	StateReady PollState = "ready"

	// StateStale means the freshness window has elapsed. The last known count
	// is still served while a refresh is pending.
	StateStale PollState = "stale"
)

// String returns the string representation of the state.
func (s PollState) String() string {
	return string(s)
}

// Snapshot is an immutable read of a [Poller]'s cached count.
type Snapshot struct {
	// Collection is the CRM collection the count belongs to.
	Collection string

	// Count is the total from the last completed fetch. Failed fetches
	// resolve to zero.
	Count int

	// Badge is the display text for Count; empty when HasBadge is false.
	Badge string

	// HasBadge is false when Count is zero and no badge should be shown.
	HasBadge bool

	// State is the poll state at the time of the read.
	State PollState

	// FetchedAt is when the last fetch completed. Zero before the first fetch.
	FetchedAt time.Time

	// Fetching reports whether a fetch is in flight.
	Fetching bool

	// LastError is the failure behind the most recent fetch, nil after a
	// success. A zero Count with a non-nil LastError means the count is
	// unknown rather than empty.
	LastError error
}

// Age returns how long ago the count was fetched, relative to now.
// Zero if nothing has been fetched yet.
func (s Snapshot) Age(now time.Time) time.Duration {
	if s.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(s.FetchedAt)
}
