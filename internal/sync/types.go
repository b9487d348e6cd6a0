// Package sync coordinates the push/pull cycle between the local database
// and the inventory server: draining the outbox, applying the remote delta
// feed, and advancing the sync cursor.
package sync

import "time"

// CycleResult summarizes one sync cycle.
type CycleResult struct {
	Started   time.Time
	Completed time.Time

	// Coalesced means a cycle was already running; this request did nothing.
	Coalesced bool
	// Offline means the server was unreachable; the cycle was a no-op.
	Offline bool
	// Unauthenticated means the session expired mid-cycle; sign-in required.
	Unauthenticated bool

	Pushed       int // outbox entries confirmed by the server
	PushFailed   int // entries that failed transiently and will retry
	DeadLettered int // entries removed from automatic retry this cycle
	Dropped      int // local mutations discarded under conflict policy

	Pulled   int // delta records received
	Applied  int // delta records applied locally
	Deferred int // delta records held back behind pending local edits

	Err error
}

// Clean reports whether the cycle finished without leftovers: nothing failed,
// nothing deferred, and the session is intact.
func (r CycleResult) Clean() bool {
	return r.Err == nil && !r.Offline && !r.Unauthenticated &&
		r.PushFailed == 0 && r.Deferred == 0
}
