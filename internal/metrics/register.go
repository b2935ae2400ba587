// Package metrics holds the process-wide ingestion counters.
//
// The register is constructed once at startup, passed explicitly to the
// components that need it, read on demand, and never persisted; restarting the
// process resets every counter to zero.
package metrics

import "sync/atomic"

// Tally is the four-way outcome count for one batch.
// Invariant: Received == Accepted + Rejected + Deduped.
type Tally struct {
	Received uint64 `json:"received"`
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Deduped  uint64 `json:"deduped"`
}

// Register accumulates batch tallies for the life of the process.
// Counters only grow; there is no reset operation.
type Register struct {
	received atomic.Uint64
	accepted atomic.Uint64
	rejected atomic.Uint64
	deduped  atomic.Uint64
}

func NewRegister() *Register {
	return &Register{}
}

// Add merges one batch tally into the shared counters: a single atomic add per
// counter, not per event. Callers must only invoke Add after the batch
// transaction has committed, so the counters never report writes that could
// still be rolled back.
func (r *Register) Add(t Tally) {
	r.received.Add(t.Received)
	r.accepted.Add(t.Accepted)
	r.rejected.Add(t.Rejected)
	r.deduped.Add(t.Deduped)
}

// Snapshot returns the current counter values.
func (r *Register) Snapshot() Tally {
	return Tally{
		Received: r.received.Load(),
		Accepted: r.accepted.Load(),
		Rejected: r.rejected.Load(),
		Deduped:  r.deduped.Load(),
	}
}
