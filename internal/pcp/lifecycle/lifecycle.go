// Package lifecycle implements the per-mapping state machine: the
// (desired, effective, cleanup_queue) triple that guarantees no
// orphaned mapping is ever left on the gateway, even when a caller
// redefines a mapping before the previous variant is acknowledged by
// the server.
package lifecycle

import "github.com/pcpforward/controller/internal/pcp/mapping"

// UpdateOutcome reports what UpdateDesired did to reach the new state.
type UpdateOutcome int

const (
	// UpdateInPlace means the new desired value replaced the old one
	// without disturbing the cleanup queue: either there was no prior
	// desired value, or the new one has the same identity (mapping.Id).
	UpdateInPlace UpdateOutcome = iota
	// UpdateRecreated means the prior desired value had a different
	// identity (any field of mapping.Id, the nonce included) and was
	// moved onto the cleanup queue with its lifetime forced to zero.
	UpdateRecreated
)

// RemoveOutcome reports what RemoveDesired did.
type RemoveOutcome int

const (
	// RemoveRemoved means a desired value existed and was moved onto the
	// cleanup queue.
	RemoveRemoved RemoveOutcome = iota
	// RemoveWasAbsent means there was no desired value to remove.
	RemoveWasAbsent
)

// State is one mapping's desired intent, last known server outcome,
// and queue of superseded variants still awaiting confirmed deletion.
//
// Invariants:
//  1. every entry in CleanupQueue has Params.Lifetime == 0.
//  2. if Desired is nil and CleanupQueue is empty, Effective is nil.
//  3. at most one Desired at any instant.
type State struct {
	Desired      *mapping.Desired
	Effective    *mapping.Incoming
	CleanupQueue []mapping.Desired
}

// New starts a fresh state with the given desired mapping and nothing
// else.
func New(desired mapping.Desired) *State {
	return &State{Desired: &desired}
}

// UpdateDesired installs new as the desired mapping. If a prior desired
// value had a different identity than new, it is queued
// for cleanup (lifetime forced to zero) rather than silently discarded,
// so the server is explicitly asked to tear it down.
func (s *State) UpdateDesired(new mapping.Desired) UpdateOutcome {
	if s.Desired == nil {
		s.Desired = &new
		return UpdateInPlace
	}

	old := *s.Desired
	s.Desired = &new
	if old.Id == new.Id {
		return UpdateInPlace
	}

	s.CleanupQueue = append(s.CleanupQueue, old.AsCleanup())
	return UpdateRecreated
}

// RemoveDesired clears the desired mapping, queuing it for cleanup if
// one was present.
func (s *State) RemoveDesired() RemoveOutcome {
	if s.Desired == nil {
		return RemoveWasAbsent
	}

	s.CleanupQueue = append(s.CleanupQueue, s.Desired.AsCleanup())
	s.Desired = nil
	return RemoveRemoved
}

// HandleServerNotification folds a decoded reply into this state: it
// drains confirmed cleanups from the queue, records the reply as the
// new effective mapping when it answers the current desired value, and
// clears Effective once nothing references this exposed resource
// anymore.
func (s *State) HandleServerNotification(in mapping.Incoming) {
	if in.IsCleanup() {
		remaining := s.CleanupQueue[:0]
		for _, entry := range s.CleanupQueue {
			if entry.Id.ExposedResource() != in.Resource {
				remaining = append(remaining, entry)
			}
		}
		s.CleanupQueue = remaining
	}

	if s.Desired != nil && s.Desired.Id.ExposedResource() == in.Resource {
		effective := in
		s.Effective = &effective
	}

	if len(s.CleanupQueue) == 0 && s.Desired == nil {
		s.Effective = nil
	}
}

// PendingActions returns the renew candidate (if any) and the slice of
// entries still awaiting confirmed cleanup, for the engine's
// reconciliation pass to turn into outbound MAP requests.
func (s *State) PendingActions() (renew *mapping.Desired, cleanup []mapping.Desired) {
	return s.Desired, s.CleanupQueue
}

// IsGarbage reports whether this state has nothing left to track and
// can be dropped from the mapping table.
func (s *State) IsGarbage() bool {
	return s.Desired == nil && len(s.CleanupQueue) == 0
}
