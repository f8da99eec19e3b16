// Package scheduler holds the Scheduler State: a pure, immutable value
// tracking which workers are currently running and how much capacity
// remains (CORE SPEC §4.C). It performs no I/O and uses no concurrency
// primitives; callers (the Leader Execution Loop) are responsible for
// guarding concurrent access to the value they hold.
package scheduler

import "github.com/taskforge/taskforge/internal/ids"

// State is `{runningWorkers: set<WorkerId>, maxWorkers: int}`. Every method
// returns a new State rather than mutating the receiver.
type State struct {
	maxWorkers     int
	runningWorkers map[ids.WorkerId]struct{}
}

// New returns an empty State with the given worker capacity.
func New(maxWorkers int) State {
	return State{maxWorkers: maxWorkers, runningWorkers: map[ids.WorkerId]struct{}{}}
}

// MaxWorkers returns the configured capacity.
func (s State) MaxWorkers() int {
	return s.maxWorkers
}

// RunningCount returns the number of workers currently tracked as running.
func (s State) RunningCount() int {
	return len(s.runningWorkers)
}

// AvailableSlots returns how many more workers can be started without
// exceeding maxWorkers. Never negative.
func (s State) AvailableSlots() int {
	free := s.maxWorkers - len(s.runningWorkers)
	if free < 0 {
		return 0
	}
	return free
}

// HasCapacity reports whether at least one more worker can be started.
func (s State) HasCapacity() bool {
	return s.AvailableSlots() > 0
}

// IsRunning reports whether id is currently tracked as running.
func (s State) IsRunning(id ids.WorkerId) bool {
	_, ok := s.runningWorkers[id]
	return ok
}

// Add returns a new State with id marked running. Adding an
// already-running id, or exceeding maxWorkers, is a caller error the
// Scheduler does not itself enforce (CORE SPEC §4.C: "higher layers guard
// access") — Add always succeeds at the value level.
func (s State) Add(id ids.WorkerId) State {
	next := s.clone()
	next.runningWorkers[id] = struct{}{}
	return next
}

// Remove returns a new State with id no longer tracked as running. Removing
// an id that isn't running is a no-op.
func (s State) Remove(id ids.WorkerId) State {
	next := s.clone()
	delete(next.runningWorkers, id)
	return next
}

// RunningWorkers returns the set of currently running worker ids.
func (s State) RunningWorkers() []ids.WorkerId {
	out := make([]ids.WorkerId, 0, len(s.runningWorkers))
	for id := range s.runningWorkers {
		out = append(out, id)
	}
	return out
}

func (s State) clone() State {
	next := State{maxWorkers: s.maxWorkers, runningWorkers: make(map[ids.WorkerId]struct{}, len(s.runningWorkers))}
	for id := range s.runningWorkers {
		next.runningWorkers[id] = struct{}{}
	}
	return next
}
