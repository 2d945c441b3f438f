// Package health implements the soft/hard availability state machine.
//
// The model follows the usual monitoring convention (Nagios, Icinga,
// Uptime Kuma): a single failed check moves a node into the Degraded soft
// state, and only a run of consecutive failures reaching the node's max
// check attempts confirms it Offline. Recovery is asymmetric on purpose —
// the first successful check returns the node to Online immediately,
// whatever state it was in.
package health

import (
	"time"

	"github.com/casey/netmon/internal/domain"
)

// State is the runtime availability state folded over a node's outcomes.
type State struct {
	Status              domain.NodeStatus
	ConsecutiveFailures int
	// LastChange is when Status last transitioned; zero until the first
	// transition is observed.
	LastChange time.Time
}

// NewState is the optimistic initial state for a freshly monitored node.
// The first real check establishes ground truth.
func NewState() State {
	return State{Status: domain.StatusOnline}
}

// Evaluate returns the next state for a check outcome. It is a pure
// function of (state, success, threshold); threshold below 1 is treated
// as 1, in which case the first failure confirms Offline directly.
func Evaluate(s State, success bool, threshold int) State {
	if threshold < 1 {
		threshold = 1
	}
	if success {
		s.ConsecutiveFailures = 0
		s.Status = domain.StatusOnline
		return s
	}
	if s.ConsecutiveFailures < threshold {
		s.ConsecutiveFailures++
	}
	if s.ConsecutiveFailures >= threshold {
		s.Status = domain.StatusOffline
	} else {
		s.Status = domain.StatusDegraded
	}
	return s
}

// Apply folds an outcome into the state and, when the status label actually
// changes, returns the StatusChange event to record. Degraded→Degraded with
// a higher counter is not a transition.
func Apply(s State, success bool, threshold int, nodeID int64, now time.Time) (State, *domain.StatusChange) {
	next := Evaluate(s, success, threshold)
	if next.Status == s.Status {
		next.LastChange = s.LastChange
		return next, nil
	}

	var durationMS *int64
	if !s.LastChange.IsZero() {
		d := now.Sub(s.LastChange).Milliseconds()
		durationMS = &d
	}
	next.LastChange = now
	return next, &domain.StatusChange{
		NodeID:     nodeID,
		FromStatus: s.Status,
		ToStatus:   next.Status,
		ChangedAt:  now,
		DurationMS: durationMS,
	}
}
