// Package txn implements the two-phase transaction coordinator (§4.H):
// the ACTIVE..COMMITTED/ROLLED_BACK state machine, pessimistic and
// optimistic prepare, the one-phase-commit eligibility check, a waits-for graph feeding
// deadlock detection, and the exponential-backoff timeout strategy
// shared by every retryable network-shaped call a transaction makes.
package txn

import "github.com/cuemby/gridcore/pkg/gridcore"

// State is one point in a transaction's lifecycle.
type State uint8

const (
	StateActive State = iota
	StatePreparing
	StatePrepared
	StateCommitting
	StateCommitted
	StateRollingBack
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StatePreparing:
		return "PREPARING"
	case StatePrepared:
		return "PREPARED"
	case StateCommitting:
		return "COMMITTING"
	case StateCommitted:
		return "COMMITTED"
	case StateRollingBack:
		return "ROLLING_BACK"
	case StateRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// legalTransitions mirrors the forward chain ACTIVE -> ... -> COMMITTED,
// plus ACTIVE/PREPARING/PREPARED -> ROLLING_BACK -> ROLLED_BACK. Every
// transition is also legal as a no-op from a state to itself, since
// §4.H requires every transition to be idempotent under retries.
var legalTransitions = map[State]map[State]bool{
	StateActive:      {StatePreparing: true, StateRollingBack: true},
	StatePreparing:   {StatePrepared: true, StateRollingBack: true},
	StatePrepared:    {StateCommitting: true, StateRollingBack: true},
	StateCommitting:  {StateCommitted: true},
	StateCommitted:   {},
	StateRollingBack: {StateRolledBack: true},
	StateRolledBack:  {},
}

// Originator, Primary, and Backup are the three roles a node can hold
// for a given transaction. No operation in this package checks a Role;
// the one-phase-commit invariant is checked by CanOnePhaseCommit.
type Role uint8

const (
	RoleOriginator Role = iota
	RolePrimary
	RoleBackup
)

// transitionTo validates and applies a state change, treating a
// same-state request as a no-op success (idempotent retries).
func transitionTo(current *State, xid string, to State) error {
	if *current == to {
		return nil
	}
	if allowed, ok := legalTransitions[*current]; !ok || !allowed[to] {
		return &gridcore.InternalError{Assertion: "txn " + xid + ": illegal transition " + current.String() + " -> " + to.String()}
	}
	*current = to
	return nil
}
