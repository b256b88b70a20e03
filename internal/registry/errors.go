package registry

import (
	"errors"
	"fmt"
)

// ===========================================================================
// Sentinel Errors
// ===========================================================================

// ErrUnknownComponent is returned when an operation references a component
// id that was never registered (or has been deregistered).
var ErrUnknownComponent = errors.New("unknown component")

// ErrInstanceMismatch is returned when a caller presents an instance uuid
// that no longer matches the registration's current instance.
var ErrInstanceMismatch = errors.New("instance uuid mismatch")

// ErrStaleSequence is returned when a heartbeat arrives with a sequence
// number at or below the last accepted value for the current instance.
var ErrStaleSequence = errors.New("stale heartbeat sequence")

// ErrIllegalTransition is returned when a requested state change has no
// edge in the transition table.
var ErrIllegalTransition = errors.New("illegal state transition")

// ErrPersistenceFailure is returned when a snapshot write or read fails.
// The in-memory store remains authoritative; callers log and continue.
var ErrPersistenceFailure = errors.New("persistence failure")

// ===========================================================================
// Typed Errors
// ===========================================================================

// UnknownComponentError reports an operation against an unregistered id.
type UnknownComponentError struct {
	ComponentID ComponentID
}

func (e *UnknownComponentError) Error() string {
	return fmt.Sprintf("unknown component %q", e.ComponentID)
}

// Is makes errors.Is(err, ErrUnknownComponent) match.
func (e *UnknownComponentError) Is(target error) bool {
	return target == ErrUnknownComponent
}

// InstanceMismatchError reports a caller holding a superseded instance uuid.
// A superseded process must stop sending; its registration now belongs to a
// newer instance.
type InstanceMismatchError struct {
	ComponentID ComponentID
	Presented   InstanceID
	Current     InstanceID
}

func (e *InstanceMismatchError) Error() string {
	return fmt.Sprintf("component %q: instance %s does not match current instance %s",
		e.ComponentID, e.Presented, e.Current)
}

// Is makes errors.Is(err, ErrInstanceMismatch) match.
func (e *InstanceMismatchError) Is(target error) bool {
	return target == ErrInstanceMismatch
}

// StaleSequenceError reports an out-of-order or duplicate heartbeat. These
// are dropped and logged at debug, never escalated.
type StaleSequenceError struct {
	ComponentID ComponentID
	Sequence    int64
	Last        int64
}

func (e *StaleSequenceError) Error() string {
	return fmt.Sprintf("component %q: heartbeat sequence %d is not greater than last accepted %d",
		e.ComponentID, e.Sequence, e.Last)
}

// Is makes errors.Is(err, ErrStaleSequence) match.
func (e *StaleSequenceError) Is(target error) bool {
	return target == ErrStaleSequence
}

// IllegalTransitionError reports a state change with no edge in the
// transition table. The prior state is retained.
type IllegalTransitionError struct {
	ComponentID ComponentID
	From        ComponentState
	To          ComponentState
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("component %q: illegal transition from %s to %s",
		e.ComponentID, e.From, e.To)
}

// Is makes errors.Is(err, ErrIllegalTransition) match.
func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// PersistenceFailureError wraps a snapshot load/save error. Operations
// continue in degraded-durability mode until a save succeeds.
type PersistenceFailureError struct {
	Op  string // "load" or "save"
	Err error
}

func (e *PersistenceFailureError) Error() string {
	return fmt.Sprintf("snapshot %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceFailureError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrPersistenceFailure) match.
func (e *PersistenceFailureError) Is(target error) bool {
	return target == ErrPersistenceFailure
}
