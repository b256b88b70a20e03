package registry

import (
	"fmt"

	"github.com/vigil-dev/vigil/internal/log"
)

// HeartbeatRequest carries one liveness report from a component instance.
type HeartbeatRequest struct {
	ComponentID ComponentID
	InstanceID  InstanceID

	// Sequence must be strictly greater than the last accepted value for
	// this instance. Out-of-order and duplicate deliveries are dropped.
	Sequence int64

	// State optionally requests an explicit transition: self-reported
	// degraded before the monitor notices, or a confirmed return to
	// active. Empty leaves the state unchanged.
	State ComponentState

	// HealthMetrics and Metadata merge into the stored maps when supplied.
	HealthMetrics HealthMetrics
	Metadata      Metadata

	// Reason and Details annotate an explicit transition.
	Reason  string
	Details Metadata
}

// HeartbeatResult reports the outcome of processing one heartbeat.
type HeartbeatResult struct {
	Accepted bool
	Message  string

	// Transition carries the state change applied by this heartbeat.
	// Nil when the state did not change.
	Transition *Transition
}

// HeartbeatProcessor validates and applies liveness reports against the
// store. All validation and mutation for one heartbeat runs inside a single
// store update, so concurrent heartbeats for the same component serialize
// cleanly and a rejected heartbeat never leaves partial writes behind.
type HeartbeatProcessor struct {
	store Store
	clock Clock
}

// NewHeartbeatProcessor creates a processor bound to the given store.
// A nil clock defaults to the real clock.
func NewHeartbeatProcessor(store Store, clock Clock) *HeartbeatProcessor {
	if clock == nil {
		clock = RealClock{}
	}
	return &HeartbeatProcessor{store: store, clock: clock}
}

// Process applies one heartbeat.
//
// Rejections: UnknownComponentError when the id was never registered,
// InstanceMismatchError when the caller's instance has been superseded,
// StaleSequenceError when the sequence is not strictly increasing. None of
// these mutate the store.
//
// An explicit state equal to the current state is a no-op, not an error.
// An illegal explicit transition returns IllegalTransitionError while the
// runtime update (last_heartbeat, sequence, metrics) stands: the component
// proved liveness even though its state request was rejected.
//
// An explicit legal degraded → active transition is a confirmed recovery
// and resets the recovery attempt counter.
func (p *HeartbeatProcessor) Process(req HeartbeatRequest) (HeartbeatResult, error) {
	now := p.clock.Now()

	var (
		transition    *Transition
		transitionErr error
	)

	err := p.store.Update(req.ComponentID, func(reg *Registration, inst *Instance) error {
		if reg.InstanceID != req.InstanceID {
			return &InstanceMismatchError{
				ComponentID: req.ComponentID,
				Presented:   req.InstanceID,
				Current:     reg.InstanceID,
			}
		}
		if req.Sequence <= inst.Sequence {
			return &StaleSequenceError{
				ComponentID: req.ComponentID,
				Sequence:    req.Sequence,
				Last:        inst.Sequence,
			}
		}

		inst.RecordHeartbeat(req.Sequence, req.HealthMetrics, now)
		if len(req.Metadata) > 0 {
			if reg.Metadata == nil {
				reg.Metadata = Metadata{}
			}
			reg.Metadata.Merge(req.Metadata)
		}

		if req.State == "" || req.State == reg.State {
			return nil
		}

		from := reg.State
		reason := req.Reason
		if reason == "" {
			reason = fmt.Sprintf("reported %s", req.State)
		}

		if terr := reg.TransitionTo(req.State, reason, req.Details, now); terr != nil {
			// Runtime update stays applied: liveness was proven.
			transitionErr = terr
			return nil
		}
		inst.RecordTransition(req.State, reason, now)

		if from == StateDegraded && req.State == StateActive {
			reg.RecoveryAttempts = 0
		}

		transition = &Transition{
			ComponentID: reg.ComponentID,
			InstanceID:  reg.InstanceID,
			From:        from,
			To:          req.State,
			Reason:      reason,
			Detail:      req.Details.Clone(),
			At:          now,
		}
		return nil
	})
	if err != nil {
		log.Debug(log.CatHeartbeat, "heartbeat dropped",
			"component", req.ComponentID, "seq", req.Sequence, "error", err)
		return HeartbeatResult{Accepted: false, Message: err.Error()}, err
	}

	if transitionErr != nil {
		log.Warn(log.CatHeartbeat, "state change rejected",
			"component", req.ComponentID, "requested", req.State, "error", transitionErr)
		return HeartbeatResult{
			Accepted: true,
			Message:  fmt.Sprintf("heartbeat recorded; %v", transitionErr),
		}, transitionErr
	}

	if transition != nil {
		log.Info(log.CatHeartbeat, "heartbeat applied state change",
			"component", req.ComponentID, "from", transition.From, "to", transition.To)
	} else {
		log.Debug(log.CatHeartbeat, "heartbeat accepted",
			"component", req.ComponentID, "seq", req.Sequence)
	}

	return HeartbeatResult{
		Accepted:   true,
		Message:    "heartbeat accepted",
		Transition: transition,
	}, nil
}
