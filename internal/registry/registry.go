// Package registry implements the component lifecycle registry: a single
// in-process authority tracking which components exist, which process
// instance currently owns each component id, what state every component is
// in, and whether it is still proving liveness through heartbeats.
package registry

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vigil-dev/vigil/internal/flags"
	"github.com/vigil-dev/vigil/internal/log"
	"github.com/vigil-dev/vigil/internal/pubsub"
	"github.com/vigil-dev/vigil/internal/tracing"
)

// RegistrationResult reports the outcome of a register call.
type RegistrationResult struct {
	ComponentID ComponentID
	InstanceID  InstanceID
	State       ComponentState
}

// DeregisterResult reports the outcome of a deregister call.
type DeregisterResult struct {
	OK      bool
	Message string
}

// Registry is the main entry point for component lifecycle management. It
// coordinates the store, heartbeat processor, and health monitor behind a
// single API and runs every post-commit side effect (snapshot persistence,
// transition history, event publishing) outside the store lock.
type Registry interface {
	// Register creates a registration for the descriptor in Starting state
	// with a fresh instance uuid. Re-registering an existing component id
	// replaces the prior entry entirely; the superseded instance's
	// heartbeats are rejected from that point on.
	Register(d Descriptor) (RegistrationResult, error)

	// Heartbeat processes one liveness report. See HeartbeatProcessor.
	Heartbeat(req HeartbeatRequest) (HeartbeatResult, error)

	// Deregister retires a component through stopping → stopped and removes
	// it. The caller must present the current instance uuid; a superseded
	// process cannot deregister its successor. A component already in a
	// terminal state is removed directly.
	Deregister(id ComponentID, instance InstanceID) (DeregisterResult, error)

	// GetComponent returns a copy of the registration, or
	// UnknownComponentError if the id is not registered.
	GetComponent(id ComponentID) (Registration, error)

	// ListComponents returns copies of all registrations, newest first.
	ListComponents() []Registration

	// RunMonitorSweep runs one on-demand monitor pass with the given
	// staleness timeout.
	RunMonitorSweep(timeout time.Duration) SweepResult

	// SubscribeEvents returns a channel of registry events. The channel
	// closes when ctx is cancelled or the registry shuts down. Publishing
	// never blocks; a slow subscriber misses events.
	SubscribeEvents(ctx context.Context) (<-chan Event, error)

	// Export returns a deep copy of the full store, for the summary
	// provider and status tooling.
	Export() Snapshot

	// DurabilityDegraded reports whether the last snapshot write failed.
	// The in-memory store stays authoritative; this is surfaced so
	// operators notice the registry is running without durability.
	DurabilityDegraded() bool

	// Monitor returns the owned health monitor so the composition root can
	// start its sweep loop.
	Monitor() *HealthMonitor

	// Shutdown stops the monitor, writes a final snapshot, and closes the
	// event bus and history recorder. Idempotent. The context bounds the
	// final snapshot write.
	Shutdown(ctx context.Context) error
}

// Config configures the Registry.
type Config struct {
	// Store holds registrations. Defaults to a fresh in-memory store.
	Store Store

	// Clock provides time operations. Defaults to RealClock.
	Clock Clock

	// Policy governs the health monitor. A zero value selects
	// DefaultHealthPolicy().
	Policy HealthPolicy

	// CheckInterval is the monitor's sweep period. Defaults to
	// DefaultCheckInterval.
	CheckInterval time.Duration

	// Snapshotter persists the store after every mutating operation and
	// seeds it at construction. Nil disables durability.
	Snapshotter Snapshotter

	// Recorder receives applied transitions post-commit. Nil disables
	// history. If the recorder implements io.Closer it is closed on
	// Shutdown.
	Recorder TransitionRecorder

	// Tracer records spans for facade operations. Defaults to a no-op
	// tracer.
	Tracer trace.Tracer

	// Flags gates optional behavior (per-heartbeat tracing). Nil-safe.
	Flags *flags.Registry
}

// defaultRegistry is the default implementation of Registry.
type defaultRegistry struct {
	store       Store
	clock       Clock
	processor   *HeartbeatProcessor
	monitor     *HealthMonitor
	snapshotter Snapshotter
	recorder    TransitionRecorder
	bus         *pubsub.Broker[Event]
	tracer      trace.Tracer
	flags       *flags.Registry

	// opMu serializes the compound mutating operations (register,
	// deregister) whose read-then-write spans more than one store call.
	// Heartbeats and sweeps are single store updates and need only the
	// store's own lock.
	opMu sync.Mutex

	closed             atomic.Bool
	durabilityDegraded atomic.Bool
}

// NewRegistry creates a Registry from the given configuration, seeding the
// store from the persisted snapshot when durability is configured. A
// corrupt snapshot logs a warning and starts empty rather than failing.
func NewRegistry(cfg Config) (Registry, error) {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}
	policy := cfg.Policy
	if policy == (HealthPolicy{}) {
		policy = DefaultHealthPolicy()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}

	r := &defaultRegistry{
		store:       store,
		clock:       clock,
		snapshotter: cfg.Snapshotter,
		recorder:    cfg.Recorder,
		bus:         pubsub.NewBroker[Event](),
		tracer:      tracer,
		flags:       cfg.Flags,
	}
	r.processor = NewHeartbeatProcessor(store, clock)

	monitor, err := NewHealthMonitor(HealthMonitorConfig{
		Store:         store,
		Policy:        policy,
		CheckInterval: cfg.CheckInterval,
		Clock:         clock,
		OnSweep:       r.afterSweep,
		Tracer:        tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("building health monitor: %w", err)
	}
	r.monitor = monitor

	if cfg.Snapshotter != nil {
		r.restore()
	}

	return r, nil
}

// restore seeds the store from the persisted snapshot.
func (r *defaultRegistry) restore() {
	snap, err := r.snapshotter.Load()
	if err != nil {
		// The in-memory store starts empty and stays authoritative.
		log.ErrorErr(log.CatSnapshot, "snapshot load failed, starting empty", err)
		r.durabilityDegraded.Store(true)
		r.publishSnapshotFailure("load", err)
		return
	}
	if snap.IsEmpty() {
		return
	}

	restored := 0
	for i := range snap.Components {
		reg := snap.Components[i]
		inst, ok := snap.Instances[reg.ComponentID]
		if !ok {
			log.Warn(log.CatSnapshot, "snapshot entry missing instance runtime, skipped",
				"component", reg.ComponentID)
			continue
		}
		if err := r.store.Put(&reg, &inst); err != nil {
			log.Warn(log.CatSnapshot, "snapshot entry rejected", "component", reg.ComponentID, "error", err)
			continue
		}
		restored++
	}
	log.Info(log.CatSnapshot, "store restored from snapshot", "components", restored)
}

// Register creates or replaces a registration.
func (r *defaultRegistry) Register(d Descriptor) (RegistrationResult, error) {
	if r.closed.Load() {
		return RegistrationResult{}, fmt.Errorf("registry is shut down")
	}

	_, span := r.tracer.Start(context.Background(), tracing.SpanRegister,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrComponentID, d.ComponentID.String()))

	now := r.clock.Now()
	reg, inst, err := NewRegistration(&d, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RegistrationResult{}, err
	}

	result := RegistrationResult{
		ComponentID: reg.ComponentID,
		InstanceID:  reg.InstanceID,
		State:       reg.State,
	}
	ev := NewEvent(EventComponentRegistered, now).WithComponent(reg)
	tr := Transition{
		ComponentID: reg.ComponentID,
		InstanceID:  reg.InstanceID,
		To:          StateStarting,
		Reason:      "registered",
		At:          now,
	}

	r.opMu.Lock()
	prior, _, replaced := r.store.Get(reg.ComponentID)
	if replaced {
		tr.From = prior.State
		tr.Reason = "re-registered"
	}
	if err := r.store.Swap(reg, inst); err != nil {
		r.opMu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RegistrationResult{}, err
	}
	r.opMu.Unlock()

	ev.Reason = tr.Reason
	r.commit([]Transition{tr}, []Event{ev})

	log.Info(log.CatRegistry, "component registered",
		"component", result.ComponentID, "instance", result.InstanceID, "replaced", replaced)
	span.SetAttributes(attribute.String(tracing.AttrInstanceID, result.InstanceID.String()))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// Heartbeat processes one liveness report and runs post-commit effects.
func (r *defaultRegistry) Heartbeat(req HeartbeatRequest) (HeartbeatResult, error) {
	if r.closed.Load() {
		return HeartbeatResult{}, fmt.Errorf("registry is shut down")
	}

	var span trace.Span
	if r.flags.Enabled(flags.FlagHeartbeatTracing) {
		_, span = r.tracer.Start(context.Background(), tracing.SpanHeartbeat,
			trace.WithSpanKind(trace.SpanKindInternal))
		defer span.End()
		span.SetAttributes(
			attribute.String(tracing.AttrComponentID, req.ComponentID.String()),
			attribute.Int64(tracing.AttrSequence, req.Sequence),
		)
	}

	result, err := r.processor.Process(req)
	if span != nil {
		span.SetAttributes(attribute.Bool(tracing.AttrAccepted, result.Accepted))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if err != nil {
		// Rejected outright, or accepted with a rejected state change.
		// Either way subscribers hear about the rejection.
		ev := NewEvent(EventHeartbeatRejected, r.clock.Now())
		ev.ComponentID = req.ComponentID
		ev.InstanceID = req.InstanceID
		ev.Reason = err.Error()
		ev.Payload = HeartbeatRejectedPayload{Sequence: req.Sequence, Cause: err.Error()}

		if !result.Accepted {
			// Store unchanged: publish only, nothing to persist.
			r.bus.Publish(pubsubType(ev.Type), ev)
			return result, err
		}
		r.commit(nil, []Event{ev})
		return result, err
	}

	var (
		transitions []Transition
		events      []Event
	)
	if result.Transition != nil {
		transitions = append(transitions, *result.Transition)
		events = r.eventsFor(*result.Transition)
	}
	r.commit(transitions, events)
	return result, nil
}

// Deregister retires a component and removes its registration.
func (r *defaultRegistry) Deregister(id ComponentID, instance InstanceID) (DeregisterResult, error) {
	if r.closed.Load() {
		return DeregisterResult{}, fmt.Errorf("registry is shut down")
	}

	_, span := r.tracer.Start(context.Background(), tracing.SpanDeregister,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrComponentID, id.String()))

	now := r.clock.Now()

	var (
		transitions []Transition
		finalState  ComponentState
	)
	r.opMu.Lock()
	err := r.store.Update(id, func(reg *Registration, inst *Instance) error {
		if reg.InstanceID != instance {
			return &InstanceMismatchError{ComponentID: id, Presented: instance, Current: reg.InstanceID}
		}
		if reg.State.IsTerminal() {
			// Operator cleanup of a dead entry: remove directly, no
			// stopping transition.
			finalState = reg.State
			return nil
		}

		if reg.State != StateStopping {
			from := reg.State
			if err := reg.TransitionTo(StateStopping, "deregistration requested", nil, now); err != nil {
				return err
			}
			inst.RecordTransition(StateStopping, "deregistration requested", now)
			transitions = append(transitions, Transition{
				ComponentID: id, InstanceID: instance,
				From: from, To: StateStopping,
				Reason: "deregistration requested", At: now,
			})
		}
		if err := reg.TransitionTo(StateStopped, "deregistered", nil, now); err != nil {
			return err
		}
		inst.RecordTransition(StateStopped, "deregistered", now)
		transitions = append(transitions, Transition{
			ComponentID: id, InstanceID: instance,
			From: StateStopping, To: StateStopped,
			Reason: "deregistered", At: now,
		})
		finalState = StateStopped
		return nil
	})
	if err != nil {
		r.opMu.Unlock()
		log.Warn(log.CatRegistry, "deregister rejected", "component", id, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return DeregisterResult{OK: false, Message: err.Error()}, err
	}
	if err := r.store.Remove(id); err != nil {
		r.opMu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return DeregisterResult{OK: false, Message: err.Error()}, err
	}
	r.opMu.Unlock()

	ev := NewEvent(EventComponentDeregistered, now).WithReason("deregistered")
	ev.ComponentID = id
	ev.InstanceID = instance
	ev.State = finalState

	events := make([]Event, 0, len(transitions)+1)
	for _, tr := range transitions {
		events = append(events, r.eventsFor(tr)...)
	}
	events = append(events, ev)
	r.commit(transitions, events)

	log.Info(log.CatRegistry, "component deregistered", "component", id, "final_state", finalState)
	span.SetStatus(codes.Ok, "")
	return DeregisterResult{OK: true, Message: "deregistered"}, nil
}

// GetComponent returns a copy of the registration for the id.
func (r *defaultRegistry) GetComponent(id ComponentID) (Registration, error) {
	reg, _, ok := r.store.Get(id)
	if !ok {
		return Registration{}, &UnknownComponentError{ComponentID: id}
	}
	return reg, nil
}

// ListComponents returns copies of all registrations, newest first.
func (r *defaultRegistry) ListComponents() []Registration {
	return r.store.List(Query{})
}

// RunMonitorSweep runs one on-demand monitor pass.
func (r *defaultRegistry) RunMonitorSweep(timeout time.Duration) SweepResult {
	if r.closed.Load() {
		return SweepResult{}
	}
	return r.monitor.Sweep(timeout)
}

// SubscribeEvents returns a channel of registry events.
func (r *defaultRegistry) SubscribeEvents(ctx context.Context) (<-chan Event, error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("registry is shut down")
	}

	src := r.bus.Subscribe(ctx)
	out := make(chan Event, cap(src))
	log.SafeGo("event-forward", func() {
		defer close(out)
		for ev := range src {
			out <- ev.Payload
		}
	})
	return out, nil
}

// Export returns a deep copy of the full store.
func (r *defaultRegistry) Export() Snapshot {
	return r.store.Export()
}

// DurabilityDegraded reports whether the last snapshot write failed.
func (r *defaultRegistry) DurabilityDegraded() bool {
	return r.durabilityDegraded.Load()
}

// Monitor returns the owned health monitor.
func (r *defaultRegistry) Monitor() *HealthMonitor {
	return r.monitor
}

// Shutdown stops the monitor, persists a final snapshot, and closes the
// event bus and history recorder.
func (r *defaultRegistry) Shutdown(ctx context.Context) error {
	if r.closed.Swap(true) {
		return nil
	}
	log.Info(log.CatRegistry, "registry shutting down")

	r.monitor.Stop()

	var err error
	if r.snapshotter != nil {
		done := make(chan error, 1)
		snap := r.store.Export()
		log.SafeGo("final-snapshot", func() {
			done <- r.snapshotter.Save(snap)
		})
		select {
		case saveErr := <-done:
			if saveErr != nil {
				err = &PersistenceFailureError{Op: "save", Err: saveErr}
				log.ErrorErr(log.CatSnapshot, "final snapshot failed", saveErr)
			}
		case <-ctx.Done():
			err = fmt.Errorf("final snapshot: %w", ctx.Err())
		}
	}

	r.bus.Close()

	if closer, ok := r.recorder.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			log.ErrorErr(log.CatHistory, "closing history recorder", cerr)
			if err == nil {
				err = fmt.Errorf("closing history recorder: %w", cerr)
			}
		}
	}

	log.Info(log.CatRegistry, "registry shut down")
	return err
}

// afterSweep is the monitor's post-commit hook.
func (r *defaultRegistry) afterSweep(_ SweepResult, transitions []Transition) {
	var events []Event
	for _, tr := range transitions {
		events = append(events, r.eventsFor(tr)...)
	}
	r.commit(transitions, events)
}

// commit runs the post-commit pipeline for one mutating operation: snapshot
// persistence, history rows, then event publishes — all outside the store
// lock so slow disk never stalls heartbeat acceptance.
func (r *defaultRegistry) commit(transitions []Transition, events []Event) {
	r.persist()

	if r.recorder != nil {
		for _, tr := range transitions {
			r.recorder.Record(tr)
		}
	}

	for _, ev := range events {
		r.bus.Publish(pubsubType(ev.Type), ev)
	}
}

// persist saves the current store through the snapshotter, tracking
// durability degradation across failures.
func (r *defaultRegistry) persist() {
	if r.snapshotter == nil {
		return
	}

	snap := r.store.Export()
	if err := r.snapshotter.Save(snap); err != nil {
		first := !r.durabilityDegraded.Swap(true)
		log.ErrorErr(log.CatSnapshot, "snapshot save failed", err, "first_failure", first)
		r.publishSnapshotFailure("save", err)
		return
	}
	if r.durabilityDegraded.Swap(false) {
		log.Info(log.CatSnapshot, "durability restored")
	}
}

// publishSnapshotFailure emits the snapshot.failed event.
func (r *defaultRegistry) publishSnapshotFailure(op string, err error) {
	ev := NewEvent(EventSnapshotFailed, r.clock.Now()).WithReason(err.Error())
	ev.Payload = SnapshotFailedPayload{Op: op, Error: err.Error()}
	r.bus.Publish(pubsubType(ev.Type), ev)
}

// eventsFor expands one applied transition into its event envelopes: a
// state_changed event always, plus the specialized health event when the
// edge maps to one.
func (r *defaultRegistry) eventsFor(tr Transition) []Event {
	base := Event{
		Type:        EventComponentStateChanged,
		Timestamp:   tr.At,
		ComponentID: tr.ComponentID,
		InstanceID:  tr.InstanceID,
		State:       tr.To,
		Reason:      tr.Reason,
		Payload:     StateChangedPayload{From: tr.From, To: tr.To},
	}
	events := []Event{base}

	var specialized EventType
	switch {
	case tr.To == StateDegraded:
		specialized = EventComponentDegraded
	case tr.To == StateFailed:
		specialized = EventComponentFailed
	case tr.From == StateDegraded && tr.To == StateActive:
		specialized = EventComponentRecovered
	}
	if specialized != "" {
		ev := base
		ev.Type = specialized
		events = append(events, ev)
	}
	return events
}

// pubsubType maps a registry event to the broker's envelope classification.
func pubsubType(t EventType) pubsub.EventType {
	switch t {
	case EventComponentRegistered:
		return pubsub.CreatedEvent
	case EventComponentDeregistered:
		return pubsub.DeletedEvent
	default:
		return pubsub.UpdatedEvent
	}
}
