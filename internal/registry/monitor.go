package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vigil-dev/vigil/internal/log"
	"github.com/vigil-dev/vigil/internal/tracing"
)

// Transition reasons written by the monitor. They surface in component
// metadata, history rows, and events, so they are stable strings.
const (
	ReasonMissedHeartbeats  = "missed heartbeats"
	ReasonPersistentFailure = "persistent heartbeat failure"
	ReasonHeartbeatResumed  = "heartbeat resumed"
	ReasonRecoveryLimit     = "recovery limit exceeded"
)

// DefaultCheckInterval is the default period between automatic sweeps.
// One third of the default heartbeat timeout, so a component gets two
// chances to be observed before the first strike.
const DefaultCheckInterval = 30 * time.Second

// DefaultHeartbeatTimeout is the default staleness cutoff.
const DefaultHeartbeatTimeout = 90 * time.Second

// DefaultMaxRecoveryAttempts is the default automatic recovery bound.
const DefaultMaxRecoveryAttempts = 3

// DefaultHealthPolicy returns the policy used when none is configured.
func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{
		HeartbeatTimeout:    DefaultHeartbeatTimeout,
		MaxRecoveryAttempts: DefaultMaxRecoveryAttempts,
		EnableAutoRecover:   true,
	}
}

// HealthPolicy governs staleness detection and bounded auto-recovery.
type HealthPolicy struct {
	// HeartbeatTimeout is how long a monitorable component may stay
	// silent before a sweep degrades it.
	HeartbeatTimeout time.Duration

	// MaxRecoveryAttempts bounds automatic degraded → active recoveries.
	// A component whose attempts would exceed the bound is failed
	// permanently instead of recovered.
	MaxRecoveryAttempts int

	// EnableAutoRecover turns the recovery pass on. When false, degraded
	// components return to active only via an explicit heartbeat state.
	EnableAutoRecover bool
}

// Validate checks the policy for usable values.
func (p *HealthPolicy) Validate() error {
	if p.HeartbeatTimeout <= 0 {
		return fmt.Errorf("HeartbeatTimeout must be positive")
	}
	if p.MaxRecoveryAttempts < 0 {
		return fmt.Errorf("MaxRecoveryAttempts cannot be negative")
	}
	return nil
}

// SweepResult lists the components changed by one monitor pass.
type SweepResult struct {
	Degraded  []ComponentID
	Failed    []ComponentID
	Recovered []ComponentID
}

// Empty reports whether the sweep changed nothing.
func (r SweepResult) Empty() bool {
	return len(r.Degraded) == 0 && len(r.Failed) == 0 && len(r.Recovered) == 0
}

// Transition describes one applied state change. The facade hands these to
// the history recorder and the event bus post-commit; the monitor collects
// them during sweeps.
type Transition struct {
	ComponentID ComponentID
	InstanceID  InstanceID
	From        ComponentState
	To          ComponentState
	Reason      string

	// Detail carries the caller-supplied annotations accompanying an
	// explicit transition, already merged into the registration metadata.
	Detail Metadata

	At time.Time
}

// TransitionRecorder receives every applied state transition post-commit.
// The SQLite-backed implementation lives in internal/history; recording
// must never fail the operation that produced the transition.
type TransitionRecorder interface {
	Record(Transition)
}

// HealthMonitorConfig configures the HealthMonitor.
type HealthMonitorConfig struct {
	// Store holds the registrations to monitor. Required.
	Store Store

	// Policy governs staleness and recovery decisions.
	Policy HealthPolicy

	// CheckInterval is the period between automatic sweeps. Defaults to
	// DefaultCheckInterval; must be shorter than the heartbeat timeout so
	// a healthy component is observed at least once per timeout window.
	CheckInterval time.Duration

	// Clock provides time operations. Defaults to RealClock if nil.
	Clock Clock

	// OnSweep, when set, runs after every sweep that changed at least one
	// component. The facade uses it to persist, record history, and
	// publish events outside the store lock.
	OnSweep func(SweepResult, []Transition)

	// Tracer records a span per sweep. Defaults to a no-op tracer.
	Tracer trace.Tracer
}

// Validate checks that required fields are provided and coherent.
func (c *HealthMonitorConfig) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("Store is required")
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	if c.CheckInterval < 0 {
		return fmt.Errorf("CheckInterval cannot be negative")
	}
	if c.CheckInterval > 0 && c.CheckInterval >= c.Policy.HeartbeatTimeout {
		return fmt.Errorf("CheckInterval %s must be shorter than HeartbeatTimeout %s",
			c.CheckInterval, c.Policy.HeartbeatTimeout)
	}
	return nil
}

// HealthMonitor sweeps the store on a fixed interval, degrading and failing
// components that stopped proving liveness and recovering degraded ones
// that resumed.
//
// The policy is graduated two-strike: one stale sweep degrades, a second
// consecutive stale sweep fails. A component that heartbeats between sweeps
// never reaches failed through staleness alone.
type HealthMonitor struct {
	store    Store
	policy   HealthPolicy
	interval time.Duration
	clock    Clock
	onSweep  func(SweepResult, []Transition)
	tracer   trace.Tracer

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewHealthMonitor creates a HealthMonitor from the given configuration.
func NewHealthMonitor(cfg HealthMonitorConfig) (*HealthMonitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	interval := cfg.CheckInterval
	if interval == 0 {
		interval = DefaultCheckInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}

	return &HealthMonitor{
		store:    cfg.Store,
		policy:   cfg.Policy,
		interval: interval,
		clock:    clock,
		onSweep:  cfg.OnSweep,
		tracer:   tracer,
	}, nil
}

// Policy returns the monitor's health policy.
func (m *HealthMonitor) Policy() HealthPolicy {
	return m.policy
}

// Start spawns the sweep loop. Safe to call only once per monitor; returns
// an error if the monitor is already running.
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("health monitor already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	done := m.done
	log.SafeGo("monitor-sweep-loop", func() {
		defer close(done)
		m.loop(runCtx)
	})

	log.Info(log.CatMonitor, "health monitor started",
		"interval", m.interval, "timeout", m.policy.HeartbeatTimeout,
		"auto_recover", m.policy.EnableAutoRecover)
	return nil
}

// Stop halts the sweep loop and blocks until it has exited. Safe to call
// multiple times and before Start.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.running = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// loop runs sweeps on the configured interval until the context ends.
func (m *HealthMonitor) loop(ctx context.Context) {
	for {
		timer := m.clock.NewTimer(m.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
			m.Sweep(m.policy.HeartbeatTimeout)
		}
	}
}

// Sweep runs one monitor pass with the given staleness timeout and returns
// the components it changed. Exposed for on-demand sweeps; the ticker loop
// calls it with the policy timeout.
//
// Pass one (stale): every monitorable component silent longer than the
// timeout is degraded, or failed if already degraded. Pass two (recovery,
// when enabled): every degraded component with a fresh heartbeat returns to
// active, bounded by MaxRecoveryAttempts.
func (m *HealthMonitor) Sweep(timeout time.Duration) SweepResult {
	_, span := m.tracer.Start(context.Background(), tracing.SpanSweep,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	now := m.clock.Now()

	var (
		result      SweepResult
		transitions []Transition
	)

	// Candidates come from a point-in-time copy; every change re-validates
	// under the store lock so a heartbeat landing mid-sweep wins.
	snap := m.store.Export()

	for _, reg := range snap.Components {
		if !reg.State.Monitorable() {
			continue
		}
		inst, ok := snap.Instances[reg.ComponentID]
		if !ok || now.Sub(inst.LastHeartbeat) <= timeout {
			continue
		}
		if tr := m.strike(reg.ComponentID, timeout, now); tr != nil {
			transitions = append(transitions, *tr)
			if tr.To == StateFailed {
				result.Failed = append(result.Failed, tr.ComponentID)
			} else {
				result.Degraded = append(result.Degraded, tr.ComponentID)
			}
		}
	}

	if m.policy.EnableAutoRecover {
		for _, reg := range snap.Components {
			if reg.State != StateDegraded {
				continue
			}
			if tr := m.recover(reg.ComponentID, timeout, now); tr != nil {
				transitions = append(transitions, *tr)
				if tr.To == StateFailed {
					result.Failed = append(result.Failed, tr.ComponentID)
				} else {
					result.Recovered = append(result.Recovered, tr.ComponentID)
				}
			}
		}
	}

	span.SetAttributes(
		attribute.Int(tracing.AttrSweepDegraded, len(result.Degraded)),
		attribute.Int(tracing.AttrSweepFailed, len(result.Failed)),
		attribute.Int(tracing.AttrSweepRecovered, len(result.Recovered)),
	)

	if !result.Empty() {
		log.Info(log.CatMonitor, "sweep changed components",
			"degraded", len(result.Degraded),
			"failed", len(result.Failed),
			"recovered", len(result.Recovered))
		if m.onSweep != nil {
			m.onSweep(result, transitions)
		}
	} else {
		log.Debug(log.CatMonitor, "sweep clean", "components", len(snap.Components))
	}

	return result
}

// strike applies the stale-pass decision for one component: first strike
// degrades, second strike fails. Returns nil when the component recovered,
// changed state, or disappeared since the sweep copy was taken.
func (m *HealthMonitor) strike(id ComponentID, timeout time.Duration, now time.Time) *Transition {
	var applied *Transition

	err := m.store.Update(id, func(reg *Registration, inst *Instance) error {
		if !reg.State.Monitorable() || now.Sub(inst.LastHeartbeat) <= timeout {
			return nil
		}

		from := reg.State
		target := StateDegraded
		reason := ReasonMissedHeartbeats
		if from == StateDegraded {
			target = StateFailed
			reason = ReasonPersistentFailure
		}

		if err := reg.TransitionTo(target, reason, nil, now); err != nil {
			return err
		}
		inst.RecordTransition(target, reason, now)

		applied = &Transition{
			ComponentID: reg.ComponentID,
			InstanceID:  reg.InstanceID,
			From:        from,
			To:          target,
			Reason:      reason,
			At:          now,
		}
		return nil
	})
	if err != nil {
		log.Debug(log.CatMonitor, "stale pass skipped component", "component", id, "error", err)
		return nil
	}
	if applied != nil {
		log.Warn(log.CatMonitor, "component missed heartbeats",
			"component", id, "from", applied.From, "to", applied.To)
	}
	return applied
}

// recover applies the recovery-pass decision for one degraded component
// that resumed heartbeating: return it to active, or fail it permanently
// when the attempt bound is spent. Returns nil when nothing applied.
func (m *HealthMonitor) recover(id ComponentID, timeout time.Duration, now time.Time) *Transition {
	var applied *Transition

	err := m.store.Update(id, func(reg *Registration, inst *Instance) error {
		if reg.State != StateDegraded || now.Sub(inst.LastHeartbeat) > timeout {
			return nil
		}

		target := StateActive
		reason := ReasonHeartbeatResumed
		if reg.RecoveryAttempts+1 > m.policy.MaxRecoveryAttempts {
			// Flapping component: it keeps resuming just long enough to
			// be recovered. Fail it instead of cycling forever.
			target = StateFailed
			reason = ReasonRecoveryLimit
		}

		if err := reg.TransitionTo(target, reason, nil, now); err != nil {
			return err
		}
		inst.RecordTransition(target, reason, now)
		if target == StateActive {
			reg.RecoveryAttempts++
		}

		applied = &Transition{
			ComponentID: reg.ComponentID,
			InstanceID:  reg.InstanceID,
			From:        StateDegraded,
			To:          target,
			Reason:      reason,
			At:          now,
		}
		return nil
	})
	if err != nil {
		log.Debug(log.CatMonitor, "recovery pass skipped component", "component", id, "error", err)
		return nil
	}
	if applied != nil {
		log.Info(log.CatMonitor, "recovery pass applied",
			"component", id, "to", applied.To, "reason", applied.Reason)
	}
	return applied
}
