package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ComponentID uniquely identifies a component within the registry.
// It is user-chosen (e.g. "athena") and stable across instance restarts.
type ComponentID string

// String returns the string representation of the ComponentID.
func (id ComponentID) String() string {
	return string(id)
}

// IsValid returns true if the ComponentID is non-empty and contains no
// whitespace.
func (id ComponentID) IsValid() bool {
	if id == "" {
		return false
	}
	return !strings.ContainsAny(string(id), " \t\n\r")
}

// InstanceID identifies one running process of a component. A fresh value is
// issued on every (re-)register, invalidating heartbeats from superseded
// processes.
type InstanceID string

// NewInstanceID generates a new unique InstanceID using UUID v4.
func NewInstanceID() InstanceID {
	return InstanceID(uuid.New().String())
}

// String returns the string representation of the InstanceID.
func (id InstanceID) String() string {
	return string(id)
}

// IsValid returns true if the InstanceID is a valid UUID format.
func (id InstanceID) IsValid() bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(string(id))
	return err == nil
}

// ValueKind enumerates the closed set of kinds a metadata Value can hold.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindTime
	KindMap
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindTime:
		return "time"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// timeKey is the envelope key marking a JSON object as an encoded timestamp.
// Metadata keys beginning with '$' are reserved for the codec.
const timeKey = "$time"

// Value is a typed metadata value: one of string, number, timestamp, or a
// nested string-keyed map. Timestamps encode as {"$time": RFC3339Nano} so a
// plain string is never reinterpreted as a time on reload; every kind
// round-trips exactly through JSON.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	ts   time.Time
	m    map[string]Value
}

// StringValue creates a string Value.
func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// NumberValue creates a numeric Value.
func NumberValue(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// TimeValue creates a timestamp Value, truncated to nanosecond UTC so the
// encoded form reproduces it exactly.
func TimeValue(t time.Time) Value {
	return Value{kind: KindTime, ts: t.UTC().Truncate(time.Nanosecond)}
}

// MapValue creates a nested map Value. The map is used as-is; callers must
// not mutate it afterwards.
func MapValue(m map[string]Value) Value {
	return Value{kind: KindMap, m: m}
}

// Kind returns the kind of the value. The zero Value is an empty string.
func (v Value) Kind() ValueKind {
	return v.kind
}

// AsString returns the string content; ok is false for other kinds.
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsNumber returns the numeric content; ok is false for other kinds.
func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// AsTime returns the timestamp content; ok is false for other kinds.
func (v Value) AsTime() (time.Time, bool) {
	return v.ts, v.kind == KindTime
}

// AsMap returns the nested map content; ok is false for other kinds.
func (v Value) AsMap() (map[string]Value, bool) {
	return v.m, v.kind == KindMap
}

// Display renders the value for logs and CLI output.
func (v Value) Display() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return fmt.Sprintf("%g", v.num)
	case KindTime:
		return v.ts.Format(time.RFC3339Nano)
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+":"+v.m[k].Display())
		}
		return "{" + strings.Join(parts, " ") + "}"
	default:
		return ""
	}
}

// clone returns a deep copy of the value.
func (v Value) clone() Value {
	if v.kind != KindMap || v.m == nil {
		return v
	}
	m := make(map[string]Value, len(v.m))
	for k, nested := range v.m {
		m[k] = nested.clone()
	}
	return Value{kind: KindMap, m: m}
}

// MarshalJSON encodes the value in its natural JSON shape, with timestamps
// wrapped in the {"$time": ...} envelope.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindTime:
		return json.Marshal(map[string]string{timeKey: v.ts.Format(time.RFC3339Nano)})
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	default:
		return nil, fmt.Errorf("cannot marshal value of kind %d", v.kind)
	}
}

// UnmarshalJSON decodes a value from its JSON shape: strings and numbers map
// to their kinds, objects carrying only the $time envelope key decode as
// timestamps, and every other object decodes as a nested map.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty metadata value")
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		if ts, ok := raw[timeKey]; ok && len(raw) == 1 {
			var stamp string
			if err := json.Unmarshal(ts, &stamp); err != nil {
				return fmt.Errorf("invalid %s envelope: %w", timeKey, err)
			}
			parsed, err := time.Parse(time.RFC3339Nano, stamp)
			if err != nil {
				return fmt.Errorf("invalid %s envelope: %w", timeKey, err)
			}
			*v = TimeValue(parsed)
			return nil
		}
		m := make(map[string]Value, len(raw))
		for key, nested := range raw {
			var nv Value
			if err := nv.UnmarshalJSON(nested); err != nil {
				return fmt.Errorf("metadata key %q: %w", key, err)
			}
			m[key] = nv
		}
		*v = Value{kind: KindMap, m: m}
		return nil
	case 't', 'f', 'n', '[':
		return fmt.Errorf("unsupported metadata value %s: must be string, number, time, or map", trimmed)
	default:
		var f float64
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return fmt.Errorf("unsupported metadata value %s: %w", trimmed, err)
		}
		*v = NumberValue(f)
		return nil
	}
}

// Metadata is an open string-keyed map of typed values carrying
// component-specific annotations: degradation and failure reasons,
// transition timestamps, deployment labels.
type Metadata map[string]Value

// Clone returns a deep copy; nil stays nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v.clone()
	}
	return out
}

// Merge copies every entry of other into m, overwriting existing keys.
func (m Metadata) Merge(other Metadata) {
	for k, v := range other {
		m[k] = v.clone()
	}
}

// validateKeys rejects keys reserved for the codec.
func (m Metadata) validateKeys() error {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return fmt.Errorf("metadata key %q: keys beginning with $ are reserved", k)
		}
	}
	return nil
}

// HealthMetrics is an open map of numeric or string health indicators
// supplied by the component on each heartbeat.
type HealthMetrics map[string]Value

// Clone returns a deep copy; nil stays nil.
func (h HealthMetrics) Clone() HealthMetrics {
	if h == nil {
		return nil
	}
	out := make(HealthMetrics, len(h))
	for k, v := range h {
		out[k] = v.clone()
	}
	return out
}

// Merge copies every entry of other into h, overwriting existing keys.
func (h HealthMetrics) Merge(other HealthMetrics) {
	for k, v := range other {
		h[k] = v.clone()
	}
}

// Descriptor carries everything a component supplies when registering.
type Descriptor struct {
	ComponentID   ComponentID
	ComponentName string
	ComponentType string
	Version       string
	Capabilities  []string
	Dependencies  []ComponentID
	Metadata      Metadata
}

// Validate checks that the Descriptor is well-formed.
func (d *Descriptor) Validate() error {
	if !d.ComponentID.IsValid() {
		return fmt.Errorf("component_id %q is required and must not contain whitespace", d.ComponentID)
	}
	for _, dep := range d.Dependencies {
		if !dep.IsValid() {
			return fmt.Errorf("dependency %q of component %q is not a valid component_id", dep, d.ComponentID)
		}
	}
	if err := d.Metadata.validateKeys(); err != nil {
		return err
	}
	return nil
}

// Registration is the durable record describing a component's identity and
// current lifecycle state. It persists across instance restarts; only the
// InstanceID changes when the component's process is relaunched.
type Registration struct {
	ComponentID   ComponentID `json:"component_id"`
	ComponentName string      `json:"component_name"`
	ComponentType string      `json:"component_type"`
	Version       string      `json:"version"`

	// InstanceID identifies the current running process and is reissued on
	// every register call for the same ComponentID.
	InstanceID InstanceID `json:"instance_uuid"`

	Capabilities []string      `json:"capabilities,omitempty"`
	Dependencies []ComponentID `json:"dependencies,omitempty"`
	Metadata     Metadata      `json:"metadata,omitempty"`

	State ComponentState `json:"state"`

	// RecoveryAttempts counts automatic recoveries since the last confirmed
	// recovery or re-register. Bounded by HealthPolicy.MaxRecoveryAttempts.
	RecoveryAttempts int `json:"recovery_attempts"`
}

// NewRegistration builds a Registration and its companion Instance from a
// validated descriptor. The component starts in Starting state with a fresh
// InstanceID; last_heartbeat is initialized to the registration time so a
// component that never heartbeats degrades one timeout later, not instantly.
func NewRegistration(d *Descriptor, now time.Time) (*Registration, *Instance, error) {
	if d == nil {
		return nil, nil, fmt.Errorf("descriptor cannot be nil")
	}
	if err := d.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid descriptor: %w", err)
	}

	name := d.ComponentName
	if name == "" {
		name = d.ComponentID.String()
	}

	caps := normalizeSet(d.Capabilities)
	deps := make([]ComponentID, 0, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		deps = append(deps, dep)
	}
	slices.Sort(deps)
	deps = slices.Compact(deps)
	if len(deps) == 0 {
		deps = nil
	}

	reg := &Registration{
		ComponentID:   d.ComponentID,
		ComponentName: name,
		ComponentType: d.ComponentType,
		Version:       d.Version,
		InstanceID:    NewInstanceID(),
		Capabilities:  caps,
		Dependencies:  deps,
		Metadata:      d.Metadata.Clone(),
		State:         StateStarting,
	}

	inst := &Instance{
		RegistrationTime: now,
		LastUpdate:       now,
		LastHeartbeat:    now,
	}

	return reg, inst, nil
}

// normalizeSet sorts and dedupes a capability set, mapping empty to nil.
func normalizeSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	out = slices.Compact(out)
	return out
}

// TransitionTo attempts to move the registration to the target state,
// recording the reason and optional detail into metadata for audit.
// Returns an IllegalTransitionError and leaves the registration untouched
// when the edge is not in the state machine.
func (r *Registration) TransitionTo(target ComponentState, reason string, detail Metadata, now time.Time) error {
	if !r.State.CanTransitionTo(target) {
		return &IllegalTransitionError{ComponentID: r.ComponentID, From: r.State, To: target}
	}

	r.State = target
	if r.Metadata == nil {
		r.Metadata = Metadata{}
	}
	r.Metadata.Merge(detail)
	r.Metadata["last_transition_reason"] = StringValue(reason)
	r.Metadata["last_transition_time"] = TimeValue(now)

	switch target {
	case StateDegraded:
		r.Metadata["degradation_reason"] = StringValue(reason)
		r.Metadata["degradation_time"] = TimeValue(now)
	case StateFailed:
		r.Metadata["failure_reason"] = StringValue(reason)
		r.Metadata["failure_time"] = TimeValue(now)
	}

	return nil
}

// HasCapability returns true if the registration claims the capability.
func (r *Registration) HasCapability(cap string) bool {
	return slices.Contains(r.Capabilities, cap)
}

// Clone returns a deep copy safe to hand to callers outside the store lock.
func (r *Registration) Clone() Registration {
	out := *r
	out.Capabilities = slices.Clone(r.Capabilities)
	out.Dependencies = slices.Clone(r.Dependencies)
	out.Metadata = r.Metadata.Clone()
	return out
}

// Instance is the runtime record for one running process of a component.
// It is rebuilt each process lifetime and persisted for observability.
type Instance struct {
	RegistrationTime time.Time `json:"registration_time"`
	LastUpdate       time.Time `json:"last_update"`
	LastHeartbeat    time.Time `json:"last_heartbeat"`
	ReadyTime        time.Time `json:"ready_time"`

	// Sequence is the last-accepted heartbeat sequence number, strictly
	// monotonic per InstanceID.
	Sequence int64 `json:"sequence"`

	HealthMetrics HealthMetrics `json:"health_metrics,omitempty"`

	// Status carries the reason string accompanying the last transition.
	Status string `json:"status,omitempty"`
}

// RecordHeartbeat applies an accepted heartbeat to the runtime record.
func (i *Instance) RecordHeartbeat(sequence int64, metrics HealthMetrics, now time.Time) {
	i.LastHeartbeat = now
	i.LastUpdate = now
	i.Sequence = sequence
	if len(metrics) > 0 {
		if i.HealthMetrics == nil {
			i.HealthMetrics = HealthMetrics{}
		}
		i.HealthMetrics.Merge(metrics)
	}
}

// RecordTransition updates runtime bookkeeping for a state transition.
func (i *Instance) RecordTransition(target ComponentState, reason string, now time.Time) {
	i.Status = reason
	i.LastUpdate = now
	if target == StateReady && i.ReadyTime.IsZero() {
		i.ReadyTime = now
	}
}

// HeartbeatAge returns how long ago the last heartbeat arrived.
func (i *Instance) HeartbeatAge(now time.Time) time.Duration {
	return now.Sub(i.LastHeartbeat)
}

// Clone returns a deep copy safe to hand to callers outside the store lock.
func (i *Instance) Clone() Instance {
	out := *i
	out.HealthMetrics = i.HealthMetrics.Clone()
	return out
}
