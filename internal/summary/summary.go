// Package summary computes point-in-time fleet health overviews. The live
// provider caches the overview briefly so repeated status polls don't
// re-export the full registration set under the store's read lock.
package summary

import (
	"fmt"
	"sort"
	"time"

	"github.com/vigil-dev/vigil/internal/cachemanager"
	"github.com/vigil-dev/vigil/internal/registry"
)

// DefaultTTL is how long a computed overview is served before recomputing.
const DefaultTTL = 2 * time.Second

const cacheKey = "overview"

// Overview is the aggregate health picture of the fleet.
type Overview struct {
	Total   int                             `json:"total"`
	ByState map[registry.ComponentState]int `json:"by_state"`

	// Stale lists monitorable components whose last heartbeat is older
	// than the staleness horizon, sorted by id.
	Stale []registry.ComponentID `json:"stale,omitempty"`

	// DurabilityDegraded mirrors the registry's durability flag: true while
	// the last snapshot write failed.
	DurabilityDegraded bool `json:"durability_degraded"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Source yields the data an overview is computed from. The registry facade
// satisfies it directly.
type Source interface {
	Export() registry.Snapshot
	DurabilityDegraded() bool
}

// Compute builds an overview from a snapshot without caching. The status
// command uses it on snapshots loaded from disk, where durability state is
// not recorded.
func Compute(snap registry.Snapshot, degraded bool, staleAfter time.Duration, now time.Time) Overview {
	ov := Overview{
		Total:              len(snap.Components),
		ByState:            make(map[registry.ComponentState]int),
		DurabilityDegraded: degraded,
		GeneratedAt:        now,
	}
	for i := range snap.Components {
		reg := &snap.Components[i]
		ov.ByState[reg.State]++

		if !reg.State.Monitorable() {
			continue
		}
		inst, ok := snap.Instances[reg.ComponentID]
		if !ok {
			continue
		}
		if now.Sub(inst.LastHeartbeat) > staleAfter {
			ov.Stale = append(ov.Stale, reg.ComponentID)
		}
	}
	sort.Slice(ov.Stale, func(i, j int) bool { return ov.Stale[i] < ov.Stale[j] })
	return ov
}

// Config configures a Provider.
type Config struct {
	// Source supplies snapshots and durability state. Required.
	Source Source

	// StaleAfter is the heartbeat age beyond which a component counts as
	// stale, typically the monitor's heartbeat timeout. Required.
	StaleAfter time.Duration

	// TTL bounds how stale a served overview can be. Defaults to DefaultTTL.
	TTL time.Duration

	// Clock provides time operations. Defaults to RealClock.
	Clock registry.Clock
}

// Provider serves cached overviews from a live source.
type Provider struct {
	source     Source
	clock      registry.Clock
	staleAfter time.Duration
	cached     *cachemanager.ReadThrough[Overview]
}

// NewProvider creates a Provider from the given configuration.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("summary provider: Source is required")
	}
	if cfg.StaleAfter <= 0 {
		return nil, fmt.Errorf("summary provider: StaleAfter must be positive")
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = registry.RealClock{}
	}

	p := &Provider{
		source:     cfg.Source,
		clock:      clock,
		staleAfter: cfg.StaleAfter,
	}
	cache := cachemanager.New[Overview]("summary", ttl, 0)
	p.cached = cachemanager.NewReadThrough(cache, ttl, p.compute)
	return p, nil
}

// Overview returns the current overview, recomputing at most once per TTL.
func (p *Provider) Overview() (Overview, error) {
	return p.cached.Get(cacheKey)
}

// Invalidate drops the cached overview so the next call recomputes, for
// callers that just observed a state change.
func (p *Provider) Invalidate() {
	p.cached.Invalidate(cacheKey)
}

func (p *Provider) compute() (Overview, error) {
	return Compute(p.source.Export(), p.source.DurabilityDegraded(), p.staleAfter, p.clock.Now()), nil
}
