package testutil

import (
	"time"

	"github.com/vigil-dev/vigil/internal/registry"
)

// WithMixedFleet adds a representative fleet covering the monitorable
// states plus a failure.
//
//	athena  (service)  active    fresh
//	hermes  (service)  active    fresh
//	iris    (worker)   ready     fresh
//	janus   (gateway)  starting  fresh
//	kratos  (cache)    degraded  stale (2m)
//	midas   (indexer)  failed    stale (10m)
func (f *Fleet) WithMixedFleet() *Fleet {
	return f.
		WithComponent("athena", WithType("service"), WithCapabilities("chat"), WithSequence(12)).
		WithComponent("hermes", WithType("service"), WithSequence(8)).
		WithComponent("iris", WithType("worker"), WithState(registry.StateReady)).
		WithComponent("janus", WithType("gateway"), WithState(registry.StateStarting)).
		WithComponent("kratos", WithType("cache"), WithState(registry.StateDegraded),
			WithHeartbeatAge(2*time.Minute), WithRecoveryAttempts(1)).
		WithComponent("midas", WithType("indexer"), WithState(registry.StateFailed),
			WithHeartbeatAge(10*time.Minute))
}
