package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vigil-dev/vigil/internal/config"
	"github.com/vigil-dev/vigil/internal/flags"
	"github.com/vigil-dev/vigil/internal/history"
	"github.com/vigil-dev/vigil/internal/log"
	"github.com/vigil-dev/vigil/internal/manifest"
	"github.com/vigil-dev/vigil/internal/registry"
	"github.com/vigil-dev/vigil/internal/snapshot"
	"github.com/vigil-dev/vigil/internal/tracing"
)

var (
	simManifest string
	simEvery    time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the registry against a synthetic component fleet",
	Long: `Simulate runs a live registry in the foreground and drives it with
synthetic components: each registers, walks starting -> ready -> active,
then keeps heartbeating. One component is flaky and periodically goes
silent long enough for the monitor to degrade it, so degradation,
auto-recovery, and confirmed recovery all show up in the event stream.

Registry events print to stdout as they happen. State is persisted to the
data directory, so 'vigil status', 'vigil components', and 'vigil history'
can inspect the run afterwards.

Examples:
  # Run with the built-in fleet and default timing
  vigil simulate

  # Fast demo: degrade within seconds instead of minutes
  vigil simulate --heartbeat-every 2s --heartbeat-timeout 10s --monitor-interval 4s

  # Seed from a manifest instead of the built-in fleet
  vigil simulate --manifest fleet.yaml`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simManifest, "manifest", "",
		"YAML manifest of components to seed (default: built-in fleet)")
	simulateCmd.Flags().DurationVar(&simEvery, "heartbeat-every", 5*time.Second,
		"interval between synthetic heartbeats")
	simulateCmd.Flags().Duration("heartbeat-timeout", 0,
		"override registry.heartbeat_timeout")
	simulateCmd.Flags().Duration("monitor-interval", 0,
		"override registry.monitor_interval")

	_ = viper.BindPFlag("registry.heartbeat_timeout", simulateCmd.Flags().Lookup("heartbeat-timeout"))
	_ = viper.BindPFlag("registry.monitor_interval", simulateCmd.Flags().Lookup("monitor-interval"))

	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(_ *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cleanup, err := initLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	log.Info(log.CatCLI, "simulation starting",
		"heartbeat_timeout", cfg.Registry.HeartbeatTimeout,
		"monitor_interval", cfg.Registry.MonitorInterval,
		"heartbeat_every", simEvery)

	tracerCfg := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  cfg.Tracing.ServiceName,
	}
	if tracerCfg.Enabled && tracerCfg.Exporter == "file" && tracerCfg.FilePath == "" {
		tracerCfg.FilePath = config.DefaultTracesFilePath()
	}
	tracer, err := tracing.NewProvider(tracerCfg)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	featureFlags := flags.New(cfg.Flags)

	var (
		snapshotter registry.Snapshotter
		recorder    registry.TransitionRecorder
	)
	if cfg.Durability.Enabled {
		snapshotPath, historyPath, err := dataPaths(cfg)
		if err != nil {
			return err
		}
		fileStore, err := snapshot.NewFileStore(snapshotPath)
		if err != nil {
			return fmt.Errorf("opening snapshot store: %w", err)
		}
		snapshotter = fileStore
		fmt.Printf("Snapshot: %s\n", snapshotPath)

		if featureFlags.Enabled(flags.FlagHistoryPersistence) {
			hist, err := history.Open(historyPath)
			if err != nil {
				return fmt.Errorf("opening transition history: %w", err)
			}
			recorder = hist
			fmt.Printf("History:  %s\n", historyPath)
		}
	}

	reg, err := registry.NewRegistry(registry.Config{
		Policy: registry.HealthPolicy{
			HeartbeatTimeout:    cfg.Registry.HeartbeatTimeout,
			MaxRecoveryAttempts: cfg.Registry.MaxRecoveryAttempts,
			EnableAutoRecover:   cfg.Registry.AutoRecover,
		},
		CheckInterval: cfg.Registry.MonitorInterval,
		Snapshotter:   snapshotter,
		Recorder:      recorder,
		Tracer:        tracer.Tracer(),
		Flags:         featureFlags,
	})
	if err != nil {
		return fmt.Errorf("creating registry: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.Monitor().Start(ctx); err != nil {
		return fmt.Errorf("starting health monitor: %w", err)
	}

	events, err := reg.SubscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	go func() {
		for ev := range events {
			fmt.Println(formatEvent(ev))
		}
	}()

	descriptors, err := seedDescriptors(simManifest)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := range descriptors {
		res, err := reg.Register(descriptors[i])
		if err != nil {
			return fmt.Errorf("registering %s: %w", descriptors[i].ComponentID, err)
		}
		// The last component of the fleet is the flaky one.
		flaky := i == len(descriptors)-1
		wg.Add(1)
		go func(res registry.RegistrationResult, flaky bool) {
			defer wg.Done()
			runHeartbeater(ctx, reg, res, simEvery, cfg.Registry.HeartbeatTimeout, flaky)
		}(res, flaky)
	}

	if simManifest == "" {
		// A short-lived job demonstrates clean deregistration mid-run.
		wg.Add(1)
		go func() {
			defer wg.Done()
			runJob(ctx, reg, simEvery)
		}()
	}

	fmt.Println("Streaming registry events; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Printf("\nReceived %s, shutting down\n", sig)

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := reg.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatCLI, "registry shutdown", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatTrace, "tracing shutdown", err)
	}

	fmt.Println("Stopped")
	return nil
}

// seedDescriptors returns the components to drive: the manifest's if one
// was given, otherwise the built-in fleet.
func seedDescriptors(manifestPath string) ([]registry.Descriptor, error) {
	if manifestPath != "" {
		descriptors, err := manifest.Load(manifestPath)
		if err != nil {
			return nil, fmt.Errorf("loading manifest: %w", err)
		}
		return descriptors, nil
	}
	return builtinFleet(), nil
}

// builtinFleet is the default simulation fleet: three services and a
// worker. The worker is last, so it plays the flaky role.
func builtinFleet() []registry.Descriptor {
	return []registry.Descriptor{
		{
			ComponentID:   "athena",
			ComponentName: "Athena",
			ComponentType: "service",
			Version:       "1.2.0",
			Capabilities:  []string{"chat", "memory"},
			Dependencies:  []registry.ComponentID{"hermes"},
		},
		{
			ComponentID:   "hermes",
			ComponentName: "Hermes",
			ComponentType: "service",
			Version:       "0.9.1",
			Capabilities:  []string{"transport"},
		},
		{
			ComponentID:   "janus",
			ComponentName: "Janus",
			ComponentType: "gateway",
			Version:       "2.0.3",
			Capabilities:  []string{"routing"},
			Dependencies:  []registry.ComponentID{"athena", "hermes"},
		},
		{
			ComponentID:   "kratos",
			ComponentName: "Kratos",
			ComponentType: "worker",
			Version:       "1.0.7",
			Capabilities:  []string{"indexing"},
		},
	}
}

// runHeartbeater drives one synthetic component: it reports ready, then
// active, then keeps proving liveness on every tick. A flaky component
// periodically goes silent past the staleness cutoff so the monitor
// degrades it, then confirms recovery when it resumes.
func runHeartbeater(ctx context.Context, reg registry.Registry, res registry.RegistrationResult, every, timeout time.Duration, flaky bool) {
	var seq int64
	beat := func(state registry.ComponentState, reason string) {
		seq++
		req := registry.HeartbeatRequest{
			ComponentID: res.ComponentID,
			InstanceID:  res.InstanceID,
			Sequence:    seq,
			State:       state,
			Reason:      reason,
			HealthMetrics: registry.HealthMetrics{
				"latency_ms": registry.NumberValue(float64(18 + seq%7*4)),
			},
		}
		if _, err := reg.Heartbeat(req); err != nil {
			log.Debug(log.CatCLI, "synthetic heartbeat rejected",
				"component", res.ComponentID, "error", err)
		}
	}

	beat(registry.StateReady, "initialized")
	beat(registry.StateActive, "serving")

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	beats := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beats++
			if flaky && beats%8 == 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(timeout + 2*every):
				}
				// Back from the outage: an explicit active report is a
				// confirmed recovery and resets the attempt counter.
				beat(registry.StateActive, "back online")
				continue
			}
			beat("", "")
		}
	}
}

// runJob registers a short-lived component, lets it beat a few times, then
// retires it cleanly so deregistration shows up in the event stream and
// the transition history.
func runJob(ctx context.Context, reg registry.Registry, every time.Duration) {
	res, err := reg.Register(registry.Descriptor{
		ComponentID:   "reindex-job",
		ComponentName: "Reindex Job",
		ComponentType: "job",
		Version:       "1.0.0",
		Capabilities:  []string{"indexing"},
	})
	if err != nil {
		log.ErrorErr(log.CatCLI, "job registration failed", err)
		return
	}

	var seq int64
	beat := func(state registry.ComponentState) {
		seq++
		_, err := reg.Heartbeat(registry.HeartbeatRequest{
			ComponentID: res.ComponentID,
			InstanceID:  res.InstanceID,
			Sequence:    seq,
			State:       state,
		})
		if err != nil {
			log.Debug(log.CatCLI, "job heartbeat rejected", "error", err)
		}
	}

	beat(registry.StateReady)
	beat(registry.StateActive)

	for i := 0; i < 4; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(every):
			beat("")
		}
	}

	if _, err := reg.Deregister(res.ComponentID, res.InstanceID); err != nil {
		log.ErrorErr(log.CatCLI, "job deregistration failed", err)
	}
}

// formatEvent renders one registry event as a log-style line.
func formatEvent(ev registry.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-24s", ev.Timestamp.Format("15:04:05"), ev.Type)
	if ev.ComponentID != "" {
		fmt.Fprintf(&b, " %s", ev.ComponentID)
	}
	if p, ok := ev.Payload.(registry.StateChangedPayload); ok {
		fmt.Fprintf(&b, " %s -> %s", p.From, p.To)
	} else if ev.State != "" {
		fmt.Fprintf(&b, " state=%s", ev.State)
	}
	if p, ok := ev.Payload.(registry.HeartbeatRejectedPayload); ok {
		fmt.Fprintf(&b, " seq=%d cause=%s", p.Sequence, p.Cause)
	}
	if p, ok := ev.Payload.(registry.SnapshotFailedPayload); ok {
		fmt.Fprintf(&b, " op=%s error=%s", p.Op, p.Error)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&b, " reason=%q", ev.Reason)
	}
	return b.String()
}
