package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigil-dev/vigil/internal/registry"
	"github.com/vigil-dev/vigil/internal/snapshot"
	"github.com/vigil-dev/vigil/internal/summary"
	"github.com/vigil-dev/vigil/internal/watcher"
)

var (
	statusJSON  bool
	statusWatch bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fleet health from the persisted snapshot",
	Long: `Status loads the persisted registry snapshot and prints an aggregate
health overview: component counts by state and which components have gone
stale (no heartbeat within registry.heartbeat_timeout).

With --watch it stays in the foreground and re-renders whenever the
snapshot file changes on disk.

Examples:
  # One-shot overview
  vigil status

  # Machine-readable
  vigil status --json | jq '.by_state'

  # Follow a running simulation
  vigil status --watch`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit the overview as JSON")
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "re-render when the snapshot changes")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	snapshotPath, _, err := dataPaths(cfg)
	if err != nil {
		return err
	}
	fileStore, err := snapshot.NewFileStore(snapshotPath)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}

	render := func() error {
		snap, err := fileStore.Load()
		if err != nil {
			return fmt.Errorf("loading snapshot %s: %w", snapshotPath, err)
		}
		ov := summary.Compute(snap, false, cfg.Registry.HeartbeatTimeout, time.Now())
		return renderOverview(cmd.OutOrStdout(), ov, statusJSON)
	}

	if err := render(); err != nil {
		return err
	}
	if !statusWatch {
		return nil
	}

	w, err := watcher.New(watcher.DefaultConfig(snapshotPath))
	if err != nil {
		return fmt.Errorf("watching snapshot: %w", err)
	}
	changes, err := w.Start()
	if err != nil {
		return fmt.Errorf("watching snapshot: %w", err)
	}
	defer func() { _ = w.Stop() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-changes:
			fmt.Fprintln(cmd.OutOrStdout())
			if err := render(); err != nil {
				return err
			}
		case <-sigCh:
			return nil
		}
	}
}

// stateOrder fixes the display order of lifecycle states.
var stateOrder = []registry.ComponentState{
	registry.StateStarting,
	registry.StateReady,
	registry.StateActive,
	registry.StateDegraded,
	registry.StateFailed,
	registry.StateStopping,
	registry.StateStopped,
}

// renderOverview writes the overview as text or JSON.
func renderOverview(w io.Writer, ov summary.Overview, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(ov, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding overview: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintf(w, "Components: %d\n", ov.Total)
	for _, state := range stateOrder {
		if n := ov.ByState[state]; n > 0 {
			fmt.Fprintf(w, "  %-9s %d\n", state, n)
		}
	}
	if len(ov.Stale) > 0 {
		ids := make([]string, len(ov.Stale))
		for i, id := range ov.Stale {
			ids[i] = string(id)
		}
		fmt.Fprintf(w, "Stale: %s\n", strings.Join(ids, ", "))
	}
	if ov.DurabilityDegraded {
		fmt.Fprintln(w, "Durability: DEGRADED (snapshot writes are failing)")
	}
	fmt.Fprintf(w, "Generated: %s\n", ov.GeneratedAt.Format(time.RFC3339))
	return nil
}
