package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigil-dev/vigil/internal/registry"
	"github.com/vigil-dev/vigil/internal/snapshot"
)

var (
	componentStates []string
	componentTypes  []string
	componentCap    string
	componentsJSON  bool
)

var componentsCmd = &cobra.Command{
	Use:   "components",
	Short: "List registered components from the persisted snapshot",
	Long: `Components lists the registrations in the persisted snapshot, sorted
by component id. Filters compose with AND logic.

Examples:
  # Everything
  vigil components

  # Only unhealthy components
  vigil components --state degraded --state failed

  # Workers that index
  vigil components --type worker --capability indexing

  # Full registrations as JSON
  vigil components --json | jq '.[].instance_uuid'`,
	RunE: runComponents,
}

func init() {
	componentsCmd.Flags().StringSliceVarP(&componentStates, "state", "s", nil,
		"filter by lifecycle state (repeatable)")
	componentsCmd.Flags().StringSliceVarP(&componentTypes, "type", "t", nil,
		"filter by component type (repeatable)")
	componentsCmd.Flags().StringVar(&componentCap, "capability", "",
		"filter by declared capability")
	componentsCmd.Flags().BoolVar(&componentsJSON, "json", false,
		"emit full registrations as JSON")

	rootCmd.AddCommand(componentsCmd)
}

func runComponents(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	query, err := buildQuery(componentStates, componentTypes, componentCap)
	if err != nil {
		return err
	}

	snapshotPath, _, err := dataPaths(cfg)
	if err != nil {
		return err
	}
	fileStore, err := snapshot.NewFileStore(snapshotPath)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	snap, err := fileStore.Load()
	if err != nil {
		return fmt.Errorf("loading snapshot %s: %w", snapshotPath, err)
	}

	regs := filterSnapshot(snap, query)
	return renderComponents(cmd.OutOrStdout(), regs, snap.Instances, time.Now(), componentsJSON)
}

// buildQuery validates flag values into a store query.
func buildQuery(states, types []string, capability string) (registry.Query, error) {
	q := registry.Query{Types: types, Capability: capability}
	for _, s := range states {
		state := registry.ComponentState(s)
		if !state.IsValid() {
			return registry.Query{}, fmt.Errorf("unknown state %q", s)
		}
		q.States = append(q.States, state)
	}
	return q, nil
}

// filterSnapshot loads the snapshot into a store and queries it, reusing
// the registry's own matching rules.
func filterSnapshot(snap registry.Snapshot, q registry.Query) []registry.Registration {
	store := registry.NewMemoryStore()
	for i := range snap.Components {
		reg := snap.Components[i]
		inst := snap.Instances[reg.ComponentID]
		_ = store.Put(&reg, &inst)
	}
	return store.List(q)
}

// renderComponents writes the matched registrations as a table or JSON.
func renderComponents(w io.Writer, regs []registry.Registration, instances map[registry.ComponentID]registry.Instance, now time.Time, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(regs, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding components: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	if len(regs) == 0 {
		fmt.Fprintln(w, "no components match")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATE\tVERSION\tLAST HEARTBEAT\tCAPABILITIES")
	for i := range regs {
		reg := &regs[i]
		last := "-"
		if inst, ok := instances[reg.ComponentID]; ok && !inst.LastHeartbeat.IsZero() {
			last = heartbeatAge(now.Sub(inst.LastHeartbeat))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			reg.ComponentID, reg.ComponentType, reg.State, reg.Version, last,
			strings.Join(reg.Capabilities, ","))
	}
	return tw.Flush()
}

// heartbeatAge renders a heartbeat's age as a compact "12s ago".
func heartbeatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Second).String() + " ago"
}
