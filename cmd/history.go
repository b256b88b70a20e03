package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vigil-dev/vigil/internal/history"
	"github.com/vigil-dev/vigil/internal/registry"
)

var (
	histComponent string
	histStates    []string
	histLimit     int
	histCounts    bool
	histJSON      bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the transition history",
	Long: `History reads the SQLite transition log written by the registry and
prints state transitions, newest first.

Examples:
  # Latest transitions across the fleet
  vigil history

  # One component's full trajectory
  vigil history --component kratos --limit 0

  # Every degradation and failure
  vigil history --state degraded --state failed

  # Which components churn the most
  vigil history --counts`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&histComponent, "component", "",
		"only transitions for this component id")
	historyCmd.Flags().StringSliceVarP(&histStates, "state", "s", nil,
		"only transitions into these states (repeatable)")
	historyCmd.Flags().IntVar(&histLimit, "limit", 50,
		"maximum rows to print (0 = all)")
	historyCmd.Flags().BoolVar(&histCounts, "counts", false,
		"print per-component transition counts instead of rows")
	historyCmd.Flags().BoolVar(&histJSON, "json", false,
		"emit results as JSON")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	_, historyPath, err := dataPaths(cfg)
	if err != nil {
		return err
	}
	if _, err := os.Stat(historyPath); err != nil {
		return fmt.Errorf("no transition history at %s (has a registry run with durability enabled?)", historyPath)
	}

	store, err := history.Open(historyPath)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer func() { _ = store.Close() }()

	if histCounts {
		counts, err := store.CountByComponent()
		if err != nil {
			return fmt.Errorf("counting transitions: %w", err)
		}
		return renderCounts(cmd.OutOrStdout(), counts, histJSON)
	}

	filter := history.Filter{
		ComponentID: registry.ComponentID(histComponent),
		Limit:       histLimit,
	}
	for _, s := range histStates {
		state := registry.ComponentState(s)
		if !state.IsValid() {
			return fmt.Errorf("unknown state %q", s)
		}
		filter.States = append(filter.States, state)
	}

	rows, err := store.List(filter)
	if err != nil {
		return fmt.Errorf("listing transitions: %w", err)
	}
	return renderRows(cmd.OutOrStdout(), rows, histJSON)
}

// renderRows writes transition rows as text or JSON.
func renderRows(w io.Writer, rows []history.Row, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding rows: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, "no transitions recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tCOMPONENT\tTRANSITION\tREASON")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s -> %s\t%s\n",
			row.OccurredAt.Format("2006-01-02 15:04:05"), row.ComponentID, row.From, row.To, row.Reason)
	}
	return tw.Flush()
}

// renderCounts writes per-component transition totals, sorted by id.
func renderCounts(w io.Writer, counts map[registry.ComponentID]int, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(counts, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding counts: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	if len(counts) == 0 {
		fmt.Fprintln(w, "no transitions recorded")
		return nil
	}

	ids := make([]registry.ComponentID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tTRANSITIONS")
	for _, id := range ids {
		fmt.Fprintf(tw, "%s\t%d\n", id, counts[id])
	}
	return tw.Flush()
}
