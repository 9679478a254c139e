package cli

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/me/obscore/internal/scheduler"
	"github.com/me/obscore/internal/validator"
	"github.com/me/obscore/pkg/model"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show counts per work item state and result status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st model.Stats
			if _, err := client.call(cmd.Context(), http.MethodGet, apiPrefix+"stats", nil, &st); err != nil {
				return fmt.Errorf("get stats: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Modules:   %s\n", humanize.Comma(int64(st.Modules)))
			fmt.Fprintf(out, "Inputs:    %s\n", humanize.Comma(int64(st.Inputs)))
			fmt.Fprintln(out, "Work items:")
			for _, k := range sortedCounts(st.WorkItems) {
				fmt.Fprintf(out, "  %-10s %s\n", k, humanize.Comma(int64(st.WorkItems[model.WorkItemState(k)])))
			}
			fmt.Fprintln(out, "Results:")
			for _, k := range sortedCounts(st.Results) {
				fmt.Fprintf(out, "  %-10s %s\n", k, humanize.Comma(int64(st.Results[model.ResultStatus(k)])))
			}
			fmt.Fprintf(out, "Open conflicts: %s\n", humanize.Comma(int64(st.OpenConflicts)))
			return nil
		},
	}
}

func sortedCounts[K ~string](m map[K]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one planning pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sum scheduler.ReconcileSummary
			if _, err := client.call(cmd.Context(), http.MethodPost, apiPrefix+"admin/reconcile", nil, &sum); err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "planned %d slices, created %d work items, expired %d\n",
				sum.Planned, sum.Created, sum.Expired)
			return nil
		},
	}
}

func newReclaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Reclaim expired leases now",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sum scheduler.ReclaimSummary
			if _, err := client.call(cmd.Context(), http.MethodPost, apiPrefix+"admin/reclaim", nil, &sum); err != nil {
				return fmt.Errorf("reclaim: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d, failed %d\n", sum.Reclaimed, sum.Failed)
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Validate pending candidate results now",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sum validator.SweepSummary
			if _, err := client.call(cmd.Context(), http.MethodPost, apiPrefix+"admin/sweep", nil, &sum); err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "examined %d: validated %d, rejected %d, superseded %d, deferred %d, errors %d\n",
				sum.Examined, sum.Validated, sum.Rejected, sum.Superseded, sum.Deferred, sum.Errors)
			return nil
		},
	}
}
