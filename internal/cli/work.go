package cli

import (
	"fmt"
	"net/http"

	"github.com/me/obscore/internal/validator"
	"github.com/me/obscore/pkg/model"
	"github.com/spf13/cobra"
)

func newWorkItemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "work-items",
		Aliases: []string{"work"},
		Short:   "Inspect work items",
	}

	var (
		state, module string
		limit         int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		Example: `  obsctl work-items list --state FAILED
  obsctl work-items list --module rtt --state LEASED`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []model.WorkItem
			resp, err := client.call(cmd.Context(), http.MethodGet, collectionPath("work-items", listQuery(limit, "state", state, "module", module)), nil, &data)
			if err != nil {
				return fmt.Errorf("list work items: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(data) == 0 {
				fmt.Fprintln(out, "No work items found.")
				return nil
			}
			fmt.Fprintf(out, "%-28s  %-16s  %-10s  %-46s  %-8s  %-16s  %s\n",
				"ID", "MODULE", "STATE", "SLICE", "ATTEMPTS", "HOLDER", "UPDATED")
			for _, w := range data {
				fmt.Fprintf(out, "%-28s  %-16s  %-10s  %-46s  %-8s  %-16s  %s\n",
					truncate(w.ID, 28), fmt.Sprintf("%s@v%d", w.ModuleID, w.ModuleVersion), w.State,
					sliceLabel(w.Slice), fmt.Sprintf("%d/%d", w.AttemptCount, w.MaxAttempts),
					truncate(orDash(w.LeaseHolder), 16), ago(w.UpdatedAt))
			}
			printMore(out, len(data), resp.Pagination)
			return nil
		},
	}
	list.Flags().StringVar(&state, "state", "", "Filter by state (PENDING, LEASED, COMPLETED, FAILED, EXPIRED)")
	list.Flags().StringVar(&module, "module", "", "Filter by module ID")
	list.Flags().IntVar(&limit, "limit", 0, "Maximum items to show")

	show := &cobra.Command{
		Use:   "show <work_item_id>",
		Short: "Show one work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.call(cmd.Context(), http.MethodGet, resourcePath("work-items", args[0]), nil, nil)
			if err != nil {
				return fmt.Errorf("get work item: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp.Data)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func newResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "results",
		Aliases: []string{"result"},
		Short:   "Inspect and validate results",
	}

	var (
		status, module string
		limit          int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List results",
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []model.Result
			resp, err := client.call(cmd.Context(), http.MethodGet, collectionPath("results", listQuery(limit, "state", status, "module", module)), nil, &data)
			if err != nil {
				return fmt.Errorf("list results: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(data) == 0 {
				fmt.Fprintln(out, "No results found.")
				return nil
			}
			fmt.Fprintf(out, "%-28s  %-16s  %-10s  %-46s  %-12s  %s\n",
				"ID", "MODULE", "STATUS", "SLICE", "PRODUCED", "REASON")
			for _, r := range data {
				fmt.Fprintf(out, "%-28s  %-16s  %-10s  %-46s  %-12s  %s\n",
					truncate(r.ID, 28), fmt.Sprintf("%s@v%d", r.ModuleID, r.ModuleVersion), r.Status,
					sliceLabel(r.Slice), ago(r.ProducedAt), truncate(orDash(r.Reason), 60))
			}
			printMore(out, len(data), resp.Pagination)
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status (CANDIDATE, VALIDATED, REJECTED, SUPERSEDED)")
	list.Flags().StringVar(&module, "module", "", "Filter by module ID")
	list.Flags().IntVar(&limit, "limit", 0, "Maximum results to show")

	show := &cobra.Command{
		Use:   "show <result_id>",
		Short: "Show one result including its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.call(cmd.Context(), http.MethodGet, resourcePath("results", args[0]), nil, nil)
			if err != nil {
				return fmt.Errorf("get result: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp.Data)
		},
	}

	validate := &cobra.Command{
		Use:   "validate <result_id>",
		Short: "Validate one candidate result now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out validator.Outcome
			if _, err := client.call(cmd.Context(), http.MethodPost, resourcePath("results", args[0], "validate"), nil, &out); err != nil {
				return fmt.Errorf("validate result: %w", err)
			}

			w := cmd.OutOrStdout()
			switch {
			case out.Deferred:
				fmt.Fprintf(w, "%s  %s (deferred: lease still held)\n", out.ResultID, out.Status)
			case out.Reason != "":
				fmt.Fprintf(w, "%s  %s: %s\n", out.ResultID, out.Status, out.Reason)
			default:
				fmt.Fprintf(w, "%s  %s\n", out.ResultID, out.Status)
			}
			for _, id := range out.Superseded {
				fmt.Fprintf(w, "  superseded %s\n", id)
			}
			for _, id := range out.Conflicts {
				fmt.Fprintf(w, "  conflict %s\n", id)
			}
			return nil
		},
	}

	cmd.AddCommand(list, show, validate)
	return cmd
}

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conflicts",
		Aliases: []string{"conflict"},
		Short:   "Review conflicts between modules",
	}

	var (
		all   bool
		limit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List open conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			state := "open"
			if all {
				state = ""
			}
			var data []model.Conflict
			resp, err := client.call(cmd.Context(), http.MethodGet, collectionPath("conflicts", listQuery(limit, "state", state)), nil, &data)
			if err != nil {
				return fmt.Errorf("list conflicts: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(data) == 0 {
				fmt.Fprintln(out, "No conflicts found.")
				return nil
			}
			fmt.Fprintf(out, "%-28s  %-16s  %-16s  %-46s  %-4s  %s\n",
				"ID", "KEPT", "REJECTED", "SLICE", "ACK", "DETECTED")
			for _, c := range data {
				ack := "no"
				if c.Acknowledged {
					ack = "yes"
				}
				fmt.Fprintf(out, "%-28s  %-16s  %-16s  %-46s  %-4s  %s\n",
					truncate(c.ID, 28), truncate(c.KeptModule, 16), truncate(c.RejectedModule, 16),
					sliceLabel(c.Slice), ack, ago(c.DetectedAt))
			}
			printMore(out, len(data), resp.Pagination)
			return nil
		},
	}
	list.Flags().BoolVar(&all, "all", false, "Include acknowledged conflicts")
	list.Flags().IntVar(&limit, "limit", 0, "Maximum conflicts to show")

	ack := &cobra.Command{
		Use:   "ack <conflict_id>...",
		Short: "Acknowledge conflicts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if _, err := client.call(cmd.Context(), http.MethodPut, resourcePath("conflicts", id, "ack"), nil, nil); err != nil {
					return fmt.Errorf("acknowledge %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  acknowledged\n", id)
			}
			return nil
		},
	}

	cmd.AddCommand(list, ack)
	return cmd
}
