package cli

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/obscore/internal/server"
	"github.com/me/obscore/pkg/model"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newModulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "modules",
		Aliases: []string{"module"},
		Short:   "Register and manage analysis modules",
	}
	cmd.AddCommand(
		newModulesRegisterCmd(),
		newModulesListCmd(),
		newModulesShowCmd(),
		newModulesToggleCmd("enable", true),
		newModulesToggleCmd("disable", false),
		newModulesCoverageCmd(),
	)
	return cmd
}

// loadDescriptor reads a module descriptor from a YAML (or JSON) file.
func loadDescriptor(path string) (*model.ModuleDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	m := &model.ModuleDescriptor{Enabled: true}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

func newModulesRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <descriptor.yaml>...",
		Short: "Register or upgrade modules from descriptor files",
		Long: `Register or upgrade modules from descriptor files.

Registering a higher version retires the previous one: its pending and leased
work expires on the next reconcile and its validated results are superseded
as the new version produces replacements.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, path := range args {
				m, err := loadDescriptor(path)
				if err != nil {
					return err
				}
				var stored model.ModuleDescriptor
				if _, err := client.call(cmd.Context(), http.MethodPost, collectionPath("modules", ""), m, &stored); err != nil {
					return fmt.Errorf("register %s: %w", m.ID, err)
				}
				fmt.Fprintf(out, "%s  v%d  %s\n", stored.ID, stored.Version, enabledLabel(stored.Enabled))
			}
			return nil
		},
	}
}

func newModulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []model.ModuleDescriptor
			if _, err := client.call(cmd.Context(), http.MethodGet, collectionPath("modules", ""), nil, &data); err != nil {
				return fmt.Errorf("list modules: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(data) == 0 {
				fmt.Fprintln(out, "No modules registered.")
				return nil
			}
			fmt.Fprintf(out, "%-20s  %-7s  %-8s  %-8s  %-24s  %-24s  %s\n",
				"ID", "VERSION", "GRAIN", "STATE", "INPUTS", "OUTPUTS", "UPDATED")
			for _, m := range data {
				fmt.Fprintf(out, "%-20s  %-7d  %-8s  %-8s  %-24s  %-24s  %s\n",
					truncate(m.ID, 20), m.Version, m.Granularity, enabledLabel(m.Enabled),
					truncate(strings.Join(m.InputKinds, ","), 24),
					truncate(strings.Join(m.OutputKinds, ","), 24),
					ago(m.UpdatedAt))
			}
			return nil
		},
	}
}

func newModulesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <module_id>",
		Short: "Show a module descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.call(cmd.Context(), http.MethodGet, resourcePath("modules", args[0]), nil, nil)
			if err != nil {
				return fmt.Errorf("get module: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp.Data)
		},
	}
}

func newModulesToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <module_id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.call(cmd.Context(), http.MethodPut, resourcePath("modules", args[0], verb), nil, nil); err != nil {
				return fmt.Errorf("%s module: %w", verb, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", args[0], enabledLabel(enabled))
			return nil
		},
	}
}

func newModulesCoverageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coverage <module_id>",
		Short: "Show the time ranges covered by validated results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data struct {
				ModuleID string               `json:"module_id"`
				Version  int                  `json:"version"`
				Coverage []server.KeyCoverage `json:"coverage"`
			}
			if _, err := client.call(cmd.Context(), http.MethodGet, resourcePath("modules", args[0], "coverage"), nil, &data); err != nil {
				return fmt.Errorf("get coverage: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Module: %s (v%d)\n", data.ModuleID, data.Version)
			if len(data.Coverage) == 0 {
				fmt.Fprintln(out, "  No validated results.")
				return nil
			}
			for _, kc := range data.Coverage {
				total := time.Duration(kc.TotalSeconds * float64(time.Second))
				fmt.Fprintf(out, "  %s: %s covered by %s results\n",
					keyLabel(kc.Key), total, humanize.Comma(int64(kc.Results)))
				for _, iv := range kc.Intervals {
					fmt.Fprintf(out, "    %s .. %s\n",
						iv.Start.UTC().Format(time.RFC3339), iv.End.UTC().Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func keyLabel(key string) string {
	if key == "" {
		return "(all keys)"
	}
	return key
}
