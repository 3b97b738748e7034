package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nvandessel/pathsim/internal/archive"
	"github.com/nvandessel/pathsim/internal/snapshot"
	"github.com/nvandessel/pathsim/internal/store"
	"github.com/nvandessel/pathsim/internal/visualization"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded simulation runs",
		Long: `List runs recorded with simulate --db (or output.database).

Examples:
  pathsim runs --db runs.db
  pathsim runs show 1b4e28ba-2fa1-11d2-883f-0016d3cca427 --db runs.db
  pathsim runs export 1b4e28ba-2fa1-11d2-883f-0016d3cca427 --keep 10
  pathsim runs verify ~/.pathsim/archives/pathsim-run-20260301-120000-1b4e28ba.json.gz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			st, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(context.Background(), limit)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"runs":  runs,
					"count": len(runs),
				})
			}

			if len(runs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No runs recorded in %s\n", st.Path())
				return nil
			}
			for _, r := range runs {
				status := "running"
				if r.FinishedAt != nil {
					status = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %-20s seed=%-20d orders=%d failed=%d delivered=%d (%s)\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.Name, r.Seed,
					r.Orders, r.Failed, r.Delivered, status)
			}
			return nil
		},
	}

	cmd.PersistentFlags().String("db", "", "Run database (default: output.database, or ~/.pathsim/runs.db)")
	cmd.Flags().Int("limit", 20, "Maximum runs to list (0 for all)")

	cmd.AddCommand(newRunsShowCmd())
	cmd.AddCommand(newRunsExportCmd())
	cmd.AddCommand(newRunsVerifyCmd())
	cmd.AddCommand(newRunsGraphCmd())

	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the orders of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			runID := args[0]

			st, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			records, err := st.Orders(ctx, runID)
			if err != nil {
				return err
			}
			stored, err := st.CircuitCount(ctx, runID, 0)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"run_id":   runID,
					"orders":   records,
					"circuits": stored,
				})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %d circuits stored\n\n", runID, stored)
			for _, o := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "  order %d (line %d): %s, %d/%d created in %d batches\n",
					o.Index, o.Line, o.State, o.Created, o.Quota, o.Batches)
				if o.Error != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", o.Error)
				}
			}
			return nil
		},
	}
}

func newRunsExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export a recorded run to a compressed archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			output, _ := cmd.Flags().GetString("output")
			keep, _ := cmd.Flags().GetInt("keep")
			maxAge, _ := cmd.Flags().GetString("max-age")

			var policies []archive.RetentionPolicy
			if keep > 0 {
				policies = append(policies, &archive.CountPolicy{MaxCount: keep})
			}
			if maxAge != "" {
				age, err := archive.ParseDuration(maxAge)
				if err != nil {
					return fmt.Errorf("invalid --max-age: %w", err)
				}
				policies = append(policies, &archive.AgePolicy{MaxAge: age})
			}

			st, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			dir := ""
			if output == "" {
				if dir, err = archive.DefaultDir(); err != nil {
					return err
				}
				output = archive.GeneratePath(dir, args[0])
			}

			a, err := archive.Export(context.Background(), st, args[0], output)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			// Retention only touches the default directory.
			var deleted []string
			if dir != "" && len(policies) > 0 {
				deleted, err = archive.ApplyRetention(dir, &archive.CompositePolicy{Policies: policies})
				if err != nil {
					return fmt.Errorf("applying retention: %w", err)
				}
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"path":     output,
					"run_id":   a.Run.ID,
					"orders":   len(a.Orders),
					"circuits": len(a.Circuits),
					"deleted":  deleted,
				})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Exported run %s (%d orders, %d circuits) to %s\n",
				a.Run.ID, len(a.Orders), len(a.Circuits), output)
			if len(deleted) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d old archives\n", len(deleted))
			}
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "", "Archive path (default: ~/.pathsim/archives/pathsim-run-<time>-<id>.json.gz)")
	cmd.Flags().Int("keep", 0, "Keep only the N newest archives in the default directory")
	cmd.Flags().String("max-age", "", "Also keep archives newer than this age (e.g. 30d, 2w)")

	return cmd
}

func newRunsVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <archive>",
		Short: "Check the checksum of a run archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			header, err := archive.Verify(args[0])
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(header)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: run %s, %d orders, %d circuits (%s)\n",
				header.RunID, header.OrderCount, header.CircuitCount, header.Checksum)
			return nil
		},
	}
}

func newRunsGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <run-id>",
		Short: "Render the hop graph of a recorded run",
		Long: `Render the relays of a run's stored circuits as a graph. Edges join
consecutive hops and are labelled with the number of circuits that used them.

Examples:
  pathsim runs graph <run-id> | dot -Tsvg > run.svg
  pathsim runs graph <run-id> --snapshot consensus.yaml --order 2
  pathsim runs graph <run-id> --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			formatStr, _ := cmd.Flags().GetString("format")
			order, _ := cmd.Flags().GetInt("order")
			snapPath, _ := cmd.Flags().GetString("snapshot")

			format, err := visualization.ParseFormat(formatStr)
			if err != nil {
				return err
			}
			if jsonOut {
				format = visualization.FormatJSON
			}

			var labels map[string]string
			if snapPath != "" {
				snap, err := snapshot.Load(snapPath)
				if err != nil {
					return err
				}
				labels = make(map[string]string, len(snap.Relays))
				for _, r := range snap.Relays {
					labels[r.Fingerprint] = r.Nickname
				}
			}

			st, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			if _, err := st.GetRun(ctx, args[0]); err != nil {
				return err
			}
			circuits, err := st.Circuits(ctx, args[0])
			if err != nil {
				return err
			}

			g := visualization.BuildGraph(circuits, order, labels)
			if format == visualization.FormatJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(visualization.RenderJSON(g))
			}
			fmt.Fprint(cmd.OutOrStdout(), visualization.RenderDOT(g))
			return nil
		},
	}

	cmd.Flags().String("format", "dot", "Output format: dot or json")
	cmd.Flags().Int("order", 0, "Only include circuits of this order (0 for all)")
	cmd.Flags().String("snapshot", "", "Snapshot used to label relays by nickname")

	return cmd
}

// openRunStore opens --db, falling back to output.database and then the
// default path under ~/.pathsim.
func openRunStore(cmd *cobra.Command) (*store.SQLiteStore, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		path = cfg.Output.Database
	}
	if path == "" {
		var err error
		if path, err = store.DefaultDatabasePath(); err != nil {
			return nil, err
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run database: %w", err)
	}
	return st, nil
}
