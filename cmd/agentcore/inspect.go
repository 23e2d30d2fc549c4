package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"agentcore/pkg/metrics"
	"agentcore/pkg/plan"
)

func planCmd(g *globalFlags) *cobra.Command {
	var conversation string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show or reset a conversation's plan",
	}
	cmd.PersistentFlags().StringVarP(&conversation, "conversation", "c", "", "Conversation id")
	_ = cmd.MarkPersistentFlagRequired("conversation")

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the plan checklist and its progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer a.Close()

			p, ok, err := a.stores.Plans.Get(cmd.Context(), conversation)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok || p.Empty() {
				fmt.Fprintf(out, "No plan for conversation %s\n", conversation)
				return nil
			}
			fmt.Fprintf(out, "Plan for %s (%s, updated %s)\n\n%s\n",
				conversation, plan.Summary(p.Progress()), p.UpdatedAt.Format(time.RFC3339), p.Text)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Delete the plan so the next turn starts fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.stores.Plans.Reset(cmd.Context(), conversation); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Plan for %s reset\n", conversation)
			return nil
		},
	})
	return cmd
}

func runsCmd(g *globalFlags) *cobra.Command {
	var (
		conversation string
		limit        int
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs (sqlite storage only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.stores.Runs == nil {
				return fmt.Errorf("run history needs the sqlite backend (storage.backend is %q)", a.cfg.Storage.Backend)
			}
			runs, err := a.stores.Runs.ListRuns(cmd.Context(), conversation, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %-36s  %-5s  %-11s  %3d hops  %s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.RunID, r.Mode, r.Status, r.Hops, r.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "Only runs of this conversation")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func metricsCmd(g *globalFlags) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Summarize orchestration metrics from Prometheus",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.Metrics.PrometheusURL == "" {
				return errors.New("metrics.prometheus_url is not configured")
			}
			qs, err := metrics.NewQueryService(a.cfg.Metrics.PrometheusURL)
			if err != nil {
				return err
			}
			summary, err := qs.Summary(cmd.Context(), window)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().DurationVarP(&window, "window", "w", time.Hour, "Aggregation window")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
