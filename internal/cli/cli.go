// Package cli defines the assetflow command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vk/assetflow/internal/app"
	"github.com/vk/assetflow/internal/hclcfg"
	"github.com/vk/assetflow/internal/report"
)

// NewRootCmd builds the command tree. Informational output goes to outW;
// logs go to errW.
func NewRootCmd(outW, errW io.Writer) *cobra.Command {
	cfg := &app.Config{}
	var tickSeconds int

	root := &cobra.Command{
		Use:           "assetflow",
		Short:         "Asset-dependency pipeline orchestrator",
		Long:          "assetflow resolves a declared asset graph into a deterministic execution order,\nruns pure and delegated-stage assets, and schedules jobs on cron triggers.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfg.ConfigPath, "config", "c", "pipeline", "Path to an .hcl pipeline file or directory.")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "info", "Logging level: debug, info, warn or error.")
	root.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", "text", "Log output format: text or json.")
	root.PersistentFlags().IntVar(&cfg.Workers, "workers", 0, "Concurrent asset executions per run (0 = default).")

	newApp := func() (*app.App, error) {
		return app.New(errW, cfg, hclcfg.NewLoader())
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and freeze the asset graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			fmt.Fprintf(outW, "configuration valid: %d assets, %d jobs\n",
				a.Graph().Len(), len(a.Scheduler().JobStatuses()))
			return nil
		},
	}

	var runJob string
	run := &cobra.Command{
		Use:   "run [ASSET...]",
		Short: "Execute assets (or a job) once and print the run report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			var rep *report.RunReport
			switch {
			case runJob != "":
				rep, err = a.RunJob(cmd.Context(), runJob, args...)
			case len(args) > 0:
				rep, err = a.RunAssets(cmd.Context(), args...)
			default:
				return fmt.Errorf("nothing to run: name assets or pass --job")
			}
			if err != nil {
				return err
			}
			printReport(outW, rep)
			if rep.Overall() != report.StatusSuccess {
				return fmt.Errorf("run %s failed", rep.ID)
			}
			return nil
		},
	}
	run.Flags().StringVar(&runJob, "job", "", "Materialize this job; positional assets restrict it to a subset.")

	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "List configured jobs and their schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(outW, 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tSCHEDULE\tSTATE\tASSETS")
			for _, js := range a.Scheduler().JobStatuses() {
				schedule := js.Schedule
				if schedule == "" {
					schedule = "manual"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", js.Name, schedule, js.State, len(js.Assets))
			}
			return tw.Flush()
		},
	}

	schedule := &cobra.Command{
		Use:   "schedule",
		Short: "Run the scheduler loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.TickInterval = time.Duration(tickSeconds) * time.Second
			a, err := newApp()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx)
		},
	}
	schedule.Flags().IntVar(&cfg.StatusPort, "status-port", 0, "Port for the HTTP status endpoint. 0 disables it.")
	schedule.Flags().IntVar(&tickSeconds, "tick-seconds", 60, "Scheduler tick resolution in seconds.")

	root.AddCommand(validate, run, jobs, schedule)
	return root
}

// Execute runs the command tree and returns a process exit code.
func Execute(ctx context.Context, outW, errW io.Writer, args []string) int {
	root := NewRootCmd(outW, errW)
	root.SetArgs(args)
	root.SetOut(outW)
	root.SetErr(errW)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errW, "Error:", err)
		return 1
	}
	return 0
}

// printReport renders a sealed run report as a table.
func printReport(w io.Writer, rep *report.RunReport) {
	fmt.Fprintf(w, "run %s (%s)\n", rep.ID, rep.Overall())
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET\tSTATUS\tDURATION\tDETAIL")
	for _, res := range rep.Results() {
		var dur time.Duration
		if !res.Started.IsZero() && !res.Ended.IsZero() {
			dur = res.Ended.Sub(res.Started).Round(time.Millisecond)
		}
		detail := res.Output
		if res.Error != "" {
			detail = res.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", res.Asset, res.Status, dur, firstLine(detail))
	}
	tw.Flush()
}

// firstLine truncates multi-line captured output for tabular display.
func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
