package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mutiny/cmd/mutiny/ui"
	"mutiny/internal/campaign"
	"mutiny/internal/config"
	"mutiny/internal/mutation"
	"mutiny/internal/runner"
)

// runFlags are the config overrides shared by run and watch.
type runFlags struct {
	runTests  bool
	workers   int
	sandbox   string
	operators []string
	output    string
	noCache   bool
	tui       bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.runTests, "run-tests", false, "Run the test suite against every mutant")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Mutants tested concurrently (default from config)")
	cmd.Flags().StringVar(&f.sandbox, "sandbox", "", "Execution sandbox: none or docker")
	cmd.Flags().StringSliceVar(&f.operators, "operators", nil, "Operator codes to enable, e.g. AOR,ROR")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output directory (default from config)")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "Ignore cached outcomes and test every mutant")
}

// apply copies explicitly set flags over the config.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("workers") {
		cfg.Execution.Workers = f.workers
	}
	if cmd.Flags().Changed("sandbox") {
		cfg.Execution.Sandbox = f.sandbox
	}
	if cmd.Flags().Changed("operators") {
		cfg.Operators = f.operators
	}
	if cmd.Flags().Changed("output") {
		cfg.Output.Dir = f.output
	}
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate mutants and write the reports",
		Long: `Generates every mutant of the configured target and writes the five
report artifacts. With --run-tests each mutant is applied to a scratch copy
of the workspace and the pytest suite is run against it.

Survivors are findings, not failures: the exit status is non-zero only for
configuration and infrastructure errors.

Examples:
  mutiny run
  mutiny run --run-tests --workers 4
  mutiny run --run-tests --sandbox docker --operators AOR,ROR`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)

			ctx, cancel := signalContext()
			defer cancel()
			return runCampaign(ctx, cmd.OutOrStdout(), ws, cfg, flags)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.tui, "tui", false, "Show a live progress view while testing")
	return cmd
}

func runCampaign(ctx context.Context, out io.Writer, ws string, cfg *config.Config, flags runFlags) error {
	opts := campaign.Options{
		Workspace: ws,
		Config:    cfg,
		RunTests:  flags.runTests,
		NoCache:   flags.noCache,
	}
	logger.Info("Starting campaign",
		zap.String("workspace", ws),
		zap.String("target", cfg.Target),
		zap.Bool("run_tests", flags.runTests))

	var summary *campaign.Summary
	var err error
	if flags.tui && flags.runTests {
		err = ui.RunProgress(ctx, "mutiny "+cfg.Target, 0, func(ctx context.Context, obs runner.Observer) error {
			opts.Observer = obs
			var runErr error
			summary, runErr = campaign.Run(ctx, opts)
			return runErr
		})
	} else {
		if flags.runTests {
			opts.Observer = lineObserver(out)
		}
		summary, err = campaign.Run(ctx, opts)
	}

	switch {
	case errors.Is(err, context.Canceled):
		if summary != nil {
			printSummary(out, summary)
		}
		return fmt.Errorf("interrupted: partial results written to %s", cfg.Output.Dir)
	case err != nil:
		return err
	}
	printSummary(out, summary)
	return nil
}

// lineObserver prints one line per tested mutant.
func lineObserver(out io.Writer) runner.Observer {
	styles := ui.DefaultStyles()
	return func(ev runner.Event) {
		if ev.Kind != runner.EventFinished {
			return
		}
		m := ev.Mutant
		status := styles.Status(m.Status).Render(fmt.Sprintf("%-9s", m.Status))
		cached := ""
		if ev.Cached {
			cached = styles.Muted.Render(" (cached)")
		}
		fmt.Fprintf(out, "[%d/%d] %s #%03d %s %s:%d%s\n",
			ev.Completed, ev.Total, status, m.ID, m.Operator, m.RoutineName, m.LineNumber, cached)
	}
}

func printSummary(out io.Writer, s *campaign.Summary) {
	styles := ui.DefaultStyles()
	c := s.Counts

	fmt.Fprintln(out)
	fmt.Fprintln(out, styles.Header.Render(" "+s.Target+" "))
	fmt.Fprintln(out)
	if s.Baseline != nil {
		fmt.Fprintf(out, "Baseline: %d passed in %s (%s)\n\n",
			s.Baseline.Summary.Passed, s.Baseline.Duration.Round(time.Millisecond), s.Baseline.PythonVersion)
	}

	tbl := ui.NewTable("", "Status", "Count").AlignRight(1)
	for _, row := range []struct {
		status mutation.Status
		n      int
	}{
		{mutation.StatusKilled, c.Killed},
		{mutation.StatusSurvived, c.Survived},
		{mutation.StatusTimeout, c.Timeouts},
		{mutation.StatusError, c.Errors},
		{mutation.StatusNotTested, c.NotTested},
	} {
		tbl.AddRow(styles.Status(row.status).Render(string(row.status)), strconv.Itoa(row.n))
	}
	tbl.Total("Total", strconv.Itoa(c.Total))
	fmt.Fprint(out, tbl.View(styles))

	if s.Tested {
		fmt.Fprintf(out, "\nMutation score: %s\n", styles.Score(s.Score()))
	} else {
		fmt.Fprintln(out, styles.Muted.Render("\nNot tested. Add --run-tests to classify the mutants."))
	}

	if s.Paths.Results != "" {
		fmt.Fprintln(out, "\nReports:")
		for _, p := range s.Paths.All() {
			fmt.Fprintf(out, "  %s\n", p)
		}
	}
	if s.RunID != "" && s.Tested {
		fmt.Fprintln(out, styles.Muted.Render("Run "+s.RunID))
	}
}

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run the unmutated test suite once",
		Long: `Runs the configured pytest command against an unmodified copy of the
workspace. This is the baseline every mutant is compared against: if it
fails, no mutant can be classified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			out := cmd.OutOrStdout()
			styles := ui.DefaultStyles()
			// A failing baseline carries the tail of the pytest output in its error.
			res, err := campaign.Test(ctx, campaign.Options{Workspace: ws, Config: cfg})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, strings.TrimRight(res.Output, "\n"))
			fmt.Fprintln(out, styles.Success.Render(fmt.Sprintf("Baseline passed: %d passed, %d skipped", res.Summary.Passed, res.Summary.Skipped)))
			return nil
		},
	}
}
