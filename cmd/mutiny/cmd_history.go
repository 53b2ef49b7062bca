package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mutiny/cmd/mutiny/ui"
	"mutiny/internal/config"
	"mutiny/internal/store"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		prune time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or show one run",
		Long: `Lists the campaigns recorded in the result store, newest first. With a
run id, shows that run. --prune drops cached mutant outcomes that have not
been recorded for longer than the given age; run history is kept.

Examples:
  mutiny history
  mutiny history 3f1c9a2e-...
  mutiny history --prune 720h`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Store.Enabled {
				return fmt.Errorf("%w: the result store is disabled (store.enabled: false)", config.ErrInvalid)
			}
			st, err := store.Open(cfg.Store.Driver, config.ResolvePath(ws, cfg.Store.Path))
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			out := cmd.OutOrStdout()

			if prune > 0 {
				n, err := st.Prune(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d cached outcomes older than %s\n", n, prune)
				return nil
			}

			if len(args) == 1 {
				run, err := st.GetRun(ctx, args[0])
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no run with id %s", args[0])
				}
				if err != nil {
					return err
				}
				printRun(out, run)
				return nil
			}

			runs, err := st.Runs(ctx, limit)
			if err != nil {
				return err
			}
			printRuns(out, runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete cached mutant outcomes last recorded longer ago than this")
	return cmd
}

func printRuns(out io.Writer, runs []store.Run) {
	styles := ui.DefaultStyles()
	if len(runs) == 0 {
		fmt.Fprintln(out, styles.Muted.Render("No runs recorded yet. Run 'mutiny run --run-tests'."))
		return
	}
	tbl := ui.NewTable("Runs", "Started", "Target", "Score", "Killed", "Survived", "Timeout", "Error", "Total", "ID").
		AlignRight(2, 3, 4, 5, 6, 7)
	for _, r := range runs {
		tbl.AddRow(
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Target,
			styles.Score(r.Score),
			strconv.Itoa(r.Killed),
			strconv.Itoa(r.Survived),
			strconv.Itoa(r.Timeouts),
			strconv.Itoa(r.Errors),
			strconv.Itoa(r.Total),
			r.ID[:min(8, len(r.ID))],
		)
	}
	fmt.Fprint(out, tbl.View(styles))
}

func printRun(out io.Writer, r store.Run) {
	styles := ui.DefaultStyles()
	fmt.Fprintf(out, "%s %s\n", styles.Bold.Render("Run"), r.ID)
	fmt.Fprintf(out, "Target:   %s\n", r.Target)
	fmt.Fprintf(out, "Started:  %s\n", r.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(out, "Score:    %s\n", styles.Score(r.Score))
	fmt.Fprintf(out, "Mutants:  %d (killed %d, survived %d, timeout %d, error %d)\n",
		r.Total, r.Killed, r.Survived, r.Timeouts, r.Errors)
}
