package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"mutiny/cmd/mutiny/ui"
	"mutiny/internal/campaign"
	"mutiny/internal/diff"
	"mutiny/internal/mutation"
)

func newListCmd() *cobra.Command {
	var (
		operators []string
		routine   string
		showDiff  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the mutants of the target without running tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("operators") {
				cfg.Operators = operators
			}
			plan, err := campaign.Prepare(ws, cfg)
			if err != nil {
				return err
			}

			mutants := plan.Mutants
			if routine != "" {
				mutants = filterRoutine(mutants, routine)
			}
			printMutants(cmd.OutOrStdout(), plan.Target, mutants, showDiff)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&operators, "operators", nil, "Operator codes to enable, e.g. AOR,ROR")
	cmd.Flags().StringVar(&routine, "routine", "", "Only list mutants in this routine")
	cmd.Flags().BoolVar(&showDiff, "diff", false, "Print the unified diff of every mutant")
	return cmd
}

func filterRoutine(mutants []*mutation.Mutant, name string) []*mutation.Mutant {
	var out []*mutation.Mutant
	for _, m := range mutants {
		if m.RoutineName == name {
			out = append(out, m)
		}
	}
	return out
}

func printMutants(out io.Writer, target string, mutants []*mutation.Mutant, showDiff bool) {
	styles := ui.DefaultStyles()
	engine := diff.NewEngine()

	if showDiff {
		for _, m := range mutants {
			fmt.Fprintf(out, "%s %s\n", styles.Bold.Render(fmt.Sprintf("Mutant #%03d - %s", m.ID, m.Operator)), styles.Muted.Render(m.Description))
			fmt.Fprintln(out, m.UnifiedDiff)
			fmt.Fprintln(out)
		}
	} else {
		tbl := ui.NewTable(target, "ID", "Op", "Line", "Routine", "Change").AlignRight(0, 2)
		for _, m := range mutants {
			tbl.AddRow(strconv.Itoa(m.ID), m.Operator, strconv.Itoa(m.LineNumber), m.RoutineName,
				engine.InlineChange(m.OriginalCode, m.MutatedCode))
		}
		fmt.Fprint(out, tbl.View(styles))
	}

	perOp := make(map[string]int)
	for _, m := range mutants {
		perOp[m.Operator]++
	}
	summary := fmt.Sprintf("%d mutants", len(mutants))
	for _, op := range mutation.Operators {
		if n := perOp[op.Code]; n > 0 {
			summary += fmt.Sprintf("  %s %d", op.Code, n)
		}
	}
	fmt.Fprintln(out, styles.Muted.Render(summary))
}
