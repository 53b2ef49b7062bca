package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mutiny/cmd/mutiny/ui"
	"mutiny/internal/campaign"
	"mutiny/internal/config"
	"mutiny/internal/report"
)

func newReportCmd() *cobra.Command {
	var dir string

	// outputDir resolves --dir, falling back to output.dir from the config.
	outputDir := func() (string, *config.Config, string, error) {
		ws, cfg, err := loadConfig()
		if err != nil {
			return "", nil, "", err
		}
		d := dir
		if d == "" {
			d = config.ResolvePath(ws, cfg.Output.Dir)
		}
		return ws, cfg, d, nil
	}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Regenerate the report artifacts from mutation_results.json",
		Long: `Rebuilds consolidated_mutations.diff, mutation_report.md,
tested_routines_source.py and ANALYSIS_SUMMARY.md from the results file in
the output directory. Use it after editing report settings in mutiny.yaml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, cfg, d, err := outputDir()
			if err != nil {
				return err
			}
			paths, err := campaign.Rebuild(ws, cfg, d)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Regenerated:")
			for _, p := range paths.All() {
				fmt.Fprintf(out, "  %s\n", p)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&dir, "dir", "d", "", "Results directory (default: output.dir from config)")

	var (
		plain bool
		width int
		file  string
	)
	show := &cobra.Command{
		Use:   "show",
		Short: "Render ANALYSIS_SUMMARY.md in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, d, err := outputDir()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(d, file))
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("%s not found in %s (run 'mutiny run' first)", file, d)
				}
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.RenderMarkdown(string(data), width, plain))
			return nil
		},
	}
	show.Flags().BoolVar(&plain, "plain", false, "Print the markdown source")
	show.Flags().IntVar(&width, "width", 100, "Word wrap width")
	show.Flags().StringVar(&file, "file", report.AnalysisFile, "Markdown file to render ("+report.MarkdownFile+" or "+report.AnalysisFile+")")
	cmd.AddCommand(show)
	return cmd
}
