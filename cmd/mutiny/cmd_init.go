package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mutiny/internal/config"
)

func newInitCmd() *cobra.Command {
	var (
		target string
		tests  []string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default mutiny.yaml to the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := resolveWorkspace()
			if err != nil {
				return err
			}
			path := configPath
			if path == "" {
				path = filepath.Join(ws, config.FileName)
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			cfg.Target = target
			if len(tests) > 0 {
				cfg.Tests = tests
			}
			if err := cfg.Save(path); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s\n", path)
			if target == "" {
				fmt.Fprintln(out, "Set 'target' to the Python file to mutate, then run 'mutiny run'.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Python file to mutate, relative to the workspace")
	cmd.Flags().StringSliceVar(&tests, "tests", nil, "Pytest paths (default: tests)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}
