package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mutiny/internal/config"
	"mutiny/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var (
		flags    runFlags
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the campaign whenever the target or tests change",
		Long: `Runs the campaign once, then watches the target file, the test paths and
pytest configuration files. After changes settle for the debounce period the
campaign runs again. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			out := cmd.OutOrStdout()

			rerun := func(ctx context.Context, changed []string) error {
				for _, p := range changed {
					fmt.Fprintf(out, "changed: %s\n", p)
				}
				err := runCampaign(ctx, out, ws, cfg, flags)
				if err != nil && ctx.Err() == nil {
					fmt.Fprintf(out, "run failed: %v\n", err)
				}
				return err
			}

			w, err := watch.New(watch.Options{
				Paths:    watchPaths(ws, cfg),
				Ignore:   []string{config.ResolvePath(ws, cfg.Output.Dir), filepath.Join(ws, ".mutiny")},
				Debounce: debounce,
			}, rerun)
			if err != nil {
				return err
			}

			if err := rerun(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("Initial run failed", zap.Error(err))
			}
			fmt.Fprintln(out, "Watching for changes (Ctrl+C to stop)")
			return w.Run(ctx)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before re-running")
	return cmd
}

// watchPaths are the target, the configured test paths and the pytest
// configuration files at the workspace root, when they exist.
func watchPaths(ws string, cfg *config.Config) []string {
	candidates := []string{config.ResolvePath(ws, cfg.Target)}
	for _, t := range cfg.Tests {
		if i := strings.Index(t, "::"); i >= 0 {
			t = t[:i]
		}
		candidates = append(candidates, config.ResolvePath(ws, t))
	}
	for _, name := range []string{"conftest.py", "pytest.ini", "pyproject.toml", "setup.cfg", "tox.ini"} {
		candidates = append(candidates, filepath.Join(ws, name))
	}

	var paths []string
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	return paths
}
