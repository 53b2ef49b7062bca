package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mutiny/internal/config"
	"mutiny/internal/logging"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	logger *zap.Logger
)

// newRootCmd builds the command tree. Global flags bind to package
// variables, so building a new tree also resets them.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mutiny",
		Short: "mutiny - deterministic mutation testing for Python test suites",
		Long: `mutiny rewrites one line of a Python module at a time, runs your pytest
suite against every rewrite, and reports which mutants the tests catch.

Every run writes five artifacts to the output directory:
  consolidated_mutations.diff   every mutant as a unified diff
  mutation_report.md            operator and routine tables, survivors
  mutation_results.json         machine-readable results
  tested_routines_source.py     source of the mutated routines
  ANALYSIS_SUMMARY.md           score, weakest routines, next steps

Start with 'mutiny init', then 'mutiny run --run-tests'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := zap.NewProductionConfig()
			cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
			if verbose {
				cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = cfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
			logging.CloseAll()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: nearest directory with mutiny.yaml, else current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/mutiny.yaml)")

	rootCmd.AddCommand(
		newRunCmd(),
		newListCmd(),
		newTestCmd(),
		newReportCmd(),
		newDoctorCmd(),
		newInitCmd(),
		newWatchCmd(),
		newHistoryCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// resolveWorkspace returns the absolute workspace directory.
func resolveWorkspace() (string, error) {
	if workspace != "" {
		return filepath.Abs(workspace)
	}
	return config.FindWorkspaceRoot()
}

// loadConfig resolves the workspace, loads the config and initializes the
// category loggers.
func loadConfig() (string, *config.Config, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return "", nil, err
	}
	path := configPath
	if path == "" {
		path = filepath.Join(ws, config.FileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return "", nil, err
	}
	if verbose {
		cfg.Logging.DebugMode = true
		cfg.Logging.Level = "debug"
	}
	if err := logging.Configure(ws, cfg.Logging); err != nil {
		logger.Warn("Category logging disabled", zap.Error(err))
	}
	logging.Boot("Workspace %s, config %s", ws, path)
	return ws, cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
