// Package campaign runs one mutation testing campaign end to end: parse the
// target, generate mutants, optionally test them against the suite, write
// the report artifacts and record the run in the result store.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"mutiny/internal/config"
	"mutiny/internal/logging"
	"mutiny/internal/mutation"
	"mutiny/internal/report"
	"mutiny/internal/runner"
	"mutiny/internal/source"
	"mutiny/internal/store"
	"mutiny/internal/tactile"
)

// Options configures a campaign.
type Options struct {
	// Workspace is the project root. Relative config paths resolve here.
	Workspace string

	Config *config.Config

	// RunTests executes the suite against every mutant. Without it only
	// the generated mutants are reported.
	RunTests bool

	// NoCache disables outcome replay. Runs are still recorded.
	NoCache bool

	// Observer receives runner progress events.
	Observer runner.Observer

	// Executor overrides the executor selected by execution.sandbox.
	Executor tactile.Executor
}

// Summary is the outcome of a campaign.
type Summary struct {
	RunID      string
	Target     string
	Tested     bool
	Counts     mutation.Counts
	Mutants    []*mutation.Mutant
	Paths      report.Paths
	Baseline   *runner.BaselineResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Score is the mutation score of the run.
func (s *Summary) Score() int {
	return s.Counts.Score()
}

// Plan is a parsed target with its mutants.
type Plan struct {
	File    *source.File
	Target  string // workspace-relative, slash-separated
	Mutants []*mutation.Mutant
}

// Prepare parses the configured target and generates its mutants.
func Prepare(workspace string, cfg *config.Config) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rel, err := relativeTarget(workspace, cfg.Target)
	if err != nil {
		return nil, err
	}

	f, err := source.Load(config.ResolvePath(workspace, cfg.Target))
	if err != nil {
		return nil, err
	}
	if f.HasSyntaxErrors() {
		return nil, fmt.Errorf("%w: %s near line %d", source.ErrSyntax, rel, f.SyntaxErrorLine())
	}

	mutants, err := mutation.Generate(f, mutation.Options{
		Operators: cfg.EnabledOperators(),
		Dedupe:    cfg.Dedupe,
		DiffPath:  rel,
	})
	if err != nil {
		return nil, err
	}
	return &Plan{File: f, Target: rel, Mutants: mutants}, nil
}

// Run executes a campaign. On cancellation the reports still hold every
// mutant, untested ones as NOT_TESTED, and ctx.Err() is returned with the
// summary. A failing baseline returns the summary with its Baseline and no
// reports are written.
func Run(ctx context.Context, opts Options) (*Summary, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("%w: no configuration", config.ErrInvalid)
	}

	summary := &Summary{RunID: uuid.NewString(), StartedAt: time.Now(), Tested: opts.RunTests}
	log := logging.Get(logging.CategoryCampaign).With("run_id", summary.RunID)

	plan, err := Prepare(opts.Workspace, cfg)
	if err != nil {
		return nil, err
	}
	summary.Target = plan.Target
	summary.Mutants = plan.Mutants
	log.Info("Campaign started: %s, %d mutants, run_tests=%v", plan.Target, len(plan.Mutants), opts.RunTests)

	outDir := config.ResolvePath(opts.Workspace, cfg.Output.Dir)
	reportOpts := report.Options{
		Title:           cfg.Output.Title,
		Target:          plan.Target,
		Tested:          opts.RunTests,
		SurvivorPreview: cfg.Output.SurvivorPreview,
		TestOutputLimit: cfg.Output.TestOutputLimit,
	}
	routines := report.SelectRoutines(plan.File, plan.Mutants, cfg.Routines)
	input := report.Input{Mutants: plan.Mutants, Routines: routines, Options: reportOpts}

	var st *store.Store
	if cfg.Store.Enabled {
		st, err = store.Open(cfg.Store.Driver, config.ResolvePath(opts.Workspace, cfg.Store.Path))
		if err != nil {
			log.Warn("Result store unavailable, continuing without cache and history: %v", err)
			st = nil
		} else {
			defer st.Close()
		}
	}

	var runErr error
	if opts.RunTests {
		summary.Baseline, runErr = testMutants(ctx, opts, plan, outDir, st, input)
		if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
			return summary, runErr
		}
	}

	summary.Paths, err = report.WriteAll(outDir, input)
	if err != nil {
		return nil, err
	}
	summary.Counts = mutation.Count(plan.Mutants)
	summary.FinishedAt = time.Now()

	if st != nil && opts.RunTests {
		c := summary.Counts
		if err := st.SaveRun(context.WithoutCancel(ctx), store.Run{
			ID:         summary.RunID,
			Target:     plan.Target,
			Total:      c.Total,
			Killed:     c.Killed,
			Survived:   c.Survived,
			Timeouts:   c.Timeouts,
			Errors:     c.Errors,
			Score:      c.Score(),
			StartedAt:  summary.StartedAt,
			FinishedAt: summary.FinishedAt,
		}); err != nil {
			log.Warn("Failed to record run: %v", err)
		}
	}

	log.Info("Campaign finished: %d mutants, %d killed, %d survived, score %d%%",
		summary.Counts.Total, summary.Counts.Killed, summary.Counts.Survived, summary.Score())
	return summary, runErr
}

// testMutants runs the baseline and then every mutant, checkpointing the
// reports as it goes.
func testMutants(ctx context.Context, opts Options, plan *Plan, outDir string, st *store.Store, input report.Input) (*runner.BaselineResult, error) {
	r, err := newRunner(opts, plan.Target, excludedPaths(opts.Workspace, outDir, opts.Config))
	if err != nil {
		return nil, err
	}
	defer closeRunner(r)

	if st != nil && !opts.NoCache {
		r.WithCache(st)
	}
	if opts.Observer != nil {
		r.WithObserver(opts.Observer)
	}
	r.WithCheckpoint(func([]*mutation.Mutant) error {
		return report.WriteCheckpoint(outDir, input)
	})

	baseline, err := r.Baseline(ctx)
	if err != nil {
		return baseline, err
	}
	return baseline, r.Run(ctx, plan.Mutants)
}

// Test runs the unmutated suite once in a scratch copy of the workspace.
func Test(ctx context.Context, opts Options) (*runner.BaselineResult, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("%w: no configuration", config.ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	target, err := relativeTarget(opts.Workspace, cfg.Target)
	if err != nil {
		return nil, err
	}
	outDir := config.ResolvePath(opts.Workspace, cfg.Output.Dir)
	r, err := newRunner(opts, target, excludedPaths(opts.Workspace, outDir, cfg))
	if err != nil {
		return nil, err
	}
	defer closeRunner(r)
	return r.Baseline(ctx)
}

// Rebuild regenerates every artifact in dir from its mutation_results.json.
// The routine source file is rebuilt from the current target when it still
// parses; otherwise it is written without routines.
func Rebuild(workspace string, cfg *config.Config, dir string) (report.Paths, error) {
	mutants, err := report.Load(dir)
	if err != nil {
		return report.Paths{}, err
	}

	opts := report.Options{
		Title:           cfg.Output.Title,
		Target:          cfg.Target,
		Tested:          report.AnyTested(mutants),
		SurvivorPreview: cfg.Output.SurvivorPreview,
		TestOutputLimit: cfg.Output.TestOutputLimit,
	}
	var routines []source.RoutineSource
	if target, err := relativeTarget(workspace, cfg.Target); err == nil {
		opts.Target = target
		if f, err := source.Load(config.ResolvePath(workspace, cfg.Target)); err == nil {
			routines = report.SelectRoutines(f, mutants, cfg.Routines)
		} else {
			logging.CampaignWarn("Rebuilding without routine sources: %v", err)
		}
	}
	logging.Campaign("Rebuilding reports in %s from %d mutants", dir, len(mutants))
	return report.WriteAll(dir, report.Input{Mutants: mutants, Routines: routines, Options: opts})
}

func newRunner(opts Options, target string, exclude []string) (*runner.Runner, error) {
	cfg := opts.Config

	executor := opts.Executor
	if executor == nil {
		var err error
		executor, err = NewExecutor(cfg)
		if err != nil {
			return nil, err
		}
	}

	var sandbox *tactile.SandboxConfig
	if cfg.Execution.Sandbox == config.SandboxDocker {
		sandbox = &tactile.SandboxConfig{
			Mode:      tactile.SandboxDocker,
			Image:     cfg.Execution.DockerImage,
			MountPath: tactile.DefaultMountPath,
		}
	}

	return runner.New(executor, runner.Options{
		ProjectDir:      opts.Workspace,
		Target:          filepath.FromSlash(target),
		Tests:           cfg.Tests,
		Python:          cfg.Python,
		PytestArgs:      cfg.PytestArgs,
		Workers:         cfg.Execution.Workers,
		Timeout:         cfg.GetTimeout(),
		Sandbox:         sandbox,
		Exclude:         exclude,
		CheckpointEvery: cfg.Output.CheckpointEvery,
	})
}

func closeRunner(r *runner.Runner) {
	if err := r.Close(); err != nil {
		logging.CampaignWarn("Failed to remove workspaces: %v", err)
	}
}

// relativeTarget returns the target relative to the workspace, slash
// separated. Targets outside the workspace are rejected.
func relativeTarget(workspace, target string) (string, error) {
	rel, err := filepath.Rel(workspace, config.ResolvePath(workspace, target))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: target %s is outside the workspace %s", config.ErrInvalid, target, workspace)
	}
	return filepath.ToSlash(rel), nil
}

// NewExecutor builds the executor for the configured sandbox.
func NewExecutor(cfg *config.Config) (tactile.Executor, error) {
	execCfg := tactile.DefaultExecutorConfig()
	execCfg.DefaultTimeout = cfg.GetTimeout()
	execCfg.MaxOutputBytes = int64(cfg.Execution.MaxOutputBytes)
	execCfg.AllowedEnvironment = cfg.Execution.AllowedEnvVars
	execCfg.DockerImage = cfg.Execution.DockerImage
	return tactile.NewExecutor(tactile.SandboxMode(cfg.Execution.Sandbox), execCfg)
}

// excludedPaths keeps the output directory and the store out of worker
// copies when they live inside the workspace.
func excludedPaths(workspace, outDir string, cfg *config.Config) []string {
	var out []string
	for _, p := range []string{outDir, filepath.Dir(config.ResolvePath(workspace, cfg.Store.Path))} {
		rel, err := filepath.Rel(workspace, p)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		out = append(out, rel)
	}
	return out
}
