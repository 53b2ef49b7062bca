// Package runner executes the Python test suite against each mutant and
// classifies the outcome. Every worker runs in its own copy of the project
// so mutants can be tested in parallel without touching the user's tree.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mutiny/internal/logging"
	"mutiny/internal/mutation"
	"mutiny/internal/tactile"
)

// ErrBaselineFailed is returned when the unmutated suite does not pass.
// Mutants cannot be classified against a failing suite.
var ErrBaselineFailed = errors.New("baseline test run failed")

// Cache replays outcomes of previously tested mutants.
type Cache interface {
	Lookup(ctx context.Context, key string) (mutation.Outcome, bool, error)
	Record(ctx context.Context, key string, outcome mutation.Outcome) error
}

// Options configures a Runner.
type Options struct {
	// ProjectDir is copied once per worker.
	ProjectDir string

	// Target is the file under mutation, relative to ProjectDir.
	Target string

	// Tests are pytest paths relative to ProjectDir.
	Tests []string

	Python     string
	PytestArgs []string

	Workers int
	Timeout time.Duration

	// Sandbox settings are passed to the executor on every command.
	Sandbox *tactile.SandboxConfig

	// Exclude holds ProjectDir-relative paths left out of worker copies.
	Exclude []string

	// CheckpointEvery invokes the checkpoint callback after this many
	// completed mutants. 0 disables checkpoints.
	CheckpointEvery int

	// TempDir holds worker workspaces. Empty uses the system temp dir.
	TempDir string
}

// EventKind identifies a progress event.
type EventKind int

const (
	EventStarted EventKind = iota
	EventFinished
)

// Event reports progress of a run.
type Event struct {
	Kind      EventKind
	Mutant    *mutation.Mutant
	Cached    bool
	Completed int
	Total     int
	Counts    mutation.Counts
}

// Observer receives progress events. Calls are serialized.
type Observer func(Event)

// CheckpointFunc receives the full mutant list after every checkpoint
// interval. Mutants must not be retained past the call.
type CheckpointFunc func(mutants []*mutation.Mutant) error

// BaselineResult describes the unmutated run.
type BaselineResult struct {
	Duration      time.Duration
	Summary       PytestSummary
	Output        string
	PythonVersion string
}

// Runner tests mutants.
type Runner struct {
	opts       Options
	executor   tactile.Executor
	cache      Cache
	observer   Observer
	checkpoint CheckpointFunc

	mu            sync.Mutex
	original      []byte
	workDir       string
	workspaces    []*Workspace
	normalizer    *Normalizer
	projectDigest string
	pyVersion     string
}

// New creates a runner. No files are copied until the first run.
func New(executor tactile.Executor, opts Options) (*Runner, error) {
	if opts.ProjectDir == "" || opts.Target == "" {
		return nil, fmt.Errorf("runner needs a project directory and a target")
	}
	if opts.Python == "" {
		opts.Python = "python3"
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	original, err := os.ReadFile(filepath.Join(opts.ProjectDir, opts.Target))
	if err != nil {
		return nil, fmt.Errorf("failed to read target: %w", err)
	}
	return &Runner{opts: opts, executor: executor, original: original}, nil
}

// WithCache enables outcome replay.
func (r *Runner) WithCache(c Cache) *Runner {
	r.cache = c
	return r
}

// WithObserver sets the progress observer.
func (r *Runner) WithObserver(o Observer) *Runner {
	r.observer = o
	return r
}

// WithCheckpoint sets the checkpoint callback.
func (r *Runner) WithCheckpoint(fn CheckpointFunc) *Runner {
	r.checkpoint = fn
	return r
}

// Close removes all worker workspaces.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, ws := range r.workspaces {
		if err := ws.Remove(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.workDir != "" {
		if err := os.RemoveAll(r.workDir); err != nil {
			errs = append(errs, err)
		}
	}
	r.workspaces = nil
	r.workDir = ""
	return errors.Join(errs...)
}

// prepare creates the worker workspaces and the per-run cache inputs once.
func (r *Runner) prepare(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.workspaces != nil {
		return nil
	}

	timer := logging.StartTimer(logging.CategoryRunner, "prepare workspaces")
	defer timer.Stop()

	digest, err := DigestProject(r.opts.ProjectDir, r.opts.Tests, r.opts.Exclude)
	if err != nil {
		return err
	}
	r.projectDigest = digest

	workDir, err := os.MkdirTemp(r.opts.TempDir, "mutiny-")
	if err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	r.workDir = workDir

	paths := []string{}
	for i := 0; i < r.opts.Workers; i++ {
		ws, err := NewWorkspace(r.opts.ProjectDir, workDir, r.opts.Target, r.opts.Exclude)
		if err != nil {
			return err
		}
		r.workspaces = append(r.workspaces, ws)
		paths = append(paths, ws.Root)
	}
	if r.opts.Sandbox != nil && r.opts.Sandbox.Mode == tactile.SandboxDocker {
		mount := r.opts.Sandbox.MountPath
		if mount == "" {
			mount = tactile.DefaultMountPath
		}
		paths = append(paths, mount)
	}
	paths = append(paths, r.opts.ProjectDir)
	r.normalizer = NewNormalizer(paths...)
	r.pyVersion = r.pythonVersion(ctx, r.workspaces[0])

	logging.Runner("Prepared %d workspaces in %s (python %s)", len(r.workspaces), workDir, r.pyVersion)
	return nil
}

// pythonVersion asks the interpreter for its version. It is part of the
// cache key, so a failure only means "unknown".
func (r *Runner) pythonVersion(ctx context.Context, ws *Workspace) string {
	res, err := r.executor.Execute(ctx, tactile.Command{
		Binary:           r.opts.Python,
		Arguments:        []string{"--version"},
		WorkingDirectory: ws.Root,
		Timeout:          r.opts.Timeout,
		Sandbox:          r.opts.Sandbox,
	})
	if err != nil || res.IsError() || res.ExitCode != 0 {
		return "unknown"
	}
	return strings.TrimSpace(res.Output())
}

// pytestCommand builds `<python> -m pytest <tests...> <args...>` for a
// workspace.
func (r *Runner) pytestCommand(ws *Workspace) tactile.Command {
	args := []string{"-m", "pytest"}
	args = append(args, r.opts.Tests...)
	args = append(args, r.opts.PytestArgs...)
	return tactile.Command{
		Binary:           r.opts.Python,
		Arguments:        args,
		WorkingDirectory: ws.Root,
		Environment:      []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONHASHSEED=0", "PYTHONPATH=" + r.pythonPath(ws)},
		Timeout:          r.opts.Timeout,
		Sandbox:          r.opts.Sandbox,
	}
}

// pythonPath puts the worker copy ahead of anything installed, so an
// editable install of the project cannot shadow the mutated file. A src/
// layout root is added after the copy root when the project has one.
func (r *Runner) pythonPath(ws *Workspace) string {
	if sb := r.opts.Sandbox; sb != nil && sb.Mode == tactile.SandboxDocker {
		mount := sb.MountPath
		if mount == "" {
			mount = tactile.DefaultMountPath
		}
		entries := []string{mount}
		if isDir(filepath.Join(ws.Root, "src")) {
			entries = append(entries, path.Join(mount, "src"))
		}
		return strings.Join(entries, ":")
	}

	entries := []string{ws.Root}
	if src := filepath.Join(ws.Root, "src"); isDir(src) {
		entries = append(entries, src)
	}
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		entries = append(entries, existing)
	}
	return strings.Join(entries, string(os.PathListSeparator))
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// commandLine is the host-independent form of the pytest command used in
// cache keys.
func (r *Runner) commandLine() string {
	parts := append([]string{r.opts.Python, "-m", "pytest"}, r.opts.Tests...)
	return strings.Join(append(parts, r.opts.PytestArgs...), " ")
}

// Baseline runs the unmutated suite once.
func (r *Runner) Baseline(ctx context.Context) (*BaselineResult, error) {
	if err := r.prepare(ctx); err != nil {
		return nil, err
	}
	ws := r.workspaces[0]
	cmd := r.pytestCommand(ws)
	logging.Runner("Baseline: %s", cmd.CommandString())

	res, err := r.executor.Execute(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	out := r.normalizer.Normalize(res.Output())
	result := &BaselineResult{
		Duration:      res.Duration,
		Summary:       ParsePytestOutput(out).Summary,
		Output:        out,
		PythonVersion: r.pyVersion,
	}

	switch {
	case res.TimedOut():
		return result, fmt.Errorf("%w: timed out after %s", ErrBaselineFailed, r.opts.Timeout)
	case res.IsError():
		return result, fmt.Errorf("%w: %s", ErrBaselineFailed, res.Error)
	case res.ExitCode != 0:
		return result, fmt.Errorf("%w: pytest exited with code %d\n%s", ErrBaselineFailed, res.ExitCode, tail(out, 2000))
	}
	logging.Runner("Baseline passed: %d passed in %s", result.Summary.Passed, res.Duration)
	return result, nil
}

// Run tests every mutant and records the outcome on it. Results are written
// to the mutant they belong to, so the final list does not depend on worker
// scheduling. When ctx is cancelled, untested mutants keep NOT_TESTED and
// ctx.Err() is returned.
func (r *Runner) Run(ctx context.Context, mutants []*mutation.Mutant) error {
	if err := r.prepare(ctx); err != nil {
		return err
	}

	timer := logging.StartTimer(logging.CategoryRunner, "test mutants")
	defer timer.StopWithInfo()

	pool := make(chan *Workspace, len(r.workspaces))
	for _, ws := range r.workspaces {
		pool <- ws
	}

	p := &progress{runner: r, mutants: mutants, counts: mutation.Counts{Total: len(mutants)}}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(r.workspaces))

	for _, m := range mutants {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			ws := <-pool
			defer func() { pool <- ws }()

			p.emit(Event{Kind: EventStarted, Mutant: m})
			outcome, cached, err := r.testMutant(gctx, ws, m)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			return p.finish(m, outcome, cached)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		logging.RunnerWarn("Run cancelled after %d of %d mutants", p.completed, len(mutants))
		return err
	}
	logging.Runner("Tested %d mutants: %d killed, %d survived, %d timeouts, %d errors (score %d%%)",
		len(mutants), p.counts.Killed, p.counts.Survived, p.counts.Timeouts, p.counts.Errors, p.counts.Score())
	return nil
}

// progress serializes outcome recording, observer calls and checkpoints.
type progress struct {
	runner    *Runner
	mutants   []*mutation.Mutant
	mu        sync.Mutex
	completed int
	counts    mutation.Counts
}

func (p *progress) emit(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitLocked(e)
}

func (p *progress) emitLocked(e Event) {
	if p.runner.observer == nil {
		return
	}
	e.Completed = p.completed
	e.Total = len(p.mutants)
	e.Counts = p.counts
	p.runner.observer(e)
}

func (p *progress) finish(m *mutation.Mutant, o mutation.Outcome, cached bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	m.Record(o)
	p.completed++
	p.counts.Add(o.Status)
	p.counts.NotTested = p.counts.Total - p.completed
	logging.RunnerDebug("Mutant #%d %s -> %s (cached=%v)", m.ID, m.Operator, o.Status, cached)
	p.emitLocked(Event{Kind: EventFinished, Mutant: m, Cached: cached})

	every := p.runner.opts.CheckpointEvery
	if every > 0 && p.runner.checkpoint != nil && p.completed%every == 0 {
		logging.RunnerDebug("Checkpoint after %d mutants", p.completed)
		if err := p.runner.checkpoint(p.mutants); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
	}
	return nil
}

// testMutant returns the outcome for one mutant, replaying the cache when
// possible. The returned error is fatal for the run.
func (r *Runner) testMutant(ctx context.Context, ws *Workspace, m *mutation.Mutant) (mutation.Outcome, bool, error) {
	key := CacheKey(r.original, m.MutatedLine, m.LineNumber, r.projectDigest, r.commandLine(), r.pyVersion)
	if r.cache != nil {
		o, ok, err := r.cache.Lookup(ctx, key)
		if err != nil {
			logging.RunnerWarn("Cache lookup failed for mutant #%d: %v", m.ID, err)
		} else if ok {
			return o, true, nil
		}
	}

	mutated, err := mutation.Apply(m, r.original)
	if err != nil {
		return mutation.Outcome{Status: mutation.StatusError, TestOutput: err.Error(), KilledBy: []string{}}, false, nil
	}
	if err := ws.Write(mutated); err != nil {
		return mutation.Outcome{}, false, err
	}
	res, execErr := r.executor.Execute(ctx, r.pytestCommand(ws))
	if err := ws.Restore(); err != nil {
		return mutation.Outcome{}, false, err
	}
	if execErr != nil {
		return mutation.Outcome{}, false, fmt.Errorf("mutant %d: %w", m.ID, execErr)
	}
	if ctx.Err() != nil {
		return mutation.Outcome{}, false, ctx.Err()
	}

	o := Classify(res, r.normalizer)
	if r.cache != nil && (o.Status == mutation.StatusKilled || o.Status == mutation.StatusSurvived) {
		if err := r.cache.Record(ctx, key, o); err != nil {
			logging.RunnerWarn("Cache record failed for mutant #%d: %v", m.ID, err)
		}
	}
	return o, false, nil
}

// TimeoutOutput is stored for TIMEOUT mutants in place of whatever partial
// output the killed process left.
const TimeoutOutput = "Test execution timed out"

// Classify maps an execution result to a mutant outcome:
// timeout => TIMEOUT, infrastructure failure => ERROR,
// non-zero exit => KILLED, zero exit => SURVIVED.
func Classify(res *tactile.ExecutionResult, n *Normalizer) mutation.Outcome {
	if n == nil {
		n = NewNormalizer()
	}
	out := n.Normalize(res.Output())
	switch {
	case res.TimedOut():
		return mutation.Outcome{Status: mutation.StatusTimeout, TestOutput: TimeoutOutput, KilledBy: []string{}}
	case res.IsError():
		msg := res.Error
		if out != "" {
			msg += "\n" + out
		}
		return mutation.Outcome{Status: mutation.StatusError, TestOutput: n.Normalize(msg), KilledBy: []string{}}
	case res.ExitCode != 0:
		return mutation.Outcome{Status: mutation.StatusKilled, TestOutput: out, KilledBy: ParsePytestOutput(out).FailedIDs()}
	default:
		return mutation.Outcome{Status: mutation.StatusSurvived, TestOutput: out, KilledBy: []string{}}
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
