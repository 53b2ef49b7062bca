package campaign

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mutiny/internal/config"
	"mutiny/internal/mutation"
	"mutiny/internal/report"
	"mutiny/internal/runner"
	"mutiny/internal/source"
	"mutiny/internal/store"
	"mutiny/internal/tactile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const calcSource = `def add(a, b):
    return a + b


def is_positive(n):
    return n > 0
`

// suiteExecutor passes the suite for the original source and for any
// mutant of is_positive, and fails it for mutants of add.
type suiteExecutor struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (e *suiteExecutor) Execute(ctx context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	if len(cmd.Arguments) > 0 && cmd.Arguments[0] == "--version" {
		return &tactile.ExecutionResult{Success: true, Combined: "Python 3.12.1\n"}, nil
	}
	e.mu.Lock()
	e.calls++
	fail := e.fail
	e.mu.Unlock()

	content, err := os.ReadFile(filepath.Join(cmd.WorkingDirectory, "calc.py"))
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(content), "\n")
	if fail || lines[1] != "    return a + b" {
		return &tactile.ExecutionResult{
			Success:  true,
			ExitCode: 1,
			Combined: "FAILED tests/test_calc.py::test_add - assert 0 == 3\n==== 1 failed in 0.02s ====\n",
		}, nil
	}
	return &tactile.ExecutionResult{Success: true, Combined: "==== 2 passed in 0.01s ====\n"}, nil
}

func (e *suiteExecutor) Capabilities() tactile.ExecutorCapabilities {
	return tactile.ExecutorCapabilities{Name: "suite"}
}

func (e *suiteExecutor) Validate(cmd tactile.Command) error { return nil }

func (e *suiteExecutor) pytestCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func setupWorkspace(t *testing.T) (string, *config.Config) {
	t.Helper()
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "tests"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "calc.py"), []byte(calcSource), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "tests", "test_calc.py"), []byte("def test_add():\n    pass\n"), 0644))

	cfg := config.DefaultConfig()
	cfg.Target = "calc.py"
	cfg.Execution.Workers = 2
	cfg.Output.CheckpointEvery = 1
	return ws, cfg
}

func TestRun_GenerateOnly(t *testing.T) {
	ws, cfg := setupWorkspace(t)

	summary, err := Run(context.Background(), Options{Workspace: ws, Config: cfg})
	require.NoError(t, err)

	assert.Equal(t, "calc.py", summary.Target)
	assert.False(t, summary.Tested)
	assert.Nil(t, summary.Baseline)
	assert.NotEmpty(t, summary.Mutants)
	assert.Equal(t, summary.Counts.Total, summary.Counts.NotTested)
	assert.NotEmpty(t, summary.RunID)

	for _, p := range summary.Paths.All() {
		assert.FileExists(t, p)
	}
	analysis, err := os.ReadFile(summary.Paths.Analysis)
	require.NoError(t, err)
	assert.Contains(t, string(analysis), "not measured")

	st, err := store.Open(cfg.Store.Driver, filepath.Join(ws, cfg.Store.Path))
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.Runs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "untested campaigns are not recorded")
}

func TestRun_WithTests(t *testing.T) {
	ws, cfg := setupWorkspace(t)
	exec := &suiteExecutor{}

	var mu sync.Mutex
	finished := 0
	summary, err := Run(context.Background(), Options{
		Workspace: ws,
		Config:    cfg,
		RunTests:  true,
		Executor:  exec,
		Observer: func(ev runner.Event) {
			if ev.Kind == runner.EventFinished {
				mu.Lock()
				finished++
				mu.Unlock()
			}
		},
	})
	require.NoError(t, err)
	require.NotNil(t, summary.Baseline)
	assert.Equal(t, 2, summary.Baseline.Summary.Passed)
	assert.Equal(t, "Python 3.12.1", summary.Baseline.PythonVersion)

	c := summary.Counts
	assert.Zero(t, c.NotTested)
	assert.Positive(t, c.Killed)
	assert.Positive(t, c.Survived)
	assert.Equal(t, c.Total, finished)
	for _, m := range summary.Mutants {
		if m.RoutineName == "add" {
			assert.Equal(t, mutation.StatusKilled, m.Status, "mutant #%d", m.ID)
			assert.Equal(t, []string{"tests/test_calc.py::test_add"}, m.KilledBy)
		}
		if m.RoutineName == "is_positive" {
			assert.Equal(t, mutation.StatusSurvived, m.Status, "mutant #%d", m.ID)
		}
	}

	loaded, err := report.Load(filepath.Join(ws, cfg.Output.Dir))
	require.NoError(t, err)
	assert.Len(t, loaded, c.Total)

	original, err := os.ReadFile(filepath.Join(ws, "calc.py"))
	require.NoError(t, err)
	assert.Equal(t, calcSource, string(original), "workspace target is never modified")

	st, err := store.Open(cfg.Store.Driver, filepath.Join(ws, cfg.Store.Path))
	require.NoError(t, err)
	run, err := st.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.Equal(t, c.Killed, run.Killed)
	assert.Equal(t, summary.Score(), run.Score)

	// Second run replays every outcome from the store.
	before := exec.pytestCalls()
	again, err := Run(context.Background(), Options{Workspace: ws, Config: cfg, RunTests: true, Executor: exec})
	require.NoError(t, err)
	assert.Equal(t, c, again.Counts)
	assert.Equal(t, before+1, exec.pytestCalls(), "only the baseline runs")
	assert.NotEqual(t, summary.RunID, again.RunID)

	// NoCache runs every mutant again.
	before = exec.pytestCalls()
	_, err = Run(context.Background(), Options{Workspace: ws, Config: cfg, RunTests: true, NoCache: true, Executor: exec})
	require.NoError(t, err)
	assert.Equal(t, before+1+c.Total, exec.pytestCalls())
}

func TestRun_BaselineFailure(t *testing.T) {
	ws, cfg := setupWorkspace(t)
	exec := &suiteExecutor{fail: true}

	summary, err := Run(context.Background(), Options{Workspace: ws, Config: cfg, RunTests: true, Executor: exec})
	require.ErrorIs(t, err, runner.ErrBaselineFailed)
	require.NotNil(t, summary)
	require.NotNil(t, summary.Baseline)
	assert.Equal(t, 1, summary.Baseline.Summary.Failed)
	assert.Equal(t, 1, exec.pytestCalls())
	assert.NoFileExists(t, filepath.Join(ws, cfg.Output.Dir, report.ResultsFile))
}

func TestRun_Cancelled(t *testing.T) {
	ws, cfg := setupWorkspace(t)
	cfg.Execution.Workers = 1
	exec := &suiteExecutor{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once
	summary, err := Run(ctx, Options{
		Workspace: ws,
		Config:    cfg,
		RunTests:  true,
		Executor:  exec,
		Observer: func(ev runner.Event) {
			if ev.Kind == runner.EventFinished {
				once.Do(cancel)
			}
		},
	})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Positive(t, summary.Counts.NotTested)

	loaded, err := report.Load(filepath.Join(ws, cfg.Output.Dir))
	require.NoError(t, err)
	assert.Len(t, loaded, summary.Counts.Total, "partial results keep every mutant")
}

func TestPrepare(t *testing.T) {
	ws, cfg := setupWorkspace(t)

	plan, err := Prepare(ws, cfg)
	require.NoError(t, err)
	assert.Equal(t, "calc.py", plan.Target)
	require.NotEmpty(t, plan.Mutants)
	assert.True(t, strings.HasPrefix(plan.Mutants[0].UnifiedDiff, "--- a/calc.py\n+++ b/calc.py\n"))

	cfg.Target = filepath.Join("..", "elsewhere.py")
	_, err = Prepare(ws, cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)

	cfg.Target = ""
	_, err = Prepare(ws, cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = Run(context.Background(), Options{Workspace: ws})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestPrepare_SyntaxError(t *testing.T) {
	ws, cfg := setupWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "calc.py"), []byte("def add(a, b):\n    return a + b\n\ndef g(:\n    pass\n"), 0644))

	plan, err := Prepare(ws, cfg)
	require.ErrorIs(t, err, source.ErrSyntax)
	assert.Nil(t, plan)
	assert.Contains(t, err.Error(), "calc.py near line")
}

func TestExcludedPaths(t *testing.T) {
	cfg := config.DefaultConfig()
	got := excludedPaths("/ws", "/ws/mutation_output", cfg)
	assert.Equal(t, []string{"mutation_output", ".mutiny"}, got)

	cfg.Store.Path = "/var/lib/mutiny/results.db"
	got = excludedPaths("/ws", "/tmp/out", cfg)
	assert.Empty(t, got)
}

func TestTest(t *testing.T) {
	ws, cfg := setupWorkspace(t)

	res, err := Test(context.Background(), Options{Workspace: ws, Config: cfg, Executor: &suiteExecutor{}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summary.Passed)

	_, err = Test(context.Background(), Options{Workspace: ws, Config: cfg, Executor: &suiteExecutor{fail: true}})
	assert.ErrorIs(t, err, runner.ErrBaselineFailed)
}

func TestRebuild(t *testing.T) {
	ws, cfg := setupWorkspace(t)
	summary, err := Run(context.Background(), Options{Workspace: ws, Config: cfg, RunTests: true, Executor: &suiteExecutor{}})
	require.NoError(t, err)

	want := make(map[string][]byte)
	for _, p := range summary.Paths.All() {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		want[p] = data
		require.NoError(t, os.Remove(p))
	}
	require.NoError(t, os.WriteFile(summary.Paths.Results, want[summary.Paths.Results], 0644))

	paths, err := Rebuild(ws, cfg, filepath.Join(ws, cfg.Output.Dir))
	require.NoError(t, err)
	for _, p := range paths.All() {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, string(want[p]), string(data), "%s is regenerated identically", filepath.Base(p))
	}

	_, err = Rebuild(ws, cfg, t.TempDir())
	assert.ErrorIs(t, err, report.ErrNoResults)
}
