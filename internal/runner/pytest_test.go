package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mutiny/internal/mutation"
	"mutiny/internal/report"
	"mutiny/internal/tactile"
)

const classFailure = `============================= test session starts ==============================
collected 12 items

tests/test_encoders.py::TestEncoder::test_isoformat PASSED               [  8%]
tests/test_encoders.py::TestEncoder::test_decimal FAILED                 [ 16%]

=================================== FAILURES ===================================
__________________________ TestEncoder.test_decimal ___________________________
tests/test_encoders.py:31: in test_decimal
    assert decimal_encoder(Decimal("1.5")) == 1.5
E   AssertionError: assert 1 == 1.5
=========================== short test summary info ============================
FAILED tests/test_encoders.py::TestEncoder::test_decimal - AssertionError: assert 1 == 1.5
!!!!!!!!!!!!!!!!!!!!!!!!!! stopping after 1 failures !!!!!!!!!!!!!!!!!!!!!!!!!!!
=================== 1 failed, 1 passed, 2 warnings in 0.12s ====================
`

const collectionError = `==================================== ERRORS ====================================
__________________ ERROR collecting tests/test_encoders.py ___________________
tests/test_encoders.py:3: in <module>
    from fastapi.encoders import jsonable_encoder
E     File "fastapi/encoders.py", line 12
E       if not (x:
E                ^
E   SyntaxError: '(' was never closed
=========================== short test summary info ============================
ERROR tests/test_encoders.py
!!!!!!!!!!!!!!!!!!!! Interrupted: 1 error during collection !!!!!!!!!!!!!!!!!!!!
=============================== 1 error in 0.20s ===============================
`

func TestParsePytestOutput(t *testing.T) {
	res := ParsePytestOutput(classFailure)
	want := []PytestFailure{{
		NodeID:  "tests/test_encoders.py::TestEncoder::test_decimal",
		Message: "AssertionError: assert 1 == 1.5",
	}}
	if diff := cmp.Diff(want, res.Failures); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, PytestSummary{Passed: 1, Failed: 1, Warnings: 2, Found: true}, res.Summary)
}

func TestParsePytestOutput_CollectionError(t *testing.T) {
	res := ParsePytestOutput(collectionError)
	assert.Equal(t, []string{"tests/test_encoders.py"}, res.FailedIDs())
	assert.Equal(t, 1, res.Summary.Errors)
}

func TestParsePytestOutput_BlockHeadersOnly(t *testing.T) {
	out := "=================================== FAILURES ===================================\n" +
		"_________________________________ test_roundtrip _________________________________\n" +
		"E   assert False\n" +
		"============================== 1 failed in 0.01s ===============================\n"
	res := ParsePytestOutput(out)
	assert.Equal(t, []string{"test_roundtrip"}, res.FailedIDs())
	assert.Equal(t, 1, res.Summary.Failed)
}

func TestParsePytestOutput_Passing(t *testing.T) {
	res := ParsePytestOutput("tests/test_a.py::test_x PASSED [100%]\n============ 1 passed in 0.01s ============\n")
	assert.Empty(t, res.Failures)
	assert.NotNil(t, res.FailedIDs())
	assert.Equal(t, 1, res.Summary.Passed)
}

func TestNormalizer(t *testing.T) {
	n := NewNormalizer("/tmp/mutiny-1/worker-2", "/tmp/mutiny-1")
	in := "rootdir: /tmp/mutiny-1/worker-2\r\n" +
		"2024-05-01 12:00:00.123456 started\n" +
		"<Thing object at 0x7f3a2c1b9d30>\n" +
		"tmp_path: /tmp/pytest-of-ci/pytest-42/test_x0\n" +
		"0.51s call     tests/test_a.py::test_slow\n" +
		"=== 1 failed in 1.23s (0:00:01) ==="
	want := "rootdir: <workspace>\n" +
		"<timestamp> started\n" +
		"<Thing object at 0x<addr>>\n" +
		"tmp_path: /tmp/pytest-of-<user>/pytest-<n>/test_x0\n" +
		"<duration> call     tests/test_a.py::test_slow\n" +
		"=== 1 failed in <duration> ==="
	assert.Equal(t, want, n.Normalize(in))
	assert.Equal(t, n.Normalize(in), n.Normalize(n.Normalize(in)))
}

func TestNormalizer_HostIndependentResults(t *testing.T) {
	const body = "rootdir: %[1]s\n" +
		"plugins: %[2]s\n" +
		"collected 2 items\n\n" +
		"tests/test_calc.py .F\n\n" +
		"%[3]s/decimal.py:12: in quantize\n" +
		"    raise ValueError\n" +
		"FAILED tests/test_calc.py::test_add - assert 1 == 2\n" +
		"=== 1 failed, 1 passed in %[4]s ===\n"
	linux := "============================= test session starts ==============================\n" +
		"platform linux -- Python 3.12.1, pytest-8.0.0, pluggy-1.4.0 -- /usr/bin/python3\n" +
		"cachedir: .pytest_cache\n" +
		fmt.Sprintf(body, "/tmp/mutiny-1/worker-0", "cov-4.1.0", "/usr/lib/python3.12", "0.12s")
	darwin := "============================= test session starts ==============================\r\n" +
		"platform darwin -- Python 3.12.4, pytest-8.2.1, pluggy-1.5.0 -- /opt/homebrew/bin/python3\r\n" +
		"cachedir: /Users/dev/calc/.pytest_cache\r\n" +
		strings.ReplaceAll(fmt.Sprintf(body, "/private/var/folders/xy/T/mutiny-9/worker-3", "cov-5.0.0, xdist-3.5.0",
			"/opt/homebrew/Cellar/python@3.12/3.12.4/Frameworks/Python.framework/Versions/3.12/lib/python3.12", "0.31s"), "\n", "\r\n")

	render := func(output, root string) []byte {
		o := Classify(&tactile.ExecutionResult{Success: true, ExitCode: 1, Combined: output}, NewNormalizer(root))
		m := &mutation.Mutant{ID: 1, Operator: "arithmetic", LineNumber: 2, Status: mutation.StatusNotTested}
		m.Record(o)
		data, err := report.RenderJSON([]*mutation.Mutant{m})
		require.NoError(t, err)
		return data
	}
	a := render(linux, "/tmp/mutiny-1/worker-0")
	b := render(darwin, "/private/var/folders/xy/T/mutiny-9/worker-3")
	if diff := cmp.Diff(string(a), string(b)); diff != "" {
		t.Errorf("results differ across hosts (-linux +darwin):\n%s", diff)
	}
	assert.NotContains(t, string(a), "/usr/bin/python3")
	assert.NotContains(t, string(b), "homebrew")
	assert.Contains(t, string(a), "platform <host>")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		res    tactile.ExecutionResult
		status mutation.Status
	}{
		{"timeout", tactile.ExecutionResult{Success: true, Killed: true, KillReason: "timeout after 30s", ExitCode: -1}, mutation.StatusTimeout},
		{"infrastructure", tactile.ExecutionResult{Success: false, Error: "docker is not available"}, mutation.StatusError},
		{"failing tests", tactile.ExecutionResult{Success: true, ExitCode: 1, Combined: classFailure}, mutation.StatusKilled},
		{"collection error", tactile.ExecutionResult{Success: true, ExitCode: 2, Combined: collectionError}, mutation.StatusKilled},
		{"passing", tactile.ExecutionResult{Success: true, ExitCode: 0}, mutation.StatusSurvived},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Classify(&tt.res, nil)
			assert.Equal(t, tt.status, o.Status)
			assert.NotNil(t, o.KilledBy)
		})
	}

	o := Classify(&tactile.ExecutionResult{Success: true, Killed: true, KillReason: "timeout after 30s", ExitCode: -1, Combined: "tests/test_a.py ..."}, nil)
	assert.Equal(t, TimeoutOutput, o.TestOutput, "partial output of a killed run is not kept")

	o = Classify(&tactile.ExecutionResult{Success: true, ExitCode: 1, Combined: classFailure}, nil)
	assert.Equal(t, []string{"tests/test_encoders.py::TestEncoder::test_decimal"}, o.KilledBy)
	assert.Contains(t, o.TestOutput, "in <duration>")
}

func TestCacheKey(t *testing.T) {
	base := CacheKey([]byte("x = 1\n"), "x = 0", 1, "d", "python3 -m pytest tests", "Python 3.12.1")
	assert.Len(t, base, 64)
	assert.Equal(t, base, CacheKey([]byte("x = 1\n"), "x = 0", 1, "d", "python3 -m pytest tests", "Python 3.12.1"))

	variants := []string{
		CacheKey([]byte("x = 2\n"), "x = 0", 1, "d", "python3 -m pytest tests", "Python 3.12.1"),
		CacheKey([]byte("x = 1\n"), "x = 2", 1, "d", "python3 -m pytest tests", "Python 3.12.1"),
		CacheKey([]byte("x = 1\n"), "x = 0", 2, "d", "python3 -m pytest tests", "Python 3.12.1"),
		CacheKey([]byte("x = 1\n"), "x = 0", 1, "e", "python3 -m pytest tests", "Python 3.12.1"),
		CacheKey([]byte("x = 1\n"), "x = 0", 1, "d", "python3 -m pytest tests -x", "Python 3.12.1"),
		CacheKey([]byte("x = 1\n"), "x = 0", 1, "d", "python3 -m pytest tests", "Python 3.11.9"),
		// field boundaries are length-prefixed
		CacheKey([]byte("x = 1\nx = 0"), "", 1, "d", "python3 -m pytest tests", "Python 3.12.1"),
	}
	for i, v := range variants {
		assert.NotEqual(t, base, v, "variant %d", i)
	}
}

func TestDigestProject(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{"tests/__pycache__", "pkg", ".venv/lib", "mutation_output"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, p), 0755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tests", "test_a.py"), []byte("def test_a(): pass\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tests", "__pycache__", "x.pyc"), []byte("junk"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "calc.py"), []byte("from pkg.util import one\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "util.py"), []byte("def one(): return 1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".venv", "lib", "site.py"), []byte("x = 1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mutation_output", "tested_routines_source.py"), []byte("x = 1\n"), 0644))
	exclude := []string{"mutation_output"}

	first, err := DigestProject(dir, []string{"tests"}, exclude)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tests", "__pycache__", "x.pyc"), []byte("other"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".venv", "lib", "site.py"), []byte("x = 2\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mutation_output", "tested_routines_source.py"), []byte("x = 2\n"), 0644))
	same, err := DigestProject(dir, []string{"tests/test_a.py::test_a", "tests"}, exclude)
	require.NoError(t, err)
	assert.Equal(t, first, same, "caches, virtualenvs, excluded paths and node ids do not change the digest")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "util.py"), []byte("def one(): return 2\n"), 0644))
	withUtil, err := DigestProject(dir, []string{"tests"}, exclude)
	require.NoError(t, err)
	assert.NotEqual(t, first, withUtil, "an imported module changed")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "conftest.py"), []byte("import pytest\n"), 0644))
	withConftest, err := DigestProject(dir, []string{"tests"}, exclude)
	require.NoError(t, err)
	assert.NotEqual(t, withUtil, withConftest)

	_, err = DigestProject(dir, []string{"missing"}, exclude)
	assert.Error(t, err)
}

func TestWorkspace(t *testing.T) {
	src := t.TempDir()
	for _, p := range []string{"pkg", "mutation_output", ".venv/lib", "env", "tests/__pycache__"} {
		require.NoError(t, os.MkdirAll(filepath.Join(src, p), 0755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(src, "pkg", "mod.py"), []byte("x = 1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "mutation_output", "mutation_results.json"), []byte("[]"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "env", "pyvenv.cfg"), []byte("home = /usr\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "tests", "__pycache__", "t.pyc"), []byte("x"), 0644))

	ws, err := NewWorkspace(src, t.TempDir(), "pkg/mod.py", []string{"mutation_output"})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(ws.Root, "pkg", "mod.py"))
	assert.NoDirExists(t, filepath.Join(ws.Root, "mutation_output"))
	assert.NoDirExists(t, filepath.Join(ws.Root, ".venv"))
	assert.NoDirExists(t, filepath.Join(ws.Root, "env"))
	assert.NoDirExists(t, filepath.Join(ws.Root, "tests", "__pycache__"))

	require.NoError(t, ws.Write([]byte("x = 0\n")))
	data, _ := os.ReadFile(filepath.Join(ws.Root, "pkg", "mod.py"))
	assert.Equal(t, "x = 0\n", string(data))
	orig, _ := os.ReadFile(filepath.Join(src, "pkg", "mod.py"))
	assert.Equal(t, "x = 1\n", string(orig))

	require.NoError(t, ws.Restore())
	data, _ = os.ReadFile(filepath.Join(ws.Root, "pkg", "mod.py"))
	assert.Equal(t, "x = 1\n", string(data))

	require.NoError(t, ws.Remove())
	assert.NoDirExists(t, ws.Root)

	_, err = NewWorkspace(src, t.TempDir(), "pkg/missing.py", nil)
	assert.Error(t, err)
}
