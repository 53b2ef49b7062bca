package tactile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestDirectExecutor_Execute(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "echo",
		Arguments: []string{"hello"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Errorf("Expected success, got failure: %s", result.Error)
	}
	if result.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Output(), "hello") {
		t.Errorf("Expected output to contain 'hello', got: %s", result.Output())
	}
	if result.SandboxUsed != SandboxNone {
		t.Errorf("Expected SandboxNone, got %s", result.SandboxUsed)
	}
}

func TestDirectExecutor_Timeout(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutor()

	start := time.Now()
	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sleep",
		Arguments: []string{"10"},
		Timeout:   300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout was not enforced")
	}
	if !result.Killed || !result.TimedOut() {
		t.Errorf("Expected timeout kill, got killed=%v reason=%q", result.Killed, result.KillReason)
	}
	if result.IsError() {
		t.Errorf("a timeout is not an infrastructure error: %s", result.Error)
	}
}

func TestDirectExecutor_NonZeroExit(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "echo failing >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsNonZeroExit() {
		t.Errorf("Expected non-zero exit, got %d", result.ExitCode)
	}
	if result.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Stderr, "failing") {
		t.Errorf("Expected stderr captured, got %q", result.Stderr)
	}
}

func TestDirectExecutor_InvalidCommand(t *testing.T) {
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary: "definitely-not-a-real-binary-mutiny",
	})
	if err != nil {
		t.Fatalf("Execute should record infrastructure failures in the result: %v", err)
	}
	if !result.IsError() {
		t.Error("Expected infrastructure error for missing binary")
	}
	if result.ExitCode != -1 {
		t.Errorf("Expected exit code -1, got %d", result.ExitCode)
	}
}

func TestDirectExecutor_WorkingDirectory(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := NewDirectExecutor().Execute(context.Background(), Command{
		Binary:           "ls",
		WorkingDirectory: dir,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(result.Stdout, "marker.txt") {
		t.Errorf("Expected listing of %s, got %q", dir, result.Stdout)
	}
}

func TestDirectExecutor_Environment(t *testing.T) {
	skipOnWindows(t)
	t.Setenv("MUTINY_SECRET_TEST", "leak")
	cfg := DefaultExecutorConfig()
	cfg.AllowedEnvironment = []string{"PATH"}

	result, err := NewDirectExecutorWithConfig(cfg).Execute(context.Background(), Command{
		Binary:      "sh",
		Arguments:   []string{"-c", "echo seed=$PYTHONHASHSEED secret=$MUTINY_SECRET_TEST"},
		Environment: []string{"PYTHONHASHSEED=0"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(result.Stdout, "seed=0") {
		t.Errorf("explicit variable missing: %q", result.Stdout)
	}
	if strings.Contains(result.Stdout, "leak") {
		t.Errorf("variable outside the allow-list leaked: %q", result.Stdout)
	}
}

func TestDirectExecutor_OutputTruncation(t *testing.T) {
	skipOnWindows(t)
	result, err := NewDirectExecutor().Execute(context.Background(), Command{
		Binary:         "sh",
		Arguments:      []string{"-c", "printf '0123456789abcdef'"},
		MaxOutputBytes: 8,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Truncated {
		t.Error("Expected truncation")
	}
	if result.Stdout != "01234567" {
		t.Errorf("Expected first 8 bytes, got %q", result.Stdout)
	}
	if result.TruncatedBytes != 8 {
		t.Errorf("Expected 8 discarded bytes, got %d", result.TruncatedBytes)
	}
}

func TestDirectExecutor_ContextCancellation(t *testing.T) {
	skipOnWindows(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	result, err := NewDirectExecutor().Execute(ctx, Command{
		Binary:    "sleep",
		Arguments: []string{"10"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Killed || result.KillReason != "context canceled" {
		t.Errorf("Expected cancellation, got killed=%v reason=%q", result.Killed, result.KillReason)
	}
	if result.TimedOut() {
		t.Error("cancellation must not be reported as a timeout")
	}
}

func TestDirectExecutor_Validate(t *testing.T) {
	executor := NewDirectExecutor()
	if err := executor.Validate(Command{}); err == nil {
		t.Error("Expected error for empty binary")
	}
	if err := executor.Validate(Command{Binary: "python3", Sandbox: &SandboxConfig{Mode: SandboxDocker}}); err == nil {
		t.Error("Expected error for docker sandbox on direct executor")
	}
	if err := executor.Validate(Command{Binary: "python3"}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if caps := executor.Capabilities(); caps.Name != "direct" {
		t.Errorf("Expected name direct, got %s", caps.Name)
	}
}

func TestCommand_CommandString(t *testing.T) {
	cmd := Command{Binary: "python3", Arguments: []string{"-m", "pytest", "tests"}}
	if got := cmd.CommandString(); got != "python3 -m pytest tests" {
		t.Errorf("unexpected %q", got)
	}
	if got := (Command{Binary: "pytest"}).CommandString(); got != "pytest" {
		t.Errorf("unexpected %q", got)
	}
}

func TestExecutionResult_Helpers(t *testing.T) {
	r := &ExecutionResult{Success: true, ExitCode: 1, Stdout: "out", Stderr: "err"}
	if !r.IsNonZeroExit() || r.IsError() {
		t.Error("non-zero exit misclassified")
	}
	if r.Output() != "out\nerr" {
		t.Errorf("unexpected output %q", r.Output())
	}

	r = &ExecutionResult{Success: false, Error: "exec: not found"}
	if !r.IsError() {
		t.Error("expected infrastructure error")
	}

	r = &ExecutionResult{Success: true, Killed: true, KillReason: "timeout after 30s"}
	if !r.TimedOut() {
		t.Error("expected timeout")
	}
}

func TestExecutorConfig_Merge(t *testing.T) {
	cfg := DefaultExecutorConfig()
	cfg.MaxTimeout = time.Minute

	merged := cfg.Merge(Command{Binary: "python3"})
	if merged.WorkingDirectory != "." {
		t.Errorf("expected default working dir, got %q", merged.WorkingDirectory)
	}
	if merged.Timeout != 30*time.Second {
		t.Errorf("expected default timeout, got %v", merged.Timeout)
	}
	if merged.MaxOutputBytes != cfg.MaxOutputBytes {
		t.Errorf("expected default output cap, got %d", merged.MaxOutputBytes)
	}

	merged = cfg.Merge(Command{Binary: "python3", Timeout: time.Hour})
	if merged.Timeout != time.Minute {
		t.Errorf("expected timeout capped at max, got %v", merged.Timeout)
	}
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, max: 5}
	n, err := lw.Write([]byte("abc"))
	if n != 3 || err != nil {
		t.Fatalf("unexpected write result %d %v", n, err)
	}
	n, _ = lw.Write([]byte("defg"))
	if n != 4 {
		t.Errorf("partial write must report full length, got %d", n)
	}
	lw.Write([]byte("hij"))
	if buf.String() != "abcde" || lw.discarded != 5 || !lw.truncated {
		t.Errorf("unexpected state buf=%q discarded=%d", buf.String(), lw.discarded)
	}
}

func TestNewExecutor(t *testing.T) {
	exec, err := NewExecutor(SandboxNone, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	if _, ok := exec.(*DirectExecutor); !ok {
		t.Errorf("expected DirectExecutor, got %T", exec)
	}

	if _, err := NewExecutor("vm", DefaultExecutorConfig()); err == nil {
		t.Error("expected error for unknown mode")
	}
}
